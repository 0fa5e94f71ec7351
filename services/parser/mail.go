package parser

import (
	"context"
	"net/mail"
	"os"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/tracing"
)

// mailParser extracts the readable body and date from an RFC822 message
// file.
type mailParser struct{}

func NewMailParser() interfaces.Parser {
	return &mailParser{}
}

func (p *mailParser) Parse(ctx context.Context, sourcePath, mimeType, displayName string) (*interfaces.ParseResult, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "mailParser.Parse")
	defer span.Finish()
	span.SetTag("mimeType", mimeType)

	f, err := os.Open(sourcePath)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to open %s", displayName)
	}
	defer f.Close()

	envelope, err := enmime.ReadEnvelope(f)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to parse message %s", displayName)
	}

	var sb strings.Builder
	if from := envelope.GetHeader("From"); from != "" {
		sb.WriteString("From: " + from + "\n")
	}
	if subject := envelope.GetHeader("Subject"); subject != "" {
		sb.WriteString("Subject: " + subject + "\n")
	}
	sb.WriteString("\n")
	sb.WriteString(envelope.Text)

	result := &interfaces.ParseResult{
		Text: sb.String(),
	}
	if date := envelope.GetHeader("Date"); date != "" {
		if parsed, err := mail.ParseDate(date); err == nil {
			utc := parsed.UTC()
			result.Created = &utc
		}
	}
	return result, nil
}

func (p *mailParser) Cleanup() {}
