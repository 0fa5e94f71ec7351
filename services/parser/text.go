package parser

import (
	"context"
	"os"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/tracing"
)

// textParser reads the file content verbatim as the document text.
type textParser struct {
	workDir string
}

func NewTextParser() interfaces.Parser {
	return &textParser{}
}

func (p *textParser) Parse(ctx context.Context, sourcePath, mimeType, displayName string) (*interfaces.ParseResult, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "textParser.Parse")
	defer span.Finish()
	span.SetTag("mimeType", mimeType)

	content, err := os.ReadFile(sourcePath)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to read %s", displayName)
	}
	return &interfaces.ParseResult{
		Text: string(content),
	}, nil
}

func (p *textParser) Cleanup() {
	if p.workDir != "" {
		_ = os.RemoveAll(p.workDir)
	}
}
