package parser

import (
	"context"
	"os"
	"path/filepath"

	"github.com/opentracing/opentracing-go"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/tracing"
)

// pdfParser validates the PDF and uses the source itself as the archive
// rendition. Text recognition is delegated to external tooling and is not
// part of this parser.
type pdfParser struct {
	workDir string
}

func NewPdfParser() interfaces.Parser {
	return &pdfParser{}
}

func (p *pdfParser) Parse(ctx context.Context, sourcePath, mimeType, displayName string) (*interfaces.ParseResult, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "pdfParser.Parse")
	defer span.Finish()
	span.SetTag("mimeType", mimeType)

	if err := api.ValidateFile(sourcePath, nil); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "%s is not a valid PDF", displayName)
	}

	workDir, err := os.MkdirTemp("", "pdfparse-")
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	p.workDir = workDir

	archivePath := filepath.Join(workDir, "archive.pdf")
	if err := copyFile(sourcePath, archivePath); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &interfaces.ParseResult{
		ArchivePath: archivePath,
	}, nil
}

func (p *pdfParser) Cleanup() {
	if p.workDir != "" {
		_ = os.RemoveAll(p.workDir)
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
