package interfaces

import (
	"context"
	"time"
)

// ParseResult is what a document parser produced from one source file.
// ArchivePath and ThumbnailPath point into the parser's working directory
// and stay valid until Cleanup; the caller moves them out before releasing
// the parser.
type ParseResult struct {
	Text          string
	Created       *time.Time
	ArchivePath   string
	ThumbnailPath string
}

// Parser extracts text and derived artifacts from one document. Parsers are
// single-use: one Parse call, then Cleanup, which must be invoked
// unconditionally, including on error.
type Parser interface {
	Parse(ctx context.Context, sourcePath, mimeType, displayName string) (*ParseResult, error)
	Cleanup()
}

// ParserFactory creates a fresh parser for one request.
type ParserFactory func() Parser

// ParserRegistry maps mime types to parser factories.
type ParserRegistry interface {
	ForMimeType(mimeType string) ParserFactory
	IsSupported(mimeType string) bool
}
