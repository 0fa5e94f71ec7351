package splitter

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/opentracing/opentracing-go"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/tracing"
	"github.com/docstack/docstack/internal/utils"
)

type Service struct {
	log logger.Logger
}

func NewService(log logger.Logger) *Service {
	return &Service{
		log: log,
	}
}

// pageSpan is an inclusive 1-based page range of one output document.
type pageSpan struct {
	start int
	end   int
}

// Split cuts the PDF at the given separator pages and writes one output per
// non-empty span into targetDir. Separator pages themselves are dropped and
// never appear in any output. Returns the output paths in page order; a
// document with no separators yields no outputs.
func (s *Service) Split(ctx context.Context, sourcePath string, separatorPages []int, targetDir string) ([]string, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "SplitterService.Split")
	defer span.Finish()
	span.SetTag("separatorPages", separatorPages)

	if len(separatorPages) == 0 {
		return nil, nil
	}

	pageCount, err := api.PageCountFile(sourcePath)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to read page count")
	}

	separators := make([]int, len(separatorPages))
	copy(separators, separatorPages)
	sort.Ints(separators)

	spans := buildSpans(pageCount, separators)
	if len(spans) == 0 {
		s.log.Warnf("%s contains only separator pages, nothing to split out", sourcePath)
		return nil, nil
	}

	stem := utils.FilenameStem(sourcePath)
	outputs := make([]string, 0, len(spans))
	for i, sp := range spans {
		outPath := filepath.Join(targetDir, fmt.Sprintf("%s_document_%d.pdf", stem, i))
		selection := []string{fmt.Sprintf("%d-%d", sp.start, sp.end)}
		if err := api.TrimFile(sourcePath, outPath, selection, nil); err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrapf(err, "failed to extract pages %d-%d", sp.start, sp.end)
		}
		outputs = append(outputs, outPath)
	}

	s.log.Infof("split %s into %d documents", sourcePath, len(outputs))
	return outputs, nil
}

// buildSpans converts sorted separator page numbers into the inclusive page
// ranges between them, skipping spans that would be empty (adjacent
// separators, or separators at the document edges).
func buildSpans(pageCount int, separators []int) []pageSpan {
	var spans []pageSpan
	start := 1
	for _, sep := range separators {
		if sep > start {
			spans = append(spans, pageSpan{start: start, end: sep - 1})
		}
		start = sep + 1
	}
	if start <= pageCount {
		spans = append(spans, pageSpan{start: start, end: pageCount})
	}
	return spans
}
