package splitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docstack/docstack/internal/logger"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func TestBuildSpans_SingleSeparatorInMiddle(t *testing.T) {
	spans := buildSpans(5, []int{3})

	assert.Equal(t, []pageSpan{
		{start: 1, end: 2},
		{start: 4, end: 5},
	}, spans)
}

func TestBuildSpans_SeparatorOnFirstPage(t *testing.T) {
	spans := buildSpans(4, []int{1})

	assert.Equal(t, []pageSpan{
		{start: 2, end: 4},
	}, spans)
}

func TestBuildSpans_SeparatorOnLastPage(t *testing.T) {
	spans := buildSpans(4, []int{4})

	assert.Equal(t, []pageSpan{
		{start: 1, end: 3},
	}, spans)
}

func TestBuildSpans_AdjacentSeparators(t *testing.T) {
	// Pages 3 and 4 are both separators; the span between them is empty and
	// must not produce an output.
	spans := buildSpans(6, []int{3, 4})

	assert.Equal(t, []pageSpan{
		{start: 1, end: 2},
		{start: 5, end: 6},
	}, spans)
}

func TestBuildSpans_OnlySeparatorPages(t *testing.T) {
	spans := buildSpans(2, []int{1, 2})

	assert.Empty(t, spans)
}

func TestBuildSpans_MultipleSeparators(t *testing.T) {
	spans := buildSpans(10, []int{2, 5, 9})

	assert.Equal(t, []pageSpan{
		{start: 1, end: 1},
		{start: 3, end: 4},
		{start: 6, end: 8},
		{start: 10, end: 10},
	}, spans)
}

func TestSplit_NoSeparators(t *testing.T) {
	s := NewService(getLogger())

	outputs, err := s.Split(context.Background(), "unused.pdf", nil, t.TempDir())

	assert.NoError(t, err)
	assert.Nil(t, outputs)
}
