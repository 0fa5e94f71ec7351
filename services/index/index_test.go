package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstack/docstack/config"
	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/utils"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func newTestIndex(t *testing.T) interfaces.IndexService {
	t.Helper()
	svc, err := NewIndexService(config.IndexConfig{
		Path: filepath.Join(t.TempDir(), "index"),
	}, getLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = svc.Close()
	})
	return svc
}

func entry(id, title string) interfaces.IndexEntry {
	return interfaces.IndexEntry{
		ID:      id,
		Title:   title,
		Content: "searchable text",
		Created: utils.Now(),
		Added:   utils.Now(),
	}
}

func TestWithWriter_CommitsOnSuccess(t *testing.T) {
	svc := newTestIndex(t)

	err := svc.WithWriter(context.Background(), func(w interfaces.IndexWriter) error {
		if err := w.Update(entry("doc_1", "first")); err != nil {
			return err
		}
		return w.Update(entry("doc_2", "second"))
	})
	require.NoError(t, err)

	count, err := svc.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestWithWriter_DiscardsOnError(t *testing.T) {
	svc := newTestIndex(t)
	boom := errors.New("boom")

	err := svc.WithWriter(context.Background(), func(w interfaces.IndexWriter) error {
		if err := w.Update(entry("doc_1", "first")); err != nil {
			return err
		}
		return boom
	})
	assert.Equal(t, boom, err)

	count, err := svc.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestWithWriter_Remove(t *testing.T) {
	svc := newTestIndex(t)

	require.NoError(t, svc.WithWriter(context.Background(), func(w interfaces.IndexWriter) error {
		return w.Update(entry("doc_1", "first"))
	}))
	require.NoError(t, svc.WithWriter(context.Background(), func(w interfaces.IndexWriter) error {
		return w.Remove("doc_1")
	}))

	count, err := svc.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestWithWriter_UpdateReplacesDocument(t *testing.T) {
	svc := newTestIndex(t)

	require.NoError(t, svc.WithWriter(context.Background(), func(w interfaces.IndexWriter) error {
		return w.Update(entry("doc_1", "old title"))
	}))
	require.NoError(t, svc.WithWriter(context.Background(), func(w interfaces.IndexWriter) error {
		return w.Update(entry("doc_1", "new title"))
	}))

	count, err := svc.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestOptimize(t *testing.T) {
	svc := newTestIndex(t)

	require.NoError(t, svc.WithWriter(context.Background(), func(w interfaces.IndexWriter) error {
		return w.Update(entry("doc_1", "first"))
	}))

	assert.NoError(t, svc.Optimize(context.Background()))
}
