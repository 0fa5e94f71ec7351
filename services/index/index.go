package index

import (
	"context"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/index/scorch"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/config"
	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/tracing"
)

// indexService guards a single bleve index with an exclusive writer scope.
// All mutations go through WithWriter, which serializes writers and commits
// the accumulated batch only when the wrapped function succeeds.
type indexService struct {
	idx bleve.Index
	log logger.Logger

	// writerMu serializes writer scopes. Readers are unaffected.
	writerMu sync.Mutex
}

func NewIndexService(cfg config.IndexConfig, log logger.Logger) (interfaces.IndexService, error) {
	idx, err := bleve.Open(cfg.Path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(cfg.Path, buildMapping())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open index at %s", cfg.Path)
	}
	return &indexService{
		idx: idx,
		log: log,
	}, nil
}

func buildMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	dateField := bleve.NewDateTimeFieldMapping()
	numField := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("title", textField)
	doc.AddFieldMappingsAt("content", textField)
	doc.AddFieldMappingsAt("correspondentId", keywordField)
	doc.AddFieldMappingsAt("documentTypeId", keywordField)
	doc.AddFieldMappingsAt("tagIds", keywordField)
	doc.AddFieldMappingsAt("ownerId", keywordField)
	doc.AddFieldMappingsAt("mimeType", keywordField)
	doc.AddFieldMappingsAt("asn", numField)
	doc.AddFieldMappingsAt("created", dateField)
	doc.AddFieldMappingsAt("added", dateField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// batchWriter accumulates mutations for one writer scope.
type batchWriter struct {
	idx   bleve.Index
	batch *bleve.Batch
}

func (w *batchWriter) Update(entry interfaces.IndexEntry) error {
	return w.batch.Index(entry.ID, entry)
}

func (w *batchWriter) Remove(id string) error {
	w.batch.Delete(id)
	return nil
}

func (s *indexService) WithWriter(ctx context.Context, fn func(w interfaces.IndexWriter) error) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "IndexService.WithWriter")
	defer span.Finish()

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	writer := &batchWriter{
		idx:   s.idx,
		batch: s.idx.NewBatch(),
	}
	if err := fn(writer); err != nil {
		// The batch is discarded; nothing reached the index.
		tracing.TraceErr(span, err)
		return err
	}
	if writer.batch.Size() == 0 {
		return nil
	}
	if err := s.idx.Batch(writer.batch); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to commit index batch")
	}
	span.LogKV("batchSize", writer.batch.Size())
	return nil
}

// Optimize forces a segment merge so long-running instances do not
// accumulate small segments.
func (s *indexService) Optimize(ctx context.Context) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "IndexService.Optimize")
	defer span.Finish()

	i, err := s.idx.Advanced()
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	sc, ok := i.(*scorch.Scorch)
	if !ok {
		s.log.Warnf("index backend does not support forced merges")
		return nil
	}
	if err := sc.ForceMerge(ctx, nil); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to merge index segments")
	}
	return nil
}

func (s *indexService) DocCount() (uint64, error) {
	return s.idx.DocCount()
}

func (s *indexService) Close() error {
	return s.idx.Close()
}
