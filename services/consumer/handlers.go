package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/interfaces"
	docerrors "github.com/docstack/docstack/internal/errors"
	"github.com/docstack/docstack/internal/filestore"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/tracing"
	"github.com/docstack/docstack/internal/utils"
)

// HandleConsumeTask is the queue entry point of the ingestion pipeline.
func (s *ConsumerService) HandleConsumeTask(ctx context.Context, envelope dto.TaskEnvelope) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConsumerService.HandleConsumeTask")
	defer span.Finish()
	tracing.TagComponentTaskWorker(span)

	var payload dto.ConsumeFilePayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "invalid consume payload")
	}

	documentID, err := s.ConsumeFile(ctx, payload.Document, payload.Overrides, envelope.CorrelationID)
	if err != nil {
		return "", err
	}
	if documentID == "" {
		return "request was split into new requests", nil
	}
	return fmt.Sprintf("created document %s", documentID), nil
}

// HandleUpdateDocumentArchive regenerates the archive rendition and text of
// an existing document. The row update is committed before the file moves;
// a crash between the two leaves a mismatch that the sanity check reports.
func (s *ConsumerService) HandleUpdateDocumentArchive(ctx context.Context, envelope dto.TaskEnvelope) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConsumerService.HandleUpdateDocumentArchive")
	defer span.Finish()
	tracing.TagComponentTaskWorker(span)

	var payload dto.UpdateDocumentArchivePayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "invalid archive update payload")
	}
	tracing.TagEntity(span, payload.DocumentID)

	doc, err := s.repos.DocumentRepository.GetByID(ctx, payload.DocumentID)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if doc == nil {
		return "", errors.Wrapf(docerrors.ErrNotFound, "document %s", payload.DocumentID)
	}

	originalPath := s.store.OriginalPath(doc.Filename)
	factory := s.registry.ForMimeType(doc.MimeType)
	if factory == nil {
		return "", errors.Wrapf(docerrors.ErrUnsupportedType, "%s", doc.MimeType)
	}

	parser := factory()
	// Released only after the archive rendition has been moved out below.
	defer parser.Cleanup()
	result, parseErr := parser.Parse(ctx, originalPath, doc.MimeType, doc.OriginalFilename)
	if parseErr != nil {
		tracing.TraceErr(span, parseErr)
		return "", parseErr
	}
	if result.ArchivePath == "" {
		return "no archive rendition produced", nil
	}

	archiveChecksum, err := utils.FileChecksum(result.ArchivePath)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	archiveName := doc.ID + ".pdf"

	// Row first, then files. The order is deliberate: a stored row pointing
	// at a missing file is detectable, an orphaned file is not.
	if err := s.repos.DocumentRepository.UpdateArchive(ctx, doc.ID, result.Text, archiveChecksum, archiveName); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	err = s.store.WithMediaLock(ctx, func() error {
		return filestore.MoveFile(result.ArchivePath, s.store.ArchivePath(archiveName))
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	doc.Content = result.Text
	doc.ArchiveChecksum = &archiveChecksum
	doc.ArchiveFilename = &archiveName
	err = s.index.WithWriter(ctx, func(w interfaces.IndexWriter) error {
		return w.Update(indexEntry(doc))
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return fmt.Sprintf("archive of document %s updated", doc.ID), nil
}

// HandleBulkUpdateDocuments refreshes the index entries of a set of
// documents inside a single writer scope.
func (s *ConsumerService) HandleBulkUpdateDocuments(ctx context.Context, envelope dto.TaskEnvelope) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConsumerService.HandleBulkUpdateDocuments")
	defer span.Finish()
	tracing.TagComponentTaskWorker(span)

	var payload dto.BulkUpdateDocumentsPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "invalid bulk update payload")
	}

	documents, err := s.repos.DocumentRepository.ListByIDs(ctx, payload.DocumentIDs)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	err = s.index.WithWriter(ctx, func(w interfaces.IndexWriter) error {
		for _, doc := range documents {
			if err := w.Update(indexEntry(doc)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return fmt.Sprintf("reindexed %d documents", len(documents)), nil
}

// HandleIndexOptimize forces an index segment merge.
func (s *ConsumerService) HandleIndexOptimize(ctx context.Context, envelope dto.TaskEnvelope) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConsumerService.HandleIndexOptimize")
	defer span.Finish()
	tracing.TagComponentTaskWorker(span)

	if err := s.index.Optimize(ctx); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	count, err := s.index.DocCount()
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return fmt.Sprintf("index optimized, %d documents", count), nil
}

// HandleSanityCheck walks every document and verifies that the stored files
// exist and still match their recorded checksums. Faults are logged and
// tallied, never repaired automatically.
func (s *ConsumerService) HandleSanityCheck(ctx context.Context, envelope dto.TaskEnvelope) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConsumerService.HandleSanityCheck")
	defer span.Finish()
	tracing.TagComponentTaskWorker(span)

	documents, err := s.repos.DocumentRepository.ListAll(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	faults := 0
	for _, doc := range documents {
		faults += s.checkDocument(doc)
	}

	span.LogKV("documents", len(documents), "faults", faults)
	summary := fmt.Sprintf("checked %d documents, %d faults", len(documents), faults)
	if faults > 0 {
		s.log.Warnf("Sanity check: %s", summary)
	} else {
		s.log.Infof("Sanity check: %s", summary)
	}
	return summary, nil
}

func (s *ConsumerService) checkDocument(doc *models.Document) int {
	faults := 0

	originalPath := s.store.OriginalPath(doc.Filename)
	if exists, _ := filestore.FileExists(originalPath); !exists {
		s.log.Warnf("Document %s: original file %s is missing", doc.ID, doc.Filename)
		faults++
	} else if checksum, err := utils.FileChecksum(originalPath); err != nil {
		s.log.Warnf("Document %s: cannot checksum original: %v", doc.ID, err)
		faults++
	} else if checksum != doc.Checksum {
		s.log.Warnf("Document %s: original checksum mismatch", doc.ID)
		faults++
	}

	if doc.ArchiveFilename != nil {
		archivePath := s.store.ArchivePath(*doc.ArchiveFilename)
		if exists, _ := filestore.FileExists(archivePath); !exists {
			s.log.Warnf("Document %s: archive file %s is missing", doc.ID, *doc.ArchiveFilename)
			faults++
		} else if doc.ArchiveChecksum != nil {
			if checksum, err := utils.FileChecksum(archivePath); err != nil || checksum != *doc.ArchiveChecksum {
				s.log.Warnf("Document %s: archive checksum mismatch", doc.ID)
				faults++
			}
		}
	}

	if doc.ThumbnailFilename != "" {
		if exists, _ := filestore.FileExists(s.store.ThumbnailPath(doc.ThumbnailFilename)); !exists {
			s.log.Warnf("Document %s: thumbnail %s is missing", doc.ID, doc.ThumbnailFilename)
			faults++
		}
	}
	return faults
}
