package consumer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/docstack/docstack/config"
	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/interfaces"
	docerrors "github.com/docstack/docstack/internal/errors"
	"github.com/docstack/docstack/internal/filestore"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/repository"
	"github.com/docstack/docstack/internal/tracing"
	"github.com/docstack/docstack/internal/utils"
	"github.com/docstack/docstack/services/barcode"
	"github.com/docstack/docstack/services/splitter"
)

// ConsumerService turns incoming files into stored, indexed documents. One
// request either produces exactly one document, fans out into new requests
// after a barcode split, or fails without touching the database.
type ConsumerService struct {
	cfg        *config.Config
	log        logger.Logger
	db         *gorm.DB
	repos      *repository.Repositories
	store      *filestore.Store
	registry   interfaces.ParserRegistry
	barcodes   *barcode.Service
	splitter   *splitter.Service
	index      interfaces.IndexService
	dispatcher interfaces.TaskDispatcher
	notifier   interfaces.Notifier
}

func NewConsumerService(
	cfg *config.Config,
	log logger.Logger,
	db *gorm.DB,
	repos *repository.Repositories,
	store *filestore.Store,
	registry interfaces.ParserRegistry,
	barcodes *barcode.Service,
	split *splitter.Service,
	index interfaces.IndexService,
	dispatcher interfaces.TaskDispatcher,
	notifier interfaces.Notifier,
) *ConsumerService {
	return &ConsumerService{
		cfg:        cfg,
		log:        log,
		db:         db,
		repos:      repos,
		store:      store,
		registry:   registry,
		barcodes:   barcodes,
		splitter:   split,
		index:      index,
		dispatcher: dispatcher,
		notifier:   notifier,
	}
}

// ConsumeFile runs the full ingestion pipeline for one request. The returned
// document id is empty when the request was split into new requests instead
// of producing a document.
func (s *ConsumerService) ConsumeFile(ctx context.Context, descriptor dto.DocumentDescriptor, overrides dto.MetadataOverrides, correlationID string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConsumerService.ConsumeFile")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.SetTag("source", descriptor.Source.String())
	span.LogKV("file", descriptor.OriginalFile, "mimeType", descriptor.MimeType)

	displayName := s.displayName(descriptor, overrides)
	s.progress(ctx, correlationID, displayName, dto.ProgressStatusStarting, 0, 100, "", "")

	// Barcode stage: may replace this request with per-span requests, or
	// attach a serial number read off a page.
	handled, err := s.inspectBarcodes(ctx, descriptor, &overrides, correlationID)
	if err != nil {
		s.progress(ctx, correlationID, displayName, dto.ProgressStatusFailed, 100, 100, err.Error(), "")
		return "", err
	}
	if handled {
		s.progress(ctx, correlationID, displayName, dto.ProgressStatusSuccess, 100, 100, "document was split", "")
		return "", nil
	}

	if err := s.precheck(ctx, descriptor, overrides); err != nil {
		s.progress(ctx, correlationID, displayName, dto.ProgressStatusFailed, 100, 100, err.Error(), "")
		return "", err
	}

	s.progress(ctx, correlationID, displayName, dto.ProgressStatusWorking, 20, 100, "", "")

	scratchDir, err := s.store.ScratchDir("consume")
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	defer os.RemoveAll(scratchDir)

	scratchCopy := filepath.Join(scratchDir, utils.SanitizeFilename(displayName))
	if err := filestore.CopyFile(descriptor.OriginalFile, scratchCopy); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	factory := s.registry.ForMimeType(descriptor.MimeType)
	if factory == nil {
		err := errors.Wrapf(docerrors.ErrUnsupportedType, "%s", descriptor.MimeType)
		tracing.TraceErr(span, err)
		s.progress(ctx, correlationID, displayName, dto.ProgressStatusFailed, 100, 100, err.Error(), "")
		return "", err
	}

	parser := factory()
	// Cleanup runs only after the parser's artifacts have been moved into
	// the media tree; releasing earlier would take the archive rendition
	// with it.
	defer parser.Cleanup()
	result, parseErr := parser.Parse(ctx, scratchCopy, descriptor.MimeType, displayName)
	if parseErr != nil {
		tracing.TraceErr(span, parseErr)
		// The parser's own message is what operators see.
		s.progress(ctx, correlationID, displayName, dto.ProgressStatusFailed, 100, 100, parseErr.Error(), "")
		return "", parseErr
	}

	s.progress(ctx, correlationID, displayName, dto.ProgressStatusWorking, 60, 100, "", "")

	doc, err := s.storeDocument(ctx, descriptor, overrides, displayName, scratchCopy, result)
	if err != nil {
		tracing.TraceErr(span, err)
		s.progress(ctx, correlationID, displayName, dto.ProgressStatusFailed, 100, 100, err.Error(), "")
		return "", err
	}

	err = s.index.WithWriter(ctx, func(w interfaces.IndexWriter) error {
		return w.Update(indexEntry(doc))
	})
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("Failed to index document %s: %v", doc.ID, err)
	}

	if err := s.store.RemoveOriginalInput(descriptor.OriginalFile); err != nil {
		s.log.Warnf("Failed to remove consumed input %s: %v", descriptor.OriginalFile, err)
	}

	s.progress(ctx, correlationID, displayName, dto.ProgressStatusSuccess, 100, 100, "", doc.ID)
	s.log.Infof("Consumed %s as document %s", displayName, doc.ID)
	return doc.ID, nil
}

// inspectBarcodes handles the separator and serial-number barcode stage.
// Returns true when the request was consumed by a split and no further
// processing must happen.
func (s *ConsumerService) inspectBarcodes(ctx context.Context, descriptor dto.DocumentDescriptor, overrides *dto.MetadataOverrides, correlationID string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConsumerService.InspectBarcodes")
	defer span.Finish()

	cfg := s.cfg.BarcodeConfig
	if !cfg.EnableSeparators && !cfg.EnableASN {
		return false, nil
	}
	if !s.barcodes.Supports(descriptor.MimeType) {
		return false, nil
	}

	scratchDir, err := s.store.ScratchDir("barcodes")
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	keepScratch := false
	defer func() {
		if !keepScratch {
			os.RemoveAll(scratchDir)
		}
	}()

	inspection, err := s.barcodes.Inspect(ctx, descriptor.OriginalFile, descriptor.MimeType, scratchDir)
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}

	if cfg.EnableSeparators {
		separatorPages := s.barcodes.SeparatorPages(inspection)
		if len(separatorPages) > 0 {
			outputs, err := s.splitter.Split(ctx, inspection.WorkingPDF, separatorPages, scratchDir)
			if err != nil {
				tracing.TraceErr(span, err)
				return false, err
			}
			if len(outputs) == 0 {
				// Every page was a separator. Nothing to split off, so the
				// request proceeds as a single document.
				s.log.Infof("Separator pages %v in %s leave no content pages, consuming as-is", separatorPages, descriptor.OriginalFile)
				return false, nil
			}
			// Each split output becomes a brand-new request; the split
			// outputs outlive this scratch directory until their own
			// consumption picks them up.
			keepScratch = true
			for i, output := range outputs {
				childDescriptor, err := dto.NewDocumentDescriptor(descriptor.Source, output)
				if err != nil {
					tracing.TraceErr(span, err)
					return false, err
				}
				childOverrides := *overrides
				if overrides.Filename != nil && *overrides.Filename != "" {
					childOverrides.Filename = utils.Ptr(fmt.Sprintf("%d_%s", i, *overrides.Filename))
				}
				_, err = s.dispatcher.SubmitTask(ctx, interfaces.TaskSpec{
					Type: dto.TaskConsumeFile,
					Payload: dto.ConsumeFilePayload{
						Document:  childDescriptor,
						Overrides: childOverrides,
					},
					CorrelationID: correlationID,
				})
				if err != nil {
					tracing.TraceErr(span, err)
					return false, err
				}
			}
			if err := s.store.RemoveOriginalInput(descriptor.OriginalFile); err != nil {
				s.log.Warnf("Failed to remove split input %s: %v", descriptor.OriginalFile, err)
			}
			s.log.Infof("Split %s into %d new requests", descriptor.OriginalFile, len(outputs))
			return true, nil
		}
	}

	if cfg.EnableASN && overrides.ASN == nil {
		overrides.ASN = s.barcodes.ASN(inspection)
	}
	return false, nil
}

// precheck rejects a request before any expensive work: missing file,
// duplicate content, invalid or taken serial number.
func (s *ConsumerService) precheck(ctx context.Context, descriptor dto.DocumentDescriptor, overrides dto.MetadataOverrides) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConsumerService.Precheck")
	defer span.Finish()

	exists, err := filestore.FileExists(descriptor.OriginalFile)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !exists {
		return errors.Wrapf(docerrors.ErrFileNotFound, "%s", descriptor.OriginalFile)
	}

	checksum, err := utils.FileChecksum(descriptor.OriginalFile)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	existing, err := s.repos.DocumentRepository.GetByChecksum(ctx, checksum)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if existing != nil {
		if s.cfg.StorageConfig.DeleteDuplicates {
			if err := s.store.RemoveOriginalInput(descriptor.OriginalFile); err != nil {
				s.log.Warnf("Failed to remove duplicate input %s: %v", descriptor.OriginalFile, err)
			}
		}
		return errors.Wrapf(docerrors.ErrDuplicateDocument, "matches %q (%s)", existing.Title, existing.ID)
	}

	if overrides.ASN != nil {
		asn := *overrides.ASN
		if asn < models.ArchiveSerialNumberMin || asn > models.ArchiveSerialNumberMax {
			return errors.Wrapf(docerrors.ErrAsnOutOfRange, "%d", asn)
		}
		taken, err := s.repos.DocumentRepository.ExistsASN(ctx, asn)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if taken {
			return errors.Wrapf(docerrors.ErrAsnExists, "%d", asn)
		}
	}

	// Overrides referencing deleted classification rows fail here, not as a
	// foreign key violation halfway through the store.
	if overrides.DocumentTypeID != nil {
		docType, err := s.repos.DocumentTypeRepository.GetByID(ctx, *overrides.DocumentTypeID)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if docType == nil {
			return errors.Wrapf(docerrors.ErrNotFound, "document type %s", *overrides.DocumentTypeID)
		}
	}
	if len(overrides.TagIDs) > 0 {
		tags, err := s.repos.TagRepository.GetByIDs(ctx, overrides.TagIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if len(tags) != len(overrides.TagIDs) {
			return errors.Wrapf(docerrors.ErrNotFound, "%d of %d assigned tags", len(overrides.TagIDs)-len(tags), len(overrides.TagIDs))
		}
	}
	return nil
}

// storeDocument writes the database row and moves the files into the media
// tree in one transaction, holding the media lock for the move phase. A
// failure anywhere rolls the row back.
func (s *ConsumerService) storeDocument(ctx context.Context, descriptor dto.DocumentDescriptor, overrides dto.MetadataOverrides, displayName, scratchCopy string, result *interfaces.ParseResult) (*models.Document, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConsumerService.StoreDocument")
	defer span.Finish()

	checksum, err := utils.FileChecksum(scratchCopy)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	doc := &models.Document{
		Title:               s.resolveTitle(overrides, displayName),
		Content:             result.Text,
		MimeType:            descriptor.MimeType,
		Checksum:            checksum,
		CorrespondentID:     overrides.CorrespondentID,
		DocumentTypeID:      overrides.DocumentTypeID,
		TagIDs:              overrides.TagIDs,
		OwnerID:             overrides.OwnerID,
		ArchiveSerialNumber: overrides.ASN,
		OriginalFilename:    displayName,
		Created:             s.resolveCreated(descriptor, overrides, displayName, result),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		return s.store.WithMediaLock(ctx, func() error {
			originalName, err := s.store.StoreOriginal(doc.ID, scratchCopy)
			if err != nil {
				return err
			}
			updates := map[string]interface{}{
				"filename": originalName,
				"modified": utils.Now(),
			}
			if result.ArchivePath != "" {
				archiveChecksum, err := utils.FileChecksum(result.ArchivePath)
				if err != nil {
					return err
				}
				archiveName, err := s.store.StoreArchive(doc.ID, result.ArchivePath)
				if err != nil {
					return err
				}
				updates["archive_filename"] = archiveName
				updates["archive_checksum"] = archiveChecksum
				doc.ArchiveFilename = &archiveName
				doc.ArchiveChecksum = &archiveChecksum
			}
			if result.ThumbnailPath != "" {
				thumbName, err := s.store.StoreThumbnail(doc.ID, result.ThumbnailPath)
				if err != nil {
					return err
				}
				updates["thumbnail_filename"] = thumbName
				doc.ThumbnailFilename = thumbName
			}
			doc.Filename = originalName
			return tx.Model(&models.Document{}).Where("id = ?", doc.ID).Updates(updates).Error
		})
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to store document")
	}
	return doc, nil
}

func (s *ConsumerService) displayName(descriptor dto.DocumentDescriptor, overrides dto.MetadataOverrides) string {
	if overrides.Filename != nil && *overrides.Filename != "" {
		return *overrides.Filename
	}
	return filepath.Base(descriptor.OriginalFile)
}

func (s *ConsumerService) resolveTitle(overrides dto.MetadataOverrides, displayName string) string {
	if overrides.Title != nil && *overrides.Title != "" {
		return *overrides.Title
	}
	return utils.FilenameStem(displayName)
}

// resolveCreated picks the document date: explicit override, then a date in
// the file name, then the parser's extracted date, then the file's
// modification time.
func (s *ConsumerService) resolveCreated(descriptor dto.DocumentDescriptor, overrides dto.MetadataOverrides, displayName string, result *interfaces.ParseResult) time.Time {
	if overrides.Created != nil {
		return overrides.Created.UTC()
	}
	if fromName := dateFromFilename(displayName); fromName != nil {
		return *fromName
	}
	if result.Created != nil {
		return result.Created.UTC()
	}
	if info, err := os.Stat(descriptor.OriginalFile); err == nil {
		return info.ModTime().UTC()
	}
	return utils.Now()
}

var filenameDatePattern = regexp.MustCompile(`(\d{4})-?(\d{2})-?(\d{2})`)

// dateFromFilename finds a leading YYYYMMDD or YYYY-MM-DD date in the file
// name. Implausible matches are ignored.
func dateFromFilename(name string) *time.Time {
	m := filenameDatePattern.FindStringSubmatch(name)
	if m == nil {
		return nil
	}
	parsed, err := time.Parse("2006-01-02", m[1]+"-"+m[2]+"-"+m[3])
	if err != nil {
		return nil
	}
	if parsed.Year() < 1900 || parsed.After(time.Now().AddDate(0, 0, 1)) {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}

func indexEntry(doc *models.Document) interfaces.IndexEntry {
	entry := interfaces.IndexEntry{
		ID:                  doc.ID,
		Title:               doc.Title,
		Content:             doc.Content,
		TagIDs:              doc.TagIDs,
		MimeType:            doc.MimeType,
		ArchiveSerialNumber: doc.ArchiveSerialNumber,
		Created:             doc.Created,
		Added:               doc.Added,
	}
	entry.CorrespondentID = utils.GetOrDefault(doc.CorrespondentID, "")
	entry.DocumentTypeID = utils.GetOrDefault(doc.DocumentTypeID, "")
	entry.OwnerID = utils.GetOrDefault(doc.OwnerID, "")
	return entry
}

func (s *ConsumerService) progress(ctx context.Context, correlationID, filename, status string, current, max int, message, documentID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, dto.ProgressEvent{
		CorrelationID:   correlationID,
		Filename:        filename,
		CurrentProgress: current,
		MaxProgress:     max,
		Status:          status,
		Message:         message,
		DocumentID:      documentID,
	})
}
