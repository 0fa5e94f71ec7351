package repository

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/tracing"
	"github.com/docstack/docstack/internal/utils"
)

type documentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) interfaces.DocumentRepository {
	return &documentRepository{
		db: db,
	}
}

func (r *documentRepository) Create(ctx context.Context, document *models.Document) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "documentRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if document == nil {
		return "", nil
	}

	result := r.db.WithContext(ctx).Create(document)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return "", result.Error
	}

	return document.ID, nil
}

func (r *documentRepository) Update(ctx context.Context, document *models.Document) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "documentRepository.Update")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, document.ID)

	document.Modified = utils.Now()
	err := r.db.WithContext(ctx).Save(document).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *documentRepository) UpdateArchive(ctx context.Context, id, content, archiveChecksum, archiveFilename string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "documentRepository.UpdateArchive")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":          content,
			"archive_checksum": archiveChecksum,
			"archive_filename": archiveFilename,
			"modified":         utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *documentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "documentRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var document models.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&document).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &document, nil
}

func (r *documentRepository) GetByChecksum(ctx context.Context, checksum string) (*models.Document, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "documentRepository.GetByChecksum")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var document models.Document
	err := r.db.WithContext(ctx).
		Where("checksum = ? OR archive_checksum = ?", checksum, checksum).
		First(&document).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &document, nil
}

func (r *documentRepository) ExistsASN(ctx context.Context, asn int64) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "documentRepository.ExistsASN")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("archive_serial_number = ?", asn).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	return count > 0, nil
}

func (r *documentRepository) ListByIDs(ctx context.Context, ids []string) ([]*models.Document, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "documentRepository.ListByIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var documents []*models.Document
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&documents).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return documents, nil
}

func (r *documentRepository) ListAll(ctx context.Context) ([]*models.Document, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "documentRepository.ListAll")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var documents []*models.Document
	err := r.db.WithContext(ctx).Order("added asc").Find(&documents).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return documents, nil
}
