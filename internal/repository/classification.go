package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/tracing"
)

type correspondentRepository struct {
	db *gorm.DB
}

func NewCorrespondentRepository(db *gorm.DB) interfaces.CorrespondentRepository {
	return &correspondentRepository{
		db: db,
	}
}

func (r *correspondentRepository) GetByID(ctx context.Context, id string) (*models.Correspondent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "correspondentRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var correspondent models.Correspondent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&correspondent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &correspondent, nil
}

func (r *correspondentRepository) GetOrCreateByName(ctx context.Context, name string) (*models.Correspondent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "correspondentRepository.GetOrCreateByName")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	name = strings.TrimSpace(name)

	var correspondent models.Correspondent
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&correspondent).Error
	if err == nil {
		return &correspondent, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		tracing.TraceErr(span, err)
		return nil, err
	}

	correspondent = models.Correspondent{Name: name}
	err = r.db.WithContext(ctx).Create(&correspondent).Error
	if err != nil {
		// A concurrent create may have won the race on the unique name;
		// re-read before giving up.
		var existing models.Correspondent
		if readErr := r.db.WithContext(ctx).Where("name = ?", name).First(&existing).Error; readErr == nil {
			return &existing, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &correspondent, nil
}

type tagRepository struct {
	db *gorm.DB
}

func NewTagRepository(db *gorm.DB) interfaces.TagRepository {
	return &tagRepository{
		db: db,
	}
}

func (r *tagRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Tag, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "tagRepository.GetByIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var tags []*models.Tag
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&tags).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return tags, nil
}

type documentTypeRepository struct {
	db *gorm.DB
}

func NewDocumentTypeRepository(db *gorm.DB) interfaces.DocumentTypeRepository {
	return &documentTypeRepository{
		db: db,
	}
}

func (r *documentTypeRepository) GetByID(ctx context.Context, id string) (*models.DocumentType, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "documentTypeRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var documentType models.DocumentType
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&documentType).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &documentType, nil
}
