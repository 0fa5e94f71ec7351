package repository

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/enum"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/tracing"
	"github.com/docstack/docstack/internal/utils"
)

type taskGroupRepository struct {
	db *gorm.DB
}

func NewTaskGroupRepository(db *gorm.DB) interfaces.TaskGroupRepository {
	return &taskGroupRepository{
		db: db,
	}
}

func (r *taskGroupRepository) Create(ctx context.Context, group *models.TaskGroup) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "taskGroupRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).Create(group).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return group.ID, nil
}

func (r *taskGroupRepository) GetByID(ctx context.Context, id string) (*models.TaskGroup, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "taskGroupRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var group models.TaskGroup
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &group, nil
}

// CompleteMember records one member task reaching a terminal state. The
// decrement, the failure counter and the one-shot error flag are updated in a
// single transaction with the group row locked, so concurrent member
// completions cannot fire the join twice or the error task more than once.
func (r *taskGroupRepository) CompleteMember(ctx context.Context, groupID string, success bool) (*interfaces.TaskGroupCompletion, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "taskGroupRepository.CompleteMember")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("groupId", groupID)

	var completion interfaces.TaskGroupCompletion

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.TaskGroup
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", groupID).First(&group).Error
		if err != nil {
			return err
		}

		if group.Pending > 0 {
			group.Pending--
		}
		if !success {
			group.Failed++
			if group.ErrorType != "" && !group.ErrorEmitted {
				group.ErrorEmitted = true
				completion.FireError = true
			}
		}

		if group.Pending == 0 {
			completion.FireJoin = true
			if group.Failed > 0 {
				group.Status = enum.TaskStatusFailed
			} else {
				group.Status = enum.TaskStatusSuccess
			}
		}
		group.UpdatedAt = utils.Now()

		if err := tx.Save(&group).Error; err != nil {
			return err
		}
		completion.Group = &group
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &completion, nil
}

func (r *taskGroupRepository) SetStatus(ctx context.Context, groupID string, status enum.TaskStatus) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "taskGroupRepository.SetStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).
		Model(&models.TaskGroup{}).
		Where("id = ?", groupID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

type taskRecordRepository struct {
	db *gorm.DB
}

func NewTaskRecordRepository(db *gorm.DB) interfaces.TaskRecordRepository {
	return &taskRecordRepository{
		db: db,
	}
}

func (r *taskRecordRepository) Create(ctx context.Context, record *models.TaskRecord) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "taskRecordRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *taskRecordRepository) SetStarted(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "taskRecordRepository.SetStarted")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).
		Model(&models.TaskRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     enum.TaskStatusStarted,
			"updated_at": utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *taskRecordRepository) SetResult(ctx context.Context, id string, status enum.TaskStatus, result, taskError string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "taskRecordRepository.SetResult")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).
		Model(&models.TaskRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"result":     result,
			"error":      taskError,
			"updated_at": utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *taskRecordRepository) GetByID(ctx context.Context, id string) (*models.TaskRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "taskRecordRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var record models.TaskRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &record, nil
}

func (r *taskRecordRepository) ListRecent(ctx context.Context, limit int) ([]*models.TaskRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "taskRecordRepository.ListRecent")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if limit <= 0 {
		limit = 50
	}
	var records []*models.TaskRecord
	err := r.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return records, nil
}
