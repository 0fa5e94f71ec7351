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

type mailAccountRepository struct {
	db *gorm.DB
}

func NewMailAccountRepository(db *gorm.DB) interfaces.MailAccountRepository {
	return &mailAccountRepository{
		db: db,
	}
}

func (r *mailAccountRepository) GetByID(ctx context.Context, id string) (*models.MailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailAccountRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var account models.MailAccount
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

func (r *mailAccountRepository) ListAll(ctx context.Context) ([]*models.MailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailAccountRepository.ListAll")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.MailAccount
	err := r.db.WithContext(ctx).Order("created_at asc").Find(&accounts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return accounts, nil
}

type mailRuleRepository struct {
	db *gorm.DB
}

func NewMailRuleRepository(db *gorm.DB) interfaces.MailRuleRepository {
	return &mailRuleRepository{
		db: db,
	}
}

func (r *mailRuleRepository) GetByID(ctx context.Context, id string) (*models.MailRule, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailRuleRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var rule models.MailRule
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &rule, nil
}

func (r *mailRuleRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.MailRule, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailRuleRepository.ListByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var rules []*models.MailRule
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("rule_order asc").
		Find(&rules).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return rules, nil
}

type processedMailRepository struct {
	db *gorm.DB
}

func NewProcessedMailRepository(db *gorm.DB) interfaces.ProcessedMailRepository {
	return &processedMailRepository{
		db: db,
	}
}

func (r *processedMailRepository) Exists(ctx context.Context, ruleID, folder string, uid uint32) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "processedMailRepository.Exists")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ProcessedMail{}).
		Where("rule_id = ? AND folder = ? AND uid = ?", ruleID, folder, uid).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	return count > 0, nil
}

func (r *processedMailRepository) Record(ctx context.Context, record *models.ProcessedMail) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "processedMailRepository.Record")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		if isUniqueViolation(err) {
			// Another worker already recorded this message; already handled.
			span.SetTag("duplicate", true)
			return nil
		}
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key value")
}
