package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/docstack/docstack/internal/enum"
	"github.com/docstack/docstack/internal/utils"
)

type MailAccount struct {
	ID           string            `gorm:"column:id;type:varchar(50);primaryKey"`
	Name         string            `gorm:"column:name;type:varchar(255);not null"`
	ImapServer   string            `gorm:"column:imap_server;type:varchar(255);not null"`
	ImapPort     int               `gorm:"column:imap_port;not null"`
	ImapSecurity enum.ImapSecurity `gorm:"column:imap_security;type:varchar(20);not null"`
	Username     string            `gorm:"column:username;type:varchar(255);not null"`
	Password     string            `gorm:"column:password;type:varchar(255);not null"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (MailAccount) TableName() string {
	return "mail_accounts"
}

func (a *MailAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("macc", 21)
	}
	a.CreatedAt = utils.Now()
	return nil
}

// MailRule selects messages from one folder of its account and turns them
// into ingestion requests. Rules of an account run in ascending Order,
// independently of each other.
type MailRule struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID string `gorm:"column:account_id;type:varchar(50);index;not null"`
	Name      string `gorm:"column:name;type:varchar(255);not null"`
	Order     int    `gorm:"column:rule_order;index;not null"`
	Folder    string `gorm:"column:folder;type:varchar(255);default:INBOX"`

	// MaximumAge restricts selection to messages younger than this many
	// days; zero disables the age filter.
	MaximumAge    int    `gorm:"column:maximum_age;default:30"`
	FilterFrom    string `gorm:"column:filter_from;type:varchar(255)"`
	FilterSubject string `gorm:"column:filter_subject;type:varchar(255)"`
	FilterBody    string `gorm:"column:filter_body;type:varchar(255)"`

	// FilterAttachmentFilename is a case-insensitive glob applied to
	// attachment file names.
	FilterAttachmentFilename string `gorm:"column:filter_attachment_filename;type:varchar(255)"`

	ConsumptionScope enum.ConsumptionScope     `gorm:"column:consumption_scope;type:varchar(30);not null"`
	AttachmentType   enum.AttachmentProcessing `gorm:"column:attachment_type;type:varchar(30);not null"`

	AssignTitleFrom         enum.TitleSource         `gorm:"column:assign_title_from;type:varchar(30);not null"`
	AssignCorrespondentFrom enum.CorrespondentSource `gorm:"column:assign_correspondent_from;type:varchar(30);not null"`
	AssignCorrespondentID   *string                  `gorm:"column:assign_correspondent_id;type:varchar(50)"`
	AssignDocumentTypeID    *string                  `gorm:"column:assign_document_type_id;type:varchar(50)"`
	AssignTagIDs            pq.StringArray           `gorm:"column:assign_tag_ids;type:text[]"`
	OwnerID                 *string                  `gorm:"column:owner_id;type:varchar(50)"`

	Action          enum.MailAction `gorm:"column:action;type:varchar(20);not null"`
	ActionParameter string          `gorm:"column:action_parameter;type:varchar(255)"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (MailRule) TableName() string {
	return "mail_rules"
}

func (r *MailRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = utils.GenerateNanoIDWithPrefix("mrule", 21)
	}
	r.CreatedAt = utils.Now()
	return nil
}

// ProcessedMail is the idempotency ledger. A row exists once the full
// per-message chain reached a terminal state; the unique index on
// (rule_id, folder, uid) is the de-dup authority.
type ProcessedMail struct {
	ID       string    `gorm:"column:id;type:varchar(50);primaryKey"`
	RuleID   string    `gorm:"column:rule_id;type:varchar(50);not null;uniqueIndex:idx_processed_mail_key"`
	Folder   string    `gorm:"column:folder;type:varchar(255);not null;uniqueIndex:idx_processed_mail_key"`
	UID      uint32    `gorm:"column:uid;not null;uniqueIndex:idx_processed_mail_key"`
	Subject  string    `gorm:"column:subject;type:varchar(1000)"`
	Received time.Time `gorm:"column:received;type:timestamp"`
	OwnerID  *string   `gorm:"column:owner_id;type:varchar(50)"`

	Status enum.ProcessedMailStatus `gorm:"column:status;type:varchar(20);not null"`
	Error  string                   `gorm:"column:error;type:text"`

	ProcessedAt time.Time `gorm:"column:processed_at;type:timestamp"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
}

func (ProcessedMail) TableName() string {
	return "processed_mail"
}

func (p *ProcessedMail) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = utils.GenerateNanoIDWithPrefix("pmail", 21)
	}
	now := utils.Now()
	if p.ProcessedAt.IsZero() {
		p.ProcessedAt = now
	}
	p.CreatedAt = now
	return nil
}
