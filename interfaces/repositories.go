package interfaces

import (
	"context"
	"time"

	"github.com/docstack/docstack/internal/enum"
	"github.com/docstack/docstack/internal/models"
)

type DocumentRepository interface {
	Create(ctx context.Context, document *models.Document) (string, error)
	Update(ctx context.Context, document *models.Document) error
	// UpdateArchive updates only the archive-related columns of a row,
	// without touching the rest of the document.
	UpdateArchive(ctx context.Context, id, content, archiveChecksum, archiveFilename string) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	// GetByChecksum matches either the original or the archive checksum.
	GetByChecksum(ctx context.Context, checksum string) (*models.Document, error)
	ExistsASN(ctx context.Context, asn int64) (bool, error)
	ListByIDs(ctx context.Context, ids []string) ([]*models.Document, error)
	ListAll(ctx context.Context) ([]*models.Document, error)
}

type CorrespondentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Correspondent, error)
	// GetOrCreateByName returns the existing correspondent with that name or
	// creates one; a concurrent create racing on the unique name is resolved
	// by re-reading.
	GetOrCreateByName(ctx context.Context, name string) (*models.Correspondent, error)
}

type TagRepository interface {
	GetByIDs(ctx context.Context, ids []string) ([]*models.Tag, error)
}

type DocumentTypeRepository interface {
	GetByID(ctx context.Context, id string) (*models.DocumentType, error)
}

type MailAccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.MailAccount, error)
	ListAll(ctx context.Context) ([]*models.MailAccount, error)
}

type MailRuleRepository interface {
	GetByID(ctx context.Context, id string) (*models.MailRule, error)
	// ListByAccount returns the account's rules in ascending order.
	ListByAccount(ctx context.Context, accountID string) ([]*models.MailRule, error)
}

type ProcessedMailRepository interface {
	Exists(ctx context.Context, ruleID, folder string, uid uint32) (bool, error)
	// Record inserts a ledger entry; a conflict on (rule, folder, uid) means
	// another worker already recorded this message and is not an error.
	Record(ctx context.Context, record *models.ProcessedMail) error
}

// TaskGroupCompletion is the outcome of marking one group member terminal.
type TaskGroupCompletion struct {
	Group     *models.TaskGroup
	FireJoin  bool
	FireError bool
}

type TaskGroupRepository interface {
	Create(ctx context.Context, group *models.TaskGroup) (string, error)
	GetByID(ctx context.Context, id string) (*models.TaskGroup, error)
	// CompleteMember atomically decrements the pending count (recording a
	// failure if success is false) and reports whether the join task and/or
	// the one-shot error task must fire now.
	CompleteMember(ctx context.Context, groupID string, success bool) (*TaskGroupCompletion, error)
	SetStatus(ctx context.Context, groupID string, status enum.TaskStatus) error
}

type TaskRecordRepository interface {
	Create(ctx context.Context, record *models.TaskRecord) error
	SetStarted(ctx context.Context, id string) error
	SetResult(ctx context.Context, id string, status enum.TaskStatus, result, taskError string) error
	GetByID(ctx context.Context, id string) (*models.TaskRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*models.TaskRecord, error)
}

// IndexEntry is the field projection of a document committed to the
// full-text index.
type IndexEntry struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	Content             string    `json:"content"`
	CorrespondentID     string    `json:"correspondentId,omitempty"`
	DocumentTypeID      string    `json:"documentTypeId,omitempty"`
	TagIDs              []string  `json:"tagIds,omitempty"`
	OwnerID             string    `json:"ownerId,omitempty"`
	MimeType            string    `json:"mimeType"`
	ArchiveSerialNumber *int64    `json:"asn,omitempty"`
	Created             time.Time `json:"created"`
	Added               time.Time `json:"added"`
}

// IndexWriter applies index mutations within one writer scope.
type IndexWriter interface {
	Update(entry IndexEntry) error
	Remove(id string) error
}

// IndexService guards the single-writer full-text index. WithWriter acquires
// exclusive write access, runs fn, commits the accumulated batch on success
// and releases on every exit path. Nested acquisition from within fn is a
// caller bug.
type IndexService interface {
	WithWriter(ctx context.Context, fn func(w IndexWriter) error) error
	Optimize(ctx context.Context) error
	DocCount() (uint64, error)
	Close() error
}

// TaskSpec describes one task to submit.
type TaskSpec struct {
	Type          string
	Payload       any
	CorrelationID string
}

// TaskDispatcher submits work onto the distributed queue.
type TaskDispatcher interface {
	SubmitTask(ctx context.Context, spec TaskSpec) (string, error)
	// SubmitGroup fans out the member tasks and arranges for join to run
	// exactly once after every member reached a terminal state. The error
	// spec, if non-nil, fires exactly once on the first failure of any
	// member or of the join itself.
	SubmitGroup(ctx context.Context, members []TaskSpec, join TaskSpec, onError *TaskSpec) (string, error)
}

// Notifier publishes best-effort progress events. Failures are logged by the
// implementation and never returned as pipeline errors.
type Notifier interface {
	Publish(ctx context.Context, event any)
}
