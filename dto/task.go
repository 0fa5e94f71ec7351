package dto

import (
	"encoding/json"
	"time"
)

// Task type names as carried on the queue.
const (
	TaskConsumeFile           = "consume_file"
	TaskApplyMailAction       = "apply_mail_action"
	TaskMailActionError       = "mail_action_error"
	TaskProcessMailAccounts   = "process_mail_accounts"
	TaskIndexOptimize         = "index_optimize"
	TaskSanityCheck           = "sanity_check"
	TaskBulkUpdateDocuments   = "bulk_update_documents"
	TaskUpdateDocumentArchive = "update_document_archive"
)

// Position of a task within its group, if any. Member completions decrement
// the group's pending count; join and error tasks are emitted by the group
// itself and never decrement it.
const (
	GroupRoleMember = "member"
	GroupRoleJoin   = "join"
	GroupRoleError  = "error"
)

// TaskEnvelope is the wire form of one task on the queue.
type TaskEnvelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	GroupID       *string         `json:"groupId,omitempty"`
	GroupRole     string          `json:"groupRole,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	UberTraceID   string          `json:"uberTraceId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// ConsumeFilePayload is one ingestion request.
type ConsumeFilePayload struct {
	Document  DocumentDescriptor `json:"document"`
	Overrides MetadataOverrides  `json:"overrides"`
}

// ApplyMailActionPayload is the join task of a message batch: run the
// rule's post-consumption action and write the ledger entry.
type ApplyMailActionPayload struct {
	RuleID         string    `json:"ruleId"`
	MessageUID     uint32    `json:"messageUid"`
	MessageSubject string    `json:"messageSubject"`
	MessageDate    time.Time `json:"messageDate"`

	// FailedMembers is filled in by the task engine when the join fires.
	FailedMembers int    `json:"failedMembers"`
	MemberError   string `json:"memberError,omitempty"`
}

// MailActionErrorPayload fires at most once when any batch member or the
// join fails.
type MailActionErrorPayload struct {
	RuleID         string    `json:"ruleId"`
	MessageUID     uint32    `json:"messageUid"`
	MessageSubject string    `json:"messageSubject"`
	MessageDate    time.Time `json:"messageDate"`
	Error          string    `json:"error"`
}

type BulkUpdateDocumentsPayload struct {
	DocumentIDs []string `json:"documentIds"`
}

type UpdateDocumentArchivePayload struct {
	DocumentID string `json:"documentId"`
}
