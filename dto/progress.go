package dto

// ProgressEvent is a best-effort status update keyed by the correlation id of
// the originating request. Delivery failures never abort the pipeline.
type ProgressEvent struct {
	CorrelationID   string `json:"correlationId"`
	Filename        string `json:"filename"`
	CurrentProgress int    `json:"currentProgress"`
	MaxProgress     int    `json:"maxProgress"`
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`
	DocumentID      string `json:"documentId,omitempty"`
}

const (
	ProgressStatusStarting = "STARTING"
	ProgressStatusWorking  = "WORKING"
	ProgressStatusSuccess  = "SUCCESS"
	ProgressStatusFailed   = "FAILED"
)
