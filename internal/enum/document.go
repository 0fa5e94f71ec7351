package enum

type DocumentSource string

const (
	SourceConsumeFolder DocumentSource = "consume_folder"
	SourceUpload        DocumentSource = "upload"
	SourceMailFetch     DocumentSource = "mail_fetch"
)

func (t DocumentSource) String() string {
	return string(t)
}

type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusStarted TaskStatus = "started"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
)

func (t TaskStatus) String() string {
	return string(t)
}

type ProcessedMailStatus string

const (
	ProcessedMailSuccess ProcessedMailStatus = "SUCCESS"
	ProcessedMailFailed  ProcessedMailStatus = "FAILED"
)

func (t ProcessedMailStatus) String() string {
	return string(t)
}
