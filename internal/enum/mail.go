package enum

type ImapSecurity string

const (
	ImapSecurityNone     ImapSecurity = "none"
	ImapSecuritySSL      ImapSecurity = "ssl"
	ImapSecurityStartTLS ImapSecurity = "starttls"
)

func (t ImapSecurity) String() string {
	return string(t)
}

// MailAction is the closed set of post-consumption actions a rule may carry.
// Exactly one action is associated with a rule; switches over this type must
// be exhaustive.
type MailAction string

const (
	MailActionDelete   MailAction = "delete"
	MailActionMarkRead MailAction = "mark_read"
	MailActionMove     MailAction = "move"
	MailActionFlag     MailAction = "flag"
	MailActionTag      MailAction = "tag"
)

func (t MailAction) String() string {
	return string(t)
}

type ConsumptionScope string

const (
	ScopeAttachmentsOnly ConsumptionScope = "attachments_only"
	ScopeEmlOnly         ConsumptionScope = "eml_only"
	ScopeEverything      ConsumptionScope = "everything"
)

func (t ConsumptionScope) String() string {
	return string(t)
}

type AttachmentProcessing string

const (
	AttachmentsOnly       AttachmentProcessing = "attachments_only"
	AttachmentsAndInlines AttachmentProcessing = "everything"
)

func (t AttachmentProcessing) String() string {
	return string(t)
}

type TitleSource string

const (
	TitleFromSubject  TitleSource = "from_subject"
	TitleFromFilename TitleSource = "from_filename"
)

func (t TitleSource) String() string {
	return string(t)
}

type CorrespondentSource string

const (
	CorrespondentFromNothing CorrespondentSource = "from_nothing"
	CorrespondentFromEmail   CorrespondentSource = "from_email"
	CorrespondentFromName    CorrespondentSource = "from_name"
	CorrespondentFromCustom  CorrespondentSource = "from_custom"
)

func (t CorrespondentSource) String() string {
	return string(t)
}
