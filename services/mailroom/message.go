package mailroom

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/gabriel-vasile/mimetype"
	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/enum"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/tracing"
	"github.com/docstack/docstack/internal/utils"
)

// processMessage extracts the rule's files from one message and submits the
// per-message task group: the consume tasks as members, the rule's action as
// the join, the failure ledger writer as the error task.
func (s *MailroomService) processMessage(ctx context.Context, rule *models.MailRule, msg *imap.Message, raw []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailroomService.ProcessMessage")
	defer span.Finish()
	tracing.TagEntity(span, rule.ID)
	span.SetTag("uid", msg.Uid)

	subject := ""
	if msg.Envelope != nil {
		subject = msg.Envelope.Subject
	}
	span.LogKV("subject", subject)

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to parse message")
	}

	scratchDir, err := s.store.ScratchDir("mail")
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	var files []string
	if rule.ConsumptionScope == enum.ScopeAttachmentsOnly || rule.ConsumptionScope == enum.ScopeEverything {
		attachmentFiles, err := s.writeAttachments(ctx, rule, envelope, scratchDir)
		if err != nil {
			os.RemoveAll(scratchDir)
			tracing.TraceErr(span, err)
			return err
		}
		files = append(files, attachmentFiles...)
	}
	if rule.ConsumptionScope == enum.ScopeEmlOnly || rule.ConsumptionScope == enum.ScopeEverything {
		emlName := utils.SanitizeFilename(subject)
		if emlName == "unnamed" {
			emlName = "message"
		}
		emlPath := filepath.Join(scratchDir, emlName+".eml")
		if err := os.WriteFile(emlPath, raw, 0o644); err != nil {
			os.RemoveAll(scratchDir)
			tracing.TraceErr(span, err)
			return err
		}
		files = append(files, emlPath)
	}

	if len(files) == 0 {
		os.RemoveAll(scratchDir)
	}

	overrides, err := s.buildOverrides(ctx, rule, envelope, subject)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	members := make([]interfaces.TaskSpec, 0, len(files))
	for _, file := range files {
		descriptor, err := dto.NewDocumentDescriptor(enum.SourceMailFetch, file)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		memberOverrides := overrides
		memberOverrides.Filename = utils.Ptr(filepath.Base(file))
		members = append(members, interfaces.TaskSpec{
			Type: dto.TaskConsumeFile,
			Payload: dto.ConsumeFilePayload{
				Document:  descriptor,
				Overrides: memberOverrides,
			},
			CorrelationID: rule.ID,
		})
	}

	messageDate := utils.Now()
	if !msg.InternalDate.IsZero() {
		messageDate = msg.InternalDate.UTC()
	}
	join := interfaces.TaskSpec{
		Type: dto.TaskApplyMailAction,
		Payload: dto.ApplyMailActionPayload{
			RuleID:         rule.ID,
			MessageUID:     msg.Uid,
			MessageSubject: subject,
			MessageDate:    messageDate,
		},
		CorrelationID: rule.ID,
	}
	onError := &interfaces.TaskSpec{
		Type: dto.TaskMailActionError,
		Payload: dto.MailActionErrorPayload{
			RuleID:         rule.ID,
			MessageUID:     msg.Uid,
			MessageSubject: subject,
			MessageDate:    messageDate,
		},
		CorrelationID: rule.ID,
	}

	groupID, err := s.dispatcher.SubmitGroup(ctx, members, join, onError)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.log.Infof("Message uid %d (%q) submitted as group %s with %d files", msg.Uid, subject, groupID, len(files))
	return nil
}

// writeAttachments stores the matching attachment parts under scratchDir.
// Parts without a usable name, parts filtered out by the rule's glob and
// parts no parser can handle are skipped.
func (s *MailroomService) writeAttachments(ctx context.Context, rule *models.MailRule, envelope *enmime.Envelope, scratchDir string) ([]string, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "MailroomService.WriteAttachments")
	defer span.Finish()

	parts := envelope.Attachments
	if rule.AttachmentType == enum.AttachmentsAndInlines {
		parts = append(parts, envelope.Inlines...)
	}

	var files []string
	for _, part := range parts {
		if part.FileName == "" {
			continue
		}
		if !matchesAttachmentFilter(rule.FilterAttachmentFilename, part.FileName) {
			s.log.Debugf("Attachment %q does not match filter %q, skipping", part.FileName, rule.FilterAttachmentFilename)
			continue
		}
		// The declared part type is whatever the sending client wrote; the
		// content itself decides whether a parser exists for it.
		detected := mimetype.Detect(part.Content).String()
		if !s.registry.IsSupported(detected) {
			s.log.Infof("Attachment %q has unsupported type %s (declared %s), skipping", part.FileName, detected, part.ContentType)
			continue
		}

		path := filepath.Join(scratchDir, utils.SanitizeFilename(part.FileName))
		if err := os.WriteFile(path, part.Content, 0o644); err != nil {
			return nil, errors.Wrapf(err, "failed to write attachment %q", part.FileName)
		}
		files = append(files, path)
	}
	span.LogKV("parts", len(parts), "written", len(files))
	return files, nil
}

func matchesAttachmentFilter(pattern, filename string) bool {
	if pattern == "" {
		return true
	}
	matched, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(filename))
	if err != nil {
		return true
	}
	return matched
}

// buildOverrides derives the document metadata a rule assigns to everything
// it consumes from one message.
func (s *MailroomService) buildOverrides(ctx context.Context, rule *models.MailRule, envelope *enmime.Envelope, subject string) (dto.MetadataOverrides, error) {
	overrides := dto.MetadataOverrides{
		DocumentTypeID: rule.AssignDocumentTypeID,
		TagIDs:         rule.AssignTagIDs,
		OwnerID:        rule.OwnerID,
	}

	if rule.AssignTitleFrom == enum.TitleFromSubject && subject != "" {
		overrides.Title = utils.Ptr(subject)
	}

	correspondentID, err := s.resolveCorrespondent(ctx, rule, envelope)
	if err != nil {
		return overrides, err
	}
	overrides.CorrespondentID = correspondentID
	return overrides, nil
}

func (s *MailroomService) resolveCorrespondent(ctx context.Context, rule *models.MailRule, envelope *enmime.Envelope) (*string, error) {
	fromAddress, fromName := senderOf(envelope)

	switch rule.AssignCorrespondentFrom {
	case enum.CorrespondentFromNothing:
		return nil, nil
	case enum.CorrespondentFromCustom:
		return rule.AssignCorrespondentID, nil
	case enum.CorrespondentFromEmail:
		if fromAddress == "" {
			return nil, nil
		}
		correspondent, err := s.repos.CorrespondentRepository.GetOrCreateByName(ctx, fromAddress)
		if err != nil {
			return nil, err
		}
		return &correspondent.ID, nil
	case enum.CorrespondentFromName:
		name := fromName
		if name == "" {
			name = fromAddress
		}
		if name == "" {
			return nil, nil
		}
		correspondent, err := s.repos.CorrespondentRepository.GetOrCreateByName(ctx, name)
		if err != nil {
			return nil, err
		}
		return &correspondent.ID, nil
	default:
		return nil, errors.Errorf("unhandled correspondent source %s", rule.AssignCorrespondentFrom)
	}
}

func senderOf(envelope *enmime.Envelope) (address, name string) {
	senders, err := envelope.AddressList("From")
	if err != nil || len(senders) == 0 {
		return "", ""
	}
	return senders[0].Address, senders[0].Name
}
