package mailroom

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/internal/enum"
	docerrors "github.com/docstack/docstack/internal/errors"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/tracing"
)

const appleTagPrefix = "apple:"

// Apple Mail renders flag colors from combinations of $MailFlagBit keywords
// on a flagged message.
var appleTagColors = map[string][]string{
	"red":    {},
	"orange": {"$MailFlagBit0"},
	"yellow": {"$MailFlagBit1"},
	"blue":   {"$MailFlagBit2"},
	"green":  {"$MailFlagBit0", "$MailFlagBit1"},
	"violet": {"$MailFlagBit0", "$MailFlagBit2"},
	"grey":   {"$MailFlagBit1", "$MailFlagBit2"},
}

func isAppleTag(parameter string) bool {
	return strings.HasPrefix(strings.ToLower(parameter), appleTagPrefix)
}

// HandleMailActionTask is the join of a message's task group. The rule's
// action runs and the ledger entry is written regardless of member failures,
// so a message is never reconsidered once its batch reached a terminal
// state.
func (s *MailroomService) HandleMailActionTask(ctx context.Context, envelope dto.TaskEnvelope) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailroomService.HandleMailActionTask")
	defer span.Finish()
	tracing.TagComponentTaskWorker(span)

	var payload dto.ApplyMailActionPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "invalid mail action payload")
	}
	tracing.TagEntity(span, payload.RuleID)
	span.SetTag("uid", payload.MessageUID)

	rule, err := s.repos.MailRuleRepository.GetByID(ctx, payload.RuleID)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if rule == nil {
		return "", errors.Wrapf(docerrors.ErrNotFound, "rule %s", payload.RuleID)
	}
	account, err := s.repos.MailAccountRepository.GetByID(ctx, rule.AccountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if account == nil {
		return "", errors.Wrapf(docerrors.ErrNotFound, "account %s", rule.AccountID)
	}

	actionErr := s.applyAction(ctx, account, rule, payload.MessageUID)
	if actionErr != nil {
		tracing.TraceErr(span, actionErr)
		s.log.Errorf("Mail action %s failed for uid %d: %v", rule.Action, payload.MessageUID, actionErr)
	}

	status := enum.ProcessedMailSuccess
	errText := ""
	switch {
	case actionErr != nil:
		status = enum.ProcessedMailFailed
		errText = actionErr.Error()
	case payload.FailedMembers > 0:
		status = enum.ProcessedMailFailed
		errText = fmt.Sprintf("%d of the message's files failed: %s", payload.FailedMembers, payload.MemberError)
	}

	record := &models.ProcessedMail{
		RuleID:   rule.ID,
		Folder:   rule.Folder,
		UID:      payload.MessageUID,
		Subject:  payload.MessageSubject,
		Received: payload.MessageDate,
		OwnerID:  rule.OwnerID,
		Status:   status,
		Error:    errText,
	}
	if err := s.repos.ProcessedMailRepository.Record(ctx, record); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	if actionErr != nil {
		return "", actionErr
	}
	return fmt.Sprintf("action %s applied, ledger %s", rule.Action, status), nil
}

// HandleMailActionError fires at most once per message batch, on the first
// failure. It writes the FAILED ledger entry so a poisoned message does not
// get refetched forever even if the join never completes.
func (s *MailroomService) HandleMailActionError(ctx context.Context, envelope dto.TaskEnvelope) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailroomService.HandleMailActionError")
	defer span.Finish()
	tracing.TagComponentTaskWorker(span)

	var payload dto.MailActionErrorPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "invalid mail action error payload")
	}
	tracing.TagEntity(span, payload.RuleID)
	span.SetTag("uid", payload.MessageUID)

	rule, err := s.repos.MailRuleRepository.GetByID(ctx, payload.RuleID)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if rule == nil {
		return "", errors.Wrapf(docerrors.ErrNotFound, "rule %s", payload.RuleID)
	}

	s.log.Errorf("Message uid %d (%q) failed under rule %s: %s",
		payload.MessageUID, payload.MessageSubject, rule.Name, payload.Error)

	record := &models.ProcessedMail{
		RuleID:   rule.ID,
		Folder:   rule.Folder,
		UID:      payload.MessageUID,
		Subject:  payload.MessageSubject,
		Received: payload.MessageDate,
		OwnerID:  rule.OwnerID,
		Status:   enum.ProcessedMailFailed,
		Error:    payload.Error,
	}
	if err := s.repos.ProcessedMailRepository.Record(ctx, record); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return "failure recorded", nil
}

// applyAction performs the rule's post-consumption action on one message.
func (s *MailroomService) applyAction(ctx context.Context, account *models.MailAccount, rule *models.MailRule, uid uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailroomService.ApplyAction")
	defer span.Finish()
	span.SetTag("action", rule.Action.String())

	c, err := s.connect(ctx, account)
	if err != nil {
		return err
	}
	defer c.Logout()

	if _, err := c.Select(rule.Folder, false); err != nil {
		return errors.Wrapf(docerrors.ErrMailFolderSelect, "folder %q: %v", rule.Folder, err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	switch rule.Action {
	case enum.MailActionDelete:
		if err := s.storeFlags(c, seqset, imap.DeletedFlag); err != nil {
			return err
		}
		return c.Expunge(nil)
	case enum.MailActionMarkRead:
		return s.storeFlags(c, seqset, imap.SeenFlag)
	case enum.MailActionFlag:
		return s.storeFlags(c, seqset, imap.FlaggedFlag)
	case enum.MailActionMove:
		if rule.ActionParameter == "" {
			return errors.New("move action requires a target folder")
		}
		return c.UidMove(seqset, rule.ActionParameter)
	case enum.MailActionTag:
		return s.applyTag(c, account, rule, seqset)
	default:
		return errors.Errorf("unhandled mail action %s", rule.Action)
	}
}

func (s *MailroomService) applyTag(c *client.Client, account *models.MailAccount, rule *models.MailRule, seqset *imap.SeqSet) error {
	parameter := rule.ActionParameter
	if parameter == "" {
		return errors.New("tag action requires a parameter")
	}

	if isAppleTag(parameter) {
		color := strings.ToLower(strings.TrimPrefix(strings.ToLower(parameter), appleTagPrefix))
		bits, ok := appleTagColors[color]
		if !ok {
			return errors.Errorf("unknown apple mail tag color %q", color)
		}
		flags := append([]string{imap.FlaggedFlag}, bits...)
		return s.storeFlags(c, seqset, flags...)
	}

	// Gmail does not support custom keywords; labels are set through the
	// X-GM-LABELS extension instead.
	if strings.Contains(strings.ToLower(account.ImapServer), "gmail") {
		item := imap.StoreItem("+X-GM-LABELS")
		return c.UidStore(seqset, item, []interface{}{parameter}, nil)
	}

	return s.storeFlags(c, seqset, parameter)
}

func (s *MailroomService) storeFlags(c *client.Client, seqset *imap.SeqSet, flags ...string) error {
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	values := make([]interface{}, len(flags))
	for i, flag := range flags {
		values[i] = flag
	}
	return c.UidStore(seqset, item, values, nil)
}
