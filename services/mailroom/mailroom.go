package mailroom

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/enum"
	docerrors "github.com/docstack/docstack/internal/errors"
	"github.com/docstack/docstack/internal/filestore"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/repository"
	"github.com/docstack/docstack/internal/tracing"
)

// MailroomService polls IMAP accounts and turns matching messages into
// ingestion requests. Each message yields a task group: one consume task per
// extracted file plus the rule's action as the join.
type MailroomService struct {
	log        logger.Logger
	repos      *repository.Repositories
	store      *filestore.Store
	registry   interfaces.ParserRegistry
	dispatcher interfaces.TaskDispatcher
}

func NewMailroomService(
	log logger.Logger,
	repos *repository.Repositories,
	store *filestore.Store,
	registry interfaces.ParserRegistry,
	dispatcher interfaces.TaskDispatcher,
) *MailroomService {
	return &MailroomService{
		log:        log,
		repos:      repos,
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
	}
}

// ProcessAllAccounts polls every configured account. A failing account is
// logged and never blocks the others.
func (s *MailroomService) ProcessAllAccounts(ctx context.Context) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailroomService.ProcessAllAccounts")
	defer span.Finish()
	tracing.TagComponentService(span)

	accounts, err := s.repos.MailAccountRepository.ListAll(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	total := 0
	for _, account := range accounts {
		processed, err := s.ProcessAccount(ctx, account)
		total += processed
		if err != nil {
			tracing.TraceErr(span, err)
			s.log.Errorf("Failed processing mail account %s: %v", account.Name, err)
		}
	}
	span.LogKV("accounts", len(accounts), "messages", total)
	return total, nil
}

// ProcessAccount connects once and runs every rule of the account in order.
// A failing rule is logged and the next rule still runs.
func (s *MailroomService) ProcessAccount(ctx context.Context, account *models.MailAccount) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailroomService.ProcessAccount")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagEntity(span, account.ID)

	rules, err := s.repos.MailRuleRepository.ListByAccount(ctx, account.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	if len(rules) == 0 {
		return 0, nil
	}

	c, err := s.connect(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	defer c.Logout()

	total := 0
	var firstErr error
	for _, rule := range rules {
		processed, err := s.processRule(ctx, c, account, rule)
		total += processed
		if err != nil {
			tracing.TraceErr(span, err)
			s.log.Errorf("Rule %s (%s) failed: %v", rule.Name, rule.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return total, firstErr
}

func (s *MailroomService) processRule(ctx context.Context, c *client.Client, account *models.MailAccount, rule *models.MailRule) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailroomService.ProcessRule")
	defer span.Finish()
	tracing.TagEntity(span, rule.ID)
	span.SetTag("folder", rule.Folder)

	if _, err := c.Select(rule.Folder, false); err != nil {
		s.logAvailableFolders(c)
		tracing.TraceErr(span, err)
		return 0, errors.Wrapf(docerrors.ErrMailFolderSelect, "folder %q: %v", rule.Folder, err)
	}

	uids, err := c.UidSearch(searchCriteria(rule))
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, errors.Wrapf(docerrors.ErrMailFetch, "search in %q: %v", rule.Folder, err)
	}
	span.LogKV("matched", len(uids))
	if len(uids) == 0 {
		return 0, nil
	}

	// The ledger keeps already-handled messages from being processed twice.
	pending := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		handled, err := s.repos.ProcessedMailRepository.Exists(ctx, rule.ID, rule.Folder, uid)
		if err != nil {
			tracing.TraceErr(span, err)
			return 0, err
		}
		if !handled {
			pending = append(pending, uid)
		}
	}
	span.LogKV("pending", len(pending))
	if len(pending) == 0 {
		return 0, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(pending...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.UidFetch(seqset, items, messages)
	}()

	processed := 0
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			s.log.Warnf("Message uid %d in %q has no body section", msg.Uid, rule.Folder)
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			s.log.Warnf("Failed to read message uid %d in %q: %v", msg.Uid, rule.Folder, err)
			continue
		}
		if err := s.processMessage(ctx, rule, msg, raw); err != nil {
			s.log.Errorf("Failed to process message uid %d in %q: %v", msg.Uid, rule.Folder, err)
			continue
		}
		processed++
	}

	if err := <-fetchDone; err != nil {
		tracing.TraceErr(span, err)
		return processed, errors.Wrapf(docerrors.ErrMailFetch, "fetch in %q: %v", rule.Folder, err)
	}
	return processed, nil
}

// searchCriteria builds the server-side selection for a rule, including the
// pre-filter implied by the rule's action so already-actioned messages are
// never reconsidered.
func searchCriteria(rule *models.MailRule) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()

	if rule.MaximumAge > 0 {
		criteria.Since = time.Now().AddDate(0, 0, -rule.MaximumAge)
	}
	if rule.FilterFrom != "" {
		criteria.Header.Add("From", rule.FilterFrom)
	}
	if rule.FilterSubject != "" {
		criteria.Header.Add("Subject", rule.FilterSubject)
	}
	if rule.FilterBody != "" {
		criteria.Body = append(criteria.Body, rule.FilterBody)
	}

	switch rule.Action {
	case enum.MailActionMarkRead:
		criteria.WithoutFlags = append(criteria.WithoutFlags, imap.SeenFlag)
	case enum.MailActionFlag:
		criteria.WithoutFlags = append(criteria.WithoutFlags, imap.FlaggedFlag)
	case enum.MailActionTag:
		if isAppleTag(rule.ActionParameter) {
			criteria.WithoutFlags = append(criteria.WithoutFlags, imap.FlaggedFlag)
		} else if rule.ActionParameter != "" {
			criteria.WithoutFlags = append(criteria.WithoutFlags, rule.ActionParameter)
		}
	case enum.MailActionDelete, enum.MailActionMove:
		// Actioned messages leave the folder; nothing to pre-filter.
	}
	return criteria
}

func (s *MailroomService) logAvailableFolders(c *client.Client) {
	mailboxes := make(chan *imap.MailboxInfo, 20)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var names []string
	for m := range mailboxes {
		names = append(names, m.Name)
	}
	if err := <-done; err != nil {
		s.log.Warnf("Failed to list folders: %v", err)
		return
	}
	s.log.Infof("Available folders: %v", names)
}

// HandleProcessMailAccounts is the scheduled task entry point.
func (s *MailroomService) HandleProcessMailAccounts(ctx context.Context, envelope dto.TaskEnvelope) (string, error) {
	processed, err := s.ProcessAllAccounts(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("processed %d messages", processed), nil
}
