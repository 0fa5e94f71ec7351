package mailroom

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/internal/enum"
	docerrors "github.com/docstack/docstack/internal/errors"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/tracing"
	"github.com/docstack/docstack/internal/utils"
)

// connect dials the account's IMAP server and authenticates. Non-ASCII
// credentials cannot travel in a LOGIN command, so a failed login retries
// once over AUTH=PLAIN for those accounts.
func (s *MailroomService) connect(ctx context.Context, account *models.MailAccount) (*client.Client, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "MailroomService.Connect")
	defer span.Finish()
	span.SetTag("server", account.ImapServer)
	span.SetTag("security", account.ImapSecurity.String())

	addr := fmt.Sprintf("%s:%d", account.ImapServer, account.ImapPort)

	var c *client.Client
	var err error
	switch account.ImapSecurity {
	case enum.ImapSecuritySSL:
		c, err = client.DialTLS(addr, nil)
	case enum.ImapSecurityStartTLS:
		c, err = client.Dial(addr)
		if err == nil {
			err = c.StartTLS(nil)
		}
	case enum.ImapSecurityNone:
		c, err = client.Dial(addr)
	default:
		return nil, errors.Errorf("unhandled imap security mode %s", account.ImapSecurity)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to connect to %s", addr)
	}

	if err := c.Login(account.Username, account.Password); err != nil {
		if !utils.IsASCII(account.Username + account.Password) {
			s.log.Debugf("Login failed for %s with non-ASCII credentials, retrying with AUTH=PLAIN", account.Username)
			if authErr := c.Authenticate(sasl.NewPlainClient("", account.Username, account.Password)); authErr == nil {
				return c, nil
			}
		}
		_ = c.Logout()
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(docerrors.ErrMailAuthentication, "account %s: %v", account.Name, err)
	}
	return c, nil
}
