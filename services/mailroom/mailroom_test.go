package mailroom

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"

	"github.com/docstack/docstack/internal/enum"
	"github.com/docstack/docstack/internal/models"
)

func TestSearchCriteria_Filters(t *testing.T) {
	rule := &models.MailRule{
		MaximumAge:    30,
		FilterFrom:    "billing@acme.test",
		FilterSubject: "invoice",
		FilterBody:    "amount due",
		Action:        enum.MailActionMarkRead,
	}

	criteria := searchCriteria(rule)

	assert.WithinDuration(t, time.Now().AddDate(0, 0, -30), criteria.Since, time.Minute)
	assert.Equal(t, "billing@acme.test", criteria.Header.Get("From"))
	assert.Equal(t, "invoice", criteria.Header.Get("Subject"))
	assert.Equal(t, []string{"amount due"}, criteria.Body)
}

func TestSearchCriteria_NoAgeLimit(t *testing.T) {
	rule := &models.MailRule{Action: enum.MailActionDelete}

	criteria := searchCriteria(rule)

	assert.True(t, criteria.Since.IsZero())
}

func TestSearchCriteria_ActionPreFilter(t *testing.T) {
	tests := []struct {
		name         string
		action       enum.MailAction
		parameter    string
		withoutFlags []string
	}{
		{"mark read skips seen", enum.MailActionMarkRead, "", []string{imap.SeenFlag}},
		{"flag skips flagged", enum.MailActionFlag, "", []string{imap.FlaggedFlag}},
		{"keyword tag skips tagged", enum.MailActionTag, "processed", []string{"processed"}},
		{"apple tag skips flagged", enum.MailActionTag, "apple:green", []string{imap.FlaggedFlag}},
		{"delete has no pre-filter", enum.MailActionDelete, "", nil},
		{"move has no pre-filter", enum.MailActionMove, "Archive", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &models.MailRule{Action: tt.action, ActionParameter: tt.parameter}

			criteria := searchCriteria(rule)

			assert.Equal(t, tt.withoutFlags, criteria.WithoutFlags)
		})
	}
}

func TestMatchesAttachmentFilter(t *testing.T) {
	assert.True(t, matchesAttachmentFilter("", "anything.pdf"))
	assert.True(t, matchesAttachmentFilter("*.pdf", "invoice.pdf"))
	assert.True(t, matchesAttachmentFilter("*.PDF", "invoice.pdf"))
	assert.True(t, matchesAttachmentFilter("*.pdf", "INVOICE.PDF"))
	assert.False(t, matchesAttachmentFilter("*.pdf", "photo.jpg"))
	assert.True(t, matchesAttachmentFilter("invoice_*", "Invoice_2023.pdf"))
}

func TestIsAppleTag(t *testing.T) {
	assert.True(t, isAppleTag("apple:green"))
	assert.True(t, isAppleTag("APPLE:Red"))
	assert.False(t, isAppleTag("processed"))
	assert.False(t, isAppleTag(""))
}

func TestAppleTagColors(t *testing.T) {
	// All seven Apple Mail colors must be mapped.
	for _, color := range []string{"red", "orange", "yellow", "blue", "green", "violet", "grey"} {
		_, ok := appleTagColors[color]
		assert.True(t, ok, "missing color %s", color)
	}
	assert.Empty(t, appleTagColors["red"])
	assert.Equal(t, []string{"$MailFlagBit0", "$MailFlagBit1"}, appleTagColors["green"])
}
