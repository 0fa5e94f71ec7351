package mailroom

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstack/docstack/internal/enum"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/services/parser"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

type attachmentFixture struct {
	name     string
	declared string
	content  []byte
}

func messageWithAttachments(t *testing.T, atts []attachmentFixture) *enmime.Envelope {
	t.Helper()
	var b strings.Builder
	b.WriteString("From: Jane <jane@example.com>\r\n")
	b.WriteString("To: intake@example.com\r\n")
	b.WriteString("Subject: scans\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"frontier\"\r\n\r\n")
	b.WriteString("--frontier\r\nContent-Type: text/plain\r\n\r\nsee attached\r\n")
	for _, att := range atts {
		b.WriteString("--frontier\r\n")
		fmt.Fprintf(&b, "Content-Type: %s\r\n", att.declared)
		fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n", att.name)
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		b.WriteString(base64.StdEncoding.EncodeToString(att.content))
		b.WriteString("\r\n")
	}
	b.WriteString("--frontier--\r\n")

	envelope, err := enmime.ReadEnvelope(strings.NewReader(b.String()))
	require.NoError(t, err)
	return envelope
}

func TestWriteAttachments_SniffsContentType(t *testing.T) {
	pdfBytes := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<</Root 1 0 R>>\n%%EOF\n")
	pngBytes := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}

	envelope := messageWithAttachments(t, []attachmentFixture{
		// A PDF hidden behind a generic declared type must still be taken.
		{"invoice.pdf", "application/octet-stream", pdfBytes},
		// A PNG is unsupported no matter what the sender declared.
		{"logo.png", "image/png", pngBytes},
		{"report.pdf", "application/pdf", pngBytes},
	})

	svc := &MailroomService{log: getLogger(), registry: parser.DefaultRegistry()}
	rule := &models.MailRule{
		ConsumptionScope: enum.ScopeAttachmentsOnly,
		AttachmentType:   enum.AttachmentsOnly,
	}

	scratch := t.TempDir()
	files, err := svc.writeAttachments(context.Background(), rule, envelope, scratch)
	require.NoError(t, err)

	require.Len(t, files, 1)
	assert.Equal(t, "invoice.pdf", filepath.Base(files[0]))
	written, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, written)
}

func TestWriteAttachments_HonorsFilenameFilter(t *testing.T) {
	pdfBytes := []byte("%PDF-1.4\n%%EOF\n")

	envelope := messageWithAttachments(t, []attachmentFixture{
		{"invoice.pdf", "application/pdf", pdfBytes},
		{"terms.pdf", "application/pdf", pdfBytes},
	})

	svc := &MailroomService{log: getLogger(), registry: parser.DefaultRegistry()}
	rule := &models.MailRule{
		ConsumptionScope:         enum.ScopeAttachmentsOnly,
		AttachmentType:           enum.AttachmentsOnly,
		FilterAttachmentFilename: "invoice*",
	}

	files, err := svc.writeAttachments(context.Background(), rule, envelope, t.TempDir())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "invoice.pdf", filepath.Base(files[0]))
}
