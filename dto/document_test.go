package dto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstack/docstack/internal/enum"
)

func TestNewDocumentDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text content"), 0o644))

	descriptor, err := NewDocumentDescriptor(enum.SourceConsumeFolder, path)

	require.NoError(t, err)
	assert.Equal(t, enum.SourceConsumeFolder, descriptor.Source)
	assert.True(t, filepath.IsAbs(descriptor.OriginalFile))
	assert.True(t, strings.HasPrefix(descriptor.MimeType, "text/plain"))
}

func TestNewDocumentDescriptor_Pdf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n%%EOF\n"), 0o644))

	descriptor, err := NewDocumentDescriptor(enum.SourceUpload, path)

	require.NoError(t, err)
	assert.Equal(t, "application/pdf", descriptor.MimeType)
}

func TestNewDocumentDescriptor_MissingFile(t *testing.T) {
	_, err := NewDocumentDescriptor(enum.SourceUpload, filepath.Join(t.TempDir(), "absent.pdf"))

	assert.Error(t, err)
}
