package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMime(t *testing.T) {
	assert.Equal(t, "text/plain", normalizeMime("text/plain"))
	assert.Equal(t, "text/plain", normalizeMime("text/plain; charset=utf-8"))
	assert.Equal(t, "application/pdf", normalizeMime("Application/PDF"))
	assert.Equal(t, "text/csv", normalizeMime("  text/csv  "))
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	assert.True(t, r.IsSupported("text/plain"))
	assert.True(t, r.IsSupported("text/plain; charset=utf-8"))
	assert.True(t, r.IsSupported("text/csv"))
	assert.True(t, r.IsSupported("application/pdf"))
	assert.True(t, r.IsSupported("message/rfc822"))
	assert.False(t, r.IsSupported("image/png"))
	assert.Nil(t, r.ForMimeType("image/png"))
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("text/plain", NewTextParser)

	assert.True(t, r.IsSupported("TEXT/PLAIN"))
}

func TestTextParser(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	p := NewTextParser()
	defer p.Cleanup()

	result, err := p.Parse(context.Background(), path, "text/plain", "note.txt")

	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
	assert.Nil(t, result.Created)
	assert.Empty(t, result.ArchivePath)
}

func TestMailParser(t *testing.T) {
	raw := "From: Jane Doe <jane@example.test>\r\n" +
		"To: inbox@example.test\r\n" +
		"Subject: March invoice\r\n" +
		"Date: Mon, 06 Mar 2023 10:30:00 +0000\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Please find the invoice attached.\r\n"

	dir := t.TempDir()
	path := filepath.Join(dir, "message.eml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	p := NewMailParser()
	defer p.Cleanup()

	result, err := p.Parse(context.Background(), path, "message/rfc822", "message.eml")

	require.NoError(t, err)
	assert.Contains(t, result.Text, "Jane Doe")
	assert.Contains(t, result.Text, "March invoice")
	assert.Contains(t, result.Text, "Please find the invoice attached.")
	require.NotNil(t, result.Created)
	assert.Equal(t, "2023-03-06", result.Created.UTC().Format("2006-01-02"))
}
