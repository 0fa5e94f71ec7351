package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateNanoIDWithPrefix(t *testing.T) {
	id := GenerateNanoIDWithPrefix("doc", 21)

	assert.True(t, strings.HasPrefix(id, "doc_"))
	assert.Len(t, id, len("doc_")+21)
	assert.NotEqual(t, id, GenerateNanoIDWithPrefix("doc", 21))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"invoice.pdf", "invoice.pdf"},
		{"  invoice.pdf  ", "invoice.pdf"},
		{"../../etc/passwd", "passwd"},
		{"a/b\\c.pdf", "b_c.pdf"},
		{"bad:name*?.pdf", "bad_name__.pdf"},
		{"", "unnamed"},
		{"...", "unnamed"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "input %q", tt.in)
	}
}

func TestFilenameStem(t *testing.T) {
	assert.Equal(t, "scan", FilenameStem("/consume/scan.pdf"))
	assert.Equal(t, "scan.2023", FilenameStem("scan.2023.pdf"))
	assert.Equal(t, "noext", FilenameStem("noext"))
}

func TestIsASCII(t *testing.T) {
	assert.True(t, IsASCII("user@example.test"))
	assert.True(t, IsASCII(""))
	assert.False(t, IsASCII("pässword"))
}

func TestFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	sum, err := FileChecksum(path)

	require.NoError(t, err)
	// md5("hello")
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum)
}
