package parser

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWhitePng(t *testing.T, path string) {
	img := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func writeTestPdf(t *testing.T, dir string) string {
	pngPath := filepath.Join(dir, "page.png")
	writeWhitePng(t, pngPath)
	pdfPath := filepath.Join(dir, "doc.pdf")
	require.NoError(t, api.ImportImagesFile([]string{pngPath}, pdfPath, nil, nil))
	return pdfPath
}

func TestPdfParser_ArchiveSurvivesUntilCleanup(t *testing.T) {
	sourcePath := writeTestPdf(t, t.TempDir())

	p := NewPdfParser()
	result, err := p.Parse(context.Background(), sourcePath, "application/pdf", "doc.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, result.ArchivePath)

	// The caller checksums and moves the archive after Parse returns, so it
	// must still be on disk here.
	archived, err := os.ReadFile(result.ArchivePath)
	require.NoError(t, err)
	source, err := os.ReadFile(sourcePath)
	require.NoError(t, err)
	assert.Equal(t, source, archived)

	p.Cleanup()
	_, err = os.Stat(result.ArchivePath)
	assert.True(t, os.IsNotExist(err))
}

func TestPdfParser_RejectsCorruptFile(t *testing.T) {
	sourcePath := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(sourcePath, []byte("%PDF-1.4 not actually a pdf"), 0o644))

	p := NewPdfParser()
	defer p.Cleanup()
	_, err := p.Parse(context.Background(), sourcePath, "application/pdf", "broken.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.pdf is not a valid PDF")
}
