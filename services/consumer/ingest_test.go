package consumer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstack/docstack/config"
	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/enum"
	docerrors "github.com/docstack/docstack/internal/errors"
	"github.com/docstack/docstack/internal/filestore"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/repository"
	"github.com/docstack/docstack/internal/utils"
	"github.com/docstack/docstack/services/barcode"
	"github.com/docstack/docstack/services/parser"
	"github.com/docstack/docstack/services/splitter"
)

type capturingDispatcher struct {
	specs []interfaces.TaskSpec
}

func (d *capturingDispatcher) SubmitTask(ctx context.Context, spec interfaces.TaskSpec) (string, error) {
	d.specs = append(d.specs, spec)
	return fmt.Sprintf("task_%d", len(d.specs)), nil
}

func (d *capturingDispatcher) SubmitGroup(ctx context.Context, members []interfaces.TaskSpec, join interfaces.TaskSpec, onError *interfaces.TaskSpec) (string, error) {
	d.specs = append(d.specs, members...)
	return "tgrp_test", nil
}

type stubDocumentRepository struct {
	created int
}

func (r *stubDocumentRepository) Create(ctx context.Context, document *models.Document) (string, error) {
	r.created++
	return "doc_test", nil
}

func (r *stubDocumentRepository) Update(ctx context.Context, document *models.Document) error {
	return nil
}

func (r *stubDocumentRepository) UpdateArchive(ctx context.Context, id, content, archiveChecksum, archiveFilename string) error {
	return nil
}

func (r *stubDocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	return nil, nil
}

func (r *stubDocumentRepository) GetByChecksum(ctx context.Context, checksum string) (*models.Document, error) {
	return nil, nil
}

func (r *stubDocumentRepository) ExistsASN(ctx context.Context, asn int64) (bool, error) {
	return false, nil
}

func (r *stubDocumentRepository) ListByIDs(ctx context.Context, ids []string) ([]*models.Document, error) {
	return nil, nil
}

func (r *stubDocumentRepository) ListAll(ctx context.Context) ([]*models.Document, error) {
	return nil, nil
}

type stubTagRepository struct {
	known map[string]bool
}

func (r *stubTagRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Tag, error) {
	var tags []*models.Tag
	for _, id := range ids {
		if r.known[id] {
			tags = append(tags, &models.Tag{ID: id})
		}
	}
	return tags, nil
}

type stubDocumentTypeRepository struct {
	known map[string]bool
}

func (r *stubDocumentTypeRepository) GetByID(ctx context.Context, id string) (*models.DocumentType, error) {
	if r.known[id] {
		return &models.DocumentType{ID: id}, nil
	}
	return nil, nil
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	return &config.Config{
		StorageConfig: &config.StorageConfig{
			ConsumeDir:   filepath.Join(base, "consume"),
			ScratchDir:   filepath.Join(base, "scratch"),
			OriginalsDir: filepath.Join(base, "originals"),
			ArchiveDir:   filepath.Join(base, "archive"),
			ThumbnailDir: filepath.Join(base, "thumbnails"),
			MediaLock:    filepath.Join(base, "media.lock"),
		},
		BarcodeConfig: &config.BarcodeConfig{
			EnableSeparators: true,
			SeparatorString:  "PATCHT",
			EnableASN:        true,
			ASNPrefix:        "ASN",
		},
	}
}

func newTestConsumer(t *testing.T, cfg *config.Config, repos *repository.Repositories, dispatcher *capturingDispatcher) *ConsumerService {
	t.Helper()
	log := getLogger()
	store, err := filestore.NewStore(*cfg.StorageConfig)
	require.NoError(t, err)
	return &ConsumerService{
		cfg:        cfg,
		log:        log,
		repos:      repos,
		store:      store,
		registry:   parser.DefaultRegistry(),
		barcodes:   barcode.NewService(*cfg.BarcodeConfig, log),
		splitter:   splitter.NewService(log),
		dispatcher: dispatcher,
	}
}

func writePageImage(t *testing.T, path string, separator bool, cfg *config.Config) {
	t.Helper()
	var img *image.Gray
	if separator {
		matrix, err := qrcode.NewQRCodeWriter().Encode(cfg.BarcodeConfig.SeparatorString, gozxing.BarcodeFormat_QR_CODE, 200, 200, nil)
		require.NoError(t, err)
		img = image.NewGray(image.Rect(0, 0, matrix.GetWidth(), matrix.GetHeight()))
		for y := 0; y < matrix.GetHeight(); y++ {
			for x := 0; x < matrix.GetWidth(); x++ {
				c := color.Gray{Y: 255}
				if matrix.Get(x, y) {
					c = color.Gray{Y: 0}
				}
				img.SetGray(x, y, c)
			}
		}
	} else {
		img = image.NewGray(image.Rect(0, 0, 200, 200))
		for i := range img.Pix {
			img.Pix[i] = 0xff
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// buildPdf writes a PDF into the consume folder with one page per entry;
// true means a separator page.
func buildPdf(t *testing.T, cfg *config.Config, name string, pages []bool) string {
	t.Helper()
	imgDir := t.TempDir()
	paths := make([]string, len(pages))
	for i, sep := range pages {
		paths[i] = filepath.Join(imgDir, fmt.Sprintf("page%d.png", i))
		writePageImage(t, paths[i], sep, cfg)
	}
	pdfPath := filepath.Join(cfg.StorageConfig.ConsumeDir, name)
	require.NoError(t, api.ImportImagesFile(paths, pdfPath, nil, nil))
	return pdfPath
}

func TestInspectBarcodes_SeparatorOnlyDocumentFallsBack(t *testing.T) {
	cfg := newTestConfig(t)
	dispatcher := &capturingDispatcher{}
	svc := newTestConsumer(t, cfg, nil, dispatcher)

	pdfPath := buildPdf(t, cfg, "separator-only.pdf", []bool{true})
	descriptor, err := dto.NewDocumentDescriptor(enum.SourceConsumeFolder, pdfPath)
	require.NoError(t, err)

	// The single page must actually read as a separator, otherwise the
	// fallback below would never be exercised.
	scratch, err := svc.store.ScratchDir("probecheck")
	require.NoError(t, err)
	inspection, err := svc.barcodes.Inspect(context.Background(), pdfPath, descriptor.MimeType, scratch)
	require.NoError(t, err)
	require.Equal(t, []int{1}, svc.barcodes.SeparatorPages(inspection))

	overrides := dto.MetadataOverrides{}
	handled, err := svc.inspectBarcodes(context.Background(), descriptor, &overrides, "corr-1")
	require.NoError(t, err)

	// No content pages to split out: the request continues as a single
	// document and the source file stays put.
	assert.False(t, handled)
	assert.Empty(t, dispatcher.specs)
	exists, err := filestore.FileExists(pdfPath)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestInspectBarcodes_SplitPrefixesChildFilenames(t *testing.T) {
	cfg := newTestConfig(t)
	dispatcher := &capturingDispatcher{}
	svc := newTestConsumer(t, cfg, nil, dispatcher)

	pdfPath := buildPdf(t, cfg, "three-pages.pdf", []bool{false, true, false})
	descriptor, err := dto.NewDocumentDescriptor(enum.SourceConsumeFolder, pdfPath)
	require.NoError(t, err)

	overrides := dto.MetadataOverrides{Filename: utils.Ptr("scan.pdf")}
	handled, err := svc.inspectBarcodes(context.Background(), descriptor, &overrides, "corr-2")
	require.NoError(t, err)
	require.True(t, handled)

	require.Len(t, dispatcher.specs, 2)
	for i, spec := range dispatcher.specs {
		assert.Equal(t, dto.TaskConsumeFile, spec.Type)
		payload, ok := spec.Payload.(dto.ConsumeFilePayload)
		require.True(t, ok)
		require.NotNil(t, payload.Overrides.Filename)
		assert.Equal(t, fmt.Sprintf("%d_scan.pdf", i), *payload.Overrides.Filename)
		exists, err := filestore.FileExists(payload.Document.OriginalFile)
		require.NoError(t, err)
		assert.True(t, exists)
	}

	// The split consumed the original input.
	exists, err := filestore.FileExists(pdfPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestConsumeFile_ParserErrorCreatesNoDocument(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.BarcodeConfig.EnableSeparators = false
	cfg.BarcodeConfig.EnableASN = false
	docRepo := &stubDocumentRepository{}
	repos := &repository.Repositories{DocumentRepository: docRepo}
	svc := newTestConsumer(t, cfg, repos, &capturingDispatcher{})

	pdfPath := filepath.Join(cfg.StorageConfig.ConsumeDir, "broken.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4 truncated beyond repair"), 0o644))
	descriptor, err := dto.NewDocumentDescriptor(enum.SourceConsumeFolder, pdfPath)
	require.NoError(t, err)
	require.Equal(t, "application/pdf", descriptor.MimeType)

	documentID, err := svc.ConsumeFile(context.Background(), descriptor, dto.MetadataOverrides{}, "corr-3")
	require.Error(t, err)

	// The parser's own message reaches the caller untouched and nothing was
	// written to the database.
	assert.Contains(t, err.Error(), "broken.pdf is not a valid PDF")
	assert.Empty(t, documentID)
	assert.Zero(t, docRepo.created)
	exists, statErr := filestore.FileExists(pdfPath)
	require.NoError(t, statErr)
	assert.True(t, exists)
}

func TestPrecheck_RejectsUnknownClassification(t *testing.T) {
	cfg := newTestConfig(t)
	repos := &repository.Repositories{
		DocumentRepository:     &stubDocumentRepository{},
		TagRepository:          &stubTagRepository{known: map[string]bool{"tag_known": true}},
		DocumentTypeRepository: &stubDocumentTypeRepository{known: map[string]bool{"dtyp_known": true}},
	}
	svc := newTestConsumer(t, cfg, repos, &capturingDispatcher{})

	path := filepath.Join(cfg.StorageConfig.ConsumeDir, "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	descriptor, err := dto.NewDocumentDescriptor(enum.SourceConsumeFolder, path)
	require.NoError(t, err)

	err = svc.precheck(context.Background(), descriptor, dto.MetadataOverrides{
		TagIDs: []string{"tag_known", "tag_gone"},
	})
	require.ErrorIs(t, err, docerrors.ErrNotFound)

	err = svc.precheck(context.Background(), descriptor, dto.MetadataOverrides{
		DocumentTypeID: utils.Ptr("dtyp_gone"),
	})
	require.ErrorIs(t, err, docerrors.ErrNotFound)

	err = svc.precheck(context.Background(), descriptor, dto.MetadataOverrides{
		TagIDs:         []string{"tag_known"},
		DocumentTypeID: utils.Ptr("dtyp_known"),
	})
	require.NoError(t, err)
}
