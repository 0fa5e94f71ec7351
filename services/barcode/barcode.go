package barcode

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/opentracing/opentracing-go"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pkg/errors"
	_ "golang.org/x/image/tiff"

	"github.com/docstack/docstack/config"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/tracing"
)

const (
	MimePdf  = "application/pdf"
	MimeTiff = "image/tiff"
)

// PageBarcode is one decoded code value, tied to its 1-based page number.
type PageBarcode struct {
	Page  int
	Value string
}

// Inspection is the outcome of scanning a document for barcodes.
// WorkingPDF is the PDF the page numbers refer to, which is a converted
// copy when the input was a TIFF.
type Inspection struct {
	WorkingPDF string
	PageCount  int
	Barcodes   []PageBarcode
}

type Service struct {
	cfg config.BarcodeConfig
	log logger.Logger
}

func NewService(cfg config.BarcodeConfig, log logger.Logger) *Service {
	return &Service{
		cfg: cfg,
		log: log,
	}
}

// Supports reports whether barcode inspection applies to this mime type.
func (s *Service) Supports(mimeType string) bool {
	switch mimeType {
	case MimePdf:
		return true
	case MimeTiff:
		return s.cfg.TiffSupport
	default:
		return false
	}
}

// Inspect scans every page of the document for barcodes. TIFF inputs are
// first converted to a PDF under scratchDir so page numbers always refer to
// PDF pages.
func (s *Service) Inspect(ctx context.Context, sourcePath, mimeType, scratchDir string) (*Inspection, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "BarcodeService.Inspect")
	defer span.Finish()
	span.SetTag("mimeType", mimeType)

	workingPDF := sourcePath
	if mimeType == MimeTiff {
		converted := filepath.Join(scratchDir, "converted.pdf")
		if err := api.ImportImagesFile([]string{sourcePath}, converted, nil, nil); err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrap(err, "failed to convert tiff to pdf")
		}
		workingPDF = converted
	}

	pageCount, err := api.PageCountFile(workingPDF)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to read page count")
	}

	inspection := &Inspection{
		WorkingPDF: workingPDF,
		PageCount:  pageCount,
	}

	seen := make(map[int]bool)
	digest := func(img model.Image, singleImgPerPage bool, maxPageDigits int) error {
		// One decoded value per page is enough for both separator and
		// serial-number detection.
		if seen[img.PageNr] {
			return nil
		}
		decoded, err := decodeImage(img)
		if err != nil {
			return nil
		}
		if decoded != "" {
			seen[img.PageNr] = true
			inspection.Barcodes = append(inspection.Barcodes, PageBarcode{
				Page:  img.PageNr,
				Value: decoded,
			})
		}
		return nil
	}

	f, err := os.Open(workingPDF)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	defer f.Close()

	if err := api.ExtractImages(f, nil, digest, nil); err != nil {
		// A PDF without extractable images has no barcodes; that is not a
		// failure of the document.
		s.log.Warnf("barcode image extraction failed for %s: %v", sourcePath, err)
	}

	sort.Slice(inspection.Barcodes, func(i, j int) bool {
		return inspection.Barcodes[i].Page < inspection.Barcodes[j].Page
	})
	span.LogKV("pageCount", pageCount, "barcodes", len(inspection.Barcodes))
	return inspection, nil
}

// SeparatorPages returns the 1-based pages whose decoded value equals the
// configured separator sentinel exactly.
func (s *Service) SeparatorPages(inspection *Inspection) []int {
	var pages []int
	for _, code := range inspection.Barcodes {
		if code.Value == s.cfg.SeparatorString {
			pages = append(pages, code.Page)
		}
	}
	return pages
}

// ASN returns the archive serial number carried by the first barcode, in
// page order, whose value starts with the configured prefix. A matching
// value that does not parse as an integer is reported and ignored.
func (s *Service) ASN(inspection *Inspection) *int64 {
	for _, code := range inspection.Barcodes {
		if !strings.HasPrefix(code.Value, s.cfg.ASNPrefix) {
			continue
		}
		raw := code.Value[len(s.cfg.ASNPrefix):]
		asn, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.log.Warnf("barcode %q matches serial-number prefix but is not numeric", code.Value)
			return nil
		}
		return &asn
	}
	return nil
}

// decodeImage tries a QR read first, then the linear formats.
func decodeImage(r model.Image) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", err
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	readers := []gozxing.Reader{
		qrcode.NewQRCodeReader(),
		oned.NewMultiFormatUPCEANReader(hints),
		oned.NewCode128Reader(),
		oned.NewCode39Reader(),
	}
	for _, reader := range readers {
		if result, err := reader.Decode(bmp, hints); err == nil {
			return result.GetText(), nil
		}
	}
	return "", nil
}
