package barcode

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docstack/docstack/config"
	"github.com/docstack/docstack/internal/logger"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(config.BarcodeConfig{
		EnableSeparators: true,
		SeparatorString:  "PATCHT",
		EnableASN:        true,
		ASNPrefix:        "ASN",
	}, getLogger())
}

func TestSupports(t *testing.T) {
	s := newService(t)

	assert.True(t, s.Supports("application/pdf"))
	assert.False(t, s.Supports("image/tiff"))
	assert.False(t, s.Supports("text/plain"))

	s.cfg.TiffSupport = true
	assert.True(t, s.Supports("image/tiff"))
}

func TestSeparatorPages(t *testing.T) {
	s := newService(t)
	inspection := &Inspection{
		PageCount: 6,
		Barcodes: []PageBarcode{
			{Page: 1, Value: "something else"},
			{Page: 2, Value: "PATCHT"},
			{Page: 4, Value: "PATCHT"},
			{Page: 5, Value: "PATCHT extra"},
		},
	}

	pages := s.SeparatorPages(inspection)

	// Only exact matches count; "PATCHT extra" on page 5 is not a separator.
	assert.Equal(t, []int{2, 4}, pages)
}

func TestSeparatorPages_NoBarcodes(t *testing.T) {
	s := newService(t)

	assert.Empty(t, s.SeparatorPages(&Inspection{PageCount: 3}))
}

func TestASN(t *testing.T) {
	s := newService(t)
	inspection := &Inspection{
		Barcodes: []PageBarcode{
			{Page: 1, Value: "PATCHT"},
			{Page: 2, Value: "ASN00123"},
			{Page: 3, Value: "ASN00999"},
		},
	}

	asn := s.ASN(inspection)

	// The first prefixed code in page order wins.
	assert.NotNil(t, asn)
	assert.Equal(t, int64(123), *asn)
}

func TestASN_NonNumeric(t *testing.T) {
	s := newService(t)
	inspection := &Inspection{
		Barcodes: []PageBarcode{
			{Page: 1, Value: "ASNXYZ"},
		},
	}

	assert.Nil(t, s.ASN(inspection))
}

func TestASN_NoMatch(t *testing.T) {
	s := newService(t)
	inspection := &Inspection{
		Barcodes: []PageBarcode{
			{Page: 1, Value: "PATCHT"},
			{Page: 2, Value: "unrelated"},
		},
	}

	assert.Nil(t, s.ASN(inspection))
}
