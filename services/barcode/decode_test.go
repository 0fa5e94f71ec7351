package barcode

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matrixToPngBytes(t *testing.T, matrix *gozxing.BitMatrix) []byte {
	img := image.NewGray(image.Rect(0, 0, matrix.GetWidth(), matrix.GetHeight()))
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			c := color.Gray{Y: 255}
			if matrix.Get(x, y) {
				c = color.Gray{Y: 0}
			}
			img.SetGray(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pageImage(data []byte, page int) model.Image {
	return model.Image{
		Reader: bytes.NewReader(data),
		PageNr: page,
	}
}

func TestDecodeImage_QRCode(t *testing.T) {
	matrix, err := qrcode.NewQRCodeWriter().Encode("PATCHT", gozxing.BarcodeFormat_QR_CODE, 200, 200, nil)
	require.NoError(t, err)

	decoded, err := decodeImage(pageImage(matrixToPngBytes(t, matrix), 1))
	require.NoError(t, err)
	assert.Equal(t, "PATCHT", decoded)
}

func TestDecodeImage_Code128(t *testing.T) {
	matrix, err := oned.NewCode128Writer().Encode("ASN00123", gozxing.BarcodeFormat_CODE_128, 300, 80, nil)
	require.NoError(t, err)

	decoded, err := decodeImage(pageImage(matrixToPngBytes(t, matrix), 1))
	require.NoError(t, err)
	assert.Equal(t, "ASN00123", decoded)
}

func TestDecodeImage_Code39(t *testing.T) {
	matrix, err := oned.NewCode39Writer().Encode("ASN42", gozxing.BarcodeFormat_CODE_39, 300, 80, nil)
	require.NoError(t, err)

	decoded, err := decodeImage(pageImage(matrixToPngBytes(t, matrix), 1))
	require.NoError(t, err)
	assert.Equal(t, "ASN42", decoded)
}

func TestDecodeImage_NoBarcode(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	decoded, err := decodeImage(pageImage(buf.Bytes(), 1))
	require.NoError(t, err)
	assert.Empty(t, decoded)
}
