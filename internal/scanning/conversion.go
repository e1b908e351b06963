package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// detectMIMEType normalizes the declared content type and sniffs the data
// when the browser sent nothing useful
func detectMIMEType(data []byte, contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if isHEICFormat(data) {
		return "image/heic"
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = mimeType[:i]
		}
	}
	return mimeType
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// pdfToPNG renders the first page of a PDF; receipts are almost always single page
func pdfToPNG(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodePNG(img)
}

func decodeImage(data []byte, mimeType string) (image.Image, error) {
	if mimeType == "image/heic" || mimeType == "image/heif" {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if err == image.ErrFormat {
			return nil, fmt.Errorf("unsupported image format %q. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF", mimeType)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// prepareImageData converts any supported upload into PNG bytes for the
// analysis backends. PNG input is passed through untouched.
func prepareImageData(imageData []byte, contentType string) ([]byte, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	mimeType := detectMIMEType(imageData, contentType)
	switch mimeType {
	case "image/png":
		return imageData, nil
	case "application/pdf":
		pngData, err := pdfToPNG(imageData)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, nil
	}

	img, err := decodeImage(imageData, mimeType)
	if err != nil {
		return nil, fmt.Errorf("converting image to PNG: %w", err)
	}
	return encodePNG(img)
}
