package ocr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// ErrUnsupportedFormat is returned for uploads that are neither an image nor a PDF
var ErrUnsupportedFormat = errors.New("unsupported file type")

// minHeight is the page height below which images are upscaled before recognition
const minHeight = 800

// upscaleHeight is the height small images are resized to
const upscaleHeight = 1200

// SupportedTypes lists the MIME types accepted for recognition
var SupportedTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/gif",
	"image/bmp",
	"application/pdf",
	"image/heic",
	"image/heif",
}

// Supported reports whether contentType (or the data itself, for HEIC) can be recognized
func Supported(data []byte, contentType string) bool {
	mimeType := normalizeMimeType(contentType)
	for _, t := range SupportedTypes {
		if mimeType == t {
			return true
		}
	}
	return isHEICFormat(data)
}

// PrepareImage converts an upload to a grayscale PNG suitable for recognition.
// PDFs are rendered from their first page.
func PrepareImage(data []byte, contentType string) ([]byte, error) {
	if !Supported(data, contentType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, contentType)
	}

	img, err := decode(data, normalizeMimeType(contentType))
	if err != nil {
		return nil, err
	}

	img = preprocess(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// decode turns the upload into an image according to its type
func decode(data []byte, mimeType string) (image.Image, error) {
	switch {
	case mimeType == "application/pdf":
		return pdfToImage(data)
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Bills are almost always a single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// preprocess converts to grayscale and upscales short images
func preprocess(img image.Image) image.Image {
	gray := imaging.Grayscale(img)
	if gray.Bounds().Dy() < minHeight {
		return imaging.Resize(gray, 0, upscaleHeight, imaging.Lanczos)
	}
	return gray
}

// isHEICFormat checks the ftyp box for a HEIC/HEIF brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// normalizeMimeType lowercases and strips parameters from a Content-Type value
func normalizeMimeType(contentType string) string {
	mimeType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}
