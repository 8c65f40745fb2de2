// Package imaging transforms user-selected images into upload-ready JPEGs
// under a fixed size ceiling before any byte reaches storage.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"
)

const (
	// MaxFileSize is the upload size ceiling in bytes.
	MaxFileSize = 2 << 20

	// MaxDimension is the longest allowed linear dimension after
	// compression.
	MaxDimension = 2048

	// convertQuality is the JPEG quality factor for format conversion.
	convertQuality = 90
)

// File is an in-memory image with its declared name and media type.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ProgressFunc receives human-readable status strings for UI feedback.
type ProgressFunc func(status string)

// IsCameraNative reports whether the file is in a camera-native format
// browsers cannot display (HEIC/HEIF), matched case-insensitively on the
// extension or the declared media type.
func IsCameraNative(name, contentType string) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".heic") || strings.HasSuffix(lower, ".heif") {
		return true
	}
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	return mediaType == "image/heic" || mediaType == "image/heif"
}

// isPDF reports whether the file is a PDF document.
func isPDF(name, contentType string) bool {
	if strings.EqualFold(strings.TrimSpace(contentType), "application/pdf") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}

// sniffHEIC checks the ftyp box for a HEIC/HEIF brand. Phones sometimes
// upload HEIC bytes under a generic media type.
func sniffHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// Process runs the two-step pre-processing pipeline: format normalization
// (HEIC or PDF to JPEG) followed by size compression when the result
// exceeds the ceiling. Files already within budget and not camera-native
// pass through unchanged. Conversion errors propagate; the caller must
// treat them as fatal to the upload attempt.
func Process(file File, progress ProgressFunc) (File, error) {
	if progress == nil {
		progress = func(string) {}
	}

	switch {
	case isPDF(file.Name, file.ContentType):
		progress("Converting PDF to JPG...")
		converted, err := convertPDF(file)
		if err != nil {
			return File{}, err
		}
		file = converted
	case IsCameraNative(file.Name, file.ContentType) || sniffHEIC(file.Data):
		progress("Converting HEIC to JPG...")
		converted, err := convertHEIC(file)
		if err != nil {
			return File{}, err
		}
		file = converted
	}

	if len(file.Data) > MaxFileSize {
		progress("Compressing image...")
		compressed, err := compress(file)
		if err != nil {
			return File{}, err
		}
		file = compressed
	}

	return file, nil
}

// convertHEIC decodes a HEIC/HEIF image and re-encodes it as JPEG at the
// fixed conversion quality, renaming the file accordingly.
func convertHEIC(file File) (File, error) {
	img, err := heic.Decode(bytes.NewReader(file.Data))
	if err != nil {
		return File{}, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	return encodeJPEG(img, file.Name, convertQuality)
}

// convertPDF renders the first page of a PDF to JPEG. Most receipts are
// single page.
func convertPDF(file File) (File, error) {
	doc, err := fitz.NewFromMemory(file.Data)
	if err != nil {
		return File{}, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return File{}, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodeJPEG(img, file.Name, convertQuality)
}

// compress re-encodes an oversized image as JPEG, downscaling so the
// longest side is at most MaxDimension and walking the quality factor down
// until the size ceiling is met. Best effort: if no quality converges the
// smallest attempt wins.
func compress(file File) (File, error) {
	img, _, err := image.Decode(bytes.NewReader(file.Data))
	if err != nil {
		if sniffHEIC(file.Data) {
			img, err = heic.Decode(bytes.NewReader(file.Data))
		}
		if err != nil {
			return File{}, fmt.Errorf("decoding image: %w", err)
		}
	}

	img = downscale(img, MaxDimension)

	var best File
	for quality := convertQuality; quality >= 10; quality -= 10 {
		attempt, err := encodeJPEG(img, file.Name, quality)
		if err != nil {
			return File{}, err
		}
		if best.Data == nil || len(attempt.Data) < len(best.Data) {
			best = attempt
		}
		if len(attempt.Data) <= MaxFileSize {
			return attempt, nil
		}
	}
	return best, nil
}

// downscale resizes an image so its longest side is at most maxDim,
// preserving aspect ratio. Images already within bounds are returned as-is.
func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	var dw, dh int
	if w >= h {
		dw = maxDim
		dh = h * maxDim / w
	} else {
		dh = maxDim
		dw = w * maxDim / h
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// encodeJPEG encodes an image as JPEG and rewrites the filename extension
// to .jpg.
func encodeJPEG(img image.Image, name string, quality int) (File, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return File{}, fmt.Errorf("encoding JPEG: %w", err)
	}
	return File{
		Name:        renameToJPG(name),
		ContentType: "image/jpeg",
		Data:        buf.Bytes(),
	}, nil
}

// renameToJPG replaces the filename extension with .jpg.
func renameToJPG(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	return name + ".jpg"
}
