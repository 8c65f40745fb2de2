package receipt

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"
)

var filenameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9\s\-_.]`)
var filenameSpaces = regexp.MustCompile(`\s+`)

// sanitizeFilenamePart strips characters that are unsafe in a download
// filename and collapses whitespace to underscores.
func sanitizeFilenamePart(s string) string {
	s = filenameUnsafe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = filenameSpaces.ReplaceAllString(s, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// imageFilename builds a download name of the form
// {location}_{date}.{ext} from receipt metadata.
func imageFilename(r *Receipt) string {
	location := "Unknown"
	if r.Location != nil && sanitizeFilenamePart(*r.Location) != "" {
		location = sanitizeFilenamePart(*r.Location)
	}
	date := "no-date"
	if r.Date != nil && *r.Date != "" {
		date = *r.Date
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(r.ImagePath)), ".")
	switch ext {
	case "jpeg":
		ext = "jpg"
	case "jpg", "png", "webp", "gif", "heic":
	default:
		ext = "jpg"
	}
	return fmt.Sprintf("%s_%s.%s", location, date, ext)
}

// GenerateZIP bundles the stored images of the given receipts into a zip
// archive under a receipts/ folder. Missing blobs are skipped so one lost
// file does not sink the whole export.
func GenerateZIP(receipts []*Receipt, storage Storage) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	seen := make(map[string]int)
	for _, r := range receipts {
		data, err := storage.Get(r.ImagePath)
		if err != nil {
			continue
		}

		name := imageFilename(r)
		if n := seen[name]; n > 0 {
			ext := path.Ext(name)
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n+1, ext)
		}
		seen[imageFilename(r)]++

		w, err := zw.Create("receipts/" + name)
		if err != nil {
			zw.Close()
			return nil, fmt.Errorf("creating zip entry: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("writing zip entry: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing zip: %w", err)
	}
	return buf.Bytes(), nil
}
