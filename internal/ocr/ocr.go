package ocr

import (
	"context"
	"errors"
	"fmt"
)

// Confidence carries the provider's per-field certainty scores plus the
// overall mean of the three extraction fields.
type Confidence struct {
	Establishment float64 `json:"establishment"`
	Date          float64 `json:"date"`
	Total         float64 `json:"total"`
	Overall       float64 `json:"overall"`
}

// Result is a completed extraction. Fields the provider could not read are
// nil.
type Result struct {
	Establishment *string    `json:"establishment"`
	Date          *string    `json:"date"`
	Time          *string    `json:"time"`
	Total         *float64   `json:"total"`
	Currency      *string    `json:"currency"`
	Confidence    Confidence `json:"confidence"`
}

// Error codes for terminal extraction failures.
const (
	CodeNoAPIKey         = "NO_API_KEY"
	CodeImageFetchFailed = "IMAGE_FETCH_FAILED"
	CodeRateLimit        = "RATE_LIMIT"
	CodeProcessFailed    = "PROCESS_FAILED"
	CodeNoToken          = "NO_TOKEN"
	CodeResultFailed     = "RESULT_FAILED"
	CodeOCRFailed        = "OCR_FAILED"
	CodeTimeout          = "TIMEOUT"
	CodeNetworkError     = "NETWORK_ERROR"
)

// Error is a terminal extraction failure. Every failure mode of an
// extractor is one of these values; nothing panics past the package
// boundary.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsError unwraps an extraction failure into its typed form.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Extractor drives a receipt image to structured fields.
type Extractor interface {
	// Extract fetches the image at the given URL and returns extracted
	// fields, or an *Error describing the terminal failure
	Extract(ctx context.Context, imageURL string) (*Result, error)
	// Close releases provider resources
	Close() error
}

// overall computes the unweighted mean of the three per-field confidences.
// A score the provider omitted counts as zero, lowering the mean rather
// than being excluded.
func overall(establishment, date, total float64) float64 {
	return (establishment + date + total) / 3
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
