package receipt

import "time"

// Trip is a shared, budget-tracked collection of receipts.
type Trip struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Budget    float64   `json:"budget"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Receipt is one uploaded expense record. The extraction fields stay nil
// until OCR completes or a user edits them manually.
type Receipt struct {
	ID            string    `json:"id"`
	TripID        string    `json:"trip_id"`
	ImagePath     string    `json:"image_url"`
	Date          *string   `json:"date"`
	Time          *string   `json:"time"`
	Location      *string   `json:"location"`
	Cost          *float64  `json:"cost"`
	Currency      *string   `json:"original_currency"`
	OCRConfidence *float64  `json:"ocr_confidence"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Defaults applied when a trip is created without explicit values.
const (
	DefaultBudget   = 1280.0
	DefaultCurrency = "USD"
)
