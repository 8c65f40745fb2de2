package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/minpark0427/receipt-tracker/internal/imaging"
	"github.com/minpark0427/receipt-tracker/internal/ocr"
)

// ErrNoValidFields is returned when a patch contains no allow-listed
// fields.
var ErrNoValidFields = errors.New("no valid fields to update")

// IDGenerator generates unique IDs for trips and receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.New().String()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles trip and receipt operations. One upload is one
// sequential pipeline: pre-process, store bytes, insert row, notify; the
// OCR patch runs as a separate step against the stored row.
type Service struct {
	db          DB
	storage     Storage
	extractor   ocr.Extractor
	hub         *Hub
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time
// source
func NewService(db DB, storage Storage, extractor ocr.Extractor, hub *Hub) *Service {
	return NewServiceWithDeps(db, storage, extractor, hub, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for
// testing
func NewServiceWithDeps(db DB, storage Storage, extractor ocr.Extractor, hub *Hub, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		extractor:   extractor,
		hub:         hub,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Hub exposes the event hub for transport subscriptions.
func (s *Service) Hub() *Hub {
	return s.hub
}

// CreateTrip creates a trip, applying the default budget and currency when
// the caller leaves them unset.
func (s *Service) CreateTrip(name string, budget *float64, currency string) (*Trip, error) {
	now := s.timeSource.Now()
	trip := &Trip{
		ID:        s.idGenerator.Generate(),
		Name:      name,
		Budget:    DefaultBudget,
		Currency:  DefaultCurrency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if budget != nil {
		trip.Budget = *budget
	}
	if currency != "" {
		trip.Currency = currency
	}

	if err := s.db.SaveTrip(trip); err != nil {
		return nil, fmt.Errorf("saving trip: %w", err)
	}
	return trip, nil
}

// GetTrip retrieves a trip by ID
func (s *Service) GetTrip(id string) (*Trip, error) {
	trip, err := s.db.GetTrip(id)
	if err != nil {
		return nil, fmt.Errorf("getting trip: %w", err)
	}
	return trip, nil
}

// ListTrips returns all trips newest first
func (s *Service) ListTrips() ([]*Trip, error) {
	trips, err := s.db.ListTrips()
	if err != nil {
		return nil, fmt.Errorf("listing trips: %w", err)
	}
	return trips, nil
}

// UpdateTrip applies an allow-listed patch (name, budget, currency) to a
// trip.
func (s *Service) UpdateTrip(id string, updates map[string]any) (*Trip, error) {
	trip, err := s.db.GetTrip(id)
	if err != nil {
		return nil, fmt.Errorf("getting trip: %w", err)
	}

	applied := 0
	if v, ok := updates["name"]; ok {
		name, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field name must be a string")
		}
		trip.Name = name
		applied++
	}
	if v, ok := updates["budget"]; ok {
		budget, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("field budget must be a number")
		}
		trip.Budget = budget
		applied++
	}
	if v, ok := updates["currency"]; ok {
		currency, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field currency must be a string")
		}
		trip.Currency = currency
		applied++
	}
	if applied == 0 {
		return nil, ErrNoValidFields
	}

	trip.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveTrip(trip); err != nil {
		return nil, fmt.Errorf("saving trip: %w", err)
	}
	return trip, nil
}

// DeleteTrip removes a trip and everything under it. The store enforces no
// foreign-key cascade, so receipts are deleted before the parent row to
// avoid orphans.
func (s *Service) DeleteTrip(id string) error {
	if _, err := s.db.GetTrip(id); err != nil {
		return fmt.Errorf("getting trip: %w", err)
	}

	receipts, err := s.db.ListReceipts(id)
	if err != nil {
		return fmt.Errorf("listing receipts: %w", err)
	}
	for _, r := range receipts {
		if err := s.storage.Delete(r.ImagePath); err != nil {
			slog.Warn("Failed to delete image", "path", r.ImagePath, "error", err)
		}
		if err := s.db.DeleteReceipt(r.ID); err != nil {
			return fmt.Errorf("deleting receipt %s: %w", r.ID, err)
		}
		s.hub.Publish(id, Event{Type: EventDelete, Receipt: r})
	}

	if err := s.db.DeleteTrip(id); err != nil {
		return fmt.Errorf("deleting trip: %w", err)
	}
	return nil
}

// uploadNameUnsafe matches characters replaced in stored object names.
var uploadNameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// UploadReceipt runs the pre-processing pipeline, stores the image under
// the trip's path, and inserts a receipt row with all extraction fields
// null. Pre-processing failure is fatal to the upload attempt.
func (s *Service) UploadReceipt(tripID string, file imaging.File) (*Receipt, error) {
	if _, err := s.db.GetTrip(tripID); err != nil {
		return nil, fmt.Errorf("getting trip: %w", err)
	}

	processed, err := imaging.Process(file, func(status string) {
		slog.Info("Pre-processing upload", "filename", file.Name, "status", status)
	})
	if err != nil {
		return nil, fmt.Errorf("pre-processing image: %w", err)
	}

	now := s.timeSource.Now()
	objectName := fmt.Sprintf("%d-%s", now.UnixMilli(), uploadNameUnsafe.ReplaceAllString(processed.Name, "_"))
	storagePath, err := s.storage.Save(tripID+"/"+objectName, processed.Data)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	receipt := &Receipt{
		ID:        s.idGenerator.Generate(),
		TripID:    tripID,
		ImagePath: storagePath,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.SaveReceipt(receipt); err != nil {
		// Best-effort compensation for the already-stored object.
		if derr := s.storage.Delete(storagePath); derr != nil {
			slog.Warn("Failed to delete image after insert failure", "path", storagePath, "error", derr)
		}
		return nil, fmt.Errorf("saving receipt: %w", err)
	}

	s.hub.Publish(tripID, Event{Type: EventInsert, Receipt: receipt})
	return receipt, nil
}

// RunOCR drives the extractor to a terminal state and patches the receipt
// with the extracted fields. Provider failures are returned untouched so
// the caller can map their codes; the row keeps its null fields and stays
// editable by hand.
func (s *Service) RunOCR(ctx context.Context, receiptID, imageURL string) (*Receipt, *ocr.Result, error) {
	receipt, err := s.db.GetReceipt(receiptID)
	if err != nil {
		return nil, nil, fmt.Errorf("getting receipt: %w", err)
	}

	result, err := s.extractor.Extract(ctx, imageURL)
	if err != nil {
		return nil, nil, err
	}

	receipt.Location = result.Establishment
	receipt.Date = result.Date
	receipt.Time = result.Time
	receipt.Cost = result.Total
	receipt.Currency = result.Currency
	confidence := result.Confidence.Overall
	receipt.OCRConfidence = &confidence
	receipt.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, nil, fmt.Errorf("saving receipt: %w", err)
	}

	s.hub.Publish(receipt.TripID, Event{Type: EventUpdate, Receipt: receipt})
	return receipt, result, nil
}

// receiptPatchFields is the allow-listed subset of receipt fields a manual
// edit may touch.
var receiptPatchFields = []string{"date", "time", "location", "cost", "original_currency"}

// UpdateReceipt applies an allow-listed patch to a receipt. Unknown fields
// are ignored; a patch with nothing left is a validation error.
func (s *Service) UpdateReceipt(id string, updates map[string]any) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	applied := 0
	for _, field := range receiptPatchFields {
		value, ok := updates[field]
		if !ok {
			continue
		}
		if err := applyReceiptField(receipt, field, value); err != nil {
			return nil, err
		}
		applied++
	}
	if applied == 0 {
		return nil, ErrNoValidFields
	}

	receipt.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt: %w", err)
	}

	s.hub.Publish(receipt.TripID, Event{Type: EventUpdate, Receipt: receipt})
	return receipt, nil
}

func applyReceiptField(receipt *Receipt, field string, value any) error {
	if field == "cost" {
		switch v := value.(type) {
		case nil:
			receipt.Cost = nil
		case float64:
			receipt.Cost = &v
		default:
			return fmt.Errorf("field cost must be a number or null")
		}
		return nil
	}

	var target **string
	switch field {
	case "date":
		target = &receipt.Date
	case "time":
		target = &receipt.Time
	case "location":
		target = &receipt.Location
	case "original_currency":
		target = &receipt.Currency
	}
	switch v := value.(type) {
	case nil:
		*target = nil
	case string:
		*target = &v
	default:
		return fmt.Errorf("field %s must be a string or null", field)
	}
	return nil
}

// ListReceipts returns a trip's receipts newest first
func (s *Service) ListReceipts(tripID string) ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts(tripID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt row and its stored image
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.storage.Delete(receipt.ImagePath); err != nil {
		slog.Warn("Failed to delete image", "path", receipt.ImagePath, "error", err)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}

	s.hub.Publish(receipt.TripID, Event{Type: EventDelete, Receipt: receipt})
	return nil
}

// ReceiptImage streams a stored blob by its storage path, decoupling
// clients from storage-specific URL formats.
func (s *Service) ReceiptImage(storagePath string) ([]byte, string, error) {
	data, err := s.storage.Get(ExtractStoragePath(storagePath))
	if err != nil {
		return nil, "", fmt.Errorf("getting image: %w", err)
	}
	return data, contentTypeForPath(storagePath), nil
}

// ExportCSV renders a trip's receipts as CSV
func (s *Service) ExportCSV(tripID string) (string, error) {
	receipts, err := s.db.ListReceipts(tripID)
	if err != nil {
		return "", fmt.Errorf("listing receipts: %w", err)
	}
	return GenerateCSV(receipts), nil
}

// ExportZIP bundles a trip's receipt images into a zip archive
func (s *Service) ExportZIP(tripID string) ([]byte, error) {
	receipts, err := s.db.ListReceipts(tripID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return GenerateZIP(receipts, s.storage)
}

func contentTypeForPath(p string) string {
	switch strings.ToLower(path.Ext(ExtractStoragePath(p))) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".pdf":
		return "application/pdf"
	default:
		return "image/jpeg"
	}
}
