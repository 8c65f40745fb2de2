package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/minpark0427/receipt-tracker/internal/imaging"
	"github.com/minpark0427/receipt-tracker/internal/ocr"
)

// maxUploadSize caps multipart uploads. High-resolution phone photos can
// run large before the pipeline compresses them.
const maxUploadSize = int64(50 << 20)

// handleIndex serves the embedded HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleCreateTrip creates a trip with default budget and currency unless
// the caller overrides them
func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string   `json:"name"`
		Budget   *float64 `json:"budget"`
		Currency string   `json:"currency"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	trip, err := s.service.CreateTrip(req.Name, req.Budget, req.Currency)
	if err != nil {
		writeServiceError(w, err, "Failed to create trip")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "trip": trip})
}

// handleListTrips returns all trips newest first
func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := s.service.ListTrips()
	if err != nil {
		writeServiceError(w, err, "Failed to list trips")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "trips": trips})
}

// handleGetTrip returns a single trip
func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.service.GetTrip(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "Failed to get trip")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "trip": trip})
}

// handleUpdateTrip renames a trip or edits its budget/currency
func (s *Server) handleUpdateTrip(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	trip, err := s.service.UpdateTrip(r.PathValue("id"), updates)
	if err != nil {
		writeServiceError(w, err, "Failed to update trip")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "trip": trip})
}

// handleDeleteTrip removes a trip and its receipts (children first)
func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTrip(r.PathValue("id")); err != nil {
		writeServiceError(w, err, "Failed to delete trip")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleListReceipts returns a trip's receipts newest first
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("id")
	if _, err := s.service.GetTrip(tripID); err != nil {
		writeServiceError(w, err, "Failed to get trip")
		return
	}

	receipts, err := s.service.ListReceipts(tripID)
	if err != nil {
		writeServiceError(w, err, "Failed to list receipts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "receipts": receipts})
}

// handleUpload stores a receipt image and inserts its row with all
// extraction fields null
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		message := "Error parsing form"
		if err.Error() == "http: request body too large" {
			message = "File is too large. Maximum size is 50MB."
		}
		writeError(w, http.StatusBadRequest, message)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	tripID := r.FormValue("tripId")
	if tripID == "" {
		writeError(w, http.StatusBadRequest, "No tripId provided")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file")
		return
	}

	receipt, err := s.service.UploadReceipt(tripID, imaging.File{
		Name:        header.Filename,
		ContentType: uploadContentType(header.Filename, header.Header.Get("Content-Type")),
		Data:        data,
	})
	if err != nil {
		var notFound *ErrNotFound
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, notFound.Error())
			return
		}
		slog.Error("Error processing upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"receipt":  receipt,
		"imageUrl": receipt.ImagePath,
		"filePath": receipt.ImagePath,
	})
}

// handleOCR drives the extraction job for an uploaded receipt and patches
// the row with the result
func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiptID string `json:"receiptId"`
		ImageURL  string `json:"imageUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ReceiptID == "" || req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "Missing receiptId or imageUrl")
		return
	}

	// The poll runs to a terminal state even if the uploader navigates
	// away; a dropped connection must not abandon the job mid-flight.
	ctx := context.WithoutCancel(r.Context())

	receipt, result, err := s.service.RunOCR(ctx, req.ReceiptID, req.ImageURL)
	if err != nil {
		if providerErr, ok := ocr.AsError(err); ok {
			writeJSON(w, ocrErrorStatus(providerErr), map[string]any{
				"success": false,
				"error":   providerErr.Message,
				"code":    providerErr.Code,
			})
			return
		}
		writeServiceError(w, err, "Failed to process OCR")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"receipt":   receipt,
		"ocrResult": result,
	})
}

// handleUpdateReceipt applies a manual edit to the allow-listed receipt
// fields
func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receipt, err := s.service.UpdateReceipt(r.PathValue("id"), updates)
	if err != nil {
		writeServiceError(w, err, "Failed to update receipt")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "receipt": receipt})
}

// handleDeleteReceipt deletes a receipt and its stored image
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		writeServiceError(w, err, "Failed to delete receipt")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleImage streams a stored blob by storage path with a long-lived
// cache header
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "Missing path parameter")
		return
	}

	data, contentType, err := s.service.ReceiptImage(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.Write(data)
}

// handleExportCSV streams a trip's receipts as a CSV download
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("id")
	if _, err := s.service.GetTrip(tripID); err != nil {
		writeServiceError(w, err, "Failed to get trip")
		return
	}

	csv, err := s.service.ExportCSV(tripID)
	if err != nil {
		writeServiceError(w, err, "Failed to export CSV")
		return
	}

	name := tripID
	if len(name) > 8 {
		name = name[:8]
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="expenses-%s.csv"`, name))
	w.Write([]byte(csv))
}

// handleExportZIP streams a trip's receipt images as a zip download
func (s *Server) handleExportZIP(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("id")
	trip, err := s.service.GetTrip(tripID)
	if err != nil {
		writeServiceError(w, err, "Failed to get trip")
		return
	}

	archive, err := s.service.ExportZIP(tripID)
	if err != nil {
		writeServiceError(w, err, "Failed to export ZIP")
		return
	}

	name := "receipts.zip"
	if sanitized := sanitizeFilenamePart(trip.Name); sanitized != "" {
		name = sanitized + "_receipts.zip"
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.Write(archive)
}

// handleEvents streams a trip's row changes as server-sent events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("id")
	if _, err := s.service.GetTrip(tripID); err != nil {
		writeServiceError(w, err, "Failed to get trip")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	events, cancel := s.service.Hub().Subscribe(tripID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				slog.Error("Error encoding event", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// uploadContentType fills in a missing declared media type from the file
// extension, preserving HEIC/HEIF types so the pipeline can detect them.
func uploadContentType(filename, declared string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}
