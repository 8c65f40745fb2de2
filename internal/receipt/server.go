package receipt

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/minpark0427/receipt-tracker/internal/ocr"
)

// Server handles HTTP requests for trips and receipts
type Server struct {
	service *Service
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service) *Server {
	return NewServerWithMux(service, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// registerRoutes registers all API routes on the server's mux.
// Routes must be registered from most specific to least specific to avoid
// conflicts.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/trips/{id}/receipts", s.handleListReceipts)
	s.mux.HandleFunc("GET /api/trips/{id}/export.csv", s.handleExportCSV)
	s.mux.HandleFunc("GET /api/trips/{id}/export.zip", s.handleExportZIP)
	s.mux.HandleFunc("GET /api/trips/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/trips/{id}", s.handleGetTrip)
	s.mux.HandleFunc("PATCH /api/trips/{id}", s.handleUpdateTrip)
	s.mux.HandleFunc("DELETE /api/trips/{id}", s.handleDeleteTrip)
	s.mux.HandleFunc("GET /api/trips", s.handleListTrips)
	s.mux.HandleFunc("POST /api/trips", s.handleCreateTrip)

	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/ocr", s.handleOCR)
	s.mux.HandleFunc("PATCH /api/receipts/{id}", s.handleUpdateReceipt)
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.handleDeleteReceipt)
	s.mux.HandleFunc("GET /api/image", s.handleImage)

	s.mux.HandleFunc("GET /", s.handleIndex)
}

// corsMiddleware adds CORS headers to responses and answers preflight
// requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware turns a handler panic into a structured 500 instead of
// a dropped connection.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Handler panic", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps a service failure onto an HTTP status: missing
// rows are 404, rejected patches 400, everything else 500.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var notFound *ErrNotFound
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.Is(err, ErrNoValidFields):
		writeError(w, http.StatusBadRequest, ErrNoValidFields.Error())
	default:
		slog.Error(fallback, "error", err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// ocrErrorStatus maps a provider error code to an HTTP status. A missing
// credential is a deployment problem, not a caller problem.
func ocrErrorStatus(e *ocr.Error) int {
	if e.Code == ocr.CodeNoAPIKey {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.corsMiddleware(s.recoverMiddleware(s.mux)))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.recoverMiddleware(s.mux)).ServeHTTP(w, r)
}
