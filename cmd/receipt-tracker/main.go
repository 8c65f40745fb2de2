package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/minpark0427/receipt-tracker/internal/ocr"
	"github.com/minpark0427/receipt-tracker/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("receipt-tracker")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "receipt-tracker.db", "Database file path")
		storagePath = fs.StringLong("storage", "./receipt-images", "Image storage directory path")
		ocrProvider = fs.StringLong("ocr-provider", "tabscanner", "OCR provider: 'tabscanner' or 'gemini'")
		ocrKey      = fs.StringLong("ocr-key", "", "OCR provider API key (or set RECEIPT_TRACKER_OCR_KEY)")
		ocrURL      = fs.StringLong("ocr-url", ocr.DefaultBaseURL, "Polling OCR provider base URL")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Gemini model name (gemini provider only)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	var extractor ocr.Extractor
	switch *ocrProvider {
	case "tabscanner":
		// A missing key is reported per-request so the rest of the app
		// keeps working without OCR.
		if *ocrKey == "" {
			slog.Warn("No OCR API key configured; extraction requests will fail until one is set")
		}
		slog.Info("Initializing polling OCR client...", "url", *ocrURL)
		extractor = ocr.NewClient(*ocrURL, *ocrKey)
	case "gemini":
		if *ocrKey == "" {
			slog.Error("Gemini requires an API key. Set --ocr-key or RECEIPT_TRACKER_OCR_KEY")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		extractor, err = ocr.NewGemini(*ocrKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid OCR provider", "provider", *ocrProvider, "valid", "tabscanner or gemini")
		os.Exit(1)
	}
	defer extractor.Close()

	service := receipt.NewService(db, store, extractor, receipt.NewHub())
	server := receipt.NewServer(service)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
