package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiExtractPrompt asks the vision model for the same fields the polling
// provider returns, confidences included, as bare JSON.
const geminiExtractPrompt = `You are analyzing a photo of a purchase receipt. Carefully read all text in the image and extract:

1. **establishment**: the merchant, store, or business name, usually the largest text at the top.
2. **date**: the transaction date in YYYY-MM-DD format.
3. **time**: the transaction time in HH:MM format if printed, otherwise null.
4. **total**: the final total or amount due as a number (e.g. 42.75).
5. **currency**: the three-letter currency code (e.g. "USD", "EUR"), inferred from symbols if needed.
6. **confidence**: your certainty for establishment, date, and total, each between 0 and 1.

Return ONLY valid JSON in this exact format:
{
  "establishment": "Store Name",
  "date": "YYYY-MM-DD",
  "time": "HH:MM",
  "total": 0.00,
  "currency": "USD",
  "confidence": {"establishment": 0.0, "date": 0.0, "total": 0.0}
}

Important:
- Use null for any field you cannot find
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// Gemini implements Extractor using the Gemini vision API. It is an
// alternative to the polling Client for deployments without a provider
// subscription.
type Gemini struct {
	client     *genai.Client
	model      *genai.GenerativeModel
	httpClient *http.Client
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:     client,
		model:      client.GenerativeModel(modelName),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// geminiReply mirrors the JSON shape the prompt requests.
type geminiReply struct {
	Establishment string     `json:"establishment"`
	Date          string     `json:"date"`
	Time          string     `json:"time"`
	Total         flexNumber `json:"total"`
	Currency      string     `json:"currency"`
	Confidence    struct {
		Establishment float64 `json:"establishment"`
		Date          float64 `json:"date"`
		Total         float64 `json:"total"`
	} `json:"confidence"`
}

// Extract fetches the image and asks the vision model for structured
// fields. Failures map onto the same typed errors the polling client
// returns.
func (g *Gemini) Extract(ctx context.Context, imageURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, networkError(err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Code:    CodeImageFetchFailed,
			Message: fmt.Sprintf("Failed to fetch image: %d", resp.StatusCode),
		}
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(err)
	}

	// genai.ImageData expects just the format suffix, not the full MIME
	// type.
	format := "jpeg"
	if http.DetectContentType(imageData) == "image/png" {
		format = "png"
	}

	genResp, err := g.model.GenerateContent(ctx,
		genai.ImageData(format, imageData),
		genai.Text(geminiExtractPrompt),
	)
	if err != nil {
		return nil, &Error{Code: CodeProcessFailed, Message: err.Error()}
	}

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return nil, &Error{Code: CodeProcessFailed, Message: "no response from gemini"}
	}

	var responseText strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	reply, err := parseGeminiJSON(responseText.String())
	if err != nil {
		return nil, &Error{Code: CodeProcessFailed, Message: err.Error()}
	}

	return &Result{
		Establishment: strPtr(reply.Establishment),
		Date:          strPtr(reply.Date),
		Time:          strPtr(reply.Time),
		Total:         reply.Total.value,
		Currency:      strPtr(reply.Currency),
		Confidence: Confidence{
			Establishment: reply.Confidence.Establishment,
			Date:          reply.Confidence.Date,
			Total:         reply.Confidence.Total,
			Overall:       overall(reply.Confidence.Establishment, reply.Confidence.Date, reply.Confidence.Total),
		},
	}, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// parseGeminiJSON extracts the JSON object from a model reply, tolerating
// markdown code fences and surrounding prose.
func parseGeminiJSON(text string) (*geminiReply, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var reply geminiReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	return &reply, nil
}
