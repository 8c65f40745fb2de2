package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the provider's API root.
	DefaultBaseURL = "https://api.tabscanner.com"

	initialDelay = 5 * time.Second
	pollInterval = 1 * time.Second
	maxAttempts  = 30
)

// SleepFunc waits for the given duration or until the context is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client implements Extractor against the provider's asynchronous job API:
// submit an image, wait a fixed grace period, then poll the result endpoint
// until a terminal state or the attempt budget runs out.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	sleep      SleepFunc
}

// NewClient creates a polling extraction client. An empty baseURL selects
// the provider default. A missing API key is reported at Extract time, not
// here, so an unconfigured server still starts.
func NewClient(baseURL, apiKey string) *Client {
	return NewClientWithDeps(baseURL, apiKey, &http.Client{Timeout: 30 * time.Second}, defaultSleep)
}

// NewClientWithDeps creates a Client with custom dependencies for testing.
func NewClientWithDeps(baseURL, apiKey string, httpClient *http.Client, sleep SleepFunc) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		sleep:      sleep,
	}
}

// processResponse is the body of the job submission endpoint.
type processResponse struct {
	Status  string `json:"status"`
	Token   string `json:"token"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// resultResponse is the body of the job result endpoint.
type resultResponse struct {
	Status string       `json:"status"`
	Result resultFields `json:"result"`
}

type resultFields struct {
	Establishment           string     `json:"establishment"`
	Date                    string     `json:"date"`
	Time                    string     `json:"time"`
	Total                   flexNumber `json:"total"`
	Currency                string     `json:"currency"`
	EstablishmentConfidence float64    `json:"establishmentConfidence"`
	DateConfidence          float64    `json:"dateConfidence"`
	TotalConfidence         float64    `json:"totalConfidence"`
}

// flexNumber accepts a JSON number or a numeric string; anything else
// leaves the value nil.
type flexNumber struct {
	value *float64
}

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.value = &v
	return nil
}

// Extract submits the image at imageURL and polls the job to completion.
// Every terminal condition is a returned *Error; unexpected failures (DNS,
// malformed JSON, cancellation) downgrade to NETWORK_ERROR.
func (c *Client) Extract(ctx context.Context, imageURL string) (*Result, error) {
	if c.apiKey == "" {
		return nil, &Error{Code: CodeNoAPIKey, Message: "OCR API key not configured"}
	}

	imageData, err := c.fetchImage(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	token, err := c.submit(ctx, imageData)
	if err != nil {
		return nil, err
	}

	if err := c.sleep(ctx, initialDelay); err != nil {
		return nil, networkError(err)
	}

	return c.poll(ctx, token)
}

// Close closes the client (no-op for the HTTP client).
func (c *Client) Close() error {
	return nil
}

func (c *Client) fetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, networkError(err)
	}
	resp, err := c.httpClient.Do(req)
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

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(err)
	}
	return data, nil
}

func (c *Client) submit(ctx context.Context, imageData []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "receipt.jpg")
	if err != nil {
		return "", networkError(err)
	}
	if _, err := fw.Write(imageData); err != nil {
		return "", networkError(err)
	}
	if err := mw.Close(); err != nil {
		return "", networkError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/2/process", &body)
	if err != nil {
		return "", networkError(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", networkError(err)
	}
	defer resp.Body.Close()

	var processData processResponse
	if err := json.NewDecoder(resp.Body).Decode(&processData); err != nil {
		return "", networkError(err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok || processData.Status == "failed" {
		if resp.StatusCode == http.StatusUnauthorized || processData.Code == 401 {
			return "", &Error{Code: CodeRateLimit, Message: "OCR provider rate limit exceeded"}
		}
		message := processData.Message
		if message == "" {
			message = fmt.Sprintf("Process request failed: %d", resp.StatusCode)
		}
		return "", &Error{Code: CodeProcessFailed, Message: message}
	}

	if processData.Token == "" {
		return "", &Error{Code: CodeNoToken, Message: "No processing token received"}
	}
	return processData.Token, nil
}

func (c *Client) poll(ctx context.Context, token string) (*Result, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/result/"+token, nil)
		if err != nil {
			return nil, networkError(err)
		}
		req.Header.Set("apikey", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, networkError(err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, &Error{
				Code:    CodeResultFailed,
				Message: fmt.Sprintf("Result request failed: %d", resp.StatusCode),
			}
		}

		var resultData resultResponse
		err = json.NewDecoder(resp.Body).Decode(&resultData)
		resp.Body.Close()
		if err != nil {
			return nil, networkError(err)
		}

		switch resultData.Status {
		case "done":
			return shapeResult(resultData.Result), nil
		case "failed":
			return nil, &Error{Code: CodeOCRFailed, Message: "OCR processing failed"}
		}

		if err := c.sleep(ctx, pollInterval); err != nil {
			return nil, networkError(err)
		}
	}

	return nil, &Error{Code: CodeTimeout, Message: "OCR processing timed out"}
}

// shapeResult maps provider fields to the stored shape. The provider's
// free-text date splits on the first space into date and time components;
// the time component falls back to the provider's separate time field.
func shapeResult(fields resultFields) *Result {
	var dateOnly, timeOnly string
	if fields.Date != "" {
		parts := strings.SplitN(fields.Date, " ", 2)
		dateOnly = parts[0]
		if len(parts) > 1 {
			timeOnly = parts[1]
		}
	}
	if timeOnly == "" {
		timeOnly = fields.Time
	}

	return &Result{
		Establishment: strPtr(fields.Establishment),
		Date:          strPtr(dateOnly),
		Time:          strPtr(timeOnly),
		Total:         fields.Total.value,
		Currency:      strPtr(fields.Currency),
		Confidence: Confidence{
			Establishment: fields.EstablishmentConfidence,
			Date:          fields.DateConfidence,
			Total:         fields.TotalConfidence,
			Overall:       overall(fields.EstablishmentConfidence, fields.DateConfidence, fields.TotalConfidence),
		},
	}
}

func networkError(err error) *Error {
	message := "Network error occurred"
	if err != nil {
		message = err.Error()
	}
	return &Error{Code: CodeNetworkError, Message: message}
}
