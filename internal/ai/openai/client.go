package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultTimeout = 60 * time.Second

// Client is a client for an OpenAI-compatible API.
type Client struct {
	apiKey  string
	baseURL string
	// httpClient serves single-shot calls (upload, delete, STT, TTS).
	// streamClient has no timeout: a completion stream may legitimately
	// outlive any fixed deadline and is ended by cancellation instead.
	httpClient   *http.Client
	streamClient *http.Client
	logger       *logrus.Logger
}

// APIError represents an error returned by the provider.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: status %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new provider client.
func NewClient(apiKey, baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: defaultTimeout},
		streamClient: &http.Client{},
		logger:       logger,
	}
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// readAPIError translates a non-2xx response into an *APIError. The
// provider's JSON error envelope is preferred; the raw body is the
// fallback when the envelope does not parse.
func readAPIError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("openai: status %d: %w", resp.StatusCode, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Type:       envelope.Error.Type,
			Message:    envelope.Error.Message,
		}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
}
