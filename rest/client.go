// Package rest is the SDK's thin REST client. Paths are relative to the
// service base URL; bodies go out and come back as JSON.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTimeout = 15 * time.Second

// APIError is a failure reported by the service itself: the request made it
// over the wire but was rejected. TraceID ties the failure back to server
// logs.
type APIError struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	TraceID     string `json:"trace_id,omitempty"`
	StatusCode  int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("%s: %s (trace %s)", e.Type, e.Description, e.TraceID)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Description)
}

// Client issues JSON requests against the service REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zerolog.Logger
}

// New builds a REST client for the given base URL and bearer token.
func New(baseURL, token string, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     logger,
	}
}

// Do performs one request. A non-2xx response is decoded into *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body any) (jsoniter.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr := json.Unmarshal(payload, apiErr); decodeErr != nil || apiErr.Type == "" {
			apiErr.Type = "error:unknown"
			apiErr.Description = http.StatusText(resp.StatusCode)
		}
		if apiErr.TraceID == "" {
			apiErr.TraceID = resp.Header.Get("X-Trace-Id")
		}
		c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Str("trace_id", apiErr.TraceID).Msg("api error")
		return nil, apiErr
	}

	return jsoniter.RawMessage(payload), nil
}

// Get is shorthand for a body-less GET.
func (c *Client) Get(ctx context.Context, path string) (jsoniter.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post is shorthand for a JSON POST.
func (c *Client) Post(ctx context.Context, path string, body any) (jsoniter.RawMessage, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Delete is shorthand for a body-less DELETE.
func (c *Client) Delete(ctx context.Context, path string) (jsoniter.RawMessage, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}
