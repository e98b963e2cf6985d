// Package faces consumes the external face-embedding model. The model is a
// black box behind an HTTP endpoint: an image either yields a fixed-length
// vector or nothing when no face is found. Timeouts and transport failures
// are extraction failures, never reasons to block the serving path.
package faces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel errors for embedding extraction.
var (
	// ErrNoFace is returned when the model finds no face in the image.
	ErrNoFace = errors.New("no face found in image")

	// ErrUnavailable is returned when the embedding service cannot be
	// reached within the call budget.
	ErrUnavailable = errors.New("embedding service unavailable")
)

// Provider extracts a face embedding from a base64-encoded image.
type Provider interface {
	// Extract returns the embedding for the dominant face in the image,
	// ErrNoFace when the model detects none, or ErrUnavailable when the
	// service cannot answer in time.
	Extract(ctx context.Context, imageBase64 string) ([]float32, error)
}

const (
	defaultTimeout     = 2 * time.Second
	defaultMaxRetries  = 2
	defaultBaseBackoff = 100 * time.Millisecond
	defaultRateLimit   = 50 // requests per second
	defaultBurst       = 10
)

// Config holds configuration for the HTTP embedding client.
type Config struct {
	// BaseURL of the embedding service, e.g. http://localhost:8810.
	BaseURL string

	// Timeout bounds a single extraction end to end.
	Timeout time.Duration

	// MaxRetries for transient transport errors. Model-level "no face"
	// responses are never retried.
	MaxRetries int
}

// Client is the HTTP implementation of Provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

// NewClient creates an embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries: maxRetries,
	}, nil
}

type embedRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Extract implements Provider.
func (c *Client) Extract(ctx context.Context, imageBase64 string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		embedding, err := c.doRequest(ctx, imageBase64)
		if err == nil {
			return embedding, nil
		}

		lastErr = err
		var re *retryableError
		if !errors.As(err, &re) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) doRequest(ctx context.Context, imageBase64 string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{ImageBase64: imageBase64})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("embedding request failed: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// Model's "no face detected" answer.
		return nil, ErrNoFace
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("embedding service returned %d", resp.StatusCode)}
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, b)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, ErrNoFace
	}
	return out.Embedding, nil
}

// retryableError marks transport-level failures worth retrying.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }
