// Package extraction turns one spoken sentence into structured identity
// fields via an external text-generation endpoint (Ollama-compatible
// /api/generate). The model is treated as unreliable: missing fields,
// placeholder echoes, and malformed output all collapse to empty fields
// rather than errors.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Info holds the fields extracted from one sentence. Any field may be
// empty when the sentence does not mention it.
type Info struct {
	Name     string `json:"name"`
	Relation string `json:"relation"`
	Context  string `json:"context"`
}

const (
	defaultModel      = "phi3:mini"
	defaultTimeout    = 30 * time.Second
	defaultRateLimit  = 2 // requests per second
	defaultBurst      = 4
	minSentenceLength = 3

	// prompt is deliberately minimal: the model answers fastest when
	// asked for nothing but the JSON object.
	prompt = `JSON only: {"name":"X","relation":"Y","context":"Z"}
Extract from: "%s"`
)

// jsonObjectPattern pulls the first flat JSON object out of model output
// that may carry prose around it.
var jsonObjectPattern = regexp.MustCompile(`\{[^{}]*\}`)

// Config holds configuration for the extraction client.
type Config struct {
	// BaseURL of the generation service, e.g. http://localhost:11434.
	BaseURL string

	// Model is the generation model name.
	Model string

	// Timeout bounds a single extraction call.
	Timeout time.Duration
}

// Client calls the structured-extraction endpoint.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates an extraction client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	TopK        int     `json:"top_k"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Extract pulls {name, relation, context} out of one sentence. Sentences
// too short to carry information, model failures, and unparseable output
// all return an empty Info without error; only transport-level problems
// are errors.
func (c *Client) Extract(ctx context.Context, sentence string) (Info, error) {
	sentence = strings.TrimSpace(sentence)
	if len(sentence) < minSentenceLength {
		return Info{}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Info{}, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: fmt.Sprintf(prompt, sentence),
		Stream: false,
		Format: "json",
		Options: generateOptions{
			Temperature: 0,
			NumPredict:  50,
			TopK:        1,
		},
	})
	if err != nil {
		return Info{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Info{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Info{}, fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, b)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Info{}, fmt.Errorf("decode response: %w", err)
	}

	return parseInfo(out.Response), nil
}

// parseInfo extracts the JSON object from raw model output and cleans
// null/placeholder answers.
func parseInfo(raw string) Info {
	match := jsonObjectPattern.FindString(raw)
	if match == "" {
		return Info{}
	}

	var info Info
	if err := json.Unmarshal([]byte(match), &info); err != nil {
		return Info{}
	}

	info.Name = cleanField(info.Name, "X")
	info.Relation = cleanField(info.Relation, "Y")
	info.Context = cleanField(info.Context, "Z")
	return info
}

// cleanField drops null markers and the prompt's own placeholder echoed
// back by the model.
func cleanField(v, placeholder string) string {
	switch v {
	case "", "null", placeholder:
		return ""
	}
	return v
}
