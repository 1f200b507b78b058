// Package gateway talks to the configured language-model provider. It builds
// the fixed prompt around a form snapshot, the active personal profile, and
// the card shape; dispatches to an OpenAI- or Azure-style chat-completion
// endpoint; and parses the structured result into typed fill instructions.
//
// The card structure passed in must already be secrets-blanked (see
// profile.Card.Shape); this package never receives card secrets.
package gateway

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bakaburg1/form-butler/fill"
	"github.com/bakaburg1/form-butler/profile"
)

//go:embed prompt.txt
var systemPrompt string

// Request is the payload serialized into the user message.
type Request struct {
	FormBody      string            `json:"formBody"`
	PersonalInfo  map[string]string `json:"personalInfo"`
	CardStructure profile.Card      `json:"cardStructure"`
}

// Result is the model's structured answer. Card instruction values are
// placeholder key names until fill.ResolveCardValues runs.
type Result struct {
	PersonalFillInstructions []fill.Instruction `json:"personalFillInstructions"`
	CardFillInstructions     []fill.Instruction `json:"cardFillInstructions"`
}

// Gateway sends completion requests. Safe for concurrent use; configuration
// is passed per call so external edits take effect on the next cycle.
type Gateway struct {
	client      *http.Client
	logger      *slog.Logger
	temperature float64
	timeout     time.Duration
	baseURL     string // overrides endpoint resolution; tests only
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithTemperature overrides the default temperature of 0.
func WithTemperature(t float64) Option {
	return func(g *Gateway) { g.temperature = t }
}

// WithTimeout sets the per-attempt request timeout. Default: 60s. A timeout
// is surfaced as a cancellation, not a network failure.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithBaseURL routes all requests to a fixed base URL instead of resolving
// the configured endpoint. Used by tests to point at a local server.
func WithBaseURL(u string) Option {
	return func(g *Gateway) { g.baseURL = u }
}

// New creates a Gateway.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		client:      &http.Client{},
		logger:      slog.Default(),
		temperature: 0,
		timeout:     60 * time.Second,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model,omitempty"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one completion request and parses the answer. On HTTP 429
// it waits the provider-advertised delay and retries exactly once; a second
// 429 surfaces as a network error. Cancellation (explicit or via the request
// timeout) surfaces as ErrCancelled.
func (g *Gateway) Complete(ctx context.Context, cfg profile.ModelConfig, req Request) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	endpoint, err := g.resolveURL(cfg)
	if err != nil {
		return nil, err
	}

	userPayload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal request: %w", err)
	}

	body := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(userPayload)},
		},
		Temperature: g.temperature,
	}
	body.ResponseFormat.Type = "json_object"
	if cfg.APISpec == profile.SpecOpenAI {
		body.Model = cfg.Name
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.send(ctx, cfg, endpoint, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		delay := retryAfter(resp)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		g.logger.Warn("gateway: rate limited, retrying once", "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}

		resp, err = g.send(ctx, cfg, endpoint, payload)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("%w: rate limited twice", ErrNetwork)
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrNetwork, resp.StatusCode, providerMessage(raw))
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrParse, err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ErrParse)
	}

	var result Result
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("%w: decode instructions: %v", ErrParse, err)
	}
	return &result, nil
}

func (g *Gateway) send(ctx context.Context, cfg profile.ModelConfig, endpoint string, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gateway: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	switch cfg.APISpec {
	case profile.SpecAzure:
		httpReq.Header.Set("api-key", cfg.APIKey)
	default:
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return resp, nil
}

// resolveURL reconstructs the HTTPS URL from the protocol-less stored
// endpoint per the provider's spec.
func (g *Gateway) resolveURL(cfg profile.ModelConfig) (string, error) {
	if g.baseURL != "" {
		return g.baseURL + "/v1/chat/completions", nil
	}
	switch cfg.APISpec {
	case profile.SpecAzure:
		return fmt.Sprintf(
			"https://%s.openai.azure.com/openai/deployments/%s/chat/completions?api-version=%s",
			cfg.Endpoint, url.PathEscape(cfg.Name), url.QueryEscape(cfg.APIVersion)), nil
	case profile.SpecOpenAI:
		return fmt.Sprintf("https://%s/v1/chat/completions", cfg.Endpoint), nil
	}
	return "", fmt.Errorf("%w: unknown api spec %q", profile.ErrInvalidModelConfig, cfg.APISpec)
}

// retryAfter reads the 429 delay from the Retry-After header, accepting both
// the seconds and HTTP-date forms. Falls back to 2s when absent or invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 2 * time.Second
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return 2 * time.Second
}

func providerMessage(raw []byte) string {
	var envelope struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
