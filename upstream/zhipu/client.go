// Package zhipu talks to the BigModel chat-completions endpoint.
package zhipu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coffee-guru/network"
	"coffee-guru/services"
	"coffee-guru/utils"
)

const (
	DefaultBaseURL = "https://open.bigmodel.cn/api/paas/v4/chat/completions"
	DefaultModel   = "glm-4-flash"
	DefaultTimeout = 30 * time.Second

	maxBodyBytes = 4 << 20
)

// Client implements network.Completer.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *utils.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithHTTPClient replaces the default client, which has a 30 s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(apiKey string, logger *utils.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" {
		logger.Warn("[zhipu] No API key configured; requests will be rejected upstream")
	}
	return c
}

// Complete posts prompt and returns the completion text. params are merged
// over the base body {model, messages, temperature 0.7, max_tokens 500}.
func (c *Client) Complete(ctx context.Context, prompt string, params map[string]any) (string, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil || endpoint.Host == "" || (endpoint.Scheme != "http" && endpoint.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", network.ErrInvalidEndpoint, c.baseURL)
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.7,
		"max_tokens":  500,
	}
	maps.Copy(body, params)

	payload, err := json.Marshal(body)
	if err != nil {
		return "", &network.TransportError{Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", network.ErrInvalidEndpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", network.NewTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", network.NewTransportError(err)
	}
	c.logger.Debug("[zhipu] %d in %v (%d bytes)", resp.StatusCode, time.Since(start).Round(time.Millisecond), len(raw))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d: %s", network.ErrMalformedResponse, resp.StatusCode, snippet(raw))
	}
	return unwrap(raw)
}

// unwrap returns the first choice's content from an envelope, or the body
// itself when it is bare JSON.
func unwrap(raw []byte) (string, error) {
	if content, ok := services.UnwrapEnvelope(raw); ok {
		return content, nil
	}
	body := strings.TrimSpace(string(raw))
	if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
		return body, nil
	}
	return "", fmt.Errorf("%w: %s", network.ErrMalformedResponse, snippet(raw))
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
