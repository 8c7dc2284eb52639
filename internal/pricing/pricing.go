// Package pricing proxies token price lookups to an external quotes API.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("token price api key is not configured")

const maxBodyBytes = 1 << 20

// Result is the upstream answer. Data holds the raw JSON body.
type Result struct {
	Status int
	Data   json.RawMessage
}

// UpstreamError carries a non-2xx upstream answer.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("token price api returned %d: %s", e.Status, e.Body)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	keyHeader  string
	logger     zerolog.Logger
}

func NewClient(httpClient *http.Client, baseURL, apiKey, keyHeader string, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		keyHeader:  keyHeader,
		logger:     logger.With().Str("component", "pricing").Logger(),
	}
}

// Price fetches the quote for tokenID.
func (c *Client) Price(ctx context.Context, tokenID string) (Result, error) {
	if c.apiKey == "" {
		return Result{}, ErrNotConfigured
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse token price url: %w", err)
	}
	q := u.Query()
	q.Set("id", tokenID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("build token price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(c.keyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("token price request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read token price response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode).Str("token_id", tokenID).Msg("token price lookup failed")
		return Result{}, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	if !json.Valid(body) {
		return Result{}, fmt.Errorf("token price api returned invalid json")
	}
	return Result{Status: resp.StatusCode, Data: body}, nil
}
