// Package tokenapi is a client for a third-party NFT index that returns the
// on-ledger URI of a token by id.
package tokenapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// TokenHeader carries the API token.
const TokenHeader = "x-bithomp-token"

var (
	// ErrTokenNotFound is returned when the index does not know the token.
	ErrTokenNotFound = errors.New("token not found in index")
	// ErrNoURI is returned when the token is indexed without a URI.
	ErrNoURI = errors.New("token has no uri")
)

// Config configures the client.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	RateBurst int           `yaml:"rate_burst"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://bithomp.com/api/v2",
		Timeout:   15 * time.Second,
		RateLimit: 5,
		RateBurst: 5,
	}
}

// Client looks up tokens.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a Client. A non-positive rate limit disables limiting.
func NewClient(config Config, opts ...Option) *Client {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.RateBurst
	if burst <= 0 {
		burst = 1
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token is the subset of the index response used here.
type Token struct {
	NFTokenID string `json:"nftokenID"`
	Issuer    string `json:"issuer"`
	URI       string `json:"uri"`
}

// GetToken fetches the indexed token.
func (c *Client) GetToken(ctx context.Context, tokenID string) (*Token, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/nft/" + url.PathEscape(tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set(TokenHeader, c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("index returned HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &tok, nil
}

// LookupURI returns the hex-encoded URI of a token.
func (c *Client) LookupURI(ctx context.Context, tokenID string) (string, error) {
	tok, err := c.GetToken(ctx, tokenID)
	if err != nil {
		return "", err
	}
	if tok.URI == "" {
		return "", fmt.Errorf("%w: %s", ErrNoURI, tokenID)
	}
	return tok.URI, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
