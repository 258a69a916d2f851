// Package remote is the client side of POST /analyze.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/lockedin/internal/auth"
	"github.com/goodtune/lockedin/internal/policy"
	"github.com/goodtune/lockedin/internal/verdict"
	"github.com/rs/zerolog"
)

// maxResponseBytes bounds how much of a reply is read.
const maxResponseBytes = 64 << 10

type analyzeRequest struct {
	URL      string `json:"url"`
	UserGoal string `json:"userGoal"`
	Title    string `json:"title,omitempty"`
}

type analyzeResponse struct {
	Allow  *bool  `json:"allow"`
	Reason string `json:"reason"`
}

// Client calls the remote classify API.
type Client struct {
	endpoint   string
	tokens     auth.TokenSource
	httpClient *http.Client
	clock      policy.Clock
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock sets the clock used for local token expiry checks.
func WithClock(clock policy.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("component", "remote").Logger() }
}

// New creates a client for the API at baseURL.
func New(baseURL string, tokens auth.TokenSource, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(baseURL, "/") + "/analyze",
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		clock:      &policy.RealClock{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify asks the API whether url serves goal. It never returns an error;
// every failure is expressed as a verdict kind.
func (c *Client) Classify(ctx context.Context, url, title, goal string) verdict.Result {
	token, err := c.tokens.Token(ctx)
	if errors.Is(err, auth.ErrNoToken) {
		return verdict.Expired(err)
	}
	if err != nil {
		return verdict.Failure(fmt.Errorf("read identity token: %w", err))
	}
	if err := auth.CheckExpiry(token, c.clock.Now()); err != nil {
		return verdict.Expired(err)
	}

	body, err := json.Marshal(analyzeRequest{URL: url, UserGoal: goal, Title: title})
	if err != nil {
		return verdict.Failure(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return verdict.Failure(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return verdict.Failure(fmt.Errorf("post analyze: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return verdict.Failure(fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Str("request_id", resp.Header.Get("X-Request-ID")).
		Str("url", url).
		Msg("Analyze response")

	switch resp.StatusCode {
	case http.StatusOK:
		var out analyzeResponse
		if err := json.Unmarshal(payload, &out); err != nil {
			return verdict.Failure(fmt.Errorf("decode response: %w", err))
		}
		if out.Allow == nil {
			return verdict.Failure(errors.New("decode response: missing allow field"))
		}
		return verdict.FromAllow(*out.Allow, out.Reason)
	case http.StatusUnauthorized, http.StatusForbidden:
		return verdict.Expired(fmt.Errorf("analyze rejected credentials: %s", resp.Status))
	case http.StatusTooManyRequests:
		return verdict.Limited()
	default:
		return verdict.Failure(fmt.Errorf("analyze returned %s", resp.Status))
	}
}
