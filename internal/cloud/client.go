// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-stream/internal/cache"
	"github.com/jeranaias/rigrun-stream/internal/logging"
)

// Configuration constants for OpenAI-compatible services.
const (
	// DefaultBaseURL is the base URL used when none is configured.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultMaxRetries is the number of connection attempts before giving up.
	DefaultMaxRetries = 3

	// retryBaseDelay is the first backoff delay; each retry doubles it.
	retryBaseDelay = time.Second

	// MaxErrorBodySize caps how much of an error response is read.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxErrorBodySize = 64 * 1024
)

// sharedStreamingClient is used for streaming requests (no timeout, context-controlled).
// PERFORMANCE: Connection pooling for streaming requests.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
	// No timeout for streaming - controlled via context
}

// Error variables for common service errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// APIError represents an error response from the service.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}

// RateLimitError represents a rate limit error with retry information.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	msg := "rate limited"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s, retry after %v", msg, e.RetryAfter)
	}
	return msg
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// apiErrorResponse is the error envelope returned by OpenAI-compatible APIs.
// Code is a string on some services and a number on others.
type apiErrorResponse struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client streams completions from an OpenAI-compatible service.
//
// A Client is safe for concurrent use once configured.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    func(attempt int) time.Duration
	limiter    *rate.Limiter
	siteURL    string
	siteName   string
	log        *logging.Logger
}

// NewClient creates a client for baseURL authenticated with apiKey.
//
// An empty baseURL selects DefaultBaseURL. An empty apiKey still produces a
// client; stream calls then fail with ErrNotConfigured.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: sharedStreamingClient,
		maxRetries: DefaultMaxRetries,
		backoff:    calculateBackoff,
		log:        logging.Nop(),
	}
}

// WithMaxRetries sets the number of connection attempts (minimum 1).
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	c.maxRetries = maxRetries
	return c
}

// WithRateLimit paces outgoing requests to rps per second. Zero disables
// pacing.
func (c *Client) WithRateLimit(rps float64) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithBackoff replaces the retry delay schedule.
func (c *Client) WithBackoff(backoff func(attempt int) time.Duration) *Client {
	c.backoff = backoff
	return c
}

// WithSiteInfo sets the attribution headers some routers ask for.
func (c *Client) WithSiteInfo(url, name string) *Client {
	c.siteURL = url
	c.siteName = name
	return c
}

// WithLogger sets the client's logger.
func (c *Client) WithLogger(l *logging.Logger) *Client {
	c.log = logging.OrNop(l).Named("cloud")
	return c
}

// BaseURL returns the configured service URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsConfigured returns true if an API key is set.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns a short irreversible fingerprint of the API key.
// SECURITY: Never exposes any fragment of the key itself.
func (c *Client) KeyFingerprint() string {
	return cache.KeyFragment(c.apiKey)
}

// APIKeyMasked returns a masked description of the API key for display.
func (c *Client) APIKeyMasked() string {
	if c.apiKey == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.apiKey), c.KeyFingerprint())
}

// setHeaders sets the headers every request carries.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rigrun-stream/0.1.0")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// handleErrorResponse converts an HTTP error response to an error.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
	statusCode := resp.StatusCode

	var msg, code string
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
		code = rawCode(apiErr.Error.Code)
	}

	if statusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After")), Message: msg}
	}

	if msg == "" {
		// Fallback for unparseable error responses
		switch statusCode {
		case http.StatusUnauthorized:
			return ErrAuthFailed
		case http.StatusPaymentRequired:
			return ErrInsufficientCredits
		case http.StatusNotFound:
			return ErrModelNotFound
		}
		return &APIError{Message: strings.TrimSpace(string(body)), Status: statusCode}
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrAuthFailed, msg)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrInsufficientCredits, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrModelNotFound, msg)
	}
	return &APIError{Code: code, Message: msg, Status: statusCode}
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// calculateBackoff returns the delay before retry number attempt (1-based):
// 1s, 2s, 4s.
func calculateBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return retryBaseDelay * time.Duration(1<<uint(attempt-1))
}
