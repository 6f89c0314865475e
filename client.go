package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"cloudeng.io/net/ratecontrol"
)

const (
	// Initial delay between retry attempts.  The backoff doubles it on each
	// failed attempt.
	defaultRetryBackoff = 2 * time.Second

	httpUserAgent = "saucetrap/1.0"
)

var (
	ErrHTTPStatusNotOK = errors.New("HTTP request failed with non-200 status")
)

// Client is an abstract HTTP client.  In prod, this wraps http.Client.  In
// test, it is a TestClient mock.
type Client interface {
	Get(uri string) ([]byte, error)
}

// HTTPClient is a concrete implementation of the Client interface which
// performs GETs with retry logic.  Transport-level failures (DNS, connection
// reset, timeout) are retried with exponential backoff; a response that
// arrives with a non-200 status is returned to the caller immediately, so the
// caller can decide whether that is fatal for its operation.
type HTTPClient struct {
	logger       *slog.Logger
	client       *http.Client
	timeout      time.Duration
	tryCount     int
	retryBackoff time.Duration
}

// NewHTTPClient creates a new HTTPClient honoring the timeout, retry count,
// and optional proxy URL from the network settings.
//
// Parameters:
//   - logger: Logger instance
//   - cfg: Network settings (timeout, retry attempts, proxy)
//
// Returns:
//   - *HTTPClient: A new HTTPClient instance ready for use
func NewHTTPClient(logger *slog.Logger, cfg NetworkSettings) *HTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			// A bad proxy URL is a settings problem; proceed without one
			// rather than refusing to start.
			logger.Warn("Ignoring unparsable proxy URL", "proxy", cfg.Proxy, "error", err)
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	tryCount := cfg.RetryAttempts
	if tryCount < 1 {
		tryCount = 1
	}

	return &HTTPClient{
		logger:       logger,
		client:       &http.Client{Transport: transport},
		timeout:      cfg.Timeout(),
		tryCount:     tryCount,
		retryBackoff: defaultRetryBackoff,
	}
}

// SetRetryPolicy configures the retry behavior for failed HTTP requests.  This
// method is intended for tests where we don't actually want to wait seconds
// between retries.
//
// Parameters:
//   - count: Number of attempts before giving up
//   - backoff: Initial delay between attempts
func (h *HTTPClient) SetRetryPolicy(count int, backoff time.Duration) {
	h.tryCount = count
	h.retryBackoff = backoff
}

// Get performs an HTTP GET request with automatic retries.  Transport errors
// are retried up to the configured attempt count, waiting with exponential
// backoff between attempts.  A non-200 response is not retried: it is
// returned as an ErrHTTPStatusNotOK failure after a logged warning.
//
// Parameters:
//   - uri: The URL to fetch
//
// Returns:
//   - []byte: The response body content
//   - error: The final error if all attempts fail, nil on success
func (h *HTTPClient) Get(uri string) ([]byte, error) {
	h.logger.Debug("HTTPClient GET", "uri", uri)
	backoff := ratecontrol.NewExpontentialBackoff(h.retryBackoff, h.tryCount-1)
	var lastErr error
	for {
		data, err := h.get(uri)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrHTTPStatusNotOK) {
			h.logger.Warn("HTTPClient GET returned bad status", "uri", uri, "error", err)
			return nil, err
		}
		lastErr = err
		h.logger.Info("HTTPClient GET failed attempt",
			"uri", uri, "attempt", backoff.Retries(), "error", err)
		done, werr := backoff.Wait(context.Background(), nil)
		if werr != nil {
			return nil, werr
		}
		if done {
			h.logger.Error("HTTPClient GET all attempts failed", "uri", uri, "error", lastErr)
			return nil, lastErr
		}
	}
}

// get performs a single HTTP GET request without retries. This is used inside
// the public Get method's retry loop.
//
// Parameters:
//   - uri: The URL to fetch
//
// Returns:
//   - []byte: The response body content
//   - error: Any error encountered during the request
func (h *HTTPClient) get(uri string) ([]byte, error) {
	// Each attempt gets its own deadline so a hung connection can't stall the
	// retry loop for longer than the configured timeout.
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", httpUserAgent)

	response, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET failed: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrHTTPStatusNotOK, response.Status)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}
