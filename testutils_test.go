package main_test

// SPDX-License-Identifier: GPL-3.0-only

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// TestResponse represents a predefined response for a specific URI in the
// TestClient mock.
type TestResponse struct {
	data  []byte
	error error
}

// TestClient is a mock Client for use in tests.  Responses are programmed
// per URI; requesting a URI with no programmed response is an error.  The
// client counts requests per URI so tests can assert how many fetches a
// component actually performed.  It is safe for concurrent use.
type TestClient struct {
	mu    sync.Mutex
	uris  map[string]TestResponse
	calls map[string]int
}

// NewTestClient creates a new TestClient instance with an empty set of
// predefined responses.
func NewTestClient() *TestClient {
	return &TestClient{
		uris:  make(map[string]TestResponse),
		calls: make(map[string]int),
	}
}

// SetResponse sets a predefined response for the specified URI in the
// TestClient.
//
// Parameters:
//   - uri: The URI for which to set the response
//   - response: The byte slice to return when the URI is requested
//   - err: The error to return when the URI is requested (nil for no error)
func (t *TestClient) SetResponse(uri string, response []byte, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uris[uri] = TestResponse{
		data:  response,
		error: err,
	}
}

// Get simulates an HTTP GET request to the specified URI and records the
// call.
//
// Parameters:
//   - uri: The URI to request
//
// Returns:
//   - []byte: The programmed response data
//   - error: The programmed error, or an error if the URI has no response
func (t *TestClient) Get(uri string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[uri]++
	response, ok := t.uris[uri]
	if !ok {
		return nil, fmt.Errorf("no response configured for %s", uri)
	}
	return response.data, response.error
}

// Calls returns how many times the specified URI has been requested.
func (t *TestClient) Calls(uri string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[uri]
}

// TestLogForwarder is an io.Writer that forwards log output to
// testing.T.Logf.  This is used to capture application log output and report
// it in the test output.
type TestLogForwarder struct {
	t *testing.T
}

// Write implements the io.Writer interface for TestLogForwarder.
func (t TestLogForwarder) Write(p []byte) (int, error) {
	t.t.Helper()
	t.t.Logf("%s", strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// NewTestLogger creates a new slog.Logger that writes to the provided
// testing.T instance.  This allows capturing log output in test logs.
//
// Parameters:
//   - t: The testing.T instance to which log output will be forwarded
func NewTestLogger(t *testing.T) *slog.Logger {
	t.Helper()
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	handler := slog.NewTextHandler(TestLogForwarder{t: t}, opts)
	return slog.New(handler)
}

// galleryDiv renders one gallery entry the way the site's search results
// mark them up.
func galleryDiv(code int, tags string) string {
	return fmt.Sprintf(
		`<div class="gallery" data-tags="%s"><a href="/g/%d/"><img src="/thumb/%d.jpg"></a></div>`,
		tags, code, code)
}

// listingPage builds a search-results page body with the given last-page
// link (0 = no pagination control) and gallery entry fragments.
func listingPage(lastPage int, galleries ...string) []byte {
	var b strings.Builder
	b.WriteString("<html><body><div class='container'>")
	for _, g := range galleries {
		b.WriteString(g)
	}
	b.WriteString("</div>")
	if lastPage > 0 {
		fmt.Fprintf(&b,
			`<section class="pagination"><a class="last" href="/search/?q=english&page=%d">last</a></section>`,
			lastPage)
	}
	b.WriteString("</body></html>")
	return []byte(b.String())
}

// detailPage builds an item detail page body with the given title and raw
// <img> element fragments.  The real site puts its logo first and the cover
// second; tests compose whichever image layout they need.
func detailPage(title string, images ...string) []byte {
	var b strings.Builder
	b.WriteString("<html><body>")
	if title != "" {
		fmt.Fprintf(&b, `<h1><span class="pretty">%s</span></h1>`, title)
	}
	for _, img := range images {
		b.WriteString(img)
	}
	b.WriteString("</body></html>")
	return []byte(b.String())
}

// siteLogo is the decorative first image present on every detail page.
const siteLogo = `<img src="/static/logo.png">`
