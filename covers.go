package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Limit how many cover-URL fetches happen at once, system-wide, across all
// callers.  Kept small to avoid tripping the site's anti-scraping defenses.
const concurrentCoverFetches = 5

// siteBaseURL is the root of the remote site all codes belong to.
const siteBaseURL = "https://nhentai.net"

// galleryURL returns the detail-page URL for the given code.
func galleryURL(code int) string {
	return fmt.Sprintf("%s/g/%d/", siteBaseURL, code)
}

// coverFilePath returns the local cache path of a code's cover image.
func coverFilePath(coversDir string, code int) string {
	return filepath.Join(coversDir, fmt.Sprintf("%d.jpg", code))
}

// CoverLoader resolves item codes to cover URLs by fetching and parsing the
// item's detail page.  Results are memoized per code, including "no cover"
// results, so codes known to have no cover are never re-fetched.  Concurrent
// first-time lookups for the same code collapse into a single fetch, and at
// most concurrentCoverFetches requests (detail pages or cover bytes) are in
// flight at any time.
type CoverLoader struct {
	logger *slog.Logger
	client Client
	sem    *semaphore.Weighted
	group  singleflight.Group

	mu    sync.Mutex
	cache map[int]string // code -> cover URL, "" = known to have none
}

// NewCoverLoader creates a CoverLoader backed by the given client.  One
// loader instance is shared by the scraper and all UI-driven lookups so the
// concurrency bound holds system-wide.
//
// Parameters:
//   - logger: Logger instance
//   - client: HTTP client interface for making web requests
//
// Returns:
//   - *CoverLoader: A new CoverLoader instance ready for use
func NewCoverLoader(logger *slog.Logger, client Client) *CoverLoader {
	return &CoverLoader{
		logger: logger,
		client: client,
		sem:    semaphore.NewWeighted(concurrentCoverFetches),
		cache:  make(map[int]string),
	}
}

// Resolve returns the cover URL for code, or "" when the item has no usable
// cover.  A fetch that exhausts all retries also resolves to "", since a
// missing cover must never abort a scrape or a render, and that outcome is
// cached like any other.
//
// Parameters:
//   - ctx: Context bounding the wait for a fetch slot
//   - code: The item code to resolve
//
// Returns:
//   - string: The cover URL, or "" for no cover
func (l *CoverLoader) Resolve(ctx context.Context, code int) string {
	l.mu.Lock()
	if cover, ok := l.cache[code]; ok {
		l.mu.Unlock()
		return cover
	}
	l.mu.Unlock()

	// Collapse concurrent lookups for the same code into one fetch; every
	// waiter observes the same result.
	result, _, _ := l.group.Do(strconv.Itoa(code), func() (any, error) {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while waiting for a slot.  Not cached: the
			// code was never actually tried.
			return "", nil
		}
		defer l.sem.Release(1)

		cover := l.fetchCoverURL(code)
		l.mu.Lock()
		l.cache[code] = cover
		l.mu.Unlock()
		return cover, nil
	})

	cover, _ := result.(string)
	return cover
}

// fetchCoverURL fetches the detail page for code and parses out the cover
// URL.  All failure modes degrade to "".
func (l *CoverLoader) fetchCoverURL(code int) string {
	pageURL := galleryURL(code)
	body, err := l.client.Get(pageURL)
	if err != nil {
		l.logger.Warn("Cover fetch failed", "code", code, "error", err)
		return ""
	}

	detail := ParseDetailPage(body, pageURL)
	if detail.CoverURL == "" {
		l.logger.Warn("No suitable cover image found", "code", code)
	}
	return detail.CoverURL
}

// Download materializes the cover bytes for code into the covers directory,
// named <code>.jpg.  A cover that is already on disk is not re-downloaded.
// Network failures are benign (logged, no file written); only local
// filesystem problems are reported as errors.
//
// Parameters:
//   - ctx: Context bounding the wait for a fetch slot
//   - code: The item code whose cover should be saved
//   - coversDir: Directory where cover files are kept
//
// Returns:
//   - error: Any local filesystem error encountered while writing
func (l *CoverLoader) Download(ctx context.Context, code int, coversDir string) error {
	path := coverFilePath(coversDir, code)
	if _, err := os.Stat(path); err == nil {
		l.logger.Debug("Cover already downloaded, skipping", "code", code)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat cover file: %w", err)
	}

	coverURL := l.Resolve(ctx, code)
	if coverURL == "" {
		return nil
	}

	// Byte fetches count against the same in-flight gate as detail-page
	// fetches, so the system-wide bound holds even when the URL came straight
	// from the cache.
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil
	}
	data, err := l.client.Get(coverURL)
	l.sem.Release(1)
	if err != nil {
		l.logger.Warn("Cover download failed", "code", code, "url", coverURL, "error", err)
		return nil
	}

	if err := os.MkdirAll(coversDir, infoDirPermissions); err != nil {
		return fmt.Errorf("failed to create covers directory: %w", err)
	}
	if err := WriteAndFsyncFile(path, data); err != nil {
		return err
	}

	l.logger.Info("Saved cover", "code", code, "file", path)
	return nil
}
