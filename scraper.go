package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// searchBaseTerm is the fixed free-text term every catalog query starts
// from; banned tags are appended as exclusion clauses.
const searchBaseTerm = "english"

// Log a heartbeat every this many pages during long full scrapes.
const pageLogInterval = 100

// ScrapeMode selects between the two crawl strategies sharing one page-crawl
// skeleton.
type ScrapeMode int

const (
	// FullScrape walks every listing page from 1 to the discovered last
	// page.  Running it twice against an unchanged listing is idempotent.
	FullScrape ScrapeMode = iota

	// IncrementalScrape stops as soon as it sees a code below the highest
	// previously-known code.  The site lists items in descending-code order,
	// so everything at or after the last boundary has been seen by then.
	IncrementalScrape
)

func (m ScrapeMode) String() string {
	if m == IncrementalScrape {
		return "incremental"
	}
	return "full"
}

// ScrapeJob tracks the progress of one scrape invocation.  The scraper
// publishes counters as it crawls; the caller polls Progress from its own
// thread (typically on a UI timer) and never blocks on the crawl itself.
type ScrapeJob struct {
	current atomic.Int64
	max     atomic.Int64
	done    atomic.Bool

	wg  sync.WaitGroup
	err error
}

func newScrapeJob() *ScrapeJob {
	job := &ScrapeJob{}
	job.max.Store(1)
	job.wg.Add(1)
	return job
}

// Progress returns the current counter, its maximum, and whether the scrape
// has finished.  For full scrapes the counter is the page index.  For
// incremental scrapes it is the distance between the last processed code and
// the previous boundary, which counts down toward zero as the crawl
// approaches the boundary.  Kept as-is for compatibility with how progress
// has always been reported.
func (j *ScrapeJob) Progress() (current, max int64, done bool) {
	return j.current.Load(), j.max.Load(), j.done.Load()
}

// Wait blocks until the scrape finishes and returns its terminal error.  The
// only error a scrape can end with is a failure to persist the catalog;
// network and parse failures degrade to a trivially-complete job instead.
func (j *ScrapeJob) Wait() error {
	j.wg.Wait()
	return j.err
}

func (j *ScrapeJob) finish(err error) {
	j.err = err
	j.done.Store(true)
	j.wg.Done()
}

// Scraper orchestrates the paginated catalog crawl: it fetches listing pages
// in order, merges the parsed entries into the catalog, drives the cover
// loader for new items, and persists the whole catalog once at the end.
type Scraper struct {
	logger         *slog.Logger
	client         Client
	catalog        Catalog
	catalogPath    string
	covers         *CoverLoader
	bannedTagNames []string
}

// NewScraper creates a new Scraper instance.  The catalog is owned by the
// caller and mutated in place; it is persisted to catalogPath in one
// wholesale write when a scrape completes.
//
// Parameters:
//   - logger: Logger instance
//   - client: HTTP client interface for making web requests
//   - catalog: The working catalog to merge scraped entries into
//   - catalogPath: File the catalog is persisted to at the end of a scrape
//   - covers: Shared cover loader used to resolve covers for new items
//   - bannedTagNames: Tag names excluded from the search query
//
// Returns:
//   - *Scraper: A new Scraper instance ready for use
func NewScraper(
	logger *slog.Logger,
	client Client,
	catalog Catalog,
	catalogPath string,
	covers *CoverLoader,
	bannedTagNames []string,
) *Scraper {
	return &Scraper{
		logger:         logger,
		client:         client,
		catalog:        catalog,
		catalogPath:    catalogPath,
		covers:         covers,
		bannedTagNames: bannedTagNames,
	}
}

// Start launches a scrape on a new goroutine and returns a job handle for
// progress polling.
//
// Parameters:
//   - ctx: Context passed through to cover resolution
//   - mode: FullScrape or IncrementalScrape
//
// Returns:
//   - *ScrapeJob: Handle exposing Progress and Wait
func (s *Scraper) Start(ctx context.Context, mode ScrapeMode) *ScrapeJob {
	job := newScrapeJob()
	go func() {
		job.finish(s.run(ctx, mode, job))
	}()
	return job
}

// Run executes a scrape synchronously.  It is equivalent to Start followed
// immediately by Wait.
func (s *Scraper) Run(ctx context.Context, mode ScrapeMode) error {
	job := newScrapeJob()
	err := s.run(ctx, mode, job)
	job.finish(err)
	return err
}

// run is the crawl state machine: determine the last page from page 1, crawl
// pages in strictly increasing order, then persist the catalog exactly once.
// A failed initial fetch completes the job trivially with the catalog
// untouched; a failed non-initial page is skipped, never fatal.
func (s *Scraper) run(ctx context.Context, mode ScrapeMode, job *ScrapeJob) error {
	base := s.searchURL()

	firstBody, err := s.client.Get(listingPageURL(base, 1))
	if err != nil {
		// Total failure is non-fatal to the process: the job reports a
		// trivial 0/1 completion and no new data is learned this run.
		s.logger.Error("Initial listing fetch failed, aborting scrape", "error", err)
		return nil
	}

	lastPage := ParseLastPage(s.logger, firstBody)

	lastKnownCode := 0
	if mode == IncrementalScrape {
		lastKnownCode = s.catalog.MaxCode()
		job.max.Store(int64(maxInt(lastKnownCode, 1)))
	} else {
		job.max.Store(int64(lastPage))
	}

	s.logger.Info("Scrape starting",
		"mode", mode.String(),
		"lastPage", lastPage,
		"lastKnownCode", lastKnownCode,
		"bannedTags", len(s.bannedTagNames),
	)

	for page := 1; page <= lastPage; page++ {
		body := firstBody
		if page > 1 {
			body, err = s.client.Get(listingPageURL(base, page))
			if err != nil {
				// A single bad page never aborts the whole scrape.
				s.logger.Error("Listing page fetch failed, skipping", "page", page, "error", err)
				continue
			}
		}
		if page%pageLogInterval == 0 {
			s.logger.Info("Crawling", "page", page, "lastPage", lastPage)
		}

		entries := ParseListingPage(s.logger, body)
		if len(entries) == 0 {
			// The site returned fewer real pages than the pagination control
			// claimed.
			s.logger.Info("No gallery entries on page, stopping early", "page", page)
			break
		}

		boundaryHit := false
		lastCode := 0
		for _, entry := range entries {
			if mode == IncrementalScrape && entry.Code < lastKnownCode {
				boundaryHit = true
				break
			}
			s.mergeEntry(ctx, entry)
			lastCode = entry.Code
		}
		if boundaryHit {
			s.logger.Info("Reached previously-known codes, stopping",
				"page", page, "lastKnownCode", lastKnownCode)
			break
		}

		switch mode {
		case FullScrape:
			job.current.Store(int64(page))
		case IncrementalScrape:
			job.current.Store(int64(lastCode - lastKnownCode))
		}
	}

	// Exactly one disk write per scrape.  A crash mid-scrape loses this
	// run's progress but never previously-persisted records.
	if err := s.catalog.Save(s.catalogPath); err != nil {
		return fmt.Errorf("failed to persist catalog: %w", err)
	}

	s.logger.Info("Scrape complete", "mode", mode.String(), "records", len(s.catalog))
	return nil
}

// mergeEntry merges one gallery entry into the catalog.  New codes get a
// visible record with their parsed tags and a resolved cover.  Existing codes
// get their tag set overwritten, since the site is ground truth for tags, and a
// cover resolved only if the record doesn't have one yet.
func (s *Scraper) mergeEntry(ctx context.Context, entry GalleryEntry) {
	record, ok := s.catalog[entry.Code]
	if !ok {
		s.catalog[entry.Code] = &CatalogRecord{
			Tags:    entry.Tags,
			Cover:   s.covers.Resolve(ctx, entry.Code),
			Visible: 1,
		}
		return
	}

	record.Tags = entry.Tags
	if record.Cover == "" {
		record.Cover = s.covers.Resolve(ctx, entry.Code)
	}
}

// searchURL builds the listing query: the fixed base term plus one exclusion
// clause per banned tag name.
func (s *Scraper) searchURL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/search/?q=%s", siteBaseURL, searchBaseTerm)
	for _, name := range s.bannedTagNames {
		fmt.Fprintf(&b, "+-%s", name)
	}
	return b.String()
}

// listingPageURL appends the page number to a search URL built by searchURL.
func listingPageURL(base string, page int) string {
	return fmt.Sprintf("%s&page=%d", base, page)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
