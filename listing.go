package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"bytes"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// Detail-page links look like /g/12345/.  Anything else hanging off a
	// gallery entry is skipped rather than erroring the whole page.
	galleryLinkRegexp = regexp.MustCompile(`^/g/(\d+)/$`)
)

// GalleryEntry is one item parsed from a search-results page: its numeric
// code and the tag ids from its data attribute.
type GalleryEntry struct {
	Code int
	Tags TagSet
}

// ParseLastPage extracts the last page number from the pagination control's
// "last" link on a listing page.  It is read from page 1 exactly once per
// scrape session.  A missing or unparsable link is non-fatal: the listing is
// assumed to be a single page.
//
// Parameters:
//   - logger: Logger instance
//   - body: The HTML content of the page
//
// Returns:
//   - int: The last page number, at least 1
func ParseLastPage(logger *slog.Logger, body []byte) int {
	doc := parseHTML(body)

	href, ok := doc.Find("a.last").First().Attr("href")
	if !ok {
		logger.Warn("Could not find last-page link, defaulting to 1")
		return 1
	}

	// The page number is the trailing query value, e.g. ...&page=1234.
	parts := strings.Split(href, "=")
	lastPage, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || lastPage < 1 {
		logger.Warn("Failed to parse last-page number, defaulting to 1", "href", href)
		return 1
	}
	return lastPage
}

// ParseListingPage extracts the gallery entries from one search-results page,
// in the order they appear in the markup.  An empty result means the page has
// no gallery entries at all, which callers treat as the end of pagination.
//
// Parameters:
//   - logger: Logger instance
//   - body: The HTML content of the page
//
// Returns:
//   - []GalleryEntry: The entries found on the page, possibly empty
func ParseListingPage(logger *slog.Logger, body []byte) []GalleryEntry {
	doc := parseHTML(body)

	var entries []GalleryEntry
	doc.Find("div.gallery").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Find("a").First().Attr("href")
		if !ok {
			return
		}
		match := galleryLinkRegexp.FindStringSubmatch(href)
		if match == nil {
			logger.Debug("Skipping gallery entry with unexpected link", "href", href)
			return
		}
		code, err := strconv.Atoi(match[1])
		if err != nil || code <= 0 {
			logger.Debug("Skipping gallery entry with unparsable code", "href", href)
			return
		}
		entries = append(entries, GalleryEntry{
			Code: code,
			Tags: parseTagAttribute(sel.AttrOr("data-tags", "")),
		})
	})
	return entries
}

// parseTagAttribute converts a whitespace-separated tag-id attribute value
// into a TagSet.  Malformed tokens are dropped silently; a bad token never
// costs the entry its remaining tags.
func parseTagAttribute(raw string) TagSet {
	tags := TagSet{}
	for _, token := range strings.Fields(raw) {
		id, err := strconv.Atoi(token)
		if err != nil || id < 0 {
			continue
		}
		tags[id] = struct{}{}
	}
	return tags
}

// parseHTML wraps goquery document construction for in-memory content.
func parseHTML(body []byte) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		// goquery won't error just because the HTML is malformed.  An error
		// indicates a failure to read from the reader, which should never
		// happen since we're reading from an in-memory byte slice.
		fatalInvariant(err)
	}
	return doc
}
