package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"net/url"
	"strings"
)

// unknownName is the title used when a detail page has no "pretty" title
// element.
const unknownName = "Unknown Name"

// Cover URL attribute candidates on the cover image element, checked in
// priority order: lazy-load sources first, then the plain source.
var coverAttrPriority = []string{"data-src", "data-lazy-src", "data-original", "src"}

// DetailPage is the parsed form of an item detail page.
type DetailPage struct {
	Title    string
	CoverURL string // empty when the page has no usable cover
}

// ParseDetailPage extracts the title and cover URL from an item detail page.
//
// The cover is taken from the second image element on the page; the first is
// the site's logo.  This positional assumption is deliberately confined to
// this function so it can be swapped for a real selector if the site's markup
// changes.  Fewer than two images is a normal outcome meaning the item has no
// usable cover yet, not an error.
//
// Parameters:
//   - body: The HTML content of the detail page
//   - pageURL: The detail page's own URL, used to absolutize relative covers
//
// Returns:
//   - DetailPage: The parsed title and cover URL
func ParseDetailPage(body []byte, pageURL string) DetailPage {
	doc := parseHTML(body)

	title := strings.TrimSpace(doc.Find("span.pretty").First().Text())
	if title == "" {
		title = unknownName
	}

	images := doc.Find("img")
	if images.Length() < 2 {
		return DetailPage{Title: title}
	}

	cover := ""
	coverImg := images.Eq(1)
	for _, attr := range coverAttrPriority {
		if value, ok := coverImg.Attr(attr); ok && value != "" {
			cover = value
			break
		}
	}

	if cover != "" && !strings.HasPrefix(cover, "http") {
		cover = absolutizeURL(pageURL, cover)
	}

	return DetailPage{Title: title, CoverURL: cover}
}

// absolutizeURL resolves ref against base.  If either fails to parse, ref is
// returned unchanged; a weird-but-present URL beats no URL.
func absolutizeURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
