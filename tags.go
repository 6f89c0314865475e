package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrNoTagsFound = errors.New("no tags found on the tag index")
)

// TagDirectory maps tag ids to their display names.  It is refreshed
// wholesale from the remote site's tag index; refreshes never partially merge
// into an existing directory.
type TagDirectory map[int]string

// LoadTags reads the tag directory JSON file.  A missing file yields an
// empty directory.
//
// Parameters:
//   - path: Location of the tag directory JSON file
//
// Returns:
//   - TagDirectory: The loaded directory, possibly empty
//   - error: Any error encountered reading or decoding the file
func LoadTags(path string) (TagDirectory, error) {
	data, err := os.ReadFile(path) //#nosec G304: path comes from user settings
	if errors.Is(err, fs.ErrNotExist) {
		return TagDirectory{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tag file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode tag file: %w", err)
	}

	tags := make(TagDirectory, len(raw))
	for idStr, name := range raw {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, fmt.Errorf("failed to decode tag file: bad tag id %q: %w", idStr, err)
		}
		tags[id] = name
	}
	return tags, nil
}

// Save persists the directory to path, replacing the previous contents.
func (d TagDirectory) Save(path string) error {
	raw := make(map[string]string, len(d))
	for id, name := range d {
		raw[strconv.Itoa(id)] = name
	}
	return writeJSONFile(path, raw)
}

// Name returns the display name for a tag id, falling back to the numeric id
// for tags the directory doesn't know.
func (d TagDirectory) Name(id int) string {
	if name, ok := d[id]; ok {
		return name
	}
	return strconv.Itoa(id)
}

// Names maps a list of tag ids to display names, preserving order.
func (d TagDirectory) Names(ids []int) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = d.Name(id)
	}
	return names
}

// FindIDs returns the ids of all tags whose name contains the query,
// case-insensitively.  Used for name-based tag filters.
func (d TagDirectory) FindIDs(query string) []int {
	query = strings.ToLower(query)
	var ids []int
	for id, name := range d {
		if strings.Contains(strings.ToLower(name), query) {
			ids = append(ids, id)
		}
	}
	return ids
}

// FetchTagDirectory crawls the site's paginated tag index and returns a
// complete directory.  The last page number is taken from page 1; individual
// page failures are logged and skipped.  An entirely empty result is an
// error so callers don't wipe a previously good directory with it.
//
// Parameters:
//   - logger: Logger instance
//   - client: HTTP client interface for making web requests
//
// Returns:
//   - TagDirectory: The fetched directory
//   - error: ErrNoTagsFound if nothing was fetched, or the initial fetch error
func FetchTagDirectory(logger *slog.Logger, client Client) (TagDirectory, error) {
	firstBody, err := client.Get(tagIndexURL(1))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tag index: %w", err)
	}
	lastPage := ParseLastPage(logger, firstBody)
	logger.Info("Fetching tags", "pages", lastPage)

	tags := TagDirectory{}
	mergeTagIndexPage(tags, firstBody)

	for page := 2; page <= lastPage; page++ {
		body, err := client.Get(tagIndexURL(page))
		if err != nil {
			logger.Error("Tag index page fetch failed, skipping", "page", page, "error", err)
			continue
		}
		mergeTagIndexPage(tags, body)
	}

	if len(tags) == 0 {
		return nil, ErrNoTagsFound
	}
	logger.Info("Tag fetch complete", "count", len(tags))
	return tags, nil
}

// tagIndexURL returns the URL of one page of the site's tag index.
func tagIndexURL(page int) string {
	return fmt.Sprintf("%s/tags/?page=%d", siteBaseURL, page)
}

// mergeTagIndexPage parses one tag-index page into the directory.  Each tag
// anchor carries its id in a trailing "tag-<id>" class token and its name in
// a nested span; anchors that don't fit that shape are skipped.
func mergeTagIndexPage(tags TagDirectory, body []byte) {
	doc := parseHTML(body)
	doc.Find("#tag-container a").Each(func(_ int, sel *goquery.Selection) {
		id, ok := tagIDFromClass(sel.AttrOr("class", ""))
		if !ok {
			return
		}
		name := strings.TrimSpace(sel.Find("span").First().Text())
		if name == "" {
			return
		}
		tags[id] = name
	})
}

// tagIDFromClass extracts the numeric id from the last "tag-<id>" class
// token of a tag anchor's class attribute.
func tagIDFromClass(class string) (int, bool) {
	fields := strings.Fields(class)
	if len(fields) == 0 {
		return 0, false
	}
	last := fields[len(fields)-1]
	idx := strings.LastIndex(last, "-")
	if idx < 0 {
		return 0, false
	}
	id, err := strconv.Atoi(last[idx+1:])
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
