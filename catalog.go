package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
)

// TagSet is a set of tag ids.  The JSON form is a plain list; duplicate
// values in a persisted list are collapsed on load since the file format
// enforces no uniqueness.
type TagSet map[int]struct{}

// NewTagSet builds a TagSet from the given ids.
func NewTagSet(ids ...int) TagSet {
	ts := make(TagSet, len(ids))
	for _, id := range ids {
		ts[id] = struct{}{}
	}
	return ts
}

// Contains reports whether id is in the set.
func (ts TagSet) Contains(id int) bool {
	_, ok := ts[id]
	return ok
}

// ContainsAny reports whether any of the given ids is in the set.
func (ts TagSet) ContainsAny(ids []int) bool {
	for _, id := range ids {
		if ts.Contains(id) {
			return true
		}
	}
	return false
}

// Sorted returns the tag ids in ascending order.
func (ts TagSet) Sorted() []int {
	ids := make([]int, 0, len(ts))
	for id := range ts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// MarshalJSON encodes the set as a sorted list so the persisted form is
// stable across runs.
func (ts TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Sorted())
}

// UnmarshalJSON decodes a JSON list into the set, dropping duplicates.
func (ts *TagSet) UnmarshalJSON(data []byte) error {
	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*ts = NewTagSet(ids...)
	return nil
}

// CatalogRecord is one scraped item.  Tags reflect the site's latest
// observation and are overwritten wholesale on each scrape; Cover is
// immutable once non-empty and only (re)resolved while empty.  Visible is 1
// while the item is eligible for random browsing and 0 once the user has
// favorited, discarded, or started reading it.
type CatalogRecord struct {
	Tags    TagSet `json:"tags"`
	Cover   string `json:"cover"`
	Visible int    `json:"visible"`
}

// Catalog maps item codes to their records.  Codes are positive integers
// assigned by the remote site; the map guarantees there are no duplicates.
type Catalog map[int]*CatalogRecord

// LoadCatalog reads the catalog JSON file.  A missing file is a first run
// and yields an empty catalog; a file that exists but cannot be parsed is an
// error.
//
// Parameters:
//   - path: Location of the catalog JSON file
//
// Returns:
//   - Catalog: The loaded catalog, possibly empty
//   - error: Any error encountered reading or decoding the file
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path) //#nosec G304: path comes from user settings
	if errors.Is(err, fs.ErrNotExist) {
		return Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var raw map[string]*CatalogRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode catalog file: %w", err)
	}

	catalog := make(Catalog, len(raw))
	for codeStr, record := range raw {
		code, err := strconv.Atoi(codeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to decode catalog file: bad code %q: %w", codeStr, err)
		}
		if record.Tags == nil {
			record.Tags = TagSet{}
		}
		catalog[code] = record
	}
	return catalog, nil
}

// Save persists the whole catalog to path in one wholesale write, replacing
// whatever was there.  Callers own the load-mutate-save cycle; there is no
// merging and no locking (single-writer desktop tool).
func (c Catalog) Save(path string) error {
	raw := make(map[string]*CatalogRecord, len(c))
	for code, record := range c {
		raw[strconv.Itoa(code)] = record
	}
	return writeJSONFile(path, raw)
}

// MaxCode returns the highest code in the catalog, or 0 when it is empty.
// Incremental scrapes use this as their stop boundary.
func (c Catalog) MaxCode() int {
	maxCode := 0
	for code := range c {
		if code > maxCode {
			maxCode = code
		}
	}
	return maxCode
}

// VisibleCodes returns the codes still eligible for random browsing, in
// ascending order.
func (c Catalog) VisibleCodes() []int {
	var codes []int
	for code, record := range c {
		if record.Visible == 1 {
			codes = append(codes, code)
		}
	}
	sort.Ints(codes)
	return codes
}

// EnsureRecord returns the record for code, creating a visible stub if the
// code has never been cataloged.  Used to backfill codes that arrive via
// favorites rather than a scrape.
func (c Catalog) EnsureRecord(code int) *CatalogRecord {
	if record, ok := c[code]; ok {
		return record
	}
	record := &CatalogRecord{Tags: TagSet{}, Visible: 1}
	c[code] = record
	return record
}

// ResetVisibility marks every record visible again.
func (c Catalog) ResetVisibility() {
	for _, record := range c {
		record.Visible = 1
	}
}
