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
)

var (
	ErrInvalidCode    = errors.New("code must be a positive integer")
	ErrNotInFavorites = errors.New("code is not in favorites")
)

// FavoriteRecord is one favorited item: the display title fetched from its
// detail page, a snapshot of its tags at favoriting time, and an optional
// folder grouping label ("" = ungrouped).
type FavoriteRecord struct {
	Tags   TagSet `json:"tags"`
	Name   string `json:"name"`
	Folder string `json:"folder,omitempty"`
}

// Favorites maps item codes to their favorite records.  It shares the code
// domain with the catalog but is a separate namespace with its own file.
type Favorites map[int]*FavoriteRecord

// LoadFavorites reads the favorites JSON file.  A missing file yields an
// empty set.
func LoadFavorites(path string) (Favorites, error) {
	data, err := os.ReadFile(path) //#nosec G304: path comes from user settings
	if errors.Is(err, fs.ErrNotExist) {
		return Favorites{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read favorites file: %w", err)
	}

	var raw map[string]*FavoriteRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode favorites file: %w", err)
	}

	favorites := make(Favorites, len(raw))
	for codeStr, record := range raw {
		code, err := strconv.Atoi(codeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to decode favorites file: bad code %q: %w", codeStr, err)
		}
		if record.Tags == nil {
			record.Tags = TagSet{}
		}
		favorites[code] = record
	}
	return favorites, nil
}

// Save persists the favorites to path, replacing the previous contents.
func (f Favorites) Save(path string) error {
	raw := make(map[string]*FavoriteRecord, len(f))
	for code, record := range f {
		raw[strconv.Itoa(code)] = record
	}
	return writeJSONFile(path, raw)
}

// Folders returns the distinct non-empty folder names in use.
func (f Favorites) Folders() []string {
	seen := map[string]bool{}
	var folders []string
	for _, record := range f {
		if record.Folder != "" && !seen[record.Folder] {
			seen[record.Folder] = true
			folders = append(folders, record.Folder)
		}
	}
	return folders
}

// Curator applies user curation actions (favorite, discard, reading
// progress, folder grouping) across the catalog, favorites, and settings
// stores.  All three stores are owned by the caller and passed in; the
// curator persists whichever ones an action touches.
type Curator struct {
	logger        *slog.Logger
	client        Client
	settings      *Settings
	catalog       Catalog
	catalogPath   string
	favorites     Favorites
	favoritesPath string
}

// NewCurator creates a new Curator instance over the given stores.
func NewCurator(
	logger *slog.Logger,
	client Client,
	settings *Settings,
	catalog Catalog,
	catalogPath string,
	favorites Favorites,
	favoritesPath string,
) *Curator {
	return &Curator{
		logger:        logger,
		client:        client,
		settings:      settings,
		catalog:       catalog,
		catalogPath:   catalogPath,
		favorites:     favorites,
		favoritesPath: favoritesPath,
	}
}

// Favorite adds code to the favorites with a tag snapshot and its display
// title fetched from the detail page, then hides it from random browsing and
// clears any reading bookmark.  Codes never seen by a scrape get a stub
// catalog record backfilled first.
//
// Parameters:
//   - code: The item code to favorite
//
// Returns:
//   - error: ErrInvalidCode, or any persistence error
func (c *Curator) Favorite(code int) error {
	if code <= 0 {
		return ErrInvalidCode
	}

	record := c.catalog.EnsureRecord(code)
	c.favorites[code] = &FavoriteRecord{
		Tags: NewTagSet(record.Tags.Sorted()...),
		Name: c.fetchName(code),
	}
	if err := c.favorites.Save(c.favoritesPath); err != nil {
		return err
	}
	return c.hideCode(code)
}

// Unfavorite removes code from the favorites.
func (c *Curator) Unfavorite(code int) error {
	if _, ok := c.favorites[code]; !ok {
		return fmt.Errorf("%w: %d", ErrNotInFavorites, code)
	}
	delete(c.favorites, code)
	return c.favorites.Save(c.favoritesPath)
}

// Discard hides code from random browsing, clears any reading bookmark, and
// deletes its cached cover file.  The catalog record itself is kept; discards
// only flip visibility.
//
// Parameters:
//   - code: The item code to discard
//
// Returns:
//   - error: ErrInvalidCode, or any persistence error
func (c *Curator) Discard(code int) error {
	if code <= 0 {
		return ErrInvalidCode
	}

	if err := c.hideCode(code); err != nil {
		return err
	}

	coverPath := coverFilePath(c.settings.Paths.CoversDir, code)
	if err := os.Remove(coverPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cover file: %w", err)
	}
	return nil
}

// SaveProgress records a reading bookmark for code at the given page and
// hides the code from random browsing until the user favorites or discards
// it.
//
// Parameters:
//   - code: The item code being read
//   - page: The page number to bookmark, kept as entered
//
// Returns:
//   - error: ErrInvalidCode, or any persistence error
func (c *Curator) SaveProgress(code int, page string) error {
	if code <= 0 {
		return ErrInvalidCode
	}

	if record, ok := c.catalog[code]; ok && record.Visible != 0 {
		record.Visible = 0
		if err := c.catalog.Save(c.catalogPath); err != nil {
			return err
		}
	}

	c.settings.InProgress[strconv.Itoa(code)] = page
	return c.settings.Write()
}

// AssignFolder puts a favorited code into the named folder.  An empty name
// removes it from its folder.
func (c *Curator) AssignFolder(code int, folder string) error {
	record, ok := c.favorites[code]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotInFavorites, code)
	}
	record.Folder = folder
	return c.favorites.Save(c.favoritesPath)
}

// ClearFolder removes a favorited code from its folder.
func (c *Curator) ClearFolder(code int) error {
	return c.AssignFolder(code, "")
}

// hideCode flips code invisible in the catalog and drops its in-progress
// bookmark, persisting whichever stores actually changed.
func (c *Curator) hideCode(code int) error {
	if record, ok := c.catalog[code]; ok && record.Visible != 0 {
		record.Visible = 0
		if err := c.catalog.Save(c.catalogPath); err != nil {
			return err
		}
	}

	codeStr := strconv.Itoa(code)
	if _, ok := c.settings.InProgress[codeStr]; ok {
		delete(c.settings.InProgress, codeStr)
		return c.settings.Write()
	}
	return nil
}

// fetchName retrieves the display title for code from its detail page.  Any
// failure degrades to the unknown-name sentinel; favoriting must work even
// when the site doesn't.
func (c *Curator) fetchName(code int) string {
	pageURL := galleryURL(code)
	body, err := c.client.Get(pageURL)
	if err != nil {
		c.logger.Warn("Name fetch failed", "code", code, "error", err)
		return unknownName
	}
	return ParseDetailPage(body, pageURL).Title
}
