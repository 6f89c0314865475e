// command saucetrap
package main

// SPDX-License-Identifier: GPL-3.0-only

// This is the main entry point for saucetrap, a catalog scraper and curation
// tool for a remote gallery site.  It is the shell that drives the core
// operations; a GUI front-end would call the same components the same way.

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
)

const (
	catalogFileName   = "usable_codes.json"
	favoritesFileName = "favorite_codes.json"
	tagsFileName      = "tags.json"

	// How often scrape progress is polled and logged.
	progressPollInterval = 2 * time.Second
)

var (
	// Build information, set via -ldflags at build time.
	buildGitCommitHash = "unknown"
	buildTimestamp     = "unknown"
)

// Config holds the application configuration parsed from CLI flags.
type Config struct {
	Debug          bool   // Enable debug logging
	SettingsPath   string // Path to the settings JSON file
	Full           bool   // Run a full catalog scrape
	Update         bool   // Run an incremental catalog scrape
	FetchTags      bool   // Refresh the tag directory from the site
	DownloadCovers bool   // Materialize cover files for visible codes
	Favorite       int    // Code to add to favorites
	Discard        int    // Code to discard
	Progress       string // code:page reading bookmark to record
}

func main() {
	config := ParseFlags()
	logger := CreateLogger(os.Stderr, config.Debug)

	logger.Info("Starting saucetrap",
		"commit", buildGitCommitHash,
		"buildDate", buildTimestamp)

	settings, err := LoadSettings(logger, config.SettingsPath)
	if err != nil {
		logger.Error("Failed to load settings", "path", config.SettingsPath, "error", err)
		os.Exit(1)
	}

	catalogPath := filepath.Join(settings.Paths.InfoDir, catalogFileName)
	catalog, err := LoadCatalog(catalogPath)
	if err != nil {
		logger.Error("Failed to load catalog", "path", catalogPath, "error", err)
		os.Exit(1)
	}

	tagsPath := filepath.Join(settings.Paths.InfoDir, tagsFileName)
	tags, err := LoadTags(tagsPath)
	if err != nil {
		logger.Error("Failed to load tag directory", "path", tagsPath, "error", err)
		os.Exit(1)
	}

	favoritesPath := filepath.Join(settings.Paths.InfoDir, favoritesFileName)
	favorites, err := LoadFavorites(favoritesPath)
	if err != nil {
		logger.Error("Failed to load favorites", "path", favoritesPath, "error", err)
		os.Exit(1)
	}

	client := NewHTTPClient(logger, settings.Network)
	covers := NewCoverLoader(logger, client)
	ctx := context.Background()

	if config.FetchTags {
		fetched, err := FetchTagDirectory(logger, client)
		if err != nil {
			logger.Error("Tag fetch failed", "error", err)
			os.Exit(1)
		}
		if err := fetched.Save(tagsPath); err != nil {
			logger.Error("Failed to save tag directory", "error", err)
			os.Exit(1)
		}
		tags = fetched
	}

	if config.Full || config.Update {
		mode := FullScrape
		if config.Update {
			mode = IncrementalScrape
		}
		scraper := NewScraper(logger, client, catalog, catalogPath, covers,
			tags.Names(settings.BannedTags))
		runScrape(ctx, logger, scraper, mode)
	}

	if config.DownloadCovers {
		downloadCovers(ctx, covers, catalog, settings.Paths.CoversDir)
	}

	curator := NewCurator(logger, client, settings, catalog, catalogPath,
		favorites, favoritesPath)
	if err := runCuration(config, curator); err != nil {
		logger.Error("Curation action failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Done!")
}

// runScrape starts a scrape job and polls its progress the way a UI timer
// would, logging the counters until the job reports done.
func runScrape(ctx context.Context, logger *slog.Logger, scraper *Scraper, mode ScrapeMode) {
	job := scraper.Start(ctx, mode)
	for {
		current, max, done := job.Progress()
		if done {
			break
		}
		logger.Info("Scrape progress", "current", current, "max", max)
		time.Sleep(progressPollInterval)
	}

	if err := job.Wait(); err != nil {
		logger.Error("Scrape failed", "error", err)
		os.Exit(1)
	}
}

// downloadCovers materializes cover files for every visible code that
// doesn't have one yet.  Concurrency is bounded by the loader's shared
// fetch gate, so we can launch these all at once.
func downloadCovers(ctx context.Context, covers *CoverLoader, catalog Catalog, coversDir string) {
	var wg sync.WaitGroup
	for _, code := range catalog.VisibleCodes() {
		wg.Add(1)
		go func(code int) {
			defer wg.Done()
			_ = covers.Download(ctx, code, coversDir)
		}(code)
	}
	wg.Wait()
}

// runCuration applies whichever curation flags were given.
func runCuration(config Config, curator *Curator) error {
	if config.Favorite > 0 {
		if err := curator.Favorite(config.Favorite); err != nil {
			return err
		}
	}
	if config.Discard > 0 {
		if err := curator.Discard(config.Discard); err != nil {
			return err
		}
	}
	if config.Progress != "" {
		code, page, err := parseProgressFlag(config.Progress)
		if err != nil {
			return err
		}
		return curator.SaveProgress(code, page)
	}
	return nil
}

// parseProgressFlag splits a "code:page" flag value.
func parseProgressFlag(value string) (int, string, error) {
	codeStr, page, found := strings.Cut(value, ":")
	if !found {
		return 0, "", fmt.Errorf("%w: expected code:page, got %q", ErrInvalidCode, value)
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil || code <= 0 {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidCode, codeStr)
	}
	return code, page, nil
}

// ParseFlags parses command line flags and returns a Config.
//
// Returns:
//   - Config: A populated configuration struct with values from CLI flags
func ParseFlags() Config {
	config := Config{}

	pflag.BoolVarP(&config.Debug, "debug", "d", false, "Enable debug logging")
	pflag.StringVarP(&config.SettingsPath, "settings", "s", filepath.Join("Info", "settings.json"),
		"Path to the settings file")
	pflag.BoolVarP(&config.Full, "full", "f", false, "Run a full catalog scrape")
	pflag.BoolVarP(&config.Update, "update", "u", false, "Run an incremental catalog scrape")
	pflag.BoolVarP(&config.FetchTags, "fetch-tags", "t", false, "Refresh the tag directory")
	pflag.BoolVarP(&config.DownloadCovers, "download-covers", "c", false,
		"Download cover files for visible codes")
	pflag.IntVar(&config.Favorite, "favorite", 0, "Add the given code to favorites")
	pflag.IntVar(&config.Discard, "discard", 0, "Discard the given code")
	pflag.StringVar(&config.Progress, "progress", "", "Record a code:page reading bookmark")

	pflag.Parse()

	anyAction := config.Full || config.Update || config.FetchTags || config.DownloadCovers ||
		config.Favorite > 0 || config.Discard > 0 || config.Progress != ""

	// Check for unexpected positional arguments
	if pflag.NArg() > 0 || !anyAction {
		fmt.Fprintf(os.Stderr,
			"usage: %s [-d] [-s <settings_file>] (-f | -u | -t | -c | --favorite <code> | --discard <code> | --progress <code:page>)\n\n",
			os.Args[0])
		pflag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "\nAt least one action must be specified")
		os.Exit(1)
	}

	return config
}

// CreateLogger creates a new slog.Logger instance with the specified output
// writer and log level based on the debug flag.
//
// Parameters:
//   - w: The io.Writer where log output will be written
//   - debug: If true, sets log level to Debug; otherwise sets to Info
//
// Returns:
//   - *slog.Logger: A configured logger instance
func CreateLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// fatalInvariant intentionally panics when a fundamental assumption is broken.
// These checks keep the scraper from continuing in a corrupted state, so we do
// not attempt to recover or retry if one of them triggers.  This is used in
// cases where an error must not be returned up the stack, because the caller
// must not be allowed to retry or continue processing.
func fatalInvariant(message any) {
	panic(message)
}
