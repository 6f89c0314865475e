package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const settingsFilePermissions = 0600

// ThemeSettings carries the UI theme preferences.  The core never interprets
// them; they are persisted here because the settings file owns them.
type ThemeSettings struct {
	Name       string `mapstructure:"name" json:"name"`
	FontFamily string `mapstructure:"font_family" json:"font_family"`
	FontSize   int    `mapstructure:"font_size" json:"font_size"`
}

// NetworkSettings configures the HTTP fetch client.
type NetworkSettings struct {
	TimeoutSeconds int    `mapstructure:"timeout" json:"timeout"`
	RetryAttempts  int    `mapstructure:"retry_attempts" json:"retry_attempts"`
	Proxy          string `mapstructure:"proxy" json:"proxy"`
}

// Timeout returns the per-attempt network timeout as a duration.
func (n NetworkSettings) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// PathSettings names the local directories and files the application writes.
type PathSettings struct {
	InfoDir   string `mapstructure:"info_directory" json:"info_directory"`
	CoversDir string `mapstructure:"covers_directory" json:"covers_directory"`
	LogFile   string `mapstructure:"log_file" json:"log_file"`
}

// Settings is the persisted user configuration.  A missing settings file is
// replaced with documented defaults on first load; an unreadable one is a
// fatal initialization error because the application cannot safely run with
// unknown configuration.
type Settings struct {
	Theme      ThemeSettings     `mapstructure:"theme" json:"theme"`
	WindowSize string            `mapstructure:"window_size" json:"window_size"`
	Network    NetworkSettings   `mapstructure:"network" json:"network"`
	Paths      PathSettings      `mapstructure:"paths" json:"paths"`
	BannedTags []int             `mapstructure:"banned_tags" json:"banned_tags"`
	InProgress map[string]string `mapstructure:"in_progress" json:"in_progress"`
	Images     bool              `mapstructure:"images" json:"images"`

	path string
}

func setSettingsDefaults(v *viper.Viper) {
	v.SetDefault("theme.name", "arc")
	v.SetDefault("theme.font_family", "Helvetica")
	v.SetDefault("theme.font_size", 10)
	v.SetDefault("window_size", "400x510")
	v.SetDefault("network.timeout", 10)
	v.SetDefault("network.retry_attempts", 3)
	v.SetDefault("network.proxy", "")
	v.SetDefault("paths.info_directory", "Info")
	v.SetDefault("paths.covers_directory", "Covers")
	v.SetDefault("paths.log_file", filepath.Join("Logs", "saucetrap.log"))
	v.SetDefault("banned_tags", []int{})
	v.SetDefault("in_progress", map[string]string{})
	v.SetDefault("images", true)
}

// LoadSettings reads the settings JSON file at path.  Every key has a
// registered default, so a partial file is tolerated.  If the file does not
// exist, the defaults are written to disk so the user has something to edit.
//
// Parameters:
//   - logger: Logger instance
//   - path: Location of the settings JSON file
//
// Returns:
//   - *Settings: The loaded (or default) settings
//   - error: A fatal error if the file exists but cannot be read or parsed
func LoadSettings(logger *slog.Logger, path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setSettingsDefaults(v)

	created := false
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
		logger.Info("Settings file missing, creating defaults", "path", path)
		created = true
	}

	settings := &Settings{path: path}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if settings.InProgress == nil {
		settings.InProgress = map[string]string{}
	}
	if settings.BannedTags == nil {
		settings.BannedTags = []int{}
	}

	if created {
		if err := settings.Write(); err != nil {
			return nil, err
		}
	}
	return settings, nil
}

// Write persists the settings back to the file they were loaded from.
func (s *Settings) Write() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), infoDirPermissions); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, settingsFilePermissions); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// IsTagBanned reports whether the given tag id is on the banned list.
func (s *Settings) IsTagBanned(id int) bool {
	for _, banned := range s.BannedTags {
		if banned == id {
			return true
		}
	}
	return false
}

// BanTag toggles the banned state of the given tag id and reports the new
// state (true = now banned).
func (s *Settings) BanTag(id int) bool {
	for i, banned := range s.BannedTags {
		if banned == id {
			s.BannedTags = append(s.BannedTags[:i], s.BannedTags[i+1:]...)
			return false
		}
	}
	s.BannedTags = append(s.BannedTags, id)
	return true
}
