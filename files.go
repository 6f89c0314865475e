package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// Directory permissions when creating the info and covers directories.
	infoDirPermissions = 0750
)

var (
	ErrInvalidFilePath = fmt.Errorf("invalid file path")
)

// WriteAndFsyncFile writes data to a file and fsyncs it to disk.  fsync is
// required to ensure ordering: store files are replaced via rename, and the
// new content must be durable before the rename commits it.
//
// Parameters:
//   - filePath: The target file path where data should be written
//   - data: The byte data to write to the file
//
// Returns:
//   - error: Any error encountered during file creation, writing, or syncing
func WriteAndFsyncFile(filePath string, data []byte) error {
	// Prevent directory traversal attacks.
	// This should never happen because of the way we construct file paths, but check anyway.
	if filePath != filepath.Clean(filePath) {
		return fmt.Errorf("%w: %s", ErrInvalidFilePath, filePath)
	}

	fh, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = fh.Close() }()

	_, err = fh.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	err = fh.Sync()
	if err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return nil
}

// writeJSONFile marshals v and replaces the file at path atomically: the data
// is written to a temp file, fsynced, then renamed over the target.  A crash
// mid-write leaves the previous file intact.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), infoDirPermissions); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmpPath := path + ".tmp"
	if err := WriteAndFsyncFile(tmpPath, data); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}
