// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionstore keeps a session snapshot on disk between runs.
//
// The file holds the encoded [messaging.Snapshot] blob. It is written
// atomically (temporary file, fsync, rename) so a crash mid-save
// leaves either the old snapshot or the new one, never a torn file.
// The blob carries live credentials, so the file is created 0600 and
// its directory 0700.
package sessionstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/wxweb/messaging"
)

// File stores a snapshot at Path.
type File struct {
	Path string
}

// Load reads and decodes the snapshot. A missing file returns
// (nil, nil): there is simply no session to resume. A file that exists
// but does not decode is an error; callers usually delete it and log in
// fresh.
func (f File) Load() (*messaging.Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	snapshot, err := messaging.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("session file %s: %w", f.Path, err)
	}
	return snapshot, nil
}

// Save encodes snapshot and atomically replaces the file, creating the
// parent directory if needed.
func (f File) Save(snapshot *messaging.Snapshot) error {
	data, err := messaging.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	directory := filepath.Dir(f.Path)
	if err := os.MkdirAll(directory, 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	temporaryPath := f.Path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary session file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary session file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary session file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary session file: %w", err)
	}

	if err := os.Rename(temporaryPath, f.Path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming session file into place: %w", err)
	}

	if parent, err := os.Open(directory); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// Delete removes the file. Deleting a file that does not exist is not
// an error.
func (f File) Delete() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}
