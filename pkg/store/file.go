package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

const (
	dirPerms  = 0o700
	filePerms = 0o600
)

// File stores users as a pretty-printed JSON array.
type File struct {
	path string
}

// NewFile returns a file store rooted at path. The directory is created if missing.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("store path must not be empty")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), dirPerms); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &File{path: cleanPath}, nil
}

// Load reads all users. A missing file is an empty directory.
func (f *File) Load(_ context.Context) ([]types.User, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("User list not found, starting empty", "component", "store", "path", f.path)
			return nil, nil
		}
		return nil, fmt.Errorf("reading user list: %w", err)
	}

	var users []types.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("decoding user list: %w", err)
	}
	return users, nil
}

// ReplaceAll rewrites the whole file atomically.
func (f *File) ReplaceAll(_ context.Context, users []types.User) error {
	if users == nil {
		users = []types.User{}
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding user list: %w", err)
	}

	tmpPath := f.path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerms)
	if err != nil {
		return fmt.Errorf("creating user list: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing user list: %w", err)
	}

	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("syncing user list: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing user list: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming user list: %w", err)
	}

	slog.Debug("User list written", "component", "store", "path", f.path, "users", len(users))
	return nil
}
