/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FilesystemStorage implements Storage over the configured library
// roots. Storage paths are kept relative with forward slashes; reads
// try each root in order so a catalog spread over several mounts still
// resolves.
type FilesystemStorage struct {
	roots  []string
	logger zerolog.Logger
}

// NewFilesystemStorage creates a filesystem-based storage backend.
func NewFilesystemStorage(roots []string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{
		roots:  roots,
		logger: logger,
	}
}

// resolve finds the first root containing the relative path. Paths that
// escape the roots are rejected.
func (fs *FilesystemStorage) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	for _, root := range fs.roots {
		full := filepath.Join(root, clean)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			return full, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
}

// Open streams a library file.
func (fs *FilesystemStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// Put writes a file under the primary root.
func (fs *FilesystemStorage) Put(ctx context.Context, path string, data io.Reader) error {
	clean := filepath.Clean(filepath.FromSlash(path))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("invalid storage path %q", path)
	}

	full := filepath.Join(fs.roots[0], clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	dest, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, data); err != nil {
		os.Remove(full)
		return fmt.Errorf("write file: %w", err)
	}

	fs.logger.Debug().Str("path", full).Msg("filesystem storage: file stored")
	return nil
}

// Delete removes a library file.
func (fs *FilesystemStorage) Delete(ctx context.Context, path string) error {
	full, err := fs.resolve(path)
	if err != nil {
		return nil
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	fs.logger.Debug().Str("path", full).Msg("filesystem storage: file deleted")
	return nil
}

// Locate returns the server-relative media URL for a stored file. The
// device agent joins it with the server base URL before launching the
// player.
func (fs *FilesystemStorage) Locate(ctx context.Context, path string) (string, error) {
	escaped := make([]string, 0, 4)
	for _, segment := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return "/media/" + strings.Join(escaped, "/"), nil
}

// CheckAccess verifies every configured root exists and is a directory.
func (fs *FilesystemStorage) CheckAccess(ctx context.Context) error {
	for _, root := range fs.roots {
		info, err := os.Stat(root)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("library root does not exist: %s", root)
			}
			return fmt.Errorf("cannot access library root: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("library root is not a directory: %s", root)
		}
	}
	return nil
}
