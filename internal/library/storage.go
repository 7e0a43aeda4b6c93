/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package library owns the content catalog: where video files live, how
// they are discovered, and how a stored path becomes a reference the
// device player can open.
package library

import (
	"context"
	"errors"
	"io"
)

// ErrFileNotFound indicates a storage path with no backing object.
var ErrFileNotFound = errors.New("file not found in storage")

// Storage abstracts the backing object store for catalog assets.
type Storage interface {
	// Open streams the object at a storage path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Put writes an object at a storage path.
	Put(ctx context.Context, path string, data io.Reader) error
	// Delete removes the object at a storage path.
	Delete(ctx context.Context, path string) error
	// Locate turns a storage path into a playable reference: a
	// server-relative media URL for filesystem storage, a presigned
	// absolute URL for object storage.
	Locate(ctx context.Context, path string) (string, error)
	// CheckAccess verifies the backend is reachable.
	CheckAccess(ctx context.Context) error
}
