/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import "time"

// Manifest is the top-level JSON structure produced by bobascan.
// "bobavision backfill" matches its entries against catalog assets by
// content hash, so the format is versioned.
type Manifest struct {
	Version   int           `json:"version"`
	Source    string        `json:"source"`
	ScannedAt time.Time     `json:"scanned_at"`
	RootDirs  []string      `json:"root_dirs"`
	Files     []FileEntry   `json:"files"`
	Stats     ManifestStats `json:"stats"`
}

// FileEntry describes a single scanned video file.
type FileEntry struct {
	Path         string        `json:"path"`
	RelativePath string        `json:"relative_path"`
	Filename     string        `json:"filename"`
	Size         int64         `json:"size"`
	ModifiedAt   time.Time     `json:"modified_at"`
	ContentHash  string        `json:"content_hash"`
	Metadata     *FileMetadata `json:"metadata,omitempty"`
}

// FileMetadata holds ffprobe-extracted details plus tags derived from
// the directory layout (a file under "cartoons/trains/" gets both).
type FileMetadata struct {
	Title           string   `json:"title,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
	Container       string   `json:"container,omitempty"`
}

// ManifestStats holds aggregate scan statistics.
type ManifestStats struct {
	TotalFiles      int     `json:"total_files"`
	TotalSize       int64   `json:"total_size"`
	Errors          int     `json:"errors"`
	DurationSeconds float64 `json:"duration_seconds"`
}
