/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// scanJob is a unit of work sent to hash workers.
type scanJob struct {
	fullPath string
	info     os.FileInfo
	rootDir  string
}

// scanResult is the result of processing a single file.
type scanResult struct {
	entry FileEntry
	err   error
}

// scanner walks directories and produces a manifest.
type scanner struct {
	dirs       []string
	workers    int
	noMetadata bool
	ffprobeBin string
	source     string
}

func (s *scanner) scan(ctx context.Context) (*Manifest, error) {
	startTime := time.Now()

	manifest := &Manifest{
		Version:   1,
		Source:    s.source,
		ScannedAt: startTime.UTC(),
		RootDirs:  s.dirs,
	}

	jobs := make(chan scanJob, s.workers*2)
	results := make(chan scanResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				entry, err := s.processFile(ctx, job)
				results <- scanResult{entry: entry, err: err}
			}
		}()
	}

	// Collect results in a separate goroutine
	var entries []FileEntry
	var totalSize int64
	var errCount int
	var collectDone sync.WaitGroup
	collectDone.Add(1)
	go func() {
		defer collectDone.Done()
		for r := range results {
			if r.err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", r.err)
				errCount++
				continue
			}
			entries = append(entries, r.entry)
			totalSize += r.entry.Size
		}
	}()

	// Walk directories and enqueue jobs
	for _, dir := range s.dirs {
		// Expand globs so --dir '/mnt/usb*/videos' works
		matches, err := filepath.Glob(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: invalid glob %q: %v\n", dir, err)
			errCount++
			continue
		}
		if len(matches) == 0 {
			matches = []string{dir}
		}

		for _, matchDir := range matches {
			err := filepath.Walk(matchDir, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: %s: %v\n", path, err)
					errCount++
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if info.IsDir() {
					return nil
				}
				if !isVideoFile(info.Name()) {
					return nil
				}
				jobs <- scanJob{
					fullPath: path,
					info:     info,
					rootDir:  matchDir,
				}
				return nil
			})
			if err != nil && err != context.Canceled {
				fmt.Fprintf(os.Stderr, "warning: walk %s: %v\n", matchDir, err)
			}
		}
	}

	close(jobs)
	wg.Wait()
	close(results)
	collectDone.Wait()

	manifest.Files = entries
	manifest.Stats = ManifestStats{
		TotalFiles:      len(entries),
		TotalSize:       totalSize,
		Errors:          errCount,
		DurationSeconds: time.Since(startTime).Seconds(),
	}

	return manifest, nil
}

func (s *scanner) processFile(ctx context.Context, job scanJob) (FileEntry, error) {
	relPath, err := filepath.Rel(job.rootDir, job.fullPath)
	if err != nil {
		relPath = filepath.Base(job.fullPath)
	}
	relPath = filepath.ToSlash(relPath)

	hash, err := computeFileHash(job.fullPath)
	if err != nil {
		return FileEntry{}, fmt.Errorf("%s: hash: %w", job.fullPath, err)
	}

	entry := FileEntry{
		Path:         job.fullPath,
		RelativePath: relPath,
		Filename:     filepath.Base(job.fullPath),
		Size:         job.info.Size(),
		ModifiedAt:   job.info.ModTime().UTC(),
		ContentHash:  hash,
	}

	meta := &FileMetadata{
		Title:     titleFromFilename(relPath),
		Tags:      tagsFromPath(relPath),
		Container: strings.TrimPrefix(strings.ToLower(filepath.Ext(job.fullPath)), "."),
	}
	if !s.noMetadata {
		if duration, title, err := probeVideo(ctx, s.ffprobeBin, job.fullPath); err == nil {
			meta.DurationSeconds = duration
			if title != "" {
				meta.Title = title
			}
		}
	}
	entry.Metadata = meta

	return entry, nil
}

// computeFileHash computes the SHA-256 hash of a file.
// This matches internal/library/scanner.go:computeFileHash exactly so
// manifest entries line up with catalog rows.
func computeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// probeVideo uses ffprobe to extract the duration and title tag.
func probeVideo(ctx context.Context, bin, filePath string) (float64, string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		filePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, "", fmt.Errorf("ffprobe: %w", err)
	}

	var probe struct {
		Format struct {
			Duration string            `json:"duration"`
			Tags     map[string]string `json:"tags"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, "", fmt.Errorf("parse ffprobe output: %w", err)
	}

	var duration float64
	if probe.Format.Duration != "" {
		if secs, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			duration = secs
		}
	}

	var title string
	for k, v := range probe.Format.Tags {
		if strings.EqualFold(k, "title") {
			title = v
			break
		}
	}

	return duration, title, nil
}

// titleFromFilename derives a display title from the file name.
func titleFromFilename(relPath string) string {
	base := filepath.Base(relPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.ReplaceAll(stem, "_", " ")
	return strings.TrimSpace(stem)
}

// tagsFromPath turns the directory components of a relative path into
// lowercase tags.
func tagsFromPath(relPath string) []string {
	dir := filepath.ToSlash(filepath.Dir(relPath))
	if dir == "." || dir == "/" {
		return nil
	}

	seen := make(map[string]bool)
	var tags []string
	for _, part := range strings.Split(dir, "/") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		tags = append(tags, part)
	}
	return tags
}

func isVideoFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".mp4", ".mkv", ".avi", ".mov":
		return true
	default:
		return false
	}
}
