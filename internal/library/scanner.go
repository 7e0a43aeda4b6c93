/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// scanJob is a unit of work sent to hash workers.
type scanJob struct {
	fullPath string
	relPath  string
	size     int64
}

// discovered describes one video file found during a scan.
type discovered struct {
	RelPath  string
	Title    string
	Fallback bool
	Size     int64
	Hash     string
	Duration float64
}

// scanResult is the result of processing a single file.
type scanResult struct {
	entry discovered
	err   error
}

// scanner walks the library roots and hashes/probes every video file.
type scanner struct {
	roots          []string
	fallbackPrefix string
	workers        int
	ffprobeBin     string
	logger         zerolog.Logger

	probeBroken atomic.Bool
}

func (s *scanner) run(ctx context.Context) ([]discovered, int, error) {
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

	var (
		entries     []discovered
		failed      int
		collectDone sync.WaitGroup
	)
	collectDone.Add(1)
	go func() {
		defer collectDone.Done()
		for r := range results {
			if r.err != nil {
				s.logger.Warn().Err(r.err).Msg("scan: file skipped")
				failed++
				continue
			}
			entries = append(entries, r.entry)
		}
	}()

	for _, root := range s.roots {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("scan: walk error")
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

			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = filepath.Base(path)
			}
			jobs <- scanJob{fullPath: path, relPath: filepath.ToSlash(rel), size: info.Size()}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("root", root).Msg("scan: walk failed")
		}
		if ctx.Err() != nil {
			break
		}
	}

	close(jobs)
	wg.Wait()
	close(results)
	collectDone.Wait()

	if ctx.Err() != nil {
		return entries, failed, ctx.Err()
	}
	return entries, failed, nil
}

func (s *scanner) processFile(ctx context.Context, job scanJob) (discovered, error) {
	hash, err := computeFileHash(job.fullPath)
	if err != nil {
		return discovered{}, fmt.Errorf("%s: hash: %w", job.fullPath, err)
	}

	entry := discovered{
		RelPath:  job.relPath,
		Title:    titleFromFilename(job.relPath),
		Fallback: s.isFallbackPath(job.relPath),
		Size:     job.size,
		Hash:     hash,
	}

	if s.ffprobeBin != "" && !s.probeBroken.Load() {
		duration, title, err := probeVideo(ctx, s.ffprobeBin, job.fullPath)
		switch {
		case err == nil:
			entry.Duration = duration
			if title != "" {
				entry.Title = title
			}
		case errors.Is(err, exec.ErrNotFound):
			if s.probeBroken.CompareAndSwap(false, true) {
				s.logger.Warn().Str("bin", s.ffprobeBin).Msg("ffprobe not found, durations unavailable")
			}
		default:
			s.logger.Debug().Err(err).Str("path", job.fullPath).Msg("probe failed")
		}
	}

	return entry, nil
}

// isFallbackPath reports whether a relative path sits under the
// fallback directory.
func (s *scanner) isFallbackPath(relPath string) bool {
	if s.fallbackPrefix == "" {
		return false
	}
	first, _, _ := strings.Cut(relPath, "/")
	return strings.EqualFold(first, s.fallbackPrefix)
}

// computeFileHash computes the SHA-256 hash of a file.
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

func isVideoFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".mp4", ".mkv", ".avi", ".mov":
		return true
	default:
		return false
	}
}
