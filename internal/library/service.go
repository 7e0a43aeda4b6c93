/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aerugo/bobavision/internal/config"
	"github.com/aerugo/bobavision/internal/events"
	"github.com/aerugo/bobavision/internal/models"
	"github.com/aerugo/bobavision/internal/store"
	"github.com/aerugo/bobavision/internal/telemetry"
)

// ErrScanBusy indicates a scan is already running.
var ErrScanBusy = errors.New("scan already in progress")

// Service manages the content catalog and its backing storage.
type Service struct {
	store   *store.Store
	storage Storage
	bus     *events.Bus
	logger  zerolog.Logger

	backend        config.StorageBackend
	roots          []string
	fallbackPrefix string
	workers        int
	ffprobeBin     string

	scanMu sync.Mutex
}

// NewService creates a library service using filesystem or S3 storage
// based on config.
func NewService(cfg *config.Config, st *store.Store, bus *events.Bus, logger zerolog.Logger) (*Service, error) {
	logger = logger.With().Str("component", "library").Logger()

	var storage Storage
	switch cfg.StorageBackend {
	case config.StorageS3:
		if cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "" {
			logger.Warn().Msg("S3 credentials not configured, some operations may fail")
		}
		s3Storage, err := NewS3Storage(context.Background(), S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			UsePathStyle:    cfg.S3UsePathStyle,
			PresignTTL:      cfg.S3PresignTTL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize s3 storage: %w", err)
		}
		storage = s3Storage
	default:
		storage = NewFilesystemStorage(cfg.LibraryRoots, logger)
	}

	return &Service{
		store:          st,
		storage:        storage,
		bus:            bus,
		logger:         logger,
		backend:        cfg.StorageBackend,
		roots:          cfg.LibraryRoots,
		fallbackPrefix: cfg.FallbackPrefix,
		workers:        cfg.ScanWorkers,
		ffprobeBin:     cfg.FFProbeBin,
	}, nil
}

// Resolve turns an asset into the playable reference handed to devices.
func (s *Service) Resolve(ctx context.Context, asset models.Asset) (string, error) {
	location, err := s.storage.Locate(ctx, asset.StoragePath)
	if err != nil {
		return "", fmt.Errorf("resolve asset %s: %w", asset.ID, err)
	}
	return location, nil
}

// Open streams a stored file, used by the media serving endpoint.
func (s *Service) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.storage.Open(ctx, path)
}

// Delete removes an asset's backing file.
func (s *Service) Delete(ctx context.Context, path string) error {
	return s.storage.Delete(ctx, path)
}

// CheckStorageAccess verifies that the storage backend is accessible.
func (s *Service) CheckStorageAccess() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.storage.CheckAccess(ctx)
}

// ScanReport summarizes one library scan.
type ScanReport struct {
	Scanned int           `json:"scanned"`
	Added   int           `json:"added"`
	Updated int           `json:"updated"`
	Removed int           `json:"removed"`
	Failed  int           `json:"failed"`
	Elapsed time.Duration `json:"-"`
}

// Scan walks the library roots, upserts every discovered video into the
// catalog, and prunes catalog rows whose backing file vanished. One
// scan runs at a time.
func (s *Service) Scan(ctx context.Context) (ScanReport, error) {
	if !s.scanMu.TryLock() {
		return ScanReport{}, ErrScanBusy
	}
	defer s.scanMu.Unlock()

	start := time.Now()
	sc := &scanner{
		roots:          s.roots,
		fallbackPrefix: s.fallbackPrefix,
		workers:        s.workers,
		ffprobeBin:     s.ffprobeBin,
		logger:         s.logger,
	}

	entries, failed, err := sc.run(ctx)
	if err != nil {
		return ScanReport{Failed: failed, Elapsed: time.Since(start)}, err
	}

	report := ScanReport{Scanned: len(entries), Failed: failed}
	seen := make(map[string]bool, len(entries))

	for _, entry := range entries {
		asset, created, err := s.store.UpsertAssetByPath(ctx, models.Asset{
			StoragePath:     entry.RelPath,
			Title:           entry.Title,
			Fallback:        entry.Fallback,
			DurationSeconds: entry.Duration,
			ContentHash:     entry.Hash,
			SizeBytes:       entry.Size,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("path", entry.RelPath).Msg("scan: upsert failed")
			telemetry.ScanAssetsTotal.WithLabelValues("error").Inc()
			report.Failed++
			continue
		}
		seen[entry.RelPath] = true

		if created {
			report.Added++
			telemetry.ScanAssetsTotal.WithLabelValues("added").Inc()
			s.bus.Publish(events.EventAssetScanned, events.Payload{
				"asset_id": asset.ID,
				"title":    asset.Title,
				"path":     asset.StoragePath,
				"fallback": asset.Fallback,
			})
		} else {
			report.Updated++
			telemetry.ScanAssetsTotal.WithLabelValues("updated").Inc()
		}
	}

	// Files can only vanish from roots we walked, so pruning is a
	// filesystem-backend concern.
	if s.backend == config.StorageFS {
		removed, err := s.pruneMissing(ctx, seen)
		if err != nil {
			s.logger.Warn().Err(err).Msg("scan: prune failed")
		}
		report.Removed = removed
	}

	report.Elapsed = time.Since(start)
	s.bus.Publish(events.EventScanFinished, events.Payload{
		"scanned": report.Scanned,
		"added":   report.Added,
		"updated": report.Updated,
		"removed": report.Removed,
		"failed":  report.Failed,
	})
	s.logger.Info().
		Int("scanned", report.Scanned).
		Int("added", report.Added).
		Int("updated", report.Updated).
		Int("removed", report.Removed).
		Int("failed", report.Failed).
		Dur("elapsed", report.Elapsed).
		Msg("library scan finished")

	return report, nil
}

func (s *Service) pruneMissing(ctx context.Context, seen map[string]bool) (int, error) {
	assets, err := s.store.ListAssets(ctx, store.AssetFilter{})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, asset := range assets {
		if seen[asset.StoragePath] {
			continue
		}
		if err := s.store.DeleteAsset(ctx, asset.ID); err != nil {
			s.logger.Warn().Err(err).Str("asset_id", asset.ID).Msg("scan: remove missing asset failed")
			continue
		}
		removed++
		telemetry.ScanAssetsTotal.WithLabelValues("removed").Inc()
		s.bus.Publish(events.EventAssetUpdated, events.Payload{
			"asset_id": asset.ID,
			"action":   "removed",
		})
		s.logger.Info().
			Str("asset_id", asset.ID).
			Str("path", asset.StoragePath).
			Msg("removed asset with missing file")
	}
	return removed, nil
}
