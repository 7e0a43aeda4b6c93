/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package legacy imports the predecessor deployment's SQLite database
// (tables videos, client_settings, queue, play_log) into the current
// schema. Play timestamps are preserved so quota history survives the
// migration.
package legacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aerugo/bobavision/internal/models"
)

// Options configures one legacy import run.
type Options struct {
	DBPath string
	DryRun bool
}

// Result summarizes what an import run did, or would do for a dry run.
type Result struct {
	Devices         int            `json:"devices"`
	Assets          int            `json:"assets"`
	QueueItems      int            `json:"queue_items"`
	Plays           int            `json:"plays"`
	BonusGrants     int            `json:"bonus_grants"`
	Warnings        []string       `json:"warnings,omitempty"`
	Skipped         map[string]int `json:"skipped,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
}

// Progress reports import phase transitions to the CLI.
type Progress struct {
	Phase   string
	Current int
	Total   int
}

// ProgressCallback is called during import to report progress.
type ProgressCallback func(Progress)

// Importer copies a legacy database into the current one. Reads go
// through database/sql against the old file; writes go through gorm in
// a single transaction.
type Importer struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewImporter creates a legacy importer writing into db.
func NewImporter(db *gorm.DB, logger zerolog.Logger) *Importer {
	return &Importer{
		db:     db,
		logger: logger.With().Str("importer", "legacy").Logger(),
	}
}

// Validate checks that the legacy database exists and carries the
// expected tables.
func (i *Importer) Validate(ctx context.Context, opts Options) error {
	if opts.DBPath == "" {
		return fmt.Errorf("legacy database path is required")
	}
	if _, err := os.Stat(opts.DBPath); err != nil {
		return fmt.Errorf("legacy database: %w", err)
	}

	src, err := openLegacy(opts.DBPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := src.PingContext(ctx); err != nil {
		return fmt.Errorf("open legacy database: %w", err)
	}

	for _, table := range []string{"videos", "client_settings", "play_log"} {
		ok, err := tableExists(ctx, src, table)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("legacy database is missing table %q", table)
		}
	}
	return nil
}

// Analyze counts what the legacy database holds without writing
// anything. Existing target rows are only detected at import time.
func (i *Importer) Analyze(ctx context.Context, opts Options) (*Result, error) {
	if err := i.Validate(ctx, opts); err != nil {
		return nil, err
	}

	src, err := openLegacy(opts.DBPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	res := &Result{Skipped: map[string]int{}}

	if res.Devices, err = countRows(ctx, src, "client_settings"); err != nil {
		return nil, err
	}
	if res.Assets, err = countRows(ctx, src, "videos"); err != nil {
		return nil, err
	}
	if res.Plays, err = countRows(ctx, src, "play_log"); err != nil {
		return nil, err
	}

	hasQueue, err := tableExists(ctx, src, "queue")
	if err != nil {
		return nil, err
	}
	if hasQueue {
		if res.QueueItems, err = countRows(ctx, src, "queue"); err != nil {
			return nil, err
		}
	} else {
		res.Warnings = append(res.Warnings, "legacy database has no queue table; no queued requests to import")
	}

	withBonus, err := hasColumn(ctx, src, "client_settings", "bonus_plays_count")
	if err != nil {
		return nil, err
	}
	if withBonus {
		var n int
		err := src.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM client_settings WHERE bonus_plays_count > 0 AND bonus_plays_date IS NOT NULL").Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("count bonus grants: %w", err)
		}
		res.BonusGrants = n
	}

	return res, nil
}

// Import copies the legacy database into the target. Devices and
// assets are matched by natural key (device ID, storage path) so a
// re-run does not duplicate them; history rows of an already-present
// device are skipped wholesale.
func (i *Importer) Import(ctx context.Context, opts Options, progress ProgressCallback) (*Result, error) {
	start := time.Now()

	if err := i.Validate(ctx, opts); err != nil {
		return nil, err
	}

	src, err := openLegacy(opts.DBPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	report := func(phase string, current, total int) {
		if progress != nil {
			progress(Progress{Phase: phase, Current: current, Total: total})
		}
	}

	report("reading", 0, 0)

	withBonus, err := hasColumn(ctx, src, "client_settings", "bonus_plays_count")
	if err != nil {
		return nil, err
	}

	clients, err := readClients(ctx, src, withBonus)
	if err != nil {
		return nil, err
	}
	videos, err := readVideos(ctx, src)
	if err != nil {
		return nil, err
	}

	hasQueue, err := tableExists(ctx, src, "queue")
	if err != nil {
		return nil, err
	}
	var queue []legacyQueueItem
	if hasQueue {
		if queue, err = readQueue(ctx, src); err != nil {
			return nil, err
		}
	}

	plays, err := readPlays(ctx, src)
	if err != nil {
		return nil, err
	}

	res := &Result{Skipped: map[string]int{}}
	if !hasQueue {
		res.Warnings = append(res.Warnings, "legacy database has no queue table; no queued requests to import")
	}

	if opts.DryRun {
		res.Devices = len(clients)
		res.Assets = len(videos)
		res.QueueItems = len(queue)
		res.Plays = len(plays)
		for _, c := range clients {
			if withBonus && c.BonusCount > 0 && c.BonusDate.Valid {
				res.BonusGrants++
			}
		}
		return res, nil
	}

	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existingDevices := map[string]bool{}
		var devs []models.Device
		if err := tx.Select("id").Find(&devs).Error; err != nil {
			return fmt.Errorf("load existing devices: %w", err)
		}
		for _, d := range devs {
			existingDevices[d.ID] = true
		}

		assetByPath := map[string]string{}
		var assets []models.Asset
		if err := tx.Select("id, storage_path").Find(&assets).Error; err != nil {
			return fmt.Errorf("load existing assets: %w", err)
		}
		for _, a := range assets {
			assetByPath[a.StoragePath] = a.ID
		}

		imported := map[string]bool{}

		report("devices", 0, len(clients))
		for n, c := range clients {
			if existingDevices[c.ID] {
				res.Skipped["devices_existing"]++
				report("devices", n+1, len(clients))
				continue
			}

			dev := models.Device{
				ID:          c.ID,
				Name:        c.Name,
				DailyQuota:  c.DailyLimit,
				AllowedTags: models.NormalizeTags(c.TagFilters.String),
				CreatedAt:   c.CreatedAt,
				UpdatedAt:   c.UpdatedAt,
			}
			if err := tx.Create(&dev).Error; err != nil {
				return fmt.Errorf("import device %s: %w", c.ID, err)
			}
			imported[c.ID] = true
			res.Devices++

			if withBonus && c.BonusCount > 0 && c.BonusDate.Valid {
				grant := models.BonusGrant{
					ID:        uuid.NewString(),
					DeviceID:  c.ID,
					Day:       models.DayKey(c.BonusDate.Time),
					Count:     int(c.BonusCount),
					CreatedAt: c.UpdatedAt,
				}
				if err := tx.Create(&grant).Error; err != nil {
					return fmt.Errorf("import bonus for %s: %w", c.ID, err)
				}
				res.BonusGrants++
			}
			report("devices", n+1, len(clients))
		}

		// shouldImport gates history rows on their device: rows for a
		// device created in this run are written, rows for a device
		// that was already present are assumed imported earlier.
		shouldImport := func(clientID, label, skipKey string) bool {
			if imported[clientID] {
				return true
			}
			if existingDevices[clientID] {
				res.Skipped[skipKey+"_existing_device"]++
				return false
			}
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("%s references unknown client %q; skipped", label, clientID))
			res.Skipped[skipKey+"_unknown_device"]++
			return false
		}

		report("assets", 0, len(videos))
		assetByLegacyID := make(map[int64]string, len(videos))
		for n, v := range videos {
			if id, ok := assetByPath[v.Path]; ok {
				assetByLegacyID[v.ID] = id
				res.Skipped["assets_existing"]++
				report("assets", n+1, len(videos))
				continue
			}

			asset := models.Asset{
				ID:              uuid.NewString(),
				StoragePath:     v.Path,
				Title:           v.Title,
				Tags:            models.NormalizeTags(v.Tags.String),
				Fallback:        v.Placeholder,
				DurationSeconds: float64(v.Duration.Int64),
				CreatedAt:       v.CreatedAt,
				UpdatedAt:       v.CreatedAt,
			}
			if err := tx.Create(&asset).Error; err != nil {
				return fmt.Errorf("import asset %s: %w", v.Path, err)
			}
			assetByLegacyID[v.ID] = asset.ID
			res.Assets++
			report("assets", n+1, len(videos))
		}

		report("queue", 0, len(queue))
		for n, q := range queue {
			if !shouldImport(q.ClientID, "queue item", "queue") {
				continue
			}
			assetID, ok := assetByLegacyID[q.VideoID]
			if !ok {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("queue item %d references missing video %d; skipped", q.ID, q.VideoID))
				res.Skipped["queue_dangling"]++
				continue
			}
			entry := models.QueueEntry{
				ID:        uuid.NewString(),
				DeviceID:  q.ClientID,
				AssetID:   assetID,
				Position:  q.Position,
				CreatedAt: q.CreatedAt,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("import queue item %d: %w", q.ID, err)
			}
			res.QueueItems++
			report("queue", n+1, len(queue))
		}

		report("plays", 0, len(plays))
		for n, p := range plays {
			if !shouldImport(p.ClientID, "play", "plays") {
				continue
			}
			assetID, ok := assetByLegacyID[p.VideoID]
			if !ok {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("play %d references missing video %d; skipped", p.ID, p.VideoID))
				res.Skipped["plays_dangling"]++
				continue
			}

			classification := models.ClassificationRandom
			if p.Placeholder {
				classification = models.ClassificationFallback
			}
			rec := models.PlayRecord{
				ID:             uuid.NewString(),
				DeviceID:       p.ClientID,
				AssetID:        assetID,
				PlayedAt:       p.PlayedAt,
				Fallback:       p.Placeholder,
				Classification: classification,
				Completed:      p.Completed,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("import play %d: %w", p.ID, err)
			}
			res.Plays++
			report("plays", n+1, len(plays))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	report("completed", 0, 0)
	res.DurationSeconds = time.Since(start).Seconds()

	i.logger.Info().
		Int("devices", res.Devices).
		Int("assets", res.Assets).
		Int("queue_items", res.QueueItems).
		Int("plays", res.Plays).
		Int("bonus_grants", res.BonusGrants).
		Msg("legacy import finished")

	return res, nil
}

type legacyClient struct {
	ID         string
	Name       string
	DailyLimit int
	TagFilters sql.NullString
	CreatedAt  time.Time
	UpdatedAt  time.Time
	BonusCount int64
	BonusDate  sql.NullTime
}

type legacyVideo struct {
	ID          int64
	Path        string
	Title       string
	Tags        sql.NullString
	Placeholder bool
	Duration    sql.NullInt64
	CreatedAt   time.Time
}

type legacyQueueItem struct {
	ID        int64
	ClientID  string
	VideoID   int64
	Position  int
	CreatedAt time.Time
}

type legacyPlay struct {
	ID          int64
	ClientID    string
	VideoID     int64
	PlayedAt    time.Time
	Placeholder bool
	Completed   bool
}

// openLegacy opens the old database read-only. Timestamps were written
// as UTC by the previous system, so the driver parses them as UTC.
func openLegacy(path string) (*sql.DB, error) {
	src, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("open legacy database: %w", err)
	}
	return src, nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var found string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect legacy schema: %w", err)
	}
	return true, nil
}

func hasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("inspect table %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func countRows(ctx context.Context, db *sql.DB, table string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func readClients(ctx context.Context, src *sql.DB, withBonus bool) ([]legacyClient, error) {
	query := "SELECT client_id, friendly_name, daily_limit, tag_filters, created_at, updated_at FROM client_settings ORDER BY client_id"
	if withBonus {
		query = "SELECT client_id, friendly_name, daily_limit, tag_filters, created_at, updated_at, bonus_plays_count, bonus_plays_date FROM client_settings ORDER BY client_id"
	}

	rows, err := src.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read clients: %w", err)
	}
	defer rows.Close()

	var out []legacyClient
	for rows.Next() {
		var c legacyClient
		if withBonus {
			err = rows.Scan(&c.ID, &c.Name, &c.DailyLimit, &c.TagFilters, &c.CreatedAt, &c.UpdatedAt, &c.BonusCount, &c.BonusDate)
		} else {
			err = rows.Scan(&c.ID, &c.Name, &c.DailyLimit, &c.TagFilters, &c.CreatedAt, &c.UpdatedAt)
		}
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func readVideos(ctx context.Context, src *sql.DB) ([]legacyVideo, error) {
	rows, err := src.QueryContext(ctx,
		"SELECT id, path, title, tags, is_placeholder, duration_seconds, created_at FROM videos ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("read videos: %w", err)
	}
	defer rows.Close()

	var out []legacyVideo
	for rows.Next() {
		var v legacyVideo
		if err := rows.Scan(&v.ID, &v.Path, &v.Title, &v.Tags, &v.Placeholder, &v.Duration, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func readQueue(ctx context.Context, src *sql.DB) ([]legacyQueueItem, error) {
	rows, err := src.QueryContext(ctx,
		"SELECT id, client_id, video_id, position, created_at FROM queue ORDER BY client_id, position")
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	defer rows.Close()

	var out []legacyQueueItem
	for rows.Next() {
		var q legacyQueueItem
		if err := rows.Scan(&q.ID, &q.ClientID, &q.VideoID, &q.Position, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func readPlays(ctx context.Context, src *sql.DB) ([]legacyPlay, error) {
	rows, err := src.QueryContext(ctx,
		"SELECT id, client_id, video_id, played_at, is_placeholder, completed FROM play_log ORDER BY played_at")
	if err != nil {
		return nil, fmt.Errorf("read play log: %w", err)
	}
	defer rows.Close()

	var out []legacyPlay
	for rows.Next() {
		var p legacyPlay
		if err := rows.Scan(&p.ID, &p.ClientID, &p.VideoID, &p.PlayedAt, &p.Placeholder, &p.Completed); err != nil {
			return nil, fmt.Errorf("scan play: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
