/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aerugo/bobavision/internal/models"
)

// ErrQueueEmpty indicates the device queue holds no playable entry.
var ErrQueueEmpty = errors.New("queue empty")

// ErrNoEligibleAsset indicates no asset matched the selection filters.
var ErrNoEligibleAsset = errors.New("no eligible asset")

// ErrNotFound indicates a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the database with the queries the selection engine and
// the admin API depend on.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a store around an open database handle.
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "store").Logger()}
}

// DB exposes the underlying handle for services that run their own queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a store bound to a single transaction.
// Selection decisions use this so quota check and record append commit
// together or not at all.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, logger: s.logger})
	})
}

// --- Devices ---

// GetOrCreateDevice loads a device, registering it with defaults on first
// contact. The returned bool reports whether a new row was created.
func (s *Store) GetOrCreateDevice(ctx context.Context, id string, defaultQuota int) (models.Device, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Device{}, false, fmt.Errorf("%w: empty device id", ErrNotFound)
	}

	var device models.Device
	err := s.db.WithContext(ctx).First(&device, "id = ?", id).Error
	if err == nil {
		return device, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Device{}, false, fmt.Errorf("load device: %w", err)
	}

	device = models.Device{
		ID:         id,
		Name:       "Device " + id,
		DailyQuota: defaultQuota,
	}
	if err := s.db.WithContext(ctx).Create(&device).Error; err != nil {
		// Concurrent registration of the same id loses the insert race;
		// fall back to the winner's row.
		var existing models.Device
		if lookupErr := s.db.WithContext(ctx).First(&existing, "id = ?", id).Error; lookupErr == nil {
			return existing, false, nil
		}
		return models.Device{}, false, fmt.Errorf("create device: %w", err)
	}

	s.logger.Info().Str("device_id", id).Int("daily_quota", defaultQuota).Msg("registered new device")
	return device, true, nil
}

// GetDevice loads a device by id.
func (s *Store) GetDevice(ctx context.Context, id string) (models.Device, error) {
	var device models.Device
	if err := s.db.WithContext(ctx).First(&device, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Device{}, fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		return models.Device{}, fmt.Errorf("load device: %w", err)
	}
	return device, nil
}

// ListDevices returns all registered devices ordered by id.
func (s *Store) ListDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// UpdateDevice persists mutable device fields.
func (s *Store) UpdateDevice(ctx context.Context, device *models.Device) error {
	device.AllowedTags = models.NormalizeTags(device.AllowedTags)
	if err := s.db.WithContext(ctx).Save(device).Error; err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	return nil
}

// --- Quota inputs ---

// BonusPlays sums bonus grants for a device on a local day key.
func (s *Store) BonusPlays(ctx context.Context, deviceID, day string) (int, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.BonusGrant{}).
		Where("device_id = ? AND day = ?", deviceID, day).
		Select("COALESCE(SUM(count), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum bonus grants: %w", err)
	}
	return int(total), nil
}

// GrantBonus appends a bonus grant for the given day key.
func (s *Store) GrantBonus(ctx context.Context, deviceID, day string, count int) (models.BonusGrant, error) {
	grant := models.BonusGrant{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		Day:      day,
		Count:    count,
	}
	if err := s.db.WithContext(ctx).Create(&grant).Error; err != nil {
		return models.BonusGrant{}, fmt.Errorf("create bonus grant: %w", err)
	}
	return grant, nil
}

// CountPlays counts quota-relevant plays in [from, to). Fallback plays
// never count against quota.
func (s *Store) CountPlays(ctx context.Context, deviceID string, from, to time.Time) (int, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.PlayRecord{}).
		Where("device_id = ? AND played_at >= ? AND played_at < ? AND fallback = ?", deviceID, from, to, false).
		Count(&total).Error
	if err != nil {
		return 0, fmt.Errorf("count plays: %w", err)
	}
	return int(total), nil
}

// AppendPlay durably records a playback decision.
func (s *Store) AppendPlay(ctx context.Context, record *models.PlayRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.PlayedAt.IsZero() {
		record.PlayedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("append play record: %w", err)
	}
	return nil
}

// CompletePlay marks a play record as watched to the end and returns it.
func (s *Store) CompletePlay(ctx context.Context, playID string) (models.PlayRecord, error) {
	var record models.PlayRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", playID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.PlayRecord{}, fmt.Errorf("play %s: %w", playID, ErrNotFound)
		}
		return models.PlayRecord{}, fmt.Errorf("load play: %w", err)
	}

	record.Completed = true
	err := s.db.WithContext(ctx).
		Model(&models.PlayRecord{}).
		Where("id = ?", playID).
		Update("completed", true).Error
	if err != nil {
		return models.PlayRecord{}, fmt.Errorf("complete play: %w", err)
	}
	return record, nil
}

// PlaysBetween lists play records for a device in [from, to), newest first.
func (s *Store) PlaysBetween(ctx context.Context, deviceID string, from, to time.Time) ([]models.PlayRecord, error) {
	var plays []models.PlayRecord
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND played_at >= ? AND played_at < ?", deviceID, from, to).
		Order("played_at DESC").
		Find(&plays).Error
	if err != nil {
		return nil, fmt.Errorf("list plays: %w", err)
	}
	return plays, nil
}

// --- Queue ---

// QueueHead returns the first playable queue entry with its asset.
// Entries whose asset has been deleted are pruned and skipped so a
// single dangling reference never wedges the queue.
func (s *Store) QueueHead(ctx context.Context, deviceID string) (models.QueueEntry, models.Asset, error) {
	for {
		var entry models.QueueEntry
		err := s.db.WithContext(ctx).
			Where("device_id = ?", deviceID).
			Order("position ASC, id ASC").
			First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.QueueEntry{}, models.Asset{}, ErrQueueEmpty
		}
		if err != nil {
			return models.QueueEntry{}, models.Asset{}, fmt.Errorf("load queue head: %w", err)
		}

		var asset models.Asset
		err = s.db.WithContext(ctx).First(&asset, "id = ?", entry.AssetID).Error
		if err == nil {
			return entry, asset, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return models.QueueEntry{}, models.Asset{}, fmt.Errorf("load queued asset: %w", err)
		}

		s.logger.Warn().
			Str("device_id", deviceID).
			Str("entry_id", entry.ID).
			Str("asset_id", entry.AssetID).
			Msg("pruning queue entry with missing asset")
		if err := s.db.WithContext(ctx).Delete(&models.QueueEntry{}, "id = ?", entry.ID).Error; err != nil {
			return models.QueueEntry{}, models.Asset{}, fmt.Errorf("prune dangling queue entry: %w", err)
		}
	}
}

// PopQueueEntry removes a consumed queue entry.
func (s *Store) PopQueueEntry(ctx context.Context, entryID string) error {
	if err := s.db.WithContext(ctx).Delete(&models.QueueEntry{}, "id = ?", entryID).Error; err != nil {
		return fmt.Errorf("pop queue entry: %w", err)
	}
	return nil
}

// QueueItem pairs a queue entry with its resolved asset for listings.
type QueueItem struct {
	Entry models.QueueEntry
	Asset models.Asset
}

// ListQueue returns the device queue in play order with asset details.
func (s *Store) ListQueue(ctx context.Context, deviceID string) ([]QueueItem, error) {
	var entries []models.QueueEntry
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("position ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}

	items := make([]QueueItem, 0, len(entries))
	for _, entry := range entries {
		var asset models.Asset
		if err := s.db.WithContext(ctx).First(&asset, "id = ?", entry.AssetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, fmt.Errorf("load queued asset: %w", err)
		}
		items = append(items, QueueItem{Entry: entry, Asset: asset})
	}
	return items, nil
}

// AppendQueue adds an asset to the end of the device queue.
func (s *Store) AppendQueue(ctx context.Context, deviceID, assetID string) (models.QueueEntry, error) {
	var asset models.Asset
	if err := s.db.WithContext(ctx).First(&asset, "id = ?", assetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.QueueEntry{}, fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
		}
		return models.QueueEntry{}, fmt.Errorf("load asset: %w", err)
	}

	var maxPos int64
	err := s.db.WithContext(ctx).
		Model(&models.QueueEntry{}).
		Where("device_id = ?", deviceID).
		Select("COALESCE(MAX(position), 0)").
		Scan(&maxPos).Error
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("queue tail position: %w", err)
	}

	entry := models.QueueEntry{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		AssetID:  assetID,
		Position: int(maxPos) + 1,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return models.QueueEntry{}, fmt.Errorf("append queue entry: %w", err)
	}
	return entry, nil
}

// RemoveQueueEntry deletes one entry from a device queue.
func (s *Store) RemoveQueueEntry(ctx context.Context, deviceID, entryID string) error {
	res := s.db.WithContext(ctx).Delete(&models.QueueEntry{}, "id = ? AND device_id = ?", entryID, deviceID)
	if res.Error != nil {
		return fmt.Errorf("remove queue entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("queue entry %s: %w", entryID, ErrNotFound)
	}
	return nil
}

// ClearQueue removes every entry from a device queue.
func (s *Store) ClearQueue(ctx context.Context, deviceID string) error {
	if err := s.db.WithContext(ctx).Delete(&models.QueueEntry{}, "device_id = ?", deviceID).Error; err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// ReorderQueue rewrites queue positions to match the given entry order.
// Entries not named keep their relative order after the named ones.
func (s *Store) ReorderQueue(ctx context.Context, deviceID string, entryIDs []string) error {
	return s.Transaction(ctx, func(tx *Store) error {
		var entries []models.QueueEntry
		err := tx.db.WithContext(ctx).
			Where("device_id = ?", deviceID).
			Order("position ASC, id ASC").
			Find(&entries).Error
		if err != nil {
			return fmt.Errorf("load queue for reorder: %w", err)
		}

		byID := make(map[string]models.QueueEntry, len(entries))
		for _, entry := range entries {
			byID[entry.ID] = entry
		}

		ordered := make([]models.QueueEntry, 0, len(entries))
		seen := make(map[string]bool, len(entryIDs))
		for _, id := range entryIDs {
			entry, ok := byID[id]
			if !ok {
				return fmt.Errorf("queue entry %s: %w", id, ErrNotFound)
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			ordered = append(ordered, entry)
		}
		for _, entry := range entries {
			if !seen[entry.ID] {
				ordered = append(ordered, entry)
			}
		}

		for i, entry := range ordered {
			err := tx.db.WithContext(ctx).
				Model(&models.QueueEntry{}).
				Where("id = ?", entry.ID).
				Update("position", i+1).Error
			if err != nil {
				return fmt.Errorf("rewrite queue position: %w", err)
			}
		}
		return nil
	})
}

// QueueDepth counts entries waiting in a device queue.
func (s *Store) QueueDepth(ctx context.Context, deviceID string) (int, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.QueueEntry{}).
		Where("device_id = ?", deviceID).
		Count(&total).Error
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return int(total), nil
}

// --- Assets ---

// GetAsset loads an asset by id.
func (s *Store) GetAsset(ctx context.Context, id string) (models.Asset, error) {
	var asset models.Asset
	if err := s.db.WithContext(ctx).First(&asset, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Asset{}, fmt.Errorf("asset %s: %w", id, ErrNotFound)
		}
		return models.Asset{}, fmt.Errorf("load asset: %w", err)
	}
	return asset, nil
}

// AssetFilter narrows ListAssets results.
type AssetFilter struct {
	Fallback *bool
	Tag      string
	Search   string
}

// ListAssets returns assets matching the filter ordered by title.
func (s *Store) ListAssets(ctx context.Context, filter AssetFilter) ([]models.Asset, error) {
	query := s.db.WithContext(ctx).Model(&models.Asset{})
	if filter.Fallback != nil {
		query = query.Where("fallback = ?", *filter.Fallback)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var assets []models.Asset
	if err := query.Order("title ASC, id ASC").Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	if tag := strings.ToLower(strings.TrimSpace(filter.Tag)); tag != "" {
		filtered := assets[:0]
		for _, asset := range assets {
			if asset.HasTag(tag) {
				filtered = append(filtered, asset)
			}
		}
		assets = filtered
	}
	return assets, nil
}

// UpdateAsset persists mutable asset fields.
func (s *Store) UpdateAsset(ctx context.Context, asset *models.Asset) error {
	asset.Tags = models.NormalizeTags(asset.Tags)
	if err := s.db.WithContext(ctx).Save(asset).Error; err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	return nil
}

// DeleteAsset removes an asset and any queue entries referencing it.
func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	return s.Transaction(ctx, func(tx *Store) error {
		res := tx.db.WithContext(ctx).Delete(&models.Asset{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete asset: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("asset %s: %w", id, ErrNotFound)
		}
		if err := tx.db.WithContext(ctx).Delete(&models.QueueEntry{}, "asset_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete asset queue entries: %w", err)
		}
		return nil
	})
}

// UpsertAssetByPath creates or refreshes the asset at a storage path.
// The scanner calls this for every discovered file; identity follows the
// path so re-scans update metadata in place.
func (s *Store) UpsertAssetByPath(ctx context.Context, incoming models.Asset) (models.Asset, bool, error) {
	incoming.Tags = models.NormalizeTags(incoming.Tags)

	var existing models.Asset
	err := s.db.WithContext(ctx).First(&existing, "storage_path = ?", incoming.StoragePath).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if incoming.ID == "" {
			incoming.ID = uuid.NewString()
		}
		if err := s.db.WithContext(ctx).Create(&incoming).Error; err != nil {
			return models.Asset{}, false, fmt.Errorf("create asset: %w", err)
		}
		return incoming, true, nil
	}
	if err != nil {
		return models.Asset{}, false, fmt.Errorf("load asset by path: %w", err)
	}

	existing.Title = incoming.Title
	existing.Fallback = incoming.Fallback
	existing.DurationSeconds = incoming.DurationSeconds
	existing.ContentHash = incoming.ContentHash
	existing.SizeBytes = incoming.SizeBytes
	if incoming.Tags != "" {
		existing.Tags = incoming.Tags
	}
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return models.Asset{}, false, fmt.Errorf("refresh asset: %w", err)
	}
	return existing, false, nil
}

// RandomAsset picks one eligible asset uniformly at random. Fallback
// candidates ignore tag restrictions so a device can always fall back.
func (s *Store) RandomAsset(ctx context.Context, fallback bool, allowedTags []string, rng *rand.Rand) (models.Asset, error) {
	var candidates []models.Asset
	err := s.db.WithContext(ctx).
		Where("fallback = ?", fallback).
		Order("id ASC").
		Find(&candidates).Error
	if err != nil {
		return models.Asset{}, fmt.Errorf("load candidates: %w", err)
	}

	if !fallback && len(allowedTags) > 0 {
		filtered := candidates[:0]
		for _, asset := range candidates {
			for _, tag := range allowedTags {
				if asset.HasTag(tag) {
					filtered = append(filtered, asset)
					break
				}
			}
		}
		candidates = filtered
	}

	if len(candidates) == 0 {
		return models.Asset{}, ErrNoEligibleAsset
	}
	return candidates[rng.Intn(len(candidates))], nil
}
