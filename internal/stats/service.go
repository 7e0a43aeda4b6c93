/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package stats builds the dashboard read models. Numbers are always
// recomputed from play records; only the overview totals may sit in the
// short-TTL cache.
package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aerugo/bobavision/internal/cache"
	"github.com/aerugo/bobavision/internal/models"
	"github.com/aerugo/bobavision/internal/store"
)

// Service answers stats queries for the admin API.
type Service struct {
	store  *store.Store
	db     *gorm.DB
	cache  *cache.Cache
	logger zerolog.Logger
	clock  func() time.Time
}

// New creates a stats service. The cache is optional.
func New(st *store.Store, c *cache.Cache, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		db:     st.DB(),
		cache:  c,
		logger: logger.With().Str("component", "stats").Logger(),
		clock:  time.Now,
	}
}

// Overview holds instance-wide totals. PlaysToday counts every decision
// today including fallback plays; it reports activity, not quota.
type Overview struct {
	TotalAssets  int64 `json:"total_assets"`
	TotalDevices int64 `json:"total_devices"`
	TotalPlays   int64 `json:"total_plays"`
	PlaysToday   int64 `json:"plays_today"`
}

// Overview returns the dashboard totals.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetOverview(ctx); ok {
			return Overview{
				TotalAssets:  cached.TotalAssets,
				TotalDevices: cached.TotalDevices,
				TotalPlays:   cached.TotalPlays,
				PlaysToday:   cached.PlaysToday,
			}, nil
		}
	}

	var overview Overview
	if err := s.db.WithContext(ctx).Model(&models.Asset{}).Count(&overview.TotalAssets).Error; err != nil {
		return Overview{}, fmt.Errorf("count assets: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.Device{}).Count(&overview.TotalDevices).Error; err != nil {
		return Overview{}, fmt.Errorf("count devices: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.PlayRecord{}).Count(&overview.TotalPlays).Error; err != nil {
		return Overview{}, fmt.Errorf("count plays: %w", err)
	}

	dayStart, dayEnd := s.todayWindow()
	err := s.db.WithContext(ctx).
		Model(&models.PlayRecord{}).
		Where("played_at >= ? AND played_at < ?", dayStart, dayEnd).
		Count(&overview.PlaysToday).Error
	if err != nil {
		return Overview{}, fmt.Errorf("count plays today: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.SetOverview(ctx, cache.CachedOverview{
			TotalAssets:  overview.TotalAssets,
			TotalDevices: overview.TotalDevices,
			TotalPlays:   overview.TotalPlays,
			PlaysToday:   overview.PlaysToday,
		})
	}
	return overview, nil
}

// RecentPlay is one row of a device's play history.
type RecentPlay struct {
	PlayID         string    `json:"play_id"`
	AssetID        string    `json:"asset_id"`
	Title          string    `json:"title"`
	PlayedAt       time.Time `json:"played_at"`
	Classification string    `json:"classification"`
	Fallback       bool      `json:"fallback"`
	Completed      bool      `json:"completed"`
}

// DeviceSummary mirrors the quota snapshot the selection engine would
// compute for the device right now.
type DeviceSummary struct {
	DeviceID       string       `json:"device_id"`
	Name           string       `json:"name"`
	DailyQuota     int          `json:"daily_quota"`
	AllowedTags    []string     `json:"allowed_tags"`
	BonusToday     int          `json:"bonus_today"`
	PlaysToday     int          `json:"plays_today"`
	PlaysRemaining int          `json:"plays_remaining"`
	TotalPlays     int64        `json:"total_plays"`
	QueueSize      int          `json:"queue_size"`
	RecentPlays    []RecentPlay `json:"recent_plays"`
}

// DeviceSummary returns the per-device dashboard view.
func (s *Service) DeviceSummary(ctx context.Context, deviceID string) (DeviceSummary, error) {
	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return DeviceSummary{}, err
	}

	now := s.clock()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	bonus, err := s.store.BonusPlays(ctx, deviceID, models.DayKey(now))
	if err != nil {
		return DeviceSummary{}, err
	}
	used, err := s.store.CountPlays(ctx, deviceID, dayStart, dayEnd)
	if err != nil {
		return DeviceSummary{}, err
	}

	var total int64
	err = s.db.WithContext(ctx).
		Model(&models.PlayRecord{}).
		Where("device_id = ?", deviceID).
		Count(&total).Error
	if err != nil {
		return DeviceSummary{}, fmt.Errorf("count device plays: %w", err)
	}

	queueSize, err := s.store.QueueDepth(ctx, deviceID)
	if err != nil {
		return DeviceSummary{}, err
	}

	recents, err := s.recentPlays(ctx, deviceID, 10)
	if err != nil {
		return DeviceSummary{}, err
	}

	remaining := device.DailyQuota + bonus - used
	if remaining < 0 {
		remaining = 0
	}

	summary := DeviceSummary{
		DeviceID:       device.ID,
		Name:           device.Name,
		DailyQuota:     device.DailyQuota,
		AllowedTags:    device.AllowedTagSet(),
		BonusToday:     bonus,
		PlaysToday:     used,
		PlaysRemaining: remaining,
		TotalPlays:     total,
		QueueSize:      queueSize,
		RecentPlays:    recents,
	}
	if summary.AllowedTags == nil {
		summary.AllowedTags = []string{}
	}
	return summary, nil
}

func (s *Service) recentPlays(ctx context.Context, deviceID string, limit int) ([]RecentPlay, error) {
	var records []models.PlayRecord
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("played_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("recent plays: %w", err)
	}

	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.AssetID)
	}
	titles := make(map[string]string, len(ids))
	if len(ids) > 0 {
		var assets []models.Asset
		if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&assets).Error; err != nil {
			return nil, fmt.Errorf("resolve play titles: %w", err)
		}
		for _, asset := range assets {
			titles[asset.ID] = asset.Title
		}
	}

	recents := make([]RecentPlay, 0, len(records))
	for _, record := range records {
		recents = append(recents, RecentPlay{
			PlayID:         record.ID,
			AssetID:        record.AssetID,
			Title:          titles[record.AssetID],
			PlayedAt:       record.PlayedAt,
			Classification: strings.ToLower(string(record.Classification)),
			Fallback:       record.Fallback,
			Completed:      record.Completed,
		})
	}
	return recents, nil
}

func (s *Service) todayWindow() (time.Time, time.Time) {
	now := s.clock()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return dayStart, dayStart.AddDate(0, 0, 1)
}
