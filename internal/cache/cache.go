/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for admin reads and
// short decision leases. Quota math never reads from here; play counts
// are always recomputed from durable records.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultDeviceTTL = 30 * time.Second
	DefaultAssetTTL  = 5 * time.Minute
	DefaultStatsTTL  = 10 * time.Second
	DefaultLeaseTTL  = 10 * time.Second
)

// Key prefixes for Redis cache
const (
	KeyDevice      = "bobavision:cache:device:"       // + device_id
	KeyAsset       = "bobavision:cache:asset:"        // + asset_id
	KeyStats       = "bobavision:cache:stats"         // overview totals
	KeyDeviceStats = "bobavision:cache:stats:device:" // + device_id
	KeyDeviceLease = "bobavision:lease:device:"       // + device_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	DeviceTTL time.Duration
	AssetTTL  time.Duration
	StatsTTL  time.Duration
	LeaseTTL  time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		DeviceTTL:      DefaultDeviceTTL,
		AssetTTL:       DefaultAssetTTL,
		StatsTTL:       DefaultStatsTTL,
		LeaseTTL:       DefaultLeaseTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. A missing Redis is not fatal; the
// cache starts disabled and every lookup reports a miss.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.DeviceTTL == 0 {
		cfg.DeviceTTL = DefaultDeviceTTL
	}
	if cfg.AssetTTL == 0 {
		cfg.AssetTTL = DefaultAssetTTL
	}
	if cfg.StatsTTL == 0 {
		cfg.StatsTTL = DefaultStatsTTL
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// Device caching methods

// CachedDevice represents a cached device record.
type CachedDevice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DailyQuota  int    `json:"daily_quota"`
	AllowedTags string `json:"allowed_tags"`
}

// GetDevice retrieves a cached device profile.
func (c *Cache) GetDevice(ctx context.Context, deviceID string) (CachedDevice, bool) {
	var device CachedDevice
	found, err := c.get(ctx, KeyDevice+deviceID, &device)
	if err != nil || !found {
		return CachedDevice{}, false
	}
	return device, true
}

// SetDevice caches a device profile.
func (c *Cache) SetDevice(ctx context.Context, device CachedDevice) error {
	return c.set(ctx, KeyDevice+device.ID, device, c.config.DeviceTTL)
}

// InvalidateDevice removes a device profile from cache.
func (c *Cache) InvalidateDevice(ctx context.Context, deviceID string) error {
	c.logger.Debug().Str("device_id", deviceID).Msg("invalidating device cache")
	return c.delete(ctx, KeyDevice+deviceID)
}

// Asset caching methods

// CachedAsset represents a cached asset record.
type CachedAsset struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	StoragePath     string  `json:"storage_path"`
	Tags            string  `json:"tags"`
	Fallback        bool    `json:"fallback"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// GetAsset retrieves a cached asset record.
func (c *Cache) GetAsset(ctx context.Context, assetID string) (CachedAsset, bool) {
	var asset CachedAsset
	found, err := c.get(ctx, KeyAsset+assetID, &asset)
	if err != nil || !found {
		return CachedAsset{}, false
	}
	return asset, true
}

// SetAsset caches an asset record.
func (c *Cache) SetAsset(ctx context.Context, asset CachedAsset) error {
	return c.set(ctx, KeyAsset+asset.ID, asset, c.config.AssetTTL)
}

// InvalidateAsset removes an asset record from cache.
func (c *Cache) InvalidateAsset(ctx context.Context, assetID string) error {
	c.logger.Debug().Str("asset_id", assetID).Msg("invalidating asset cache")
	return c.delete(ctx, KeyAsset+assetID)
}

// Stats caching methods

// CachedOverview represents cached dashboard totals.
type CachedOverview struct {
	TotalAssets  int64 `json:"total_assets"`
	TotalDevices int64 `json:"total_devices"`
	TotalPlays   int64 `json:"total_plays"`
	PlaysToday   int64 `json:"plays_today"`
}

// GetOverview retrieves cached dashboard totals.
func (c *Cache) GetOverview(ctx context.Context) (CachedOverview, bool) {
	var overview CachedOverview
	found, err := c.get(ctx, KeyStats, &overview)
	if err != nil || !found {
		return CachedOverview{}, false
	}
	return overview, true
}

// SetOverview caches dashboard totals.
func (c *Cache) SetOverview(ctx context.Context, overview CachedOverview) error {
	return c.set(ctx, KeyStats, overview, c.config.StatsTTL)
}

// InvalidateStats removes the overview totals from cache.
func (c *Cache) InvalidateStats(ctx context.Context) error {
	return c.delete(ctx, KeyStats)
}

// InvalidateDeviceStats removes a device stats summary from cache.
func (c *Cache) InvalidateDeviceStats(ctx context.Context, deviceID string) error {
	return c.delete(ctx, KeyDeviceStats+deviceID)
}

// Decision lease

// releaseLeaseScript deletes the lease only while we still hold it, so
// an expired lease taken over by another replica is never clobbered.
const releaseLeaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// AcquireDeviceLease takes a short exclusive lease on a device id for
// one decision. It reports false when the lease is held elsewhere or
// Redis is unavailable; the caller decides how hard to insist.
func (c *Cache) AcquireDeviceLease(ctx context.Context, deviceID string) (func(), bool) {
	if !c.IsAvailable() {
		return func() {}, false
	}

	key := KeyDeviceLease + deviceID
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, c.config.LeaseTTL).Result()
	if err != nil {
		c.handleError(err, "lease_acquire")
		return func() {}, false
	}
	if !ok {
		return func() {}, false
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.client.Eval(ctx, releaseLeaseScript, []string{key}, token).Err(); err != nil {
			c.handleError(err, "lease_release")
		}
	}
	return release, true
}
