package models

import (
	"strings"
	"time"
)

// Classification labels how a decision chose its asset.
type Classification string

const (
	ClassificationQueued   Classification = "queued"
	ClassificationRandom   Classification = "random"
	ClassificationFallback Classification = "fallback"
)

// Asset is one playable item in the catalog.
type Asset struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	StoragePath     string `gorm:"uniqueIndex"`
	Title           string `gorm:"index"`
	Tags            string
	Fallback        bool `gorm:"index"`
	DurationSeconds float64
	ContentHash     string `gorm:"index"`
	SizeBytes       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TagSet returns the asset's tags as a slice.
func (a Asset) TagSet() []string {
	return SplitTags(a.Tags)
}

// HasTag reports whether the asset carries the given tag.
func (a Asset) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range a.TagSet() {
		if t == tag {
			return true
		}
	}
	return false
}

// Device is one physical playback unit. The ID is the opaque string the
// unit presents; devices register themselves on their first decision
// request, so it is not forced to be a UUID.
type Device struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	DailyQuota  int
	AllowedTags string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AllowedTagSet returns the device's content allow-list as a slice.
// Empty means no filter.
func (d Device) AllowedTagSet() []string {
	return SplitTags(d.AllowedTags)
}

// QueueEntry is one parent-curated request for a specific device.
// Positions are strictly increasing per device; gaps are fine after
// removals.
type QueueEntry struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	DeviceID  string `gorm:"index"`
	AssetID   string `gorm:"type:uuid;index"`
	Position  int    `gorm:"index"`
	CreatedAt time.Time
}

// PlayRecord is an append-only fact about one decision. Only Completed
// is ever updated, by the device's completion callback.
type PlayRecord struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	DeviceID       string    `gorm:"index:idx_plays_device_time"`
	AssetID        string    `gorm:"type:uuid;index"`
	PlayedAt       time.Time `gorm:"index:idx_plays_device_time"`
	Fallback       bool
	Classification Classification `gorm:"type:varchar(16)"`
	Completed      bool
}

// BonusGrant extends one device's quota for a single local day.
type BonusGrant struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	DeviceID  string `gorm:"index:idx_bonus_device_day"`
	Day       string `gorm:"type:varchar(10);index:idx_bonus_device_day"`
	Count     int
	CreatedAt time.Time
}

// DayKey formats t's local calendar date the way BonusGrant.Day stores it.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// SplitTags parses a stored tag string into its normalized parts.
func SplitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// JoinTags renders a tag slice into storage form, dropping empties and
// duplicates.
func JoinTags(tags []string) string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return strings.Join(out, ",")
}

// NormalizeTags round-trips a raw comma-separated tag string into
// storage form.
func NormalizeTags(s string) string {
	return JoinTags(SplitTags(s))
}
