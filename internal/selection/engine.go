/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package selection turns "button pressed for device X" into exactly one
// content decision under the device's rolling daily quota, its curated
// queue, and the fallback pool, appending one play record per decision.
package selection

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aerugo/bobavision/internal/events"
	"github.com/aerugo/bobavision/internal/models"
	"github.com/aerugo/bobavision/internal/store"
	"github.com/aerugo/bobavision/internal/telemetry"
)

// ErrEmptyDeviceID indicates a decision request without a device id.
var ErrEmptyDeviceID = errors.New("empty device id")

// Leaser grants short exclusive leases keyed by device id. Used to
// harden per-device serialization across replicas; the in-process lock
// remains the primary guard.
type Leaser interface {
	AcquireDeviceLease(ctx context.Context, deviceID string) (func(), bool)
}

// Decision is the one-shot output for a single trigger. It carries the
// quota snapshot it was computed from; nothing here is persisted beyond
// the play record it caused.
type Decision struct {
	Asset          models.Asset
	Classification models.Classification
	PlayID         string
	Day            string
	EffectiveQuota int
	PlaysToday     int
}

// Fallback reports whether the decision served quota-exhausted content.
func (d Decision) Fallback() bool {
	return d.Classification == models.ClassificationFallback
}

// Engine decides what a device plays next.
type Engine struct {
	store        *store.Store
	bus          *events.Bus
	logger       zerolog.Logger
	locks        *deviceLocks
	defaultQuota int

	// lease is optional; when set, decisions also take a distributed
	// lease per device. Contention past leaseWait proceeds anyway so a
	// stuck replica cannot black-hole a child's button press.
	lease     Leaser
	leaseWait time.Duration

	clock func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a selection engine around the store.
func New(st *store.Store, bus *events.Bus, defaultQuota int, logger zerolog.Logger) *Engine {
	return &Engine{
		store:        st,
		bus:          bus,
		logger:       logger.With().Str("component", "selection").Logger(),
		locks:        newDeviceLocks(),
		defaultQuota: defaultQuota,
		leaseWait:    2 * time.Second,
		clock:        time.Now,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetLease enables the distributed per-device lease.
func (e *Engine) SetLease(lease Leaser) {
	e.lease = lease
}

// Now returns the engine's current time. Decisions and bonus grants
// must agree on what "today" means, so callers working with day keys
// read the clock from here.
func (e *Engine) Now() time.Time {
	return e.clock()
}

// Decide resolves one playable asset for the device and durably records
// the decision. The quota check and the record append run in one store
// transaction under a per-device lock, so two concurrent presses for
// the same device can never both sneak under the last quota slot.
func (e *Engine) Decide(ctx context.Context, deviceID string) (Decision, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Decision{}, ErrEmptyDeviceID
	}

	ctx, span := telemetry.StartSpan(ctx, "bobavision-selection", "selection.decide")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"device.id": deviceID})

	unlock := e.locks.Lock(deviceID)
	defer unlock()

	if e.lease != nil {
		release, ok := e.acquireLease(ctx, deviceID)
		if ok {
			defer release()
		} else {
			e.logger.Warn().Str("device_id", deviceID).Msg("proceeding without distributed lease")
		}
	}

	start := time.Now()
	var (
		decision      Decision
		createdDevice *models.Device
	)

	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		device, created, err := tx.GetOrCreateDevice(ctx, deviceID, e.defaultQuota)
		if err != nil {
			return err
		}
		if created {
			createdDevice = &device
		}

		now := e.clock()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		dayEnd := dayStart.AddDate(0, 0, 1)
		day := models.DayKey(now)

		bonus, err := tx.BonusPlays(ctx, deviceID, day)
		if err != nil {
			return err
		}
		used, err := tx.CountPlays(ctx, deviceID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		quota := device.DailyQuota + bonus

		var (
			asset          models.Asset
			classification models.Classification
		)
		switch {
		case used >= quota:
			// Quota is the outer gate: queued entries wait for tomorrow.
			telemetry.QuotaExhaustedTotal.Inc()
			asset, err = e.randomAsset(ctx, tx, true, nil)
			if err != nil {
				return fmt.Errorf("fallback pool: %w", err)
			}
			classification = models.ClassificationFallback

		default:
			entry, queued, headErr := tx.QueueHead(ctx, deviceID)
			switch {
			case headErr == nil:
				if err := tx.PopQueueEntry(ctx, entry.ID); err != nil {
					return err
				}
				asset = queued
				classification = models.ClassificationQueued
			case errors.Is(headErr, store.ErrQueueEmpty):
				asset, err = e.randomAsset(ctx, tx, false, device.AllowedTagSet())
				if err != nil {
					return fmt.Errorf("random pool: %w", err)
				}
				classification = models.ClassificationRandom
			default:
				return headErr
			}
		}

		record := models.PlayRecord{
			DeviceID:       deviceID,
			AssetID:        asset.ID,
			PlayedAt:       now,
			Fallback:       classification == models.ClassificationFallback,
			Classification: classification,
		}
		if err := tx.AppendPlay(ctx, &record); err != nil {
			return err
		}

		decision = Decision{
			Asset:          asset,
			Classification: classification,
			PlayID:         record.ID,
			Day:            day,
			EffectiveQuota: quota,
			PlaysToday:     used,
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		e.logger.Error().Err(err).Str("device_id", deviceID).Msg("decision failed")
		return Decision{}, err
	}

	telemetry.DecisionsTotal.WithLabelValues(string(decision.Classification)).Inc()
	telemetry.DecisionDuration.Observe(time.Since(start).Seconds())
	telemetry.AddSpanAttributes(span, map[string]any{
		"decision.classification": string(decision.Classification),
		"decision.asset_id":       decision.Asset.ID,
	})

	if createdDevice != nil {
		e.bus.Publish(events.EventDeviceCreated, events.Payload{
			"device_id":   createdDevice.ID,
			"name":        createdDevice.Name,
			"daily_quota": createdDevice.DailyQuota,
		})
	}
	e.bus.Publish(events.EventDecisionMade, events.Payload{
		"device_id":      deviceID,
		"asset_id":       decision.Asset.ID,
		"title":          decision.Asset.Title,
		"classification": string(decision.Classification),
		"play_id":        decision.PlayID,
		"day":            decision.Day,
		"fallback":       decision.Fallback(),
	})

	e.logger.Info().
		Str("device_id", deviceID).
		Str("asset_id", decision.Asset.ID).
		Str("title", decision.Asset.Title).
		Str("classification", string(decision.Classification)).
		Int("plays_today", decision.PlaysToday).
		Int("effective_quota", decision.EffectiveQuota).
		Msg("decision made")

	return decision, nil
}

// acquireLease polls the distributed lease until held or leaseWait runs
// out.
func (e *Engine) acquireLease(ctx context.Context, deviceID string) (func(), bool) {
	deadline := time.Now().Add(e.leaseWait)
	for {
		release, ok := e.lease.AcquireDeviceLease(ctx, deviceID)
		if ok {
			return release, true
		}
		if time.Now().After(deadline) {
			return func() {}, false
		}
		select {
		case <-ctx.Done():
			return func() {}, false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (e *Engine) randomAsset(ctx context.Context, tx *store.Store, fallback bool, allowedTags []string) (models.Asset, error) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return tx.RandomAsset(ctx, fallback, allowedTags, e.rng)
}
