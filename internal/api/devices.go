/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aerugo/bobavision/internal/events"
	"github.com/aerugo/bobavision/internal/models"
	"github.com/aerugo/bobavision/internal/store"
)

type deviceView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DailyQuota  int      `json:"daily_quota"`
	AllowedTags []string `json:"allowed_tags"`
	CreatedAt   string   `json:"created_at"`
}

func toDeviceView(d models.Device) deviceView {
	tags := d.AllowedTagSet()
	if tags == nil {
		tags = []string{}
	}
	return deviceView{
		ID:          d.ID,
		Name:        d.Name,
		DailyQuota:  d.DailyQuota,
		AllowedTags: tags,
		CreatedAt:   d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// ListDevices returns all registered devices.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.store.ListDevices(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list devices")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, toDeviceView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views})
}

// CreateDevice pre-provisions a device before its first button press.
// Devices that skip this step are auto-registered with defaults on
// their first decision request.
func (h *Handler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		DailyQuota  *int     `json:"daily_quota"`
		AllowedTags []string `json:"allowed_tags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "id is required")
		return
	}

	quota := h.defaultQuota
	if req.DailyQuota != nil {
		quota = *req.DailyQuota
	}
	if quota < 1 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "daily_quota must be at least 1")
		return
	}

	if _, err := h.store.GetDevice(r.Context(), req.ID); err == nil {
		writeError(w, http.StatusConflict, codeInvalidRequest, "device already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.logger.Error().Err(err).Msg("check device")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	device, created, err := h.store.GetOrCreateDevice(r.Context(), req.ID, quota)
	if err != nil {
		h.logger.Error().Err(err).Msg("create device")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	if req.Name != "" || len(req.AllowedTags) > 0 {
		if req.Name != "" {
			device.Name = req.Name
		}
		device.AllowedTags = models.JoinTags(req.AllowedTags)
		if err := h.store.UpdateDevice(r.Context(), &device); err != nil {
			h.logger.Error().Err(err).Msg("apply device fields")
			writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
			return
		}
	}

	if created {
		h.bus.Publish(events.EventDeviceCreated, events.Payload{
			"device_id": device.ID,
			"name":      device.Name,
		})
	}
	if h.cache != nil {
		h.cache.InvalidateStats(r.Context())
	}

	writeJSON(w, http.StatusCreated, toDeviceView(device))
}

// GetDevice returns one device.
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	device, err := h.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown device")
			return
		}
		h.logger.Error().Err(err).Msg("load device")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, toDeviceView(device))
}

// UpdateDevice changes a device's name, quota, or tag allow-list.
// Quota edits apply from the next decision; plays already recorded
// today are unaffected.
func (h *Handler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	device, err := h.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown device")
			return
		}
		h.logger.Error().Err(err).Msg("load device")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	var req struct {
		Name        *string   `json:"name"`
		DailyQuota  *int      `json:"daily_quota"`
		AllowedTags *[]string `json:"allowed_tags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "name must not be empty")
			return
		}
		device.Name = name
	}
	if req.DailyQuota != nil {
		if *req.DailyQuota < 1 {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "daily_quota must be at least 1")
			return
		}
		device.DailyQuota = *req.DailyQuota
	}
	if req.AllowedTags != nil {
		device.AllowedTags = models.JoinTags(*req.AllowedTags)
	}

	if err := h.store.UpdateDevice(r.Context(), &device); err != nil {
		h.logger.Error().Err(err).Msg("update device")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	h.bus.Publish(events.EventDeviceUpdated, events.Payload{
		"device_id":   device.ID,
		"daily_quota": device.DailyQuota,
	})
	if h.cache != nil {
		h.cache.InvalidateDevice(r.Context(), device.ID)
		h.cache.InvalidateDeviceStats(r.Context(), device.ID)
	}

	writeJSON(w, http.StatusOK, toDeviceView(device))
}

// GrantBonus extends a device's quota for the current local day only.
// Grants are additive and expire at the next midnight by never matching
// another day key.
func (h *Handler) GrantBonus(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	device, err := h.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown device")
			return
		}
		h.logger.Error().Err(err).Msg("load device")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	var req struct {
		Count int `json:"count"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}
	if req.Count < 1 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "count must be at least 1")
		return
	}

	day := models.DayKey(h.engine.Now())
	grant, err := h.store.GrantBonus(r.Context(), device.ID, day, req.Count)
	if err != nil {
		h.logger.Error().Err(err).Msg("grant bonus")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	total, err := h.store.BonusPlays(r.Context(), device.ID, day)
	if err != nil {
		h.logger.Error().Err(err).Msg("sum bonus")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	h.bus.Publish(events.EventBonusGranted, events.Payload{
		"device_id":   device.ID,
		"day":         day,
		"count":       req.Count,
		"bonus_today": total,
	})
	if h.cache != nil {
		h.cache.InvalidateDeviceStats(r.Context(), device.ID)
	}

	h.logger.Info().
		Str("device_id", device.ID).
		Str("day", day).
		Int("count", req.Count).
		Msg("bonus granted")

	writeJSON(w, http.StatusOK, map[string]any{
		"grant_id":    grant.ID,
		"device_id":   device.ID,
		"day":         day,
		"count":       req.Count,
		"bonus_today": total,
	})
}
