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
	"github.com/aerugo/bobavision/internal/store"
)

// CreateDecision is the single endpoint device agents call. One press,
// one decision, one play record. The response carries everything the
// device needs to start the player.
func (h *Handler) CreateDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "device_id is required")
		return
	}

	decision, err := h.engine.Decide(r.Context(), req.DeviceID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNoEligibleAsset):
			h.logger.Error().Err(err).Str("device_id", req.DeviceID).Msg("no eligible asset for decision")
			writeError(w, http.StatusInternalServerError, codeNoEligibleAsset, "no asset available for the required pool")
		default:
			h.logger.Error().Err(err).Str("device_id", req.DeviceID).Msg("decision failed")
			writeError(w, http.StatusInternalServerError, codeDecisionFailed, "decision failed")
		}
		return
	}

	location, err := h.library.Resolve(r.Context(), decision.Asset)
	if err != nil {
		h.logger.Error().Err(err).Str("asset_id", decision.Asset.ID).Msg("resolve asset location")
		writeError(w, http.StatusInternalServerError, codeDecisionFailed, "asset location unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"location":         location,
		"title":            decision.Asset.Title,
		"fallback":         decision.Fallback(),
		"play_id":          decision.PlayID,
		"classification":   string(decision.Classification),
		"duration_seconds": decision.Asset.DurationSeconds,
		"day":              decision.Day,
		"plays_today":      decision.PlaysToday,
		"quota":            decision.EffectiveQuota,
	})
}

// CompletePlay marks a play record as watched to the end. Devices call
// it on clean player exit; abandoned sessions simply never do.
func (h *Handler) CompletePlay(w http.ResponseWriter, r *http.Request) {
	playID := chi.URLParam(r, "playID")

	record, err := h.store.CompletePlay(r.Context(), playID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown play id")
			return
		}
		h.logger.Error().Err(err).Str("play_id", playID).Msg("complete play")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	h.bus.Publish(events.EventPlayCompleted, events.Payload{
		"play_id":   record.ID,
		"device_id": record.DeviceID,
		"asset_id":  record.AssetID,
	})
	if h.cache != nil {
		h.cache.InvalidateDeviceStats(r.Context(), record.DeviceID)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
