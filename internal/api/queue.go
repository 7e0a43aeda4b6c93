/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aerugo/bobavision/internal/events"
	"github.com/aerugo/bobavision/internal/store"
	"github.com/aerugo/bobavision/internal/telemetry"
)

type queueEntryView struct {
	EntryID  string `json:"entry_id"`
	AssetID  string `json:"asset_id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// requireDevice loads the device behind {deviceID} or writes the error
// response itself. The bool reports whether the caller should continue.
func (h *Handler) requireDevice(w http.ResponseWriter, r *http.Request) (string, bool) {
	deviceID := chi.URLParam(r, "deviceID")
	if _, err := h.store.GetDevice(r.Context(), deviceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown device")
		} else {
			h.logger.Error().Err(err).Msg("load device")
			writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		}
		return "", false
	}
	return deviceID, true
}

func (h *Handler) publishQueueUpdate(r *http.Request, deviceID, action string) {
	depth, err := h.store.QueueDepth(r.Context(), deviceID)
	if err == nil {
		telemetry.QueueDepth.WithLabelValues(deviceID).Set(float64(depth))
	}
	h.bus.Publish(events.EventQueueUpdated, events.Payload{
		"device_id": deviceID,
		"action":    action,
		"depth":     depth,
	})
	if h.cache != nil {
		h.cache.InvalidateDeviceStats(r.Context(), deviceID)
	}
}

// ListQueue returns a device queue in play order.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.requireDevice(w, r)
	if !ok {
		return
	}

	items, err := h.store.ListQueue(r.Context(), deviceID)
	if err != nil {
		h.logger.Error().Err(err).Msg("list queue")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	views := make([]queueEntryView, 0, len(items))
	for _, item := range items {
		views = append(views, queueEntryView{
			EntryID:  item.Entry.ID,
			AssetID:  item.Asset.ID,
			Title:    item.Asset.Title,
			Position: item.Entry.Position,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"queue":     views,
	})
}

// AppendQueue adds an asset to the tail of a device queue.
func (h *Handler) AppendQueue(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.requireDevice(w, r)
	if !ok {
		return
	}

	var req struct {
		AssetID string `json:"asset_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}
	if req.AssetID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "asset_id is required")
		return
	}

	entry, err := h.store.AppendQueue(r.Context(), deviceID, req.AssetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown asset")
			return
		}
		h.logger.Error().Err(err).Msg("append queue")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	h.publishQueueUpdate(r, deviceID, "append")
	writeJSON(w, http.StatusCreated, map[string]any{
		"entry_id": entry.ID,
		"asset_id": entry.AssetID,
		"position": entry.Position,
	})
}

// ClearQueue empties a device queue.
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.requireDevice(w, r)
	if !ok {
		return
	}

	if err := h.store.ClearQueue(r.Context(), deviceID); err != nil {
		h.logger.Error().Err(err).Msg("clear queue")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	h.publishQueueUpdate(r, deviceID, "clear")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReorderQueue rewrites queue positions to the given entry order.
// Entries left out of the list keep their relative order after the
// named ones.
func (h *Handler) ReorderQueue(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.requireDevice(w, r)
	if !ok {
		return
	}

	var req struct {
		EntryIDs []string `json:"entry_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}

	if err := h.store.ReorderQueue(r.Context(), deviceID, req.EntryIDs); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown queue entry")
			return
		}
		h.logger.Error().Err(err).Msg("reorder queue")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	h.publishQueueUpdate(r, deviceID, "reorder")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RemoveQueueEntry deletes one entry from a device queue.
func (h *Handler) RemoveQueueEntry(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.requireDevice(w, r)
	if !ok {
		return
	}
	entryID := chi.URLParam(r, "entryID")

	if err := h.store.RemoveQueueEntry(r.Context(), deviceID, entryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown queue entry")
			return
		}
		h.logger.Error().Err(err).Msg("remove queue entry")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	h.publishQueueUpdate(r, deviceID, "remove")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
