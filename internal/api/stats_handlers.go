/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aerugo/bobavision/internal/store"
)

// OverviewStats returns the system-wide dashboard counters.
func (h *Handler) OverviewStats(w http.ResponseWriter, r *http.Request) {
	overview, err := h.stats.Overview(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("overview stats")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// DeviceStats returns one device's quota and history view.
func (h *Handler) DeviceStats(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	summary, err := h.stats.DeviceSummary(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown device")
			return
		}
		h.logger.Error().Err(err).Msg("device stats")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
