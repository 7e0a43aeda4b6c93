/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aerugo/bobavision/internal/events"
	"github.com/aerugo/bobavision/internal/library"
	"github.com/aerugo/bobavision/internal/models"
	"github.com/aerugo/bobavision/internal/store"
)

type assetView struct {
	ID              string   `json:"id"`
	Path            string   `json:"path"`
	Title           string   `json:"title"`
	Tags            []string `json:"tags"`
	Fallback        bool     `json:"fallback"`
	DurationSeconds float64  `json:"duration_seconds"`
	SizeBytes       int64    `json:"size_bytes"`
	CreatedAt       string   `json:"created_at"`
}

func toAssetView(a models.Asset) assetView {
	tags := a.TagSet()
	if tags == nil {
		tags = []string{}
	}
	return assetView{
		ID:              a.ID,
		Path:            a.StoragePath,
		Title:           a.Title,
		Tags:            tags,
		Fallback:        a.Fallback,
		DurationSeconds: a.DurationSeconds,
		SizeBytes:       a.SizeBytes,
		CreatedAt:       a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// ListAssets returns catalog entries, optionally filtered by fallback
// flag, tag, or a title search.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	var filter store.AssetFilter

	if raw := r.URL.Query().Get("fallback"); raw != "" {
		fallback, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "fallback must be true or false")
			return
		}
		filter.Fallback = &fallback
	}
	filter.Tag = strings.TrimSpace(r.URL.Query().Get("tag"))
	filter.Search = strings.TrimSpace(r.URL.Query().Get("search"))

	assets, err := h.store.ListAssets(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("list assets")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	views := make([]assetView, 0, len(assets))
	for _, a := range assets {
		views = append(views, toAssetView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assets": views,
		"total":  len(views),
	})
}

// GetAsset returns one catalog entry.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	asset, err := h.store.GetAsset(r.Context(), assetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown asset")
			return
		}
		h.logger.Error().Err(err).Msg("load asset")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, toAssetView(asset))
}

// UpdateAsset edits curation fields. The storage path, hash and size
// belong to the scanner and cannot be changed here.
func (h *Handler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	asset, err := h.store.GetAsset(r.Context(), assetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown asset")
			return
		}
		h.logger.Error().Err(err).Msg("load asset")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	var req struct {
		Title    *string   `json:"title"`
		Tags     *[]string `json:"tags"`
		Fallback *bool     `json:"fallback"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "title must not be empty")
			return
		}
		asset.Title = title
	}
	if req.Tags != nil {
		asset.Tags = models.JoinTags(*req.Tags)
	}
	if req.Fallback != nil {
		asset.Fallback = *req.Fallback
	}

	if err := h.store.UpdateAsset(r.Context(), &asset); err != nil {
		h.logger.Error().Err(err).Msg("update asset")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	h.bus.Publish(events.EventAssetUpdated, events.Payload{
		"asset_id": asset.ID,
		"action":   "edit",
	})
	if h.cache != nil {
		h.cache.InvalidateAsset(r.Context(), asset.ID)
	}

	writeJSON(w, http.StatusOK, toAssetView(asset))
}

// DeleteAsset removes a catalog entry and any queue entries pointing at
// it. The media file itself is left alone.
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	if _, err := h.store.GetAsset(r.Context(), assetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "unknown asset")
			return
		}
		h.logger.Error().Err(err).Msg("load asset")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	if err := h.store.DeleteAsset(r.Context(), assetID); err != nil {
		h.logger.Error().Err(err).Msg("delete asset")
		writeError(w, http.StatusInternalServerError, codeInternalError, "db_error")
		return
	}

	h.bus.Publish(events.EventAssetUpdated, events.Payload{
		"asset_id": assetID,
		"action":   "delete",
	})
	if h.cache != nil {
		h.cache.InvalidateAsset(r.Context(), assetID)
		h.cache.InvalidateStats(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ScanLibrary walks the media roots and synchronizes the catalog. The
// scan runs inline; a second request while one is running gets 409.
func (h *Handler) ScanLibrary(w http.ResponseWriter, r *http.Request) {
	report, err := h.library.Scan(r.Context())
	if err != nil {
		if errors.Is(err, library.ErrScanBusy) {
			writeError(w, http.StatusConflict, codeScanBusy, "a scan is already running")
			return
		}
		h.logger.Error().Err(err).Msg("library scan")
		writeError(w, http.StatusInternalServerError, codeInternalError, "scan failed")
		return
	}

	if h.cache != nil {
		h.cache.InvalidateStats(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scanned": report.Scanned,
		"added":   report.Added,
		"updated": report.Updated,
		"removed": report.Removed,
		"failed":  report.Failed,
		"elapsed": report.Elapsed.String(),
	})
}
