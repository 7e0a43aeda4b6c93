/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api implements the HTTP surface: the decision endpoint the
// device agents call, and the administrative CRUD the parent dashboard
// uses.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aerugo/bobavision/internal/cache"
	"github.com/aerugo/bobavision/internal/events"
	"github.com/aerugo/bobavision/internal/library"
	"github.com/aerugo/bobavision/internal/selection"
	"github.com/aerugo/bobavision/internal/stats"
	"github.com/aerugo/bobavision/internal/store"
	"github.com/aerugo/bobavision/internal/version"
)

// Error codes returned in JSON bodies. Device agents branch on these.
const (
	codeInvalidRequest  = "invalid_request"
	codeNotFound        = "not_found"
	codeNoEligibleAsset = "no_eligible_asset"
	codeDecisionFailed  = "decision_failed"
	codeScanBusy        = "scan_busy"
	codeInternalError   = "internal_error"
)

// Handler carries the services the API routes depend on.
type Handler struct {
	store        *store.Store
	engine       *selection.Engine
	library      *library.Service
	stats        *stats.Service
	cache        *cache.Cache
	bus          *events.Bus
	updates      *version.Checker
	logger       zerolog.Logger
	defaultQuota int
}

// NewHandler creates the API handler. The cache may be nil.
func NewHandler(
	st *store.Store,
	engine *selection.Engine,
	lib *library.Service,
	statsSvc *stats.Service,
	c *cache.Cache,
	bus *events.Bus,
	defaultQuota int,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		store:        st,
		engine:       engine,
		library:      lib,
		stats:        statsSvc,
		cache:        c,
		bus:          bus,
		logger:       logger.With().Str("component", "api").Logger(),
		defaultQuota: defaultQuota,
	}
}

// Routes builds the /api/v1 router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/decisions", h.CreateDecision)
	r.Post("/plays/{playID}/complete", h.CompletePlay)

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", h.ListDevices)
		r.Post("/", h.CreateDevice)
		r.Route("/{deviceID}", func(r chi.Router) {
			r.Get("/", h.GetDevice)
			r.Put("/", h.UpdateDevice)
			r.Post("/bonus", h.GrantBonus)
			r.Get("/stats", h.DeviceStats)
			r.Route("/queue", func(r chi.Router) {
				r.Get("/", h.ListQueue)
				r.Post("/", h.AppendQueue)
				r.Post("/clear", h.ClearQueue)
				r.Put("/reorder", h.ReorderQueue)
				r.Delete("/{entryID}", h.RemoveQueueEntry)
			})
		})
	})

	r.Route("/assets", func(r chi.Router) {
		r.Get("/", h.ListAssets)
		r.Post("/scan", h.ScanLibrary)
		r.Route("/{assetID}", func(r chi.Router) {
			r.Get("/", h.GetAsset)
			r.Put("/", h.UpdateAsset)
			r.Delete("/", h.DeleteAsset)
		})
	})

	r.Get("/stats", h.OverviewStats)
	r.Get("/events/ws", h.EventsWebSocket)
	r.Get("/version", h.GetVersion)

	return r
}

// SetUpdateChecker attaches the background update checker so /version
// can report available releases.
func (h *Handler) SetUpdateChecker(c *version.Checker) {
	h.updates = c
}

// GetVersion reports the running version and any available update.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"version": version.Version}
	if h.updates != nil {
		info := h.updates.Info()
		resp["update_available"] = info.UpdateAvailable
		if info.UpdateAvailable {
			resp["latest_version"] = info.LatestVersion
			resp["release_url"] = info.ReleaseURL
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error body with a machine-readable code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func decodeJSON(r *http.Request, dest any) error {
	return json.NewDecoder(r.Body).Decode(dest)
}
