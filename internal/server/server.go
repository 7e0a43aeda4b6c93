/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aerugo/bobavision/internal/api"
	"github.com/aerugo/bobavision/internal/cache"
	"github.com/aerugo/bobavision/internal/config"
	"github.com/aerugo/bobavision/internal/db"
	"github.com/aerugo/bobavision/internal/eventbus"
	"github.com/aerugo/bobavision/internal/events"
	"github.com/aerugo/bobavision/internal/library"
	"github.com/aerugo/bobavision/internal/selection"
	"github.com/aerugo/bobavision/internal/stats"
	"github.com/aerugo/bobavision/internal/store"
	"github.com/aerugo/bobavision/internal/telemetry"
	"github.com/aerugo/bobavision/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db      *gorm.DB
	cache   *cache.Cache
	bus     *events.Bus
	store   *store.Store
	engine  *selection.Engine
	library *library.Service
	stats   *stats.Service
	api     *api.Handler
	bridge  *eventbus.NATSBridge
	updates *version.Checker

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("bobavision-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for WebSocket upgrades and media streaming, both of
	// which legitimately outlive a request deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			if strings.HasPrefix(r.URL.Path, "/media/") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Keep the header deadline against slowloris, but no full-body
		// deadlines: media responses stream for as long as a video runs.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		s.logger.Warn().Err(err).Msg("database metrics callbacks not registered")
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	s.store = store.New(database, s.logger)

	// Redis cache and decision lease. The server runs fine without it;
	// the engine then relies on its in-process per-device lock alone.
	if s.cfg.RedisEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	s.engine = selection.New(s.store, s.bus, s.cfg.DefaultDailyQuota, s.logger)
	if s.cache != nil {
		s.engine.SetLease(s.cache)
	}

	s.library, err = library.NewService(s.cfg, s.store, s.bus, s.logger)
	if err != nil {
		return fmt.Errorf("initialize library service: %w", err)
	}
	if err := s.library.CheckStorageAccess(); err != nil {
		s.logger.Warn().Err(err).Msg("library storage not accessible yet")
	}

	s.stats = stats.New(s.store, s.cache, s.logger)
	s.api = api.NewHandler(s.store, s.engine, s.library, s.stats, s.cache, s.bus, s.cfg.DefaultDailyQuota, s.logger)

	s.updates = version.NewChecker(s.logger)
	s.api.SetUpdateChecker(s.updates)

	if s.cfg.NATSURL != "" {
		bridge, err := eventbus.NewNATSBridge(s.cfg.NATSURL, s.cfg.InstanceID, s.bus, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("NATS bridge unavailable, events stay node-local")
		} else {
			s.bridge = bridge
			s.DeferClose(bridge.Close)
		}
	}

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Store exposes the repository, used by CLI subcommands sharing server wiring.
func (s *Server) Store() *store.Store {
	return s.store
}

// Library exposes the catalog service.
func (s *Server) Library() *library.Service {
	return s.library
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Database connection gauge updater
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	// Cache invalidation listener. Handlers invalidate inline for their
	// own writes; this listener catches events relayed from other
	// replicas over NATS so a stale entry never outlives its TTL here.
	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}

	if s.cfg.ScanOnStart {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if _, err := s.library.Scan(ctx); err != nil {
				s.logger.Error().Err(err).Msg("startup library scan failed")
			}
		}()
	}

	s.updates.Start(ctx)
}

// runCacheInvalidationListener drops cached reads when their source rows
// change anywhere in the deployment.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	deviceUpdated := s.bus.Subscribe(events.EventDeviceUpdated)
	assetUpdated := s.bus.Subscribe(events.EventAssetUpdated)
	bonusGranted := s.bus.Subscribe(events.EventBonusGranted)
	queueUpdated := s.bus.Subscribe(events.EventQueueUpdated)
	decisionMade := s.bus.Subscribe(events.EventDecisionMade)
	scanFinished := s.bus.Subscribe(events.EventScanFinished)

	defer func() {
		s.bus.Unsubscribe(events.EventDeviceUpdated, deviceUpdated)
		s.bus.Unsubscribe(events.EventAssetUpdated, assetUpdated)
		s.bus.Unsubscribe(events.EventBonusGranted, bonusGranted)
		s.bus.Unsubscribe(events.EventQueueUpdated, queueUpdated)
		s.bus.Unsubscribe(events.EventDecisionMade, decisionMade)
		s.bus.Unsubscribe(events.EventScanFinished, scanFinished)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	deviceFrom := func(payload events.Payload) string {
		deviceID, _ := payload["device_id"].(string)
		return deviceID
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case payload := <-deviceUpdated:
			if deviceID := deviceFrom(payload); deviceID != "" {
				s.cache.InvalidateDevice(ctx, deviceID)
				s.cache.InvalidateDeviceStats(ctx, deviceID)
			}

		case payload := <-assetUpdated:
			if assetID, ok := payload["asset_id"].(string); ok && assetID != "" {
				s.cache.InvalidateAsset(ctx, assetID)
			}
			s.cache.InvalidateStats(ctx)

		case payload := <-bonusGranted:
			if deviceID := deviceFrom(payload); deviceID != "" {
				s.cache.InvalidateDeviceStats(ctx, deviceID)
			}

		case payload := <-queueUpdated:
			if deviceID := deviceFrom(payload); deviceID != "" {
				s.cache.InvalidateDeviceStats(ctx, deviceID)
			}

		case payload := <-decisionMade:
			if deviceID := deviceFrom(payload); deviceID != "" {
				s.cache.InvalidateDeviceStats(ctx, deviceID)
			}
			s.cache.InvalidateStats(ctx)

		case <-scanFinished:
			s.cache.InvalidateStats(ctx)
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.updates.Stop()
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Get("/media/*", s.api.ServeMedia)

	s.router.Mount("/api/v1", s.api.Routes())
}
