/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aerugo/bobavision/internal/config"
	"github.com/aerugo/bobavision/internal/engineclient"
	"github.com/aerugo/bobavision/internal/logging"
	"github.com/aerugo/bobavision/internal/player"
	"github.com/aerugo/bobavision/internal/presentation"
	"github.com/aerugo/bobavision/internal/session"
	"github.com/aerugo/bobavision/internal/telemetry"
	"github.com/aerugo/bobavision/internal/trigger"
	"github.com/aerugo/bobavision/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.DeviceConfig
)

var rootCmd = &cobra.Command{
	Use:   "bobabox",
	Short: "BobaVision device agent",
	Long: "bobabox runs on the playback appliance: it waits for the button, asks the " +
		"BobaVision server for a decision, supervises the external video player, and " +
		"drives the kiosk screen the child sees.",
	RunE: runAgent,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the device configuration and sets up logging.
func loadConfig() error {
	var err error
	cfg, err = config.LoadDevice()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logger = logging.SetupWithWriter(cfg.Environment, "bobabox", f)
	} else {
		logger = logging.Setup(cfg.Environment, "bobabox")
	}

	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}
	return nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().
		Str("version", version.Version).
		Str("device_id", cfg.DeviceID).
		Str("server", cfg.ServerURL).
		Msg("bobabox starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "bobabox",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := engineclient.New(cfg, logger)
	mediaPlayer := player.New(cfg, logger)
	controller := session.New(cfg, engine, mediaPlayer, logger)

	// Trigger sources. The push source backs the kiosk page's POST
	// /trigger; a hardware button watcher posts to the same endpoint.
	push := trigger.NewPush("web", cfg.Debounce, logger)
	sources := []trigger.Source{push}
	if cfg.Keyboard {
		sources = append(sources, trigger.NewKeyboard(cfg.Debounce, logger))
	}
	if cfg.GPIOPin > 0 {
		logger.Info().Int("pin", cfg.GPIOPin).
			Msg("hardware button expected; its watcher should POST /trigger on this agent")
	}

	pres, err := presentation.NewServer(cfg, push, logger)
	if err != nil {
		return fmt.Errorf("initialize presentation: %w", err)
	}
	controller.SetNotifier(pres)

	// One startup probe so a misconfigured server URL is visible in the
	// logs immediately. The agent still runs; the controller recovers
	// per press.
	probeCtx, probeCancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	if err := engine.CheckHealth(probeCtx); err != nil {
		logger.Warn().Err(err).Msg("server not reachable yet")
	} else {
		logger.Info().Msg("server reachable")
	}
	probeCancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		controller.Run(ctx)
	}()

	for _, src := range sources {
		wg.Add(1)
		go func(src trigger.Source) {
			defer wg.Done()
			if err := src.Run(ctx); err != nil {
				logger.Error().Err(err).Str("source", src.Name()).Msg("trigger source stopped")
			}
		}(src)

		wg.Add(1)
		go func(src trigger.Source) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-src.Events():
					controller.Trigger()
				}
			}
		}(src)
	}

	addr := fmt.Sprintf("%s:%d", cfg.WebBind, cfg.WebPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           pres.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("kiosk surface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	// Cancelling the context stops the controller, which stops any
	// running player on its way out.
	cancel()
	wg.Wait()

	logger.Info().Msg("bobabox stopped")
	return nil
}
