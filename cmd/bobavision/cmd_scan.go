/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aerugo/bobavision/internal/db"
	"github.com/aerugo/bobavision/internal/events"
	"github.com/aerugo/bobavision/internal/library"
	"github.com/aerugo/bobavision/internal/store"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the media library and update the catalog",
	Long: `Walks the configured library roots, hashes and probes every video file,
adds new assets to the catalog, refreshes changed ones, and prunes
catalog rows whose backing file is gone.

Files under the fallback prefix directory are flagged as fallback
content and stay playable after a device's daily quota runs out.

Examples:
  bobavision scan
  BOBAVISION_LIBRARY_PATH=/srv/media bobavision scan`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	st := store.New(database, logger)
	bus := events.NewBus()

	lib, err := library.NewService(cfg, st, bus, logger)
	if err != nil {
		return fmt.Errorf("initialize library: %w", err)
	}

	fmt.Printf("Scanning %d library root(s)...\n", len(cfg.LibraryRoots))

	report, err := lib.Scan(context.Background())
	if err != nil {
		return fmt.Errorf("scan library: %w", err)
	}

	fmt.Printf("\nScan complete in %.1fs:\n", report.Elapsed.Seconds())
	fmt.Printf("  Scanned: %d\n", report.Scanned)
	fmt.Printf("  Added:   %d\n", report.Added)
	fmt.Printf("  Updated: %d\n", report.Updated)
	fmt.Printf("  Removed: %d\n", report.Removed)
	fmt.Printf("  Failed:  %d\n", report.Failed)

	return nil
}
