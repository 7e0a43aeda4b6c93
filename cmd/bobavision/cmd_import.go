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
	"github.com/aerugo/bobavision/internal/legacy"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import data from another system",
	Long:  "Import devices, assets, queues, and play history from a previous deployment",
}

var importLegacyCmd = &cobra.Command{
	Use:   "legacy",
	Short: "Import from a legacy BobaVision SQLite database",
	Long: `Import devices, the video catalog, queued requests, play history, and
bonus grants from the previous deployment's SQLite database.

Play timestamps are preserved so devices keep their quota history across
the migration. Devices and assets already present in the target are
skipped, so the command is safe to re-run.`,
	RunE: runImportLegacy,
}

// Legacy import flags
var (
	legacyDBPath string
	legacyDryRun bool
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importLegacyCmd)

	importLegacyCmd.Flags().StringVar(&legacyDBPath, "db", "", "Path to the legacy SQLite database (required)")
	importLegacyCmd.Flags().BoolVar(&legacyDryRun, "dry-run", false, "Analyze the database without importing")
	importLegacyCmd.MarkFlagRequired("db")
}

func runImportLegacy(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().
		Str("db_path", legacyDBPath).
		Bool("dry_run", legacyDryRun).
		Msg("starting legacy import")

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	importer := legacy.NewImporter(database, logger)
	options := legacy.Options{DBPath: legacyDBPath, DryRun: legacyDryRun}
	ctx := context.Background()

	// Dry run: just analyze
	if legacyDryRun {
		logger.Info().Msg("performing dry run analysis...")

		result, err := importer.Analyze(ctx, options)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		fmt.Printf("\nImport Preview:\n")
		fmt.Printf("  Devices:      %d\n", result.Devices)
		fmt.Printf("  Assets:       %d\n", result.Assets)
		fmt.Printf("  Queue items:  %d\n", result.QueueItems)
		fmt.Printf("  Plays:        %d\n", result.Plays)
		fmt.Printf("  Bonus grants: %d\n", result.BonusGrants)

		if len(result.Warnings) > 0 {
			fmt.Printf("\nWarnings:\n")
			for _, warning := range result.Warnings {
				fmt.Printf("  - %s\n", warning)
			}
		}

		fmt.Printf("\nRun without --dry-run to perform the import.\n")
		return nil
	}

	// Progress callback
	progressCallback := func(p legacy.Progress) {
		if p.Total > 0 {
			fmt.Printf("\r%-40s", fmt.Sprintf("%s [%d/%d]", p.Phase, p.Current, p.Total))
		} else {
			fmt.Printf("\r%-40s", p.Phase)
		}
		if p.Phase == "completed" {
			fmt.Println()
		}
	}

	result, err := importer.Import(ctx, options, progressCallback)
	if err != nil {
		logger.Error().Err(err).Msg("import failed")
		return fmt.Errorf("import failed: %w", err)
	}

	// Display results
	fmt.Printf("\nImport Complete!\n")
	fmt.Printf("  Devices:      %d imported\n", result.Devices)
	fmt.Printf("  Assets:       %d imported\n", result.Assets)
	fmt.Printf("  Queue items:  %d imported\n", result.QueueItems)
	fmt.Printf("  Plays:        %d imported\n", result.Plays)
	fmt.Printf("  Bonus grants: %d imported\n", result.BonusGrants)
	fmt.Printf("  Duration:     %.1f seconds\n", result.DurationSeconds)

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, warning := range result.Warnings {
			fmt.Printf("  - %s\n", warning)
		}
	}

	if len(result.Skipped) > 0 {
		fmt.Printf("\nSkipped:\n")
		for key, count := range result.Skipped {
			fmt.Printf("  - %s: %d\n", key, count)
		}
	}

	logger.Info().Msg("legacy import completed successfully")
	fmt.Printf("\nThe legacy database recorded no content hashes; run 'bobavision scan' to fill them in.\n")
	return nil
}
