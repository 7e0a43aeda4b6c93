/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aerugo/bobavision/internal/db"
	"github.com/aerugo/bobavision/internal/models"
)

var (
	resetForce       bool
	resetDeleteMedia bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the database and optionally delete all media",
	Long: `Reset BobaVision to a fresh state.

This command will:
- Drop all tables from the database
- Re-create empty tables
- Optionally delete all media files under the library roots

WARNING: This action is irreversible! All data will be lost.

Examples:
  # Interactive reset (will prompt for confirmation)
  bobavision reset

  # Force reset without confirmation
  bobavision reset --force

  # Reset and delete all media files
  bobavision reset --force --delete-media
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetDeleteMedia, "delete-media", false, "Also delete all media files under the library roots")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	// Confirmation prompt
	if !resetForce {
		fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
		fmt.Println("║                        WARNING                               ║")
		fmt.Println("╠══════════════════════════════════════════════════════════════╣")
		fmt.Println("║  This will DELETE ALL DATA from BobaVision:                  ║")
		fmt.Println("║                                                              ║")
		fmt.Println("║  • All devices and their quota settings                      ║")
		fmt.Println("║  • All queued requests and bonus grants                      ║")
		fmt.Println("║  • All play history                                          ║")
		fmt.Println("║  • The entire asset catalog                                  ║")
		if resetDeleteMedia {
			fmt.Println("║  • ALL MEDIA FILES UNDER THE LIBRARY ROOTS                   ║")
		}
		fmt.Println("║                                                              ║")
		fmt.Println("║  This action CANNOT be undone!                               ║")
		fmt.Println("╚══════════════════════════════════════════════════════════════╝")
		fmt.Println()

		fmt.Print("Type 'yes' to confirm reset: ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "yes" {
			fmt.Println("Reset cancelled.")
			return nil
		}
	}

	logger.Info().
		Bool("delete_media", resetDeleteMedia).
		Msg("Starting database reset")

	// Connect to database
	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	defer sqlDB.Close()

	// Drop all tables in reverse order of dependencies
	tables := []interface{}{
		&models.BonusGrant{},
		&models.PlayRecord{},
		&models.QueueEntry{},
		&models.Asset{},
		&models.Device{},
	}

	logger.Info().Msg("Dropping all tables")
	for _, table := range tables {
		if err := database.Migrator().DropTable(table); err != nil {
			// Log but continue - table might not exist
			logger.Debug().Err(err).Msgf("drop table (may not exist)")
		}
	}

	// Delete media files if requested
	if resetDeleteMedia {
		for _, root := range cfg.LibraryRoots {
			logger.Info().Str("path", root).Msg("Deleting media files...")

			err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				// Don't delete the root directory itself
				if path == root {
					return nil
				}
				if !info.IsDir() {
					if err := os.Remove(path); err != nil {
						logger.Warn().Err(err).Str("path", path).Msg("failed to delete file")
					}
				}
				return nil
			})
			if err != nil {
				logger.Warn().Err(err).Str("path", root).Msg("error walking media directory")
			}

			cleanEmptyDirs(root)
		}
		logger.Info().Msg("Media files deleted")
	}

	// Re-create tables
	logger.Info().Msg("Creating fresh database schema")
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	logger.Info().Msg("Reset complete")
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    Reset Complete!                           ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  BobaVision has been reset to a fresh state.                 ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Next steps:                                                 ║")
	fmt.Println("║  1. Start the server: bobavision serve                       ║")
	fmt.Println("║  2. Re-scan the library: bobavision scan                     ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	return nil
}

// cleanEmptyDirs removes empty directories recursively
func cleanEmptyDirs(root string) {
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() || path == root {
			return nil
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil
		}

		if len(entries) == 0 {
			os.Remove(path)
		}
		return nil
	})
}
