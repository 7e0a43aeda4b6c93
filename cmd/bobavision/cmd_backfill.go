/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aerugo/bobavision/internal/models"
)

// Manifest types (duplicated from cmd/bobascan to avoid an import dependency).

type backfillManifest struct {
	Version   int                 `json:"version"`
	Source    string              `json:"source"`
	ScannedAt time.Time           `json:"scanned_at"`
	RootDirs  []string            `json:"root_dirs"`
	Files     []backfillFileEntry `json:"files"`
}

type backfillFileEntry struct {
	Path         string                `json:"path"`
	RelativePath string                `json:"relative_path"`
	Filename     string                `json:"filename"`
	Size         int64                 `json:"size"`
	ModifiedAt   time.Time             `json:"modified_at"`
	ContentHash  string                `json:"content_hash"`
	Metadata     *backfillFileMetadata `json:"metadata,omitempty"`
}

type backfillFileMetadata struct {
	Title           string   `json:"title,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
	Container       string   `json:"container,omitempty"`
}

// Backfill flags
var (
	backfillManifestPath string
	backfillFillTags     bool
	backfillForce        bool
	backfillDryRun       bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill asset metadata from a bobascan manifest",
	Long: `Reads a JSON manifest produced by bobascan and updates matching catalog
assets with titles, durations, and optionally tags.

Matching is done by content_hash (SHA-256). Only blank fields are updated
unless --force is specified.

Examples:
  bobavision backfill --manifest manifest.json --dry-run
  bobavision backfill --manifest manifest.json --fill-tags
  bobavision backfill --manifest manifest.json --force`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().StringVar(&backfillManifestPath, "manifest", "", "Path to bobascan JSON manifest (required)")
	backfillCmd.Flags().BoolVar(&backfillFillTags, "fill-tags", false, "Also backfill tags derived from library directories")
	backfillCmd.Flags().BoolVar(&backfillForce, "force", false, "Overwrite existing values (default: only fill blanks)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Report what would change without writing")
	backfillCmd.MarkFlagRequired("manifest")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	// Read and parse manifest
	data, err := os.ReadFile(backfillManifestPath)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest backfillManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	if manifest.Version != 1 {
		return fmt.Errorf("unsupported manifest version: %d", manifest.Version)
	}

	fmt.Printf("Manifest: %d files (scanned %s)\n",
		len(manifest.Files), manifest.ScannedAt.Format(time.RFC3339))

	// Build hash->entry map (entry with richer metadata wins)
	hashMap := make(map[string]backfillFileEntry, len(manifest.Files))
	for _, f := range manifest.Files {
		if f.ContentHash == "" {
			continue
		}
		if existing, ok := hashMap[f.ContentHash]; ok {
			if f.Metadata != nil && existing.Metadata == nil {
				hashMap[f.ContentHash] = f
			}
			continue
		}
		hashMap[f.ContentHash] = f
	}

	fmt.Printf("Unique hashes in manifest: %d\n", len(hashMap))

	// Initialize database
	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	// Collect all hashes for batch query
	hashes := make([]string, 0, len(hashMap))
	for h := range hashMap {
		hashes = append(hashes, h)
	}

	// Query matching assets in batches of 500
	type assetRow struct {
		ID              string
		StoragePath     string
		ContentHash     string
		Title           string
		Tags            string
		DurationSeconds float64
	}

	var allRows []assetRow
	const batchSize = 500
	for i := 0; i < len(hashes); i += batchSize {
		end := i + batchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := hashes[i:end]

		var rows []assetRow
		q := database.Model(&models.Asset{}).
			Select("id, storage_path, content_hash, title, tags, duration_seconds").
			Where("content_hash IN ?", batch)
		if err := q.Find(&rows).Error; err != nil {
			return fmt.Errorf("query assets: %w", err)
		}
		allRows = append(allRows, rows...)
	}

	fmt.Printf("Matching catalog assets: %d\n\n", len(allRows))

	// Process matches
	var updated, skipped, errors int
	for _, row := range allRows {
		entry, ok := hashMap[row.ContentHash]
		if !ok || entry.Metadata == nil {
			skipped++
			continue
		}
		meta := entry.Metadata

		updates := make(map[string]interface{})

		if (backfillForce || row.Title == "") && meta.Title != "" && meta.Title != row.Title {
			updates["title"] = meta.Title
		}

		if (backfillForce || row.DurationSeconds == 0) && meta.DurationSeconds > 0 {
			updates["duration_seconds"] = meta.DurationSeconds
		}

		if backfillFillTags && (backfillForce || row.Tags == "") && len(meta.Tags) > 0 {
			updates["tags"] = models.JoinTags(meta.Tags)
		}

		if len(updates) == 0 {
			skipped++
			continue
		}

		if backfillDryRun {
			fmt.Printf("  [dry-run] %s: would update %v\n", row.StoragePath, mapKeys(updates))
			updated++
			continue
		}

		if err := database.Model(&models.Asset{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			fmt.Fprintf(os.Stderr, "  error updating %s: %v\n", row.StoragePath, err)
			errors++
			continue
		}
		updated++
	}

	// Summary
	unmatched := len(hashMap) - len(allRows)
	if unmatched < 0 {
		unmatched = 0
	}

	fmt.Printf("\nBackfill %s:\n", modeLabel(backfillDryRun))
	fmt.Printf("  Updated:           %d\n", updated)
	fmt.Printf("  Already populated: %d\n", skipped)
	fmt.Printf("  Errors:            %d\n", errors)
	fmt.Printf("  Unmatched (manifest only): %d\n", unmatched)

	return nil
}

func mapKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func modeLabel(dryRun bool) string {
	if dryRun {
		return "Complete (dry run)"
	}
	return "Complete"
}
