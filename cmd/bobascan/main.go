/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	dirs       []string
	outputFile string
	workers    int
	noMetadata bool
	ffprobeBin string
	source     string
)

var rootCmd = &cobra.Command{
	Use:   "bobascan",
	Short: "Scan video directories and produce a JSON manifest",
	Long: `bobascan walks video directories, computes SHA-256 hashes, and optionally
extracts durations and title tags via ffprobe. The output manifest is
consumed by "bobavision backfill" to enrich catalog assets with titles,
durations, and directory-derived tags.

Running it on a laptop against a copy of the library keeps the probe
load off the appliance itself.

Examples:
  bobascan --dir /srv/media -o manifest.json
  bobascan --dir /mnt/usb/videos --dir /mnt/usb/extra --workers 8
  bobascan --dir /srv/media --no-metadata  # hashes only, no ffprobe`,
	RunE: runScan,
}

func init() {
	rootCmd.Flags().StringArrayVar(&dirs, "dir", nil, "Video directory to scan (required, repeatable)")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 4, "Parallel hash workers")
	rootCmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "Skip ffprobe metadata extraction")
	rootCmd.Flags().StringVar(&ffprobeBin, "ffprobe", "ffprobe", "ffprobe binary to use for metadata")
	rootCmd.Flags().StringVar(&source, "source", "library", "Source label recorded in the manifest")
	rootCmd.MarkFlagRequired("dir")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s := &scanner{
		dirs:       dirs,
		workers:    workers,
		noMetadata: noMetadata,
		ffprobeBin: ffprobeBin,
		source:     source,
	}

	fmt.Fprintf(os.Stderr, "Scanning %d director(y/ies) with %d workers...\n", len(dirs), workers)

	manifest, err := s.scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Scan complete: %d files, %d errors, %.1fs\n",
		manifest.Stats.TotalFiles, manifest.Stats.Errors, manifest.Stats.DurationSeconds)

	var out *os.File
	if outputFile != "" {
		out, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer out.Close()
	} else {
		out = os.Stdout
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if outputFile != "" {
		fmt.Fprintf(os.Stderr, "Manifest written to %s\n", outputFile)
	}

	return nil
}
