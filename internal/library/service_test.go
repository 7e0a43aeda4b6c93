package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/aerugo/bobavision/internal/config"
	"github.com/aerugo/bobavision/internal/events"
	"github.com/aerugo/bobavision/internal/models"
	"github.com/aerugo/bobavision/internal/store"
)

func newTestService(t *testing.T, root string) (*Service, *store.Store) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// A second :memory: connection would be a second empty database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.Asset{}, &models.QueueEntry{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	st := store.New(db, zerolog.Nop())

	svc, err := NewService(&config.Config{
		StorageBackend: config.StorageFS,
		LibraryRoots:   []string{root},
		FallbackPrefix: "fallback",
		ScanWorkers:    2,
	}, st, events.NewBus(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, st
}

func writeFile(t *testing.T, root, rel string) {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte("video bytes: "+rel), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestScanDiscoversVideos(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "trains_go_fast.mp4")
	writeFile(t, root, "shows/Dino World.MKV")
	writeFile(t, root, "fallback/all_done_today.mp4")
	writeFile(t, root, "notes.txt")

	svc, st := newTestService(t, root)
	ctx := context.Background()

	report, err := svc.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if report.Scanned != 3 || report.Added != 3 || report.Updated != 0 {
		t.Fatalf("report: %+v", report)
	}

	assets, err := st.ListAssets(ctx, store.AssetFilter{})
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(assets))
	}

	byPath := make(map[string]models.Asset, len(assets))
	for _, asset := range assets {
		byPath[asset.StoragePath] = asset
	}

	trains, ok := byPath["trains_go_fast.mp4"]
	if !ok {
		t.Fatalf("missing trains asset: %v", byPath)
	}
	if trains.Title != "trains go fast" {
		t.Fatalf("title from filename: got %q", trains.Title)
	}
	if trains.Fallback {
		t.Fatalf("regular asset flagged fallback")
	}
	if trains.ContentHash == "" || trains.SizeBytes == 0 {
		t.Fatalf("hash/size not recorded: %+v", trains)
	}

	waiting, ok := byPath["fallback/all_done_today.mp4"]
	if !ok {
		t.Fatalf("missing fallback asset: %v", byPath)
	}
	if !waiting.Fallback {
		t.Fatalf("asset under fallback dir must be flagged")
	}

	// A second scan refreshes in place.
	report, err = svc.Scan(ctx)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if report.Added != 0 || report.Updated != 3 {
		t.Fatalf("rescan report: %+v", report)
	}
}

func TestScanPrunesMissingFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "keep.mp4")
	writeFile(t, root, "gone.mp4")

	svc, st := newTestService(t, root)
	ctx := context.Background()

	if _, err := svc.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if err := os.Remove(filepath.Join(root, "gone.mp4")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	report, err := svc.Scan(ctx)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if report.Removed != 1 {
		t.Fatalf("expected 1 removed, got %+v", report)
	}

	assets, err := st.ListAssets(ctx, store.AssetFilter{})
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	if len(assets) != 1 || assets[0].StoragePath != "keep.mp4" {
		t.Fatalf("unexpected survivors: %+v", assets)
	}
}

func TestResolveReturnsMediaLocation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "shows/Dino World.mp4")

	svc, _ := newTestService(t, root)

	location, err := svc.Resolve(context.Background(), models.Asset{
		ID:          "a1",
		StoragePath: "shows/Dino World.mp4",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if location != "/media/shows/Dino%20World.mp4" {
		t.Fatalf("location: got %q", location)
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "ok.mp4")

	svc, _ := newTestService(t, root)

	for _, path := range []string{"../secrets.mp4", "/etc/passwd", "a/../../b.mp4"} {
		if _, err := svc.Open(context.Background(), path); !errors.Is(err, ErrFileNotFound) {
			t.Fatalf("path %q: expected ErrFileNotFound, got %v", path, err)
		}
	}

	rc, err := svc.Open(context.Background(), "ok.mp4")
	if err != nil {
		t.Fatalf("open valid: %v", err)
	}
	rc.Close()
}

func TestTitleFromFilename(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"trains_go_fast.mp4", "trains go fast"},
		{"shows/Dino World.mkv", "Dino World"},
		{"a.mov", "a"},
		{"weird__name_.avi", "weird  name"},
	}
	for _, tc := range cases {
		if got := titleFromFilename(tc.in); got != tc.want {
			t.Fatalf("%q: got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsVideoFile(t *testing.T) {
	t.Parallel()

	yes := []string{"a.mp4", "b.MKV", "c.avi", "d.MoV"}
	no := []string{"a.txt", "b.mp3", "c", "d.srt"}
	for _, name := range yes {
		if !isVideoFile(name) {
			t.Fatalf("%q should be a video file", name)
		}
	}
	for _, name := range no {
		if isVideoFile(name) {
			t.Fatalf("%q should not be a video file", name)
		}
	}
}
