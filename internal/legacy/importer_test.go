package legacy

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/aerugo/bobavision/internal/models"
)

func newTargetDB(t *testing.T) *gorm.DB {
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

	err = db.AutoMigrate(
		&models.Device{},
		&models.Asset{},
		&models.QueueEntry{},
		&models.PlayRecord{},
		&models.BonusGrant{},
	)
	if err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// createLegacyDB writes a predecessor-style SQLite file the way the old
// system's ORM laid it out, including the later bonus-plays columns
// when withBonus is set.
func createLegacyDB(t *testing.T, path string, withBonus bool) {
	t.Helper()

	src, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open legacy db: %v", err)
	}
	defer src.Close()

	schema := []string{
		`CREATE TABLE videos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path VARCHAR NOT NULL UNIQUE,
			title VARCHAR NOT NULL,
			tags VARCHAR,
			is_placeholder BOOLEAN NOT NULL DEFAULT 0,
			duration_seconds INTEGER,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE client_settings (
			client_id VARCHAR PRIMARY KEY,
			friendly_name VARCHAR NOT NULL,
			daily_limit INTEGER NOT NULL DEFAULT 3,
			tag_filters VARCHAR,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id VARCHAR NOT NULL,
			video_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE play_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id VARCHAR NOT NULL,
			video_id INTEGER NOT NULL,
			played_at DATETIME NOT NULL,
			is_placeholder BOOLEAN NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT 0
		)`,
	}
	if withBonus {
		schema = append(schema,
			`ALTER TABLE client_settings ADD COLUMN bonus_plays_count INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE client_settings ADD COLUMN bonus_plays_date DATE`,
		)
	}
	for _, stmt := range schema {
		if _, err := src.Exec(stmt); err != nil {
			t.Fatalf("create legacy schema: %v", err)
		}
	}
}

func seedLegacyFixture(t *testing.T, path string) {
	t.Helper()

	createLegacyDB(t, path, true)

	src, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open legacy db: %v", err)
	}
	defer src.Close()

	jan := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)

	exec := func(query string, args ...any) {
		t.Helper()
		if _, err := src.Exec(query, args...); err != nil {
			t.Fatalf("seed legacy db: %v", err)
		}
	}

	exec(`INSERT INTO client_settings (client_id, friendly_name, daily_limit, tag_filters, created_at, updated_at, bonus_plays_count, bonus_plays_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"den", "Den TV", 3, "Trains, Dinos", jan, jan, 2, "2024-05-01")
	exec(`INSERT INTO client_settings (client_id, friendly_name, daily_limit, tag_filters, created_at, updated_at, bonus_plays_count, bonus_plays_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"bedroom", "Bedroom TV", 2, nil, jan, jan, 0, nil)

	exec(`INSERT INTO videos (id, path, title, tags, is_placeholder, duration_seconds, created_at) VALUES (1, ?, ?, ?, ?, ?, ?)`,
		"shows/dino.mp4", "Dino World", "dinos", false, 300, jan)
	exec(`INSERT INTO videos (id, path, title, tags, is_placeholder, duration_seconds, created_at) VALUES (2, ?, ?, ?, ?, ?, ?)`,
		"shows/trains.mp4", "Busy Trains", "trains", false, 240, jan)
	exec(`INSERT INTO videos (id, path, title, tags, is_placeholder, duration_seconds, created_at) VALUES (3, ?, ?, ?, ?, ?, ?)`,
		"fallback/calm.mp4", "Calm Loop", nil, true, nil, jan)

	exec(`INSERT INTO queue (client_id, video_id, position, created_at) VALUES (?, ?, ?, ?)`, "den", 2, 1, jan)
	exec(`INSERT INTO queue (client_id, video_id, position, created_at) VALUES (?, ?, ?, ?)`, "den", 1, 2, jan)
	exec(`INSERT INTO queue (client_id, video_id, position, created_at) VALUES (?, ?, ?, ?)`, "den", 99, 3, jan)

	exec(`INSERT INTO play_log (client_id, video_id, played_at, is_placeholder, completed) VALUES (?, ?, ?, ?, ?)`,
		"den", 1, time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC), false, true)
	exec(`INSERT INTO play_log (client_id, video_id, played_at, is_placeholder, completed) VALUES (?, ?, ?, ?, ?)`,
		"den", 3, time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC), true, false)
	exec(`INSERT INTO play_log (client_id, video_id, played_at, is_placeholder, completed) VALUES (?, ?, ?, ?, ?)`,
		"bedroom", 2, time.Date(2024, 3, 10, 16, 15, 0, 0, time.UTC), false, true)
}

func TestImportLegacyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bobavision.db")
	seedLegacyFixture(t, path)

	target := newTargetDB(t)
	imp := NewImporter(target, zerolog.Nop())
	ctx := context.Background()

	res, err := imp.Import(ctx, Options{DBPath: path}, nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if res.Devices != 2 || res.Assets != 3 || res.QueueItems != 2 || res.Plays != 3 || res.BonusGrants != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Skipped["queue_dangling"] != 1 {
		t.Errorf("dangling queue item not counted: %+v", res.Skipped)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a warning for the dangling queue item")
	}

	var den models.Device
	if err := target.First(&den, "id = ?", "den").Error; err != nil {
		t.Fatalf("load den: %v", err)
	}
	if den.Name != "Den TV" || den.DailyQuota != 3 {
		t.Errorf("den = %+v", den)
	}
	if den.AllowedTags != "trains,dinos" {
		t.Errorf("AllowedTags = %q, want normalized trains,dinos", den.AllowedTags)
	}

	var calm models.Asset
	if err := target.First(&calm, "storage_path = ?", "fallback/calm.mp4").Error; err != nil {
		t.Fatalf("load calm asset: %v", err)
	}
	if !calm.Fallback {
		t.Error("is_placeholder was not mapped to Fallback")
	}

	// Play timestamps must survive the migration or quota history resets.
	var completed models.PlayRecord
	if err := target.First(&completed, "device_id = ? AND completed = ?", "den", true).Error; err != nil {
		t.Fatalf("load play: %v", err)
	}
	want := time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)
	if !completed.PlayedAt.UTC().Equal(want) {
		t.Errorf("PlayedAt = %v, want %v", completed.PlayedAt.UTC(), want)
	}

	var fallbackPlay models.PlayRecord
	if err := target.First(&fallbackPlay, "device_id = ? AND fallback = ?", "den", true).Error; err != nil {
		t.Fatalf("load fallback play: %v", err)
	}
	if fallbackPlay.Classification != models.ClassificationFallback {
		t.Errorf("Classification = %q, want fallback", fallbackPlay.Classification)
	}

	var entries []models.QueueEntry
	if err := target.Where("device_id = ?", "den").Order("position").Find(&entries).Error; err != nil {
		t.Fatalf("load queue: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("queue entries = %d, want 2", len(entries))
	}
	var first models.Asset
	if err := target.First(&first, "id = ?", entries[0].AssetID).Error; err != nil {
		t.Fatalf("load queued asset: %v", err)
	}
	if first.Title != "Busy Trains" {
		t.Errorf("first queued = %q, want Busy Trains", first.Title)
	}

	var grant models.BonusGrant
	if err := target.First(&grant, "device_id = ?", "den").Error; err != nil {
		t.Fatalf("load bonus grant: %v", err)
	}
	if grant.Day != "2024-05-01" || grant.Count != 2 {
		t.Errorf("grant = %+v", grant)
	}
}

func TestImportLegacySecondRunSkips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bobavision.db")
	seedLegacyFixture(t, path)

	target := newTargetDB(t)
	imp := NewImporter(target, zerolog.Nop())
	ctx := context.Background()

	if _, err := imp.Import(ctx, Options{DBPath: path}, nil); err != nil {
		t.Fatalf("first import: %v", err)
	}

	res, err := imp.Import(ctx, Options{DBPath: path}, nil)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}

	if res.Devices != 0 || res.Assets != 0 || res.QueueItems != 0 || res.Plays != 0 || res.BonusGrants != 0 {
		t.Fatalf("second run imported rows: %+v", res)
	}
	if res.Skipped["devices_existing"] != 2 || res.Skipped["assets_existing"] != 3 {
		t.Errorf("expected existing devices and assets to be skipped: %+v", res.Skipped)
	}
	if res.Skipped["plays_existing_device"] != 3 {
		t.Errorf("expected plays of existing devices to be skipped: %+v", res.Skipped)
	}

	var plays int64
	target.Model(&models.PlayRecord{}).Count(&plays)
	if plays != 3 {
		t.Errorf("play records = %d after re-run, want 3", plays)
	}
}

func TestImportLegacyWithoutBonusColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	createLegacyDB(t, path, false)

	src, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open legacy db: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	if _, err := src.Exec(`INSERT INTO client_settings (client_id, friendly_name, daily_limit, tag_filters, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"den", "Den TV", 3, nil, now, now); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	src.Close()

	target := newTargetDB(t)
	imp := NewImporter(target, zerolog.Nop())

	res, err := imp.Import(context.Background(), Options{DBPath: path}, nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Devices != 1 || res.BonusGrants != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestImportLegacyDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bobavision.db")
	seedLegacyFixture(t, path)

	target := newTargetDB(t)
	imp := NewImporter(target, zerolog.Nop())

	res, err := imp.Import(context.Background(), Options{DBPath: path, DryRun: true}, nil)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if res.Devices != 2 || res.Assets != 3 || res.Plays != 3 {
		t.Fatalf("unexpected dry-run result: %+v", res)
	}

	var devices int64
	target.Model(&models.Device{}).Count(&devices)
	if devices != 0 {
		t.Errorf("dry run wrote %d devices", devices)
	}
}

func TestAnalyzeLegacyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bobavision.db")
	seedLegacyFixture(t, path)

	target := newTargetDB(t)
	imp := NewImporter(target, zerolog.Nop())

	res, err := imp.Analyze(context.Background(), Options{DBPath: path})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Devices != 2 || res.Assets != 3 || res.QueueItems != 3 || res.Plays != 3 || res.BonusGrants != 1 {
		t.Fatalf("unexpected analysis: %+v", res)
	}
}

func TestValidateLegacyDatabase(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		imp := NewImporter(newTargetDB(t), zerolog.Nop())
		err := imp.Validate(context.Background(), Options{DBPath: filepath.Join(t.TempDir(), "nope.db")})
		if err == nil {
			t.Fatal("expected error for missing file")
		}
	})

	t.Run("missing tables", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "other.db")
		src, err := sql.Open("sqlite3", path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if _, err := src.Exec(`CREATE TABLE something_else (id INTEGER PRIMARY KEY)`); err != nil {
			t.Fatalf("create table: %v", err)
		}
		src.Close()

		imp := NewImporter(newTargetDB(t), zerolog.Nop())
		err = imp.Validate(context.Background(), Options{DBPath: path})
		if err == nil || !strings.Contains(err.Error(), "missing table") {
			t.Fatalf("err = %v, want missing table error", err)
		}
	})
}
