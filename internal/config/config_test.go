package config

import "testing"

func TestLoadAppliesSQLiteDefaults(t *testing.T) {
	t.Setenv("BOBAVISION_ENV", "development")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("unexpected default backend: %q", cfg.DBBackend)
	}
	if cfg.DBDSN != "bobavision.db" {
		t.Fatalf("unexpected default sqlite DSN: %q", cfg.DBDSN)
	}
	if cfg.DefaultDailyQuota != 3 {
		t.Fatalf("unexpected default daily quota: %d", cfg.DefaultDailyQuota)
	}
}

func TestLoadRequiresDSNForNonSQLiteBackends(t *testing.T) {
	t.Setenv("BOBAVISION_DB_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail without a postgres DSN")
	}

	t.Setenv("BOBAVISION_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	if _, err := Load(); err != nil {
		t.Fatalf("expected load with DSN to succeed: %v", err)
	}
}

func TestLoadRejectsInvalidQuota(t *testing.T) {
	t.Setenv("BOBAVISION_DEFAULT_DAILY_QUOTA", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail with a zero quota")
	}
}

func TestLoadS3BackendRequiresBucket(t *testing.T) {
	t.Setenv("BOBAVISION_STORAGE_BACKEND", "s3")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail without an s3 bucket")
	}

	t.Setenv("BOBAVISION_S3_BUCKET", "bobavision-media")
	if _, err := Load(); err != nil {
		t.Fatalf("expected load with bucket to succeed: %v", err)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:///./bobavision.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadDeviceHonorsLegacyClientID(t *testing.T) {
	t.Setenv("BOBAVISION_CLIENT_ID", "living-room")

	cfg, err := LoadDevice()
	if err != nil {
		t.Fatalf("load device config: %v", err)
	}
	if cfg.DeviceID != "living-room" {
		t.Fatalf("unexpected device id: %q", cfg.DeviceID)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected a legacy env warning for BOBAVISION_CLIENT_ID")
	}
}

func TestLoadDeviceRejectsBadServerURL(t *testing.T) {
	t.Setenv("BOBAVISION_SERVER_URL", "192.168.1.50:8000")

	if _, err := LoadDevice(); err == nil {
		t.Fatal("expected load to fail for a URL without a scheme")
	}
}
