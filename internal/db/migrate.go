/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/aerugo/bobavision/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Device{},
		&models.Asset{},
		&models.QueueEntry{},
		&models.PlayRecord{},
		&models.BonusGrant{},
	); err != nil {
		return err
	}

	if err := applyPostgresQuotaGuard(database); err != nil {
		return err
	}
	if err := normalizeImportedTags(database); err != nil {
		return err
	}
	if err := backfillPlayClassifications(database); err != nil {
		return err
	}

	return nil
}

// normalizeImportedTags lowercases tag lists that arrived from the
// predecessor deployment with mixed casing.
func normalizeImportedTags(database *gorm.DB) error {
	if err := database.Exec("UPDATE assets SET tags = LOWER(TRIM(tags)) WHERE tags != LOWER(TRIM(tags))").Error; err != nil {
		return fmt.Errorf("normalize asset tags: %w", err)
	}
	if err := database.Exec("UPDATE devices SET allowed_tags = LOWER(TRIM(allowed_tags)) WHERE allowed_tags != LOWER(TRIM(allowed_tags))").Error; err != nil {
		return fmt.Errorf("normalize device allow lists: %w", err)
	}
	return nil
}

// backfillPlayClassifications fills the classification column for records
// written before it existed. Queued consumption is not reconstructable
// from the old schema, so non-fallback history classifies as random.
func backfillPlayClassifications(database *gorm.DB) error {
	if err := database.Exec(
		"UPDATE play_records SET classification = ? WHERE (classification IS NULL OR classification = '') AND fallback = ?",
		models.ClassificationFallback, true,
	).Error; err != nil {
		return fmt.Errorf("backfill fallback classifications: %w", err)
	}
	if err := database.Exec(
		"UPDATE play_records SET classification = ? WHERE (classification IS NULL OR classification = '') AND fallback = ?",
		models.ClassificationRandom, false,
	).Error; err != nil {
		return fmt.Errorf("backfill random classifications: %w", err)
	}
	return nil
}

func applyPostgresQuotaGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_nonpositive_daily_quota()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.daily_quota < 1 THEN
    RAISE EXCEPTION 'device daily quota must be at least 1'
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_nonpositive_daily_quota ON devices;

CREATE TRIGGER trg_prevent_nonpositive_daily_quota
BEFORE INSERT OR UPDATE OF daily_quota
ON devices
FOR EACH ROW
EXECUTE FUNCTION prevent_nonpositive_daily_quota();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres quota guard: %w", err)
	}

	return nil
}
