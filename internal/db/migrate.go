/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/grid"
	"github.com/friendsincode/shopfloor/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.WorkCenter{},
		&models.Order{},
		&models.PrintAsset{},
		&models.TimeSlot{},
		&models.YearSequence{},
		&models.AuditLog{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if err := applyPostgresRangeGuards(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresRangeGuards mirrors the grid and capacity invariants as CHECK
// constraints so rows written outside the service are rejected too.
func applyPostgresRangeGuards(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	guards := map[string]string{
		"chk_time_slots_window": fmt.Sprintf(
			`ALTER TABLE time_slots ADD CONSTRAINT chk_time_slots_window CHECK (
				start_min >= %[1]d AND length_min >= %[3]d AND start_min + length_min <= %[2]d
				AND start_min %% %[3]d = 0 AND length_min %% %[3]d = 0)`,
			grid.DayStartMin, grid.DayEndMin, grid.StepMin),
		"chk_time_slots_blocker": `ALTER TABLE time_slots ADD CONSTRAINT chk_time_slots_blocker CHECK (
				(order_id IS NULL) = blocked)`,
		"chk_work_centers_capacity": `ALTER TABLE work_centers ADD CONSTRAINT chk_work_centers_capacity CHECK (capacity >= 1)`,
	}

	for name, ddl := range guards {
		stmt := fmt.Sprintf(`
DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '%s') THEN
		%s;
	END IF;
END $$;`, name, ddl)
		if err := database.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply postgres guard %s: %w", name, err)
		}
	}
	return nil
}
