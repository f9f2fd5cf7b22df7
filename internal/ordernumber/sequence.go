/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ordernumber issues the human-facing INT-<year>-<n> order numbers.
package ordernumber

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/telemetry"
)

// FirstValue is the number issued first in every year.
const FirstValue = 1000

// Sequencer hands out the next value of a yearly counter inside the caller's
// transaction.
type Sequencer interface {
	Next(ctx context.Context, tx *gorm.DB, year int) (int, error)
}

// YearSequence stores one counter row per year.
type YearSequence struct{}

// NewYearSequence returns the database backed sequencer.
func NewYearSequence() *YearSequence {
	return &YearSequence{}
}

// Next increments the year's counter. The row update holds the row lock until
// tx commits, so concurrent callers are serialized per year and every value is
// handed out once. A rolled back transaction releases its value again.
func (YearSequence) Next(ctx context.Context, tx *gorm.DB, year int) (int, error) {
	tx = tx.WithContext(ctx)

	seed := models.YearSequence{Year: year, LastValue: FirstValue - 1, UpdatedAt: time.Now()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return 0, fmt.Errorf("seed year sequence %d: %w", year, err)
	}

	res := tx.Model(&models.YearSequence{}).
		Where("year = ?", year).
		Updates(map[string]any{
			"last_value": gorm.Expr("last_value + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("increment year sequence %d: %w", year, res.Error)
	}
	if res.RowsAffected != 1 {
		return 0, fmt.Errorf("increment year sequence %d: %d rows affected", year, res.RowsAffected)
	}

	var row models.YearSequence
	if err := tx.Where("year = ?", year).Take(&row).Error; err != nil {
		return 0, fmt.Errorf("read year sequence %d: %w", year, err)
	}
	return row.LastValue, nil
}

// Format renders a display number.
func Format(year, n int) string {
	return fmt.Sprintf("INT-%d-%d", year, n)
}

// Generator issues display numbers for the organization's calendar year.
type Generator struct {
	seq Sequencer
	loc *time.Location
	now func() time.Time
}

// NewGenerator creates a generator. A nil location means UTC.
func NewGenerator(seq Sequencer, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{seq: seq, loc: loc, now: time.Now}
}

// Issue returns the next display number for the current year.
func (g *Generator) Issue(ctx context.Context, tx *gorm.DB) (string, error) {
	year := g.now().In(g.loc).Year()
	n, err := g.seq.Next(ctx, tx, year)
	if err != nil {
		return "", err
	}
	telemetry.DisplayNumbersIssuedTotal.Inc()
	return Format(year, n), nil
}
