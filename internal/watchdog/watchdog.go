/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package watchdog reports slots that are still running or paused well after
// their planned end.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/events"
	"github.com/friendsincode/shopfloor/internal/grid"
	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/telemetry"
)

// Config controls scan cadence and tolerance.
type Config struct {
	Interval time.Duration
	Grace    time.Duration
	Location *time.Location
}

// Watchdog scans for overdue slots.
type Watchdog struct {
	db     *gorm.DB
	bus    events.Publisher
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	reported map[string]struct{}
}

// New creates a watchdog.
func New(db *gorm.DB, bus events.Publisher, cfg Config, logger zerolog.Logger) *Watchdog {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Watchdog{
		db:       db,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With().Str("component", "watchdog").Logger(),
		now:      time.Now,
		reported: make(map[string]struct{}),
	}
}

// Run scans once per interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.cfg.Interval).Dur("grace", w.cfg.Grace).Msg("watchdog started")
	for {
		if _, err := w.Scan(ctx); err != nil {
			w.logger.Error().Err(err).Msg("overdue scan failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Scan returns every overdue slot and publishes slot.overdue for the ones
// not reported before.
func (w *Watchdog) Scan(ctx context.Context) ([]models.TimeSlot, error) {
	now := w.now().In(w.cfg.Location)
	today := now.Format(grid.DateLayout)

	var open []models.TimeSlot
	err := w.db.WithContext(ctx).
		Where("status IN ? AND date <= ?", []models.SlotStatus{models.SlotStatusRunning, models.SlotStatusPaused}, today).
		Order("date ASC, start_min ASC").
		Find(&open).Error
	if err != nil {
		return nil, fmt.Errorf("load open time slots: %w", err)
	}

	var overdue []models.TimeSlot
	for _, slot := range open {
		end, err := PlannedEnd(&slot, w.cfg.Location)
		if err != nil {
			w.logger.Warn().Err(err).Str("slot_id", slot.ID).Msg("skipping slot with bad date")
			continue
		}
		if now.After(end.Add(w.cfg.Grace)) {
			overdue = append(overdue, slot)
		}
	}

	fresh := w.track(overdue)
	telemetry.SlotsOverdue.Set(float64(len(overdue)))

	for i := range fresh {
		slot := &fresh[i]
		end, _ := PlannedEnd(slot, w.cfg.Location)
		late := now.Sub(end).Round(time.Minute)
		w.logger.Warn().
			Str("slot_id", slot.ID).
			Str("work_center_id", slot.WorkCenterID).
			Str("status", string(slot.Status)).
			Dur("late", late).
			Msg("time slot overdue")
		if w.bus != nil {
			w.bus.Publish(events.EventSlotOverdue, events.SlotPayload(ctx, slot, events.Payload{
				"planned_end": end.UTC().Format(time.RFC3339),
				"late_min":    int(late / time.Minute),
			}))
		}
	}
	return overdue, nil
}

// track remembers overdue slots and returns the ones seen for the first
// time. Slots that are no longer overdue are forgotten.
func (w *Watchdog) track(overdue []models.TimeSlot) []models.TimeSlot {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := make(map[string]struct{}, len(overdue))
	var fresh []models.TimeSlot
	for _, slot := range overdue {
		current[slot.ID] = struct{}{}
		if _, seen := w.reported[slot.ID]; !seen {
			fresh = append(fresh, slot)
		}
	}
	w.reported = current
	return fresh
}

// PlannedEnd returns the wall-clock end of slot in loc.
func PlannedEnd(slot *models.TimeSlot, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(grid.DateLayout, slot.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot date %q: %w", slot.Date, err)
	}
	end := slot.EndMin()
	return time.Date(day.Year(), day.Month(), day.Day(), end/60, end%60, 0, 0, loc), nil
}
