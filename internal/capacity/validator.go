/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package capacity decides whether a slot placement exceeds the concurrent
// capacity of its work center.
package capacity

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/apperr"
	"github.com/friendsincode/shopfloor/internal/grid"
	"github.com/friendsincode/shopfloor/internal/models"
)

// Candidate is the placement being checked.
type Candidate struct {
	IgnoreSlotID string // the slot's own prior occupancy when moving
	WorkCenterID string
	Date         string
	StartMin     int
	LengthMin    int
}

// Result reports the peak concurrency seen inside the candidate interval.
type Result struct {
	Conflict    bool
	Peak        int // including the candidate
	Capacity    int
	Overlapping []string
	PeakAtMin   int
}

// Validator runs capacity checks. It holds no scheduling state.
type Validator struct {
	logger zerolog.Logger
}

// NewValidator creates a capacity validator.
func NewValidator(logger zerolog.Logger) *Validator {
	return &Validator{logger: logger.With().Str("component", "capacity").Logger()}
}

// Check filters existing to the candidate's work center and date, drops the
// ignored slot, and sweeps the overlapping intervals to find the maximum
// number of simultaneous slots (candidate included). Capacity 1 reduces to
// pairwise overlap.
func Check(c Candidate, capacity int, existing []models.TimeSlot) Result {
	res := Result{Capacity: capacity, Peak: 1, PeakAtMin: c.StartMin}
	candEnd := c.StartMin + c.LengthMin

	type edge struct {
		at    int
		delta int
	}
	var edges []edge

	for i := range existing {
		s := &existing[i]
		if s.WorkCenterID != c.WorkCenterID || s.Date != c.Date {
			continue
		}
		if c.IgnoreSlotID != "" && s.ID == c.IgnoreSlotID {
			continue
		}
		if !grid.Overlaps(c.StartMin, c.LengthMin, s.StartMin, s.LengthMin) {
			continue
		}
		res.Overlapping = append(res.Overlapping, s.ID)
		edges = append(edges,
			edge{at: max(s.StartMin, c.StartMin), delta: 1},
			edge{at: min(s.EndMin(), candEnd), delta: -1},
		)
	}

	// Half-open intervals: an end at t frees capacity before a start at t.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at != edges[j].at {
			return edges[i].at < edges[j].at
		}
		return edges[i].delta < edges[j].delta
	})

	current := 1
	for _, e := range edges {
		current += e.delta
		if current > res.Peak {
			res.Peak = current
			res.PeakAtMin = e.at
		}
	}

	res.Conflict = res.Peak > capacity
	return res
}

// Occupancy loads the slots of a work center on a date through tx, so the
// caller sees the state of its own transaction.
func (v *Validator) Occupancy(ctx context.Context, tx *gorm.DB, workCenterID, date string) ([]models.TimeSlot, error) {
	var slots []models.TimeSlot
	err := tx.WithContext(ctx).
		Where("work_center_id = ? AND date = ?", workCenterID, date).
		Order("start_min ASC").
		Find(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("load occupancy: %w", err)
	}
	return slots, nil
}

// Verify re-reads occupancy inside tx and returns an ErrConflict error when
// the candidate does not fit.
func (v *Validator) Verify(ctx context.Context, tx *gorm.DB, wc *models.WorkCenter, c Candidate) error {
	existing, err := v.Occupancy(ctx, tx, c.WorkCenterID, c.Date)
	if err != nil {
		return err
	}

	res := Check(c, wc.Capacity, existing)
	if !res.Conflict {
		return nil
	}

	v.logger.Debug().
		Str("work_center_id", c.WorkCenterID).
		Str("date", c.Date).
		Int("start_min", c.StartMin).
		Int("length_min", c.LengthMin).
		Int("peak", res.Peak).
		Int("capacity", wc.Capacity).
		Msg("capacity exceeded")

	msg := fmt.Sprintf("%s on %s %s-%s would run %d slots at %s, capacity is %d",
		wc.Name, c.Date,
		grid.FormatMinutes(c.StartMin), grid.FormatMinutes(c.StartMin+c.LengthMin),
		res.Peak, grid.FormatMinutes(res.PeakAtMin), wc.Capacity)
	if wc.Capacity == 1 {
		msg = fmt.Sprintf("%s on %s %s-%s overlaps an existing slot",
			wc.Name, c.Date, grid.FormatMinutes(c.StartMin), grid.FormatMinutes(c.StartMin+c.LengthMin))
	}

	return apperr.Conflict("capacity_exceeded", "%s", msg).
		With("work_center_id", c.WorkCenterID).
		With("date", c.Date).
		With("peak", res.Peak).
		With("capacity", wc.Capacity).
		With("overlapping_slot_ids", res.Overlapping)
}

// PeakLoad returns the maximum concurrency across the given slots of one
// work center and date.
func PeakLoad(slots []models.TimeSlot) int {
	type edge struct {
		at    int
		delta int
	}
	edges := make([]edge, 0, len(slots)*2)
	for i := range slots {
		edges = append(edges, edge{slots[i].StartMin, 1}, edge{slots[i].EndMin(), -1})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at != edges[j].at {
			return edges[i].at < edges[j].at
		}
		return edges[i].delta < edges[j].delta
	})
	peak, current := 0, 0
	for _, e := range edges {
		current += e.delta
		if current > peak {
			peak = current
		}
	}
	return peak
}
