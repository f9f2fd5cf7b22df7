/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package grid converts between wall-clock minutes and the 15 minute
// planning grid of the working day.
package grid

import (
	"fmt"
	"time"

	"github.com/friendsincode/shopfloor/internal/apperr"
)

const (
	// DayStartMin is 07:00.
	DayStartMin = 7 * 60
	// DayEndMin is 18:00 (exclusive).
	DayEndMin = 18 * 60
	// StepMin is the grid resolution.
	StepMin = 15

	// DateLayout is the storage format of slot dates.
	DateLayout = "2006-01-02"
)

// SnapToGrid rounds minutes to the nearest multiple of StepMin.
func SnapToGrid(minutes int) int {
	q := minutes / StepMin
	r := minutes % StepMin
	if r < 0 {
		q--
		r += StepMin
	}
	if r*2 >= StepMin {
		q++
	}
	return q * StepMin
}

// ClampToWorkingHours moves startMin so [start, start+length) fits the working
// day. Overflow past DayEndMin pulls the start back; the start never drops
// below DayStartMin.
func ClampToWorkingHours(startMin, lengthMin int) int {
	start := startMin
	if start < DayStartMin {
		start = DayStartMin
	}
	if overflow := start + lengthMin - DayEndMin; overflow > 0 {
		start -= overflow
	}
	if start < DayStartMin {
		start = DayStartMin
	}
	return start
}

// Validate rejects placements that are not already grid aligned and inside
// the working day. It never adjusts the values.
func Validate(startMin, lengthMin int) error {
	if SnapToGrid(startMin) != startMin || SnapToGrid(lengthMin) != lengthMin {
		return apperr.InvalidRange("off_grid",
			"start %d and length %d must be multiples of %d minutes", startMin, lengthMin, StepMin).
			With("start_min", startMin).
			With("length_min", lengthMin).
			With("suggested_start_min", Suggest(startMin, lengthMin))
	}
	if lengthMin < StepMin {
		return apperr.InvalidRange("length_too_short",
			"length must be at least %d minutes, got %d", StepMin, lengthMin).
			With("length_min", lengthMin)
	}
	if startMin < DayStartMin || startMin+lengthMin > DayEndMin {
		return apperr.InvalidRange("outside_working_hours",
			"%s-%s is outside working hours %s-%s",
			FormatMinutes(startMin), FormatMinutes(startMin+lengthMin),
			FormatMinutes(DayStartMin), FormatMinutes(DayEndMin)).
			With("start_min", startMin).
			With("length_min", lengthMin).
			With("suggested_start_min", Suggest(startMin, lengthMin))
	}
	return nil
}

// Suggest returns the nearest valid start for a rejected placement so
// callers can offer it. The length is snapped and capped at the working day.
func Suggest(startMin, lengthMin int) int {
	length := SnapToGrid(lengthMin)
	if length < StepMin {
		length = StepMin
	}
	if length > DayEndMin-DayStartMin {
		length = DayEndMin - DayStartMin
	}
	return ClampToWorkingHours(SnapToGrid(startMin), length)
}

// ParseDate checks a YYYY-MM-DD calendar date.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, apperr.InvalidRange("invalid_date", "date %q is not YYYY-MM-DD", date)
	}
	return t, nil
}

// FormatMinutes renders minutes since midnight as HH:MM.
func FormatMinutes(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Overlaps reports whether [aStart, aStart+aLen) and [bStart, bStart+bLen) intersect.
func Overlaps(aStart, aLen, bStart, bLen int) bool {
	return aStart < bStart+bLen && aStart+aLen > bStart
}
