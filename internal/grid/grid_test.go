/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package grid

import (
	"errors"
	"testing"

	"github.com/friendsincode/shopfloor/internal/apperr"
)

func TestSnapToGrid(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 0},
		{7, 0},
		{8, 15},
		{420, 420},
		{427, 420},
		{428, 435},
		{1079, 1080},
		{-7, 0},
		{-8, -15},
	}

	for _, tt := range tests {
		if got := SnapToGrid(tt.in); got != tt.want {
			t.Errorf("SnapToGrid(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestClampToWorkingHours(t *testing.T) {
	tests := []struct {
		name   string
		start  int
		length int
		want   int
	}{
		{"inside", 540, 60, 540},
		{"before opening", 360, 60, 420},
		{"overflows closing", 1050, 60, 1020},
		{"starts at closing", 1080, 15, 1065},
		{"longer than the day", 600, 700, 420},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampToWorkingHours(tt.start, tt.length); got != tt.want {
				t.Fatalf("ClampToWorkingHours(%d, %d) = %d, want %d", tt.start, tt.length, got, tt.want)
			}
		})
	}
}

func TestClampKeepsValidRangesInsideWindow(t *testing.T) {
	for start := DayStartMin; start < DayEndMin; start += StepMin {
		for length := StepMin; length <= DayEndMin-DayStartMin; length += StepMin {
			got := ClampToWorkingHours(start, length)
			if got < DayStartMin || got+length > DayEndMin {
				t.Fatalf("ClampToWorkingHours(%d, %d) = %d leaves the window", start, length, got)
			}
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		start    int
		length   int
		wantCode string
	}{
		{"valid", 540, 60, ""},
		{"last quarter", 1065, 15, ""},
		{"whole day", 420, 660, ""},
		{"off grid start", 545, 60, "off_grid"},
		{"off grid length", 540, 50, "off_grid"},
		{"zero length", 540, 0, "length_too_short"},
		{"before opening", 405, 30, "outside_working_hours"},
		{"past closing", 1065, 30, "outside_working_hours"},
		{"starts at closing", 1080, 15, "outside_working_hours"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.start, tt.length)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, apperr.ErrInvalidRange) {
				t.Fatalf("expected invalid range, got %v", err)
			}
			appErr, _ := apperr.As(err)
			if appErr.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", appErr.Code, tt.wantCode)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	if _, err := ParseDate("2026-03-02"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseDate("02.03.2026"); !errors.Is(err, apperr.ErrInvalidRange) {
		t.Fatalf("expected invalid range, got %v", err)
	}
}

func TestSuggest(t *testing.T) {
	tests := []struct {
		name          string
		start, length int
		want          int
	}{
		{"snaps start", 547, 60, 540},
		{"pulls back from day end", 1050, 60, 1020},
		{"lifts before day start", 300, 30, 420},
		{"odd length", 600, 50, 600},
		{"longer than the day", 420, 900, 420},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suggest(tt.start, tt.length)
			if got != tt.want {
				t.Fatalf("Suggest(%d, %d) = %d, want %d", tt.start, tt.length, got, tt.want)
			}
			length := SnapToGrid(tt.length)
			if length > DayEndMin-DayStartMin {
				length = DayEndMin - DayStartMin
			}
			if length < StepMin {
				length = StepMin
			}
			if err := Validate(got, length); err != nil {
				t.Fatalf("suggestion %d is not itself valid: %v", got, err)
			}
		})
	}
}

func TestValidateCarriesSuggestion(t *testing.T) {
	err := Validate(1050, 60)
	appErr, ok := apperr.As(err)
	if !ok {
		t.Fatalf("expected *apperr.Error, got %v", err)
	}
	if appErr.Code != "outside_working_hours" {
		t.Fatalf("code = %s", appErr.Code)
	}
	if appErr.Details["suggested_start_min"] != 1020 {
		t.Fatalf("suggested_start_min = %v", appErr.Details["suggested_start_min"])
	}
}
