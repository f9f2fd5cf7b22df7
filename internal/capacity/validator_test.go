/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package capacity

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/shopfloor/internal/apperr"
	"github.com/friendsincode/shopfloor/internal/db/dbtest"
	"github.com/friendsincode/shopfloor/internal/models"
)

func slot(id, wc, date string, start, length int) models.TimeSlot {
	return models.TimeSlot{ID: id, WorkCenterID: wc, Date: date, StartMin: start, LengthMin: length}
}

func TestCheck(t *testing.T) {
	const day = "2026-03-02"
	existing := []models.TimeSlot{
		slot("a", "wc1", day, 540, 60), // 09:00-10:00
		slot("other-wc", "wc2", day, 540, 60),
		slot("other-day", "wc1", "2026-03-03", 540, 60),
	}

	tests := []struct {
		name     string
		cand     Candidate
		capacity int
		conflict bool
		peak     int
		overlaps int
	}{
		{"overlapping half hour", Candidate{WorkCenterID: "wc1", Date: day, StartMin: 570, LengthMin: 30}, 1, true, 2, 1},
		{"touching end", Candidate{WorkCenterID: "wc1", Date: day, StartMin: 600, LengthMin: 30}, 1, false, 1, 0},
		{"touching start", Candidate{WorkCenterID: "wc1", Date: day, StartMin: 480, LengthMin: 60}, 1, false, 1, 0},
		{"covering", Candidate{WorkCenterID: "wc1", Date: day, StartMin: 420, LengthMin: 240}, 1, true, 2, 1},
		{"capacity two", Candidate{WorkCenterID: "wc1", Date: day, StartMin: 570, LengthMin: 30}, 2, false, 2, 1},
		{"self excluded", Candidate{IgnoreSlotID: "a", WorkCenterID: "wc1", Date: day, StartMin: 555, LengthMin: 60}, 1, false, 1, 0},
		{"other work center ignored", Candidate{WorkCenterID: "wc3", Date: day, StartMin: 540, LengthMin: 60}, 1, false, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(tt.cand, tt.capacity, existing)
			if res.Conflict != tt.conflict {
				t.Errorf("Conflict = %v, want %v", res.Conflict, tt.conflict)
			}
			if res.Peak != tt.peak {
				t.Errorf("Peak = %d, want %d", res.Peak, tt.peak)
			}
			if len(res.Overlapping) != tt.overlaps {
				t.Errorf("Overlapping = %v, want %d entries", res.Overlapping, tt.overlaps)
			}
		})
	}
}

func TestCheckNonCoincidentOverlaps(t *testing.T) {
	const day = "2026-03-02"
	// Two existing slots overlap the candidate but not each other, so the
	// peak stays at two even though three slots touch the interval.
	existing := []models.TimeSlot{
		slot("a", "wc1", day, 480, 60), // 08:00-09:00
		slot("b", "wc1", day, 540, 60), // 09:00-10:00
	}
	cand := Candidate{WorkCenterID: "wc1", Date: day, StartMin: 510, LengthMin: 60}

	res := Check(cand, 2, existing)
	if res.Conflict {
		t.Fatalf("unexpected conflict, peak %d", res.Peak)
	}
	if res.Peak != 2 {
		t.Fatalf("Peak = %d, want 2", res.Peak)
	}

	existing = append(existing, slot("c", "wc1", day, 525, 30))
	res = Check(cand, 2, existing)
	if !res.Conflict || res.Peak != 3 {
		t.Fatalf("want conflict at peak 3, got %+v", res)
	}
}

// Brute force over every minute must agree with the sweep.
func TestCheckMatchesMinuteScan(t *testing.T) {
	const day = "2026-03-02"
	existing := []models.TimeSlot{
		slot("a", "wc1", day, 420, 90),
		slot("b", "wc1", day, 450, 45),
		slot("c", "wc1", day, 480, 120),
		slot("d", "wc1", day, 600, 15),
		slot("e", "wc1", day, 885, 195),
	}

	for capacity := 1; capacity <= 4; capacity++ {
		for start := 420; start < 1080; start += 15 {
			for length := 15; start+length <= 1080; length += 15 {
				cand := Candidate{WorkCenterID: "wc1", Date: day, StartMin: start, LengthMin: length}
				want := 0
				for m := start; m < start+length; m++ {
					n := 1
					for _, s := range existing {
						if m >= s.StartMin && m < s.EndMin() {
							n++
						}
					}
					want = max(want, n)
				}
				res := Check(cand, capacity, existing)
				if res.Peak != want {
					t.Fatalf("cap %d %d+%d: Peak = %d, want %d", capacity, start, length, res.Peak, want)
				}
				if res.Conflict != (want > capacity) {
					t.Fatalf("cap %d %d+%d: Conflict = %v, want %v", capacity, start, length, res.Conflict, want > capacity)
				}
			}
		}
	}
}

func TestPeakLoad(t *testing.T) {
	slots := []models.TimeSlot{
		slot("a", "wc1", "d", 420, 60),
		slot("b", "wc1", "d", 480, 60),
		slot("c", "wc1", "d", 450, 60),
	}
	if got := PeakLoad(slots); got != 2 {
		t.Fatalf("PeakLoad = %d, want 2", got)
	}
	if got := PeakLoad(nil); got != 0 {
		t.Fatalf("PeakLoad(nil) = %d, want 0", got)
	}
}

func TestVerifyReadsTransactionState(t *testing.T) {
	database := dbtest.New(t)
	v := NewValidator(zerolog.Nop())
	ctx := context.Background()

	wc := models.WorkCenter{ID: "6f1c2e4a-0000-4000-8000-000000000001", Name: "Press 1", Department: models.DepartmentSiebdruck, Active: true, Capacity: 1}
	if err := database.Create(&wc).Error; err != nil {
		t.Fatalf("create work center: %v", err)
	}
	existing := models.TimeSlot{
		ID: "6f1c2e4a-0000-4000-8000-0000000000a1", WorkCenterID: wc.ID, Date: "2026-03-02",
		StartMin: 540, LengthMin: 60, Blocked: true, Status: models.SlotStatusBlocked, Version: 1,
	}
	if err := database.Create(&existing).Error; err != nil {
		t.Fatalf("create slot: %v", err)
	}

	err := v.Verify(ctx, database, &wc, Candidate{WorkCenterID: wc.ID, Date: "2026-03-02", StartMin: 570, LengthMin: 30})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != "capacity_exceeded" {
		t.Fatalf("unexpected error shape: %#v", err)
	}
	ids, _ := appErr.Details["overlapping_slot_ids"].([]string)
	if len(ids) != 1 || ids[0] != existing.ID {
		t.Fatalf("overlapping ids = %v", appErr.Details["overlapping_slot_ids"])
	}

	if err := v.Verify(ctx, database, &wc, Candidate{WorkCenterID: wc.ID, Date: "2026-03-02", StartMin: 600, LengthMin: 30}); err != nil {
		t.Fatalf("adjacent slot rejected: %v", err)
	}
}

func ExampleCheck() {
	existing := []models.TimeSlot{slot("a", "wc1", "2026-03-02", 540, 60)}
	res := Check(Candidate{WorkCenterID: "wc1", Date: "2026-03-02", StartMin: 570, LengthMin: 30}, 1, existing)
	fmt.Println(res.Conflict, res.Peak)
	// Output: true 2
}
