/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/apperr"
	"github.com/friendsincode/shopfloor/internal/db/dbtest"
	"github.com/friendsincode/shopfloor/internal/events"
	"github.com/friendsincode/shopfloor/internal/models"
)

// isEdge reports whether from -> to is an edge of the state machine.
func isEdge(from, to models.SlotStatus) bool {
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

func TestStateMachineEdges(t *testing.T) {
	tests := []struct {
		name  string
		from  models.SlotStatus
		to    models.SlotStatus
		valid bool
	}{
		// From Planned
		{"planned to running", models.SlotStatusPlanned, models.SlotStatusRunning, true},
		{"planned to paused invalid", models.SlotStatusPlanned, models.SlotStatusPaused, false},
		{"planned to done invalid", models.SlotStatusPlanned, models.SlotStatusDone, false},

		// From Running
		{"running to paused", models.SlotStatusRunning, models.SlotStatusPaused, true},
		{"running to done", models.SlotStatusRunning, models.SlotStatusDone, true},
		{"running to planned invalid", models.SlotStatusRunning, models.SlotStatusPlanned, false},

		// From Paused
		{"paused to running", models.SlotStatusPaused, models.SlotStatusRunning, true},
		{"paused to done", models.SlotStatusPaused, models.SlotStatusDone, true},
		{"paused to planned invalid", models.SlotStatusPaused, models.SlotStatusPlanned, false},

		// From Done
		{"done to running invalid", models.SlotStatusDone, models.SlotStatusRunning, false},
		{"done to planned invalid", models.SlotStatusDone, models.SlotStatusPlanned, false},

		// From Blocked
		{"blocked to running invalid", models.SlotStatusBlocked, models.SlotStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isEdge(tt.from, tt.to); got != tt.valid {
				t.Errorf("isEdge(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.valid)
			}
		})
	}
}

func TestNext(t *testing.T) {
	statuses := []models.SlotStatus{
		models.SlotStatusPlanned,
		models.SlotStatusRunning,
		models.SlotStatusPaused,
		models.SlotStatusDone,
		models.SlotStatusBlocked,
	}
	edges := 0
	for _, from := range statuses {
		for _, action := range []Action{ActionStart, ActionPause, ActionStop} {
			if _, ok := Next(from, action); ok {
				edges++
			}
		}
	}
	if edges != 5 {
		t.Fatalf("state machine has %d edges, want 5", edges)
	}
}

func TestDurationMinutes(t *testing.T) {
	tests := []struct {
		sec  int64
		want int
	}{
		{0, 0},
		{29, 0},
		{30, 1},
		{89, 1},
		{90, 2},
		{3600, 60},
	}
	for _, tt := range tests {
		if got := DurationMinutes(tt.sec); got != tt.want {
			t.Errorf("DurationMinutes(%d) = %d, want %d", tt.sec, got, tt.want)
		}
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestExecutor(t *testing.T) (*Executor, *gorm.DB, *events.Bus, *clock) {
	t.Helper()
	database := dbtest.New(t)
	bus := events.NewBus()
	c := &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	e := New(database, bus, zerolog.Nop())
	e.now = c.Now
	return e, database, bus, c
}

func seed(t *testing.T, database *gorm.DB, state models.WorkflowState) (*models.Order, *models.TimeSlot) {
	t.Helper()
	wc := dbtest.WorkCenter(t, database, models.DepartmentSiebdruck, 1)
	order := dbtest.Order(t, database, models.DepartmentSiebdruck, state)
	slot := dbtest.Slot(t, database, models.TimeSlot{
		WorkCenterID: wc.ID, Date: "2026-03-02", StartMin: 540, LengthMin: 60, OrderID: &order.ID,
	})
	return order, slot
}

func TestLifecycleAccumulatesTime(t *testing.T) {
	e, database, bus, c := newTestExecutor(t)
	ctx := context.Background()
	changed := bus.Subscribe(events.EventOrderWorkflowChanged)
	order, slot := seed(t, database, models.WorkflowFuerProd)

	got, err := e.Start(ctx, slot.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != models.SlotStatusRunning || got.StartedAt == nil {
		t.Fatalf("unexpected slot %+v", got)
	}
	if o := dbtest.Reload[models.Order](t, database, order.ID); o.Workflow != models.WorkflowInProd {
		t.Fatalf("order workflow = %s", o.Workflow)
	}
	select {
	case payload := <-changed:
		if payload["from"] != string(models.WorkflowFuerProd) || payload["to"] != string(models.WorkflowInProd) {
			t.Fatalf("payload %v", payload)
		}
	default:
		t.Fatal("order.workflow_changed not published")
	}

	c.Advance(20 * time.Minute)
	got, err = e.Pause(ctx, slot.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got.AccumulatedSec != 1200 {
		t.Fatalf("accumulated = %d", got.AccumulatedSec)
	}

	// Paused time does not count.
	c.Advance(2 * time.Hour)
	if _, err := e.Start(ctx, slot.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	c.Advance(25*time.Minute + 40*time.Second)
	got, err = e.Stop(ctx, slot.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got.Status != models.SlotStatusDone || got.StoppedAt == nil {
		t.Fatalf("unexpected slot %+v", got)
	}
	if got.ActualDurationMin == nil || *got.ActualDurationMin != 46 {
		t.Fatalf("actual duration = %v", got.ActualDurationMin)
	}
	if o := dbtest.Reload[models.Order](t, database, order.ID); o.Workflow != models.WorkflowFertig {
		t.Fatalf("order workflow after last stop = %s", o.Workflow)
	}
}

func TestStopKeepsOrderInProductionWhileSlotsRemain(t *testing.T) {
	e, database, _, _ := newTestExecutor(t)
	ctx := context.Background()
	order, slot := seed(t, database, models.WorkflowInProd)
	dbtest.Slot(t, database, models.TimeSlot{
		WorkCenterID: slot.WorkCenterID, Date: "2026-03-03", StartMin: 540, LengthMin: 60, OrderID: &order.ID,
	})

	if _, err := e.Start(ctx, slot.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.Stop(ctx, slot.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if o := dbtest.Reload[models.Order](t, database, order.ID); o.Workflow != models.WorkflowInProd {
		t.Fatalf("order workflow = %s", o.Workflow)
	}
}

func TestIllegalTransitions(t *testing.T) {
	e, database, _, _ := newTestExecutor(t)
	ctx := context.Background()
	_, slot := seed(t, database, models.WorkflowInProd)

	if _, err := e.Pause(ctx, slot.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("pause planned: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := e.Stop(ctx, slot.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("stop planned: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := e.Start(ctx, slot.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.SetQC(ctx, slot.ID, models.QCOutcomeOK, ""); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("qc while running: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := e.Stop(ctx, slot.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := e.Start(ctx, slot.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("start done: expected ErrInvalidTransition, got %v", err)
	}

	got, err := e.SetQC(ctx, slot.ID, models.QCOutcomeOK, "clean print")
	if err != nil {
		t.Fatalf("qc: %v", err)
	}
	if got.QCOutcome == nil || *got.QCOutcome != models.QCOutcomeOK || got.QCNote != "clean print" {
		t.Fatalf("qc not stored: %+v", got)
	}
	if _, err := e.SetQC(ctx, slot.ID, "MAYBE", ""); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("bad outcome: expected ErrPreconditionFailed, got %v", err)
	}

	if _, err := e.Start(ctx, "0b8f8d1e-9999-4000-8000-000000000000"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBlockersCannotRun(t *testing.T) {
	e, database, _, _ := newTestExecutor(t)
	wc := dbtest.WorkCenter(t, database, models.DepartmentTransfer, 1)
	blocker := dbtest.Slot(t, database, models.TimeSlot{WorkCenterID: wc.ID, Date: "2026-03-02", StartMin: 540, LengthMin: 60})

	_, err := e.Start(context.Background(), blocker.ID)
	if !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	_, err = e.MarkMissingParts(context.Background(), blocker.ID, "none", true)
	if !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
}

func TestMarkMissingParts(t *testing.T) {
	e, database, bus, _ := newTestExecutor(t)
	ctx := context.Background()
	marked := bus.Subscribe(events.EventSlotMissingParts)
	order, slot := seed(t, database, models.WorkflowInProd)

	got, err := e.MarkMissingParts(ctx, slot.ID, "waiting on buttons", false)
	if err != nil {
		t.Fatalf("note only: %v", err)
	}
	if got.MissingPartsNote != "waiting on buttons" {
		t.Fatalf("note = %q", got.MissingPartsNote)
	}
	if o := dbtest.Reload[models.Order](t, database, order.ID); o.Workflow != models.WorkflowInProd {
		t.Fatalf("order moved without request: %s", o.Workflow)
	}

	if _, err := e.MarkMissingParts(ctx, slot.ID, "waiting on buttons", true); err != nil {
		t.Fatalf("hold order: %v", err)
	}
	if o := dbtest.Reload[models.Order](t, database, order.ID); o.Workflow != models.WorkflowWartetFehlteile {
		t.Fatalf("order workflow = %s", o.Workflow)
	}

	// Already waiting is a no-op for the order.
	if _, err := e.MarkMissingParts(ctx, slot.ID, "still waiting", true); err != nil {
		t.Fatalf("repeat: %v", err)
	}

	count := 0
	for len(marked) > 0 {
		<-marked
		count++
	}
	if count != 3 {
		t.Fatalf("published %d slot.missing_parts events", count)
	}
}

func TestConcurrentStartHasOneWinner(t *testing.T) {
	database := dbtest.NewFile(t)
	e := New(database, nil, zerolog.Nop())
	_, slot := seed(t, database, models.WorkflowInProd)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		illegal int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Start(context.Background(), slot.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrInvalidTransition):
				illegal++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || illegal != callers-1 {
		t.Fatalf("ok=%d invalid=%d", ok, illegal)
	}
	if got := dbtest.Reload[models.TimeSlot](t, database, slot.ID); got.Version != 2 {
		t.Fatalf("version = %d, want a single update", got.Version)
	}
}

func TestStartRetriesAfterConcurrentWrite(t *testing.T) {
	e, database, _, _ := newTestExecutor(t)
	_, slot := seed(t, database, models.WorkflowInProd)

	updates := dbtest.ConcurrentWriter(t, database, "time_slots", 1,
		"UPDATE time_slots SET version = version + 1 WHERE id = ?", slot.ID)

	got, err := e.Start(context.Background(), slot.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if n := updates(); n != 2 {
		t.Fatalf("attempted %d updates, want a retry", n)
	}
	if got.Status != models.SlotStatusRunning || got.Version != 2 {
		t.Fatalf("slot %+v", got)
	}
}

func TestStartGivesUpWhenSlotKeepsChanging(t *testing.T) {
	e, database, _, _ := newTestExecutor(t)
	_, slot := seed(t, database, models.WorkflowInProd)

	updates := dbtest.ConcurrentWriter(t, database, "time_slots", maxAttempts,
		"UPDATE time_slots SET version = version + 1 WHERE id = ?", slot.ID)

	_, err := e.Start(context.Background(), slot.ID)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if appErr, ok := apperr.As(err); !ok || appErr.Code != "slot_changed" {
		t.Fatalf("unexpected error %v", err)
	}
	if n := updates(); n != maxAttempts {
		t.Fatalf("attempted %d updates, want %d", n, maxAttempts)
	}
	if got := dbtest.Reload[models.TimeSlot](t, database, slot.ID); got.Status != models.SlotStatusPlanned || got.Version != 1 {
		t.Fatalf("slot changed: %+v", got)
	}
}
