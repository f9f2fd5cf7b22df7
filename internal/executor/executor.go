/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/apperr"
	"github.com/friendsincode/shopfloor/internal/events"
	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/telemetry"
	"github.com/friendsincode/shopfloor/internal/workflow"
)

// maxAttempts bounds compare-and-transition retries when the slot row
// changes between read and write without making the action illegal.
const maxAttempts = 3

var errStale = errors.New("time slot changed")

// Executor drives the execution lifecycle of time slots. Every action is a
// single update guarded by the slot's status and version.
type Executor struct {
	db     *gorm.DB
	bus    events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

// New creates an executor.
func New(db *gorm.DB, bus events.Publisher, logger zerolog.Logger) *Executor {
	return &Executor{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "executor").Logger(),
		now:    time.Now,
	}
}

// orderChange records a workflow move caused by an execution event.
type orderChange struct {
	order *models.Order
	from  models.WorkflowState
}

// plan validates the action against the freshly read slot and returns the
// column updates to write.
type plan func(slot *models.TimeSlot, now time.Time) (map[string]any, error)

// follow runs after the guarded update, in the same transaction.
type follow func(ctx context.Context, tx *gorm.DB, slot *models.TimeSlot) (*orderChange, error)

// Start moves a planned or paused slot to RUNNING. The first start of an
// order's slot moves the order from FUER_PROD to IN_PROD.
func (e *Executor) Start(ctx context.Context, id string) (*models.TimeSlot, error) {
	return e.run(ctx, id, ActionStart, events.EventSlotStarted,
		func(slot *models.TimeSlot, now time.Time) (map[string]any, error) {
			if err := requireOrder(slot, ActionStart); err != nil {
				return nil, err
			}
			to, err := next(slot, ActionStart)
			if err != nil {
				return nil, err
			}
			return map[string]any{"status": to, "started_at": now}, nil
		},
		func(ctx context.Context, tx *gorm.DB, slot *models.TimeSlot) (*orderChange, error) {
			order, err := workflow.LoadOrderForUpdate(ctx, tx, *slot.OrderID)
			if err != nil {
				return nil, err
			}
			if order.Workflow != models.WorkflowFuerProd {
				return nil, nil
			}
			return moveOrder(ctx, tx, order, models.WorkflowInProd)
		})
}

// Pause banks the time since the last start and moves the slot to PAUSED.
func (e *Executor) Pause(ctx context.Context, id string) (*models.TimeSlot, error) {
	return e.run(ctx, id, ActionPause, events.EventSlotPaused,
		func(slot *models.TimeSlot, now time.Time) (map[string]any, error) {
			to, err := next(slot, ActionPause)
			if err != nil {
				return nil, err
			}
			return map[string]any{"status": to, "accumulated_sec": Elapsed(slot, now)}, nil
		}, nil)
}

// Stop finishes a running or paused slot and freezes its actual duration.
// When it was the order's last open slot, an IN_PROD order becomes FERTIG.
func (e *Executor) Stop(ctx context.Context, id string) (*models.TimeSlot, error) {
	return e.run(ctx, id, ActionStop, events.EventSlotStopped,
		func(slot *models.TimeSlot, now time.Time) (map[string]any, error) {
			to, err := next(slot, ActionStop)
			if err != nil {
				return nil, err
			}
			sec := Elapsed(slot, now)
			return map[string]any{
				"status":              to,
				"stopped_at":          now,
				"accumulated_sec":     sec,
				"actual_duration_min": DurationMinutes(sec),
			}, nil
		},
		func(ctx context.Context, tx *gorm.DB, slot *models.TimeSlot) (*orderChange, error) {
			if slot.IsBlocker() {
				return nil, nil
			}
			order, err := workflow.LoadOrderForUpdate(ctx, tx, *slot.OrderID)
			if err != nil {
				return nil, err
			}
			if order.Workflow != models.WorkflowInProd {
				return nil, nil
			}
			var open int64
			err = tx.WithContext(ctx).Model(&models.TimeSlot{}).
				Where("order_id = ? AND status IN ?", order.ID,
					[]models.SlotStatus{models.SlotStatusPlanned, models.SlotStatusRunning, models.SlotStatusPaused}).
				Count(&open).Error
			if err != nil {
				return nil, fmt.Errorf("count open time slots: %w", err)
			}
			if open > 0 {
				return nil, nil
			}
			return moveOrder(ctx, tx, order, models.WorkflowFertig)
		})
}

// SetQC records the quality control outcome of a finished slot.
func (e *Executor) SetQC(ctx context.Context, id string, outcome models.QCOutcome, note string) (*models.TimeSlot, error) {
	return e.run(ctx, id, ActionQC, events.EventSlotQCRecorded,
		func(slot *models.TimeSlot, _ time.Time) (map[string]any, error) {
			if slot.Status != models.SlotStatusDone {
				return nil, apperr.InvalidTransition("record QC for", string(slot.Status))
			}
			if !outcome.Valid() {
				return nil, apperr.PreconditionFailed("invalid_qc_outcome",
					"QC outcome must be %s or %s", models.QCOutcomeOK, models.QCOutcomeNotOK).
					With("outcome", outcome)
			}
			return map[string]any{"qc_outcome": outcome, "qc_note": note}, nil
		}, nil)
}

// MarkMissingParts stores a missing-parts note on a slot. With holdOrder set
// the slot's order moves to WARTET_FEHLTEILE unless it is already there.
func (e *Executor) MarkMissingParts(ctx context.Context, id, note string, holdOrder bool) (*models.TimeSlot, error) {
	var after follow
	if holdOrder {
		after = func(ctx context.Context, tx *gorm.DB, slot *models.TimeSlot) (*orderChange, error) {
			order, err := workflow.LoadOrderForUpdate(ctx, tx, *slot.OrderID)
			if err != nil {
				return nil, err
			}
			if order.Workflow == models.WorkflowWartetFehlteile {
				return nil, nil
			}
			return moveOrder(ctx, tx, order, models.WorkflowWartetFehlteile)
		}
	}
	return e.run(ctx, id, ActionMissingParts, events.EventSlotMissingParts,
		func(slot *models.TimeSlot, _ time.Time) (map[string]any, error) {
			if err := requireOrder(slot, ActionMissingParts); err != nil {
				return nil, err
			}
			return map[string]any{"missing_parts_note": note}, nil
		}, after)
}

// run applies one guarded slot update and its follow-up inside a
// transaction, retrying when the row moved underneath without making the
// action illegal.
func (e *Executor) run(ctx context.Context, id string, action Action, eventType events.EventType, p plan, f follow) (*models.TimeSlot, error) {
	ctx, span := telemetry.StartSpan(ctx, "executor", "Slot."+string(action))
	defer span.End()

	var (
		slot   *models.TimeSlot
		change *orderChange
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		slot, change, err = e.attempt(ctx, id, p, f)
		if !errors.Is(err, errStale) {
			break
		}
		e.logger.Debug().Str("slot_id", id).Str("action", string(action)).Int("attempt", attempt).Msg("time slot changed, retrying")
	}
	if errors.Is(err, errStale) {
		err = apperr.Conflict("slot_changed", "time slot %s changed concurrently, try again", id).With("slot_id", id)
	}

	telemetry.SlotTransitionsTotal.WithLabelValues(string(action), resultLabel(err)).Inc()
	if err != nil {
		telemetry.RecordError(span, err)
		e.logger.Debug().Err(err).Str("slot_id", id).Str("action", string(action)).Msg("execution event rejected")
		return nil, err
	}

	e.logger.Info().
		Str("slot_id", slot.ID).
		Str("action", string(action)).
		Str("status", string(slot.Status)).
		Int64("accumulated_sec", slot.AccumulatedSec).
		Msg("execution event applied")

	e.publish(ctx, eventType, slot, events.Payload{"action": string(action)})
	if change != nil {
		e.logger.Info().
			Str("order_id", change.order.ID).
			Str("from", string(change.from)).
			Str("to", string(change.order.Workflow)).
			Msg("order workflow changed by execution")
		if e.bus != nil {
			e.bus.Publish(events.EventOrderWorkflowChanged, events.OrderPayload(ctx, change.order, events.Payload{
				"from":    string(change.from),
				"to":      string(change.order.Workflow),
				"slot_id": slot.ID,
				"cause":   string(eventType),
			}))
		}
	}
	return slot, nil
}

func (e *Executor) attempt(ctx context.Context, id string, p plan, f follow) (*models.TimeSlot, *orderChange, error) {
	var (
		slot   models.TimeSlot
		change *orderChange
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&slot, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("time_slot", id)
		}
		if err != nil {
			return fmt.Errorf("load time slot: %w", err)
		}

		now := e.now().UTC()
		updates, err := p(&slot, now)
		if err != nil {
			return err
		}
		updates["version"] = slot.Version + 1
		updates["updated_at"] = now

		res := tx.Model(&models.TimeSlot{}).
			Where("id = ? AND status = ? AND version = ?", slot.ID, slot.Status, slot.Version).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update time slot: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errStale
		}
		if err := tx.First(&slot, "id = ?", id).Error; err != nil {
			return fmt.Errorf("reload time slot: %w", err)
		}

		if f != nil {
			change, err = f(ctx, tx, &slot)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &slot, change, nil
}

func (e *Executor) publish(ctx context.Context, eventType events.EventType, slot *models.TimeSlot, extra events.Payload) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventType, events.SlotPayload(ctx, slot, extra))
}

func next(slot *models.TimeSlot, action Action) (models.SlotStatus, error) {
	to, ok := Next(slot.Status, action)
	if !ok {
		return "", apperr.InvalidTransition(string(action), string(slot.Status)).With("slot_id", slot.ID)
	}
	return to, nil
}

func requireOrder(slot *models.TimeSlot, action Action) error {
	if !slot.IsBlocker() {
		return nil
	}
	return apperr.PreconditionFailed("slot_without_order",
		"time slot %s is a blocker and cannot %s", slot.ID, action).
		With("slot_id", slot.ID)
}

func moveOrder(ctx context.Context, tx *gorm.DB, order *models.Order, to models.WorkflowState) (*orderChange, error) {
	from := order.Workflow
	if err := workflow.Transition(ctx, tx, order, to); err != nil {
		return nil, err
	}
	return &orderChange{order: order, from: from}, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, apperr.ErrPreconditionFailed):
		return "precondition_failed"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
