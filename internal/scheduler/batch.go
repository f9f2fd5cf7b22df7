/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/apperr"
	"github.com/friendsincode/shopfloor/internal/events"
	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/telemetry"
)

// MaxBatchSize caps the number of mutations applied in one batch.
const MaxBatchSize = 200

// Op is the kind of a batch member.
type Op string

const (
	OpCreate Op = "create"
	OpMove   Op = "move"
	OpDelete Op = "delete"
)

// Mutation is one member of a batch. Create needs Create; move needs SlotID
// and Update; delete needs SlotID.
type Mutation struct {
	Op     Op
	SlotID string
	Create *CreateRequest
	Update *UpdateRequest
}

// MutationResult reports what a member did.
type MutationResult struct {
	Op     Op               `json:"op"`
	SlotID string           `json:"slot_id"`
	Slot   *models.TimeSlot `json:"slot,omitempty"`
}

// BatchError names the member that stopped the batch. It unwraps to the
// member's own error.
type BatchError struct {
	Index  int
	Op     Op
	SlotID string
	Err    error
}

func (e *BatchError) Error() string {
	if e.SlotID != "" {
		return fmt.Sprintf("batch member %d (%s %s): %v", e.Index, e.Op, e.SlotID, e.Err)
	}
	return fmt.Sprintf("batch member %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Apply runs the mutations in order inside one transaction. Grid, existence
// and workflow rules are checked per member as it is applied; capacity is
// checked afterwards against the state the whole batch produces, so members
// may swap places but may not collide with each other. Nothing is written
// unless every member passes.
func (s *Service) Apply(ctx context.Context, muts []Mutation) ([]MutationResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "BatchApply")
	defer span.End()

	if len(muts) == 0 {
		return nil, apperr.PreconditionFailed("empty_batch", "batch contains no mutations")
	}
	if len(muts) > MaxBatchSize {
		return nil, apperr.PreconditionFailed("batch_too_large", "batch may contain at most %d mutations", MaxBatchSize).
			With("size", len(muts))
	}
	for i, m := range muts {
		if err := m.check(); err != nil {
			return nil, &BatchError{Index: i, Op: m.Op, SlotID: m.SlotID, Err: err}
		}
	}

	results := make([]MutationResult, 0, len(muts))
	var previous, applied []*models.TimeSlot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wcIDs, err := s.workCentersFor(ctx, tx, muts)
		if err != nil {
			return err
		}
		if _, err := lockWorkCenters(ctx, tx, wcIDs...); err != nil {
			return err
		}

		for i, m := range muts {
			var (
				slot   *models.TimeSlot
				before models.TimeSlot
				err    error
			)
			switch m.Op {
			case OpCreate:
				slot, err = s.createTx(ctx, tx, *m.Create, false)
			case OpMove:
				slot, before, err = s.updateTx(ctx, tx, m.SlotID, *m.Update, false)
			case OpDelete:
				slot, err = s.deleteTx(ctx, tx, m.SlotID)
			}
			if err != nil {
				return &BatchError{Index: i, Op: m.Op, SlotID: m.SlotID, Err: err}
			}
			results = append(results, MutationResult{Op: m.Op, SlotID: slot.ID, Slot: slot})
			previous = append(previous, &before)
			applied = append(applied, slot)
		}
		return s.verifyBatch(ctx, tx, muts, results)
	})
	s.observe("batch", err)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Debug().Err(err).Int("size", len(muts)).Msg("batch rejected")
		return nil, err
	}

	s.logger.Info().Int("size", len(muts)).Msg("batch applied")
	for i, r := range results {
		slot := r.Slot
		if slot == nil {
			slot = applied[i]
		}
		switch r.Op {
		case OpCreate:
			s.publish(ctx, events.EventSlotCreated, slot, events.Payload{"batch": true})
		case OpMove:
			extra := movedFrom(previous[i])
			extra["batch"] = true
			s.publish(ctx, events.EventSlotUpdated, slot, extra)
		case OpDelete:
			s.publish(ctx, events.EventSlotDeleted, r.Slot, events.Payload{"batch": true})
			r.Slot = nil
			results[i] = r
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.EventSlotBatchApplied, events.WithActor(ctx, events.Payload{
			"resource_type": "time_slot_batch",
			"size":          len(results),
		}))
	}
	return results, nil
}

// verifyBatch re-checks capacity for every slot the batch placed, using the
// final position of each. Any overload must involve at least one of them.
// Every result for a slot ends up carrying its final state, or nil when a
// later member deleted it.
func (s *Service) verifyBatch(ctx context.Context, tx *gorm.DB, muts []Mutation, results []MutationResult) error {
	final := make(map[string]*models.TimeSlot, len(results))
	for i, r := range results {
		if r.Op == OpDelete {
			continue
		}
		if slot, ok := final[r.SlotID]; ok {
			results[i].Slot = slot
			continue
		}

		var slot models.TimeSlot
		err := tx.WithContext(ctx).Where("id = ?", r.SlotID).Limit(1).Find(&slot).Error
		if err != nil {
			return fmt.Errorf("reload time slot: %w", err)
		}
		if slot.ID == "" {
			// Deleted by a later member.
			final[r.SlotID] = nil
			results[i].Slot = nil
			continue
		}
		wc, err := loadWorkCenter(ctx, tx, slot.WorkCenterID)
		if err != nil {
			return &BatchError{Index: i, Op: r.Op, SlotID: muts[i].SlotID, Err: err}
		}
		if err := s.verifySlot(ctx, tx, wc, &slot); err != nil {
			return &BatchError{Index: i, Op: r.Op, SlotID: muts[i].SlotID, Err: err}
		}
		final[r.SlotID] = &slot
		results[i].Slot = &slot
	}
	return nil
}

func (m Mutation) check() error {
	switch m.Op {
	case OpCreate:
		if m.Create == nil {
			return apperr.PreconditionFailed("invalid_mutation", "create needs a slot description")
		}
	case OpMove:
		if m.SlotID == "" || m.Update == nil {
			return apperr.PreconditionFailed("invalid_mutation", "move needs a slot id and a new placement")
		}
	case OpDelete:
		if m.SlotID == "" {
			return apperr.PreconditionFailed("invalid_mutation", "delete needs a slot id")
		}
	default:
		return apperr.PreconditionFailed("invalid_mutation", "unknown batch operation %q", m.Op)
	}
	return nil
}
