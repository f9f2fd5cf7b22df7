/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler places time slots on work centers. Every mutation runs in
// one transaction that locks the affected work centers, re-reads their
// occupancy and re-runs the capacity check before writing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/apperr"
	"github.com/friendsincode/shopfloor/internal/capacity"
	"github.com/friendsincode/shopfloor/internal/db"
	"github.com/friendsincode/shopfloor/internal/events"
	"github.com/friendsincode/shopfloor/internal/grid"
	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/telemetry"
	"github.com/friendsincode/shopfloor/internal/workflow"
)

// MaxListDays bounds the date range of a single List call.
const MaxListDays = 93

// Service creates, moves and deletes time slots.
type Service struct {
	db        *gorm.DB
	validator *capacity.Validator
	bus       events.Publisher
	logger    zerolog.Logger
}

// New constructs the scheduler service.
func New(db *gorm.DB, validator *capacity.Validator, bus events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		db:        db,
		validator: validator,
		bus:       bus,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// CreateRequest places a new slot. A nil OrderID makes the slot a blocker.
type CreateRequest struct {
	WorkCenterID string
	Date         string
	StartMin     int
	LengthMin    int
	OrderID      *string
	Blocked      bool
	Note         string
}

// UpdateRequest moves, resizes or reassigns a slot. Nil fields keep their value.
type UpdateRequest struct {
	Date         *string
	StartMin     *int
	LengthMin    *int
	WorkCenterID *string
	Note         *string
}

func (r UpdateRequest) movesPlacement() bool {
	return r.Date != nil || r.StartMin != nil || r.LengthMin != nil || r.WorkCenterID != nil
}

// ListFilter selects slots by an inclusive date range.
type ListFilter struct {
	From         string
	To           string
	WorkCenterID string
	Department   models.Department
}

// List returns the slots in range ordered by date, work center and start.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.TimeSlot, error) {
	from, err := grid.ParseDate(filter.From)
	if err != nil {
		return nil, err
	}
	to, err := grid.ParseDate(filter.To)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, apperr.InvalidRange("invalid_date_range", "range ends %s before it starts %s", filter.To, filter.From)
	}
	if to.Sub(from) > MaxListDays*24*time.Hour {
		return nil, apperr.InvalidRange("date_range_too_large", "date range may span at most %d days", MaxListDays)
	}

	q := s.db.WithContext(ctx).
		Model(&models.TimeSlot{}).
		Where("time_slots.date BETWEEN ? AND ?", filter.From, filter.To)
	if filter.WorkCenterID != "" {
		q = q.Where("time_slots.work_center_id = ?", filter.WorkCenterID)
	}
	if filter.Department != "" {
		q = q.Joins("JOIN work_centers ON work_centers.id = time_slots.work_center_id").
			Where("work_centers.department = ?", filter.Department)
	}

	var slots []models.TimeSlot
	err = q.Order("time_slots.date ASC").
		Order("time_slots.work_center_id ASC").
		Order("time_slots.start_min ASC").
		Find(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("list time slots: %w", err)
	}
	return slots, nil
}

// Get loads one slot.
func (s *Service) Get(ctx context.Context, id string) (*models.TimeSlot, error) {
	return loadSlot(ctx, s.db, id, false)
}

// Create validates and stores a new slot.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.TimeSlot, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "CreateTimeSlot",
		telemetry.SlotAttributes("", req.WorkCenterID, req.Date, req.StartMin, req.LengthMin)...)
	defer span.End()

	var slot *models.TimeSlot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockWorkCenters(ctx, tx, req.WorkCenterID); err != nil {
			return err
		}
		var err error
		slot, err = s.createTx(ctx, tx, req, true)
		return err
	})
	s.observe("create", err)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logRejected("create", err, req.WorkCenterID, req.Date, req.StartMin, req.LengthMin)
		return nil, fmt.Errorf("create time slot: %w", err)
	}

	s.logApplied("time slot created", slot)
	s.publish(ctx, events.EventSlotCreated, slot, nil)
	return slot, nil
}

// Update moves, resizes or annotates a slot. The slot's own prior placement
// does not count against capacity.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*models.TimeSlot, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "UpdateTimeSlot")
	defer span.End()

	var slot *models.TimeSlot
	var before models.TimeSlot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wcIDs, err := s.workCentersFor(ctx, tx, []Mutation{{Op: OpMove, SlotID: id, Update: &req}})
		if err != nil {
			return err
		}
		if _, err := lockWorkCenters(ctx, tx, wcIDs...); err != nil {
			return err
		}
		slot, before, err = s.updateTx(ctx, tx, id, req, true)
		return err
	})
	s.observe("update", err)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Debug().Err(err).Str("slot_id", id).Msg("time slot update rejected")
		return nil, fmt.Errorf("update time slot: %w", err)
	}

	s.logApplied("time slot updated", slot)
	s.publish(ctx, events.EventSlotUpdated, slot, movedFrom(&before))
	return slot, nil
}

// Delete removes a slot. The order's workflow is left untouched.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "DeleteTimeSlot")
	defer span.End()

	var slot *models.TimeSlot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		slot, err = s.deleteTx(ctx, tx, id)
		return err
	})
	s.observe("delete", err)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("delete time slot: %w", err)
	}

	s.logApplied("time slot deleted", slot)
	s.publish(ctx, events.EventSlotDeleted, slot, nil)
	return nil
}

// createTx writes a new slot. Batches pass checkCapacity=false and verify
// the final state once every member is written.
func (s *Service) createTx(ctx context.Context, tx *gorm.DB, req CreateRequest, checkCapacity bool) (*models.TimeSlot, error) {
	if _, err := grid.ParseDate(req.Date); err != nil {
		return nil, err
	}
	if req.OrderID != nil && req.Blocked {
		return nil, apperr.PreconditionFailed("blocker_with_order", "a blocker cannot reference an order")
	}

	wc, err := loadWorkCenter(ctx, tx, req.WorkCenterID)
	if err != nil {
		return nil, err
	}
	if !wc.Active {
		return nil, inactive(wc)
	}

	if req.OrderID != nil {
		order, err := workflow.LoadOrderForUpdate(ctx, tx, *req.OrderID)
		if err != nil {
			return nil, err
		}
		if err := workflow.CanReceiveTimeSlot(order, wc); err != nil {
			return nil, err
		}
	}

	if err := grid.Validate(req.StartMin, req.LengthMin); err != nil {
		return nil, err
	}

	if checkCapacity {
		if err := s.verifyCapacity(ctx, tx, wc, capacity.Candidate{
			WorkCenterID: wc.ID,
			Date:         req.Date,
			StartMin:     req.StartMin,
			LengthMin:    req.LengthMin,
		}); err != nil {
			return nil, err
		}
	}

	slot := &models.TimeSlot{
		ID:           uuid.NewString(),
		WorkCenterID: wc.ID,
		Date:         req.Date,
		StartMin:     req.StartMin,
		LengthMin:    req.LengthMin,
		OrderID:      req.OrderID,
		Blocked:      req.OrderID == nil,
		Note:         req.Note,
		Status:       models.SlotStatusPlanned,
		Version:      1,
	}
	if slot.Blocked {
		slot.Status = models.SlotStatusBlocked
	}
	if err := tx.Create(slot).Error; err != nil {
		return nil, fmt.Errorf("insert time slot: %w", err)
	}
	return slot, nil
}

func (s *Service) updateTx(ctx context.Context, tx *gorm.DB, id string, req UpdateRequest, checkCapacity bool) (*models.TimeSlot, models.TimeSlot, error) {
	slot, err := loadSlot(ctx, tx, id, true)
	if err != nil {
		return nil, models.TimeSlot{}, err
	}
	before := *slot

	if req.Date != nil {
		slot.Date = *req.Date
	}
	if req.StartMin != nil {
		slot.StartMin = *req.StartMin
	}
	if req.LengthMin != nil {
		slot.LengthMin = *req.LengthMin
	}
	if req.WorkCenterID != nil {
		slot.WorkCenterID = *req.WorkCenterID
	}
	if req.Note != nil {
		slot.Note = *req.Note
	}

	if req.movesPlacement() {
		if _, err := grid.ParseDate(slot.Date); err != nil {
			return nil, before, err
		}
		// The slot may have moved since the caller chose which work centers
		// to lock. Locking a row this transaction already holds is a no-op.
		if _, err := lockWorkCenters(ctx, tx, slot.WorkCenterID); err != nil {
			return nil, before, err
		}
		wc, err := loadWorkCenter(ctx, tx, slot.WorkCenterID)
		if err != nil {
			return nil, before, err
		}
		if !wc.Active {
			return nil, before, inactive(wc)
		}
		if slot.OrderID != nil {
			order, err := workflow.LoadOrderForUpdate(ctx, tx, *slot.OrderID)
			if err != nil {
				return nil, before, err
			}
			if err := workflow.CanReceiveTimeSlot(order, wc); err != nil {
				return nil, before, err
			}
		}
		if err := grid.Validate(slot.StartMin, slot.LengthMin); err != nil {
			return nil, before, err
		}
		if checkCapacity {
			if err := s.verifySlot(ctx, tx, wc, slot); err != nil {
				return nil, before, err
			}
		}
	}

	res := tx.Model(&models.TimeSlot{}).
		Where("id = ? AND version = ?", slot.ID, before.Version).
		Updates(map[string]any{
			"work_center_id": slot.WorkCenterID,
			"date":           slot.Date,
			"start_min":      slot.StartMin,
			"length_min":     slot.LengthMin,
			"note":           slot.Note,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return nil, before, fmt.Errorf("update time slot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, before, apperr.Conflict("slot_changed", "time slot %s changed concurrently", slot.ID)
	}
	slot.Version = before.Version + 1
	return slot, before, nil
}

func (s *Service) deleteTx(ctx context.Context, tx *gorm.DB, id string) (*models.TimeSlot, error) {
	slot, err := loadSlot(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	res := tx.Delete(&models.TimeSlot{}, "id = ?", id)
	if res.Error != nil {
		return nil, fmt.Errorf("delete time slot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("time_slot", id)
	}
	return slot, nil
}

// verifySlot checks slot against the occupancy stored in tx, not counting itself.
func (s *Service) verifySlot(ctx context.Context, tx *gorm.DB, wc *models.WorkCenter, slot *models.TimeSlot) error {
	return s.verifyCapacity(ctx, tx, wc, capacity.Candidate{
		IgnoreSlotID: slot.ID,
		WorkCenterID: wc.ID,
		Date:         slot.Date,
		StartMin:     slot.StartMin,
		LengthMin:    slot.LengthMin,
	})
}

func (s *Service) verifyCapacity(ctx context.Context, tx *gorm.DB, wc *models.WorkCenter, c capacity.Candidate) error {
	err := s.validator.Verify(ctx, tx, wc, c)
	if errors.Is(err, apperr.ErrConflict) {
		telemetry.CapacityConflictsTotal.WithLabelValues(wc.ID).Inc()
	}
	return err
}

// workCentersFor collects every work center a set of mutations reads or
// writes, so they can be locked up front in one order.
func (s *Service) workCentersFor(ctx context.Context, tx *gorm.DB, muts []Mutation) ([]string, error) {
	var ids []string
	for _, m := range muts {
		switch m.Op {
		case OpCreate:
			if m.Create != nil {
				ids = append(ids, m.Create.WorkCenterID)
			}
		case OpMove:
			if m.Update != nil && m.Update.WorkCenterID != nil {
				ids = append(ids, *m.Update.WorkCenterID)
			}
			var current models.TimeSlot
			err := tx.WithContext(ctx).Select("work_center_id").First(&current, "id = ?", m.SlotID).Error
			if err == nil {
				ids = append(ids, current.WorkCenterID)
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("load time slot: %w", err)
			}
		}
	}
	return ids, nil
}

// lockWorkCenters takes row locks in ascending id order. Missing ids are
// reported by the per-member checks, not here.
func lockWorkCenters(ctx context.Context, tx *gorm.DB, ids ...string) ([]models.WorkCenter, error) {
	unique := make(map[string]struct{}, len(ids))
	sorted := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := unique[id]; ok {
			continue
		}
		unique[id] = struct{}{}
		sorted = append(sorted, id)
	}
	if len(sorted) == 0 {
		return nil, nil
	}
	sort.Strings(sorted)

	var wcs []models.WorkCenter
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("id IN ?", sorted).
		Order("id ASC").
		Find(&wcs).Error
	if err != nil {
		return nil, fmt.Errorf("lock work centers: %w", err)
	}
	return wcs, nil
}

func loadWorkCenter(ctx context.Context, tx *gorm.DB, id string) (*models.WorkCenter, error) {
	var wc models.WorkCenter
	err := tx.WithContext(ctx).First(&wc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("work_center", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load work center: %w", err)
	}
	return &wc, nil
}

func loadSlot(ctx context.Context, tx *gorm.DB, id string, lock bool) (*models.TimeSlot, error) {
	q := tx.WithContext(ctx)
	if lock {
		q = db.ForUpdate(q)
	}
	var slot models.TimeSlot
	err := q.First(&slot, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("time_slot", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load time slot: %w", err)
	}
	return &slot, nil
}

func inactive(wc *models.WorkCenter) error {
	return apperr.PreconditionFailed("work_center_inactive",
		"work center %s is inactive and cannot receive time slots", wc.Name).
		With("work_center_id", wc.ID)
}

func movedFrom(before *models.TimeSlot) events.Payload {
	return events.Payload{
		"previous_work_center_id": before.WorkCenterID,
		"previous_date":           before.Date,
		"previous_start_min":      before.StartMin,
		"previous_length_min":     before.LengthMin,
	}
}

func (s *Service) publish(ctx context.Context, eventType events.EventType, slot *models.TimeSlot, extra events.Payload) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventType, events.SlotPayload(ctx, slot, extra))
}

func (s *Service) observe(operation string, err error) {
	telemetry.SchedulerMutationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

func (s *Service) logApplied(msg string, slot *models.TimeSlot) {
	s.logger.Info().
		Str("slot_id", slot.ID).
		Str("work_center_id", slot.WorkCenterID).
		Str("date", slot.Date).
		Int("start_min", slot.StartMin).
		Int("length_min", slot.LengthMin).
		Msg(msg)
}

func (s *Service) logRejected(operation string, err error, wcID, date string, start, length int) {
	s.logger.Debug().
		Err(err).
		Str("operation", operation).
		Str("work_center_id", wcID).
		Str("date", date).
		Int("start_min", start).
		Int("length_min", length).
		Msg("time slot mutation rejected")
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, apperr.ErrPreconditionFailed):
		return "precondition_failed"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
