/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package workcenter administers the production stations slots are placed on.
package workcenter

import (
	"context"
	"errors"
	"fmt"
	"strings"
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
)

// Cache is the read-through cache the service keeps warm.
type Cache interface {
	GetWorkCenter(ctx context.Context, id string) (*models.WorkCenter, bool)
	SetWorkCenter(ctx context.Context, wc *models.WorkCenter) error
	GetWorkCenterList(ctx context.Context, dept models.Department) ([]models.WorkCenter, string, bool)
	SetWorkCenterList(ctx context.Context, dept models.Department, gen string, list []models.WorkCenter) error
	InvalidateWorkCenter(ctx context.Context, id string) error
}

// Service manages work centers.
type Service struct {
	db     *gorm.DB
	cache  Cache
	bus    events.Publisher
	loc    *time.Location
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a work center service. cache may be nil.
func NewService(db *gorm.DB, cache Cache, bus events.Publisher, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		db:     db,
		cache:  cache,
		bus:    bus,
		loc:    loc,
		logger: logger.With().Str("component", "workcenter").Logger(),
		now:    time.Now,
	}
}

// CreateRequest describes a new work center.
type CreateRequest struct {
	Name       string
	Department models.Department
	Capacity   int
	Active     *bool
}

// UpdateRequest carries the fields to change.
type UpdateRequest struct {
	Name     *string
	Active   *bool
	Capacity *int
}

// Create stores a new work center. It is active unless stated otherwise.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.WorkCenter, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.PreconditionFailed("name_required", "work center needs a name")
	}
	if !req.Department.Valid() {
		return nil, apperr.PreconditionFailed("unknown_department", "unknown department %q", req.Department)
	}
	if err := validCapacity(req.Capacity); err != nil {
		return nil, err
	}

	wc := &models.WorkCenter{
		ID:         uuid.NewString(),
		Name:       name,
		Department: req.Department,
		Capacity:   req.Capacity,
		Active:     req.Active == nil || *req.Active,
	}
	if err := s.db.WithContext(ctx).Create(wc).Error; err != nil {
		return nil, fmt.Errorf("create work center: %w", err)
	}

	s.invalidate(ctx, wc.ID)
	s.logger.Info().Str("work_center_id", wc.ID).Str("department", string(wc.Department)).Int("capacity", wc.Capacity).Msg("work center created")
	s.publish(ctx, events.EventWorkCenterCreated, wc)
	return wc, nil
}

// Get returns a work center, from cache when possible.
func (s *Service) Get(ctx context.Context, id string) (*models.WorkCenter, error) {
	if s.cache != nil {
		if wc, ok := s.cache.GetWorkCenter(ctx, id); ok {
			return wc, nil
		}
	}

	var wc models.WorkCenter
	err := s.db.WithContext(ctx).First(&wc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("work_center", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load work center: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.SetWorkCenter(ctx, &wc)
	}
	return &wc, nil
}

// List returns work centers, optionally of one department.
func (s *Service) List(ctx context.Context, dept models.Department) ([]models.WorkCenter, error) {
	if dept != "" && !dept.Valid() {
		return nil, apperr.PreconditionFailed("unknown_department", "unknown department %q", dept)
	}
	var gen string
	if s.cache != nil {
		var list []models.WorkCenter
		var ok bool
		if list, gen, ok = s.cache.GetWorkCenterList(ctx, dept); ok {
			return list, nil
		}
	}

	q := s.db.WithContext(ctx).Order("department ASC, name ASC")
	if dept != "" {
		q = q.Where("department = ?", dept)
	}
	var list []models.WorkCenter
	if err := q.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list work centers: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.SetWorkCenterList(ctx, dept, gen, list)
	}
	return list, nil
}

// Update changes name, active flag or capacity. Capacity cannot drop below
// the peak occupancy of any day from today on.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*models.WorkCenter, error) {
	var wc models.WorkCenter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := db.ForUpdate(tx).First(&wc, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("work_center", id)
		}
		if err != nil {
			return fmt.Errorf("load work center: %w", err)
		}

		updates := map[string]any{"updated_at": s.now()}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return apperr.PreconditionFailed("name_required", "work center needs a name")
			}
			updates["name"] = name
		}
		if req.Active != nil {
			updates["active"] = *req.Active
		}
		if req.Capacity != nil {
			if err := validCapacity(*req.Capacity); err != nil {
				return err
			}
			if *req.Capacity < wc.Capacity {
				if err := s.checkPeak(ctx, tx, &wc, *req.Capacity); err != nil {
					return err
				}
			}
			updates["capacity"] = *req.Capacity
		}

		if err := tx.Model(&models.WorkCenter{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("update work center: %w", err)
		}
		return tx.First(&wc, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, wc.ID)
	s.logger.Info().Str("work_center_id", wc.ID).Bool("active", wc.Active).Int("capacity", wc.Capacity).Msg("work center updated")
	s.publish(ctx, events.EventWorkCenterUpdated, &wc)
	return &wc, nil
}

// Delete removes a work center that has no slots today or later.
func (s *Service) Delete(ctx context.Context, id string) error {
	var wc models.WorkCenter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := db.ForUpdate(tx).First(&wc, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("work_center", id)
		}
		if err != nil {
			return fmt.Errorf("load work center: %w", err)
		}

		var upcoming int64
		err = tx.Model(&models.TimeSlot{}).
			Where("work_center_id = ? AND date >= ?", id, s.today()).
			Count(&upcoming).Error
		if err != nil {
			return fmt.Errorf("count time slots: %w", err)
		}
		if upcoming > 0 {
			return apperr.PreconditionFailed("future_time_slots",
				"work center %s still has %d time slots from today on", wc.Name, upcoming).
				With("work_center_id", id).
				With("time_slots", upcoming)
		}

		if err := tx.Delete(&models.WorkCenter{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete work center: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, id)
	s.logger.Info().Str("work_center_id", id).Msg("work center deleted")
	s.publish(ctx, events.EventWorkCenterDeleted, &wc)
	return nil
}

// checkPeak rejects a capacity below the busiest upcoming day.
func (s *Service) checkPeak(ctx context.Context, tx *gorm.DB, wc *models.WorkCenter, newCapacity int) error {
	var slots []models.TimeSlot
	err := tx.WithContext(ctx).
		Where("work_center_id = ? AND date >= ?", wc.ID, s.today()).
		Order("date ASC").
		Find(&slots).Error
	if err != nil {
		return fmt.Errorf("load upcoming time slots: %w", err)
	}

	byDate := make(map[string][]models.TimeSlot)
	var dates []string
	for _, slot := range slots {
		if _, ok := byDate[slot.Date]; !ok {
			dates = append(dates, slot.Date)
		}
		byDate[slot.Date] = append(byDate[slot.Date], slot)
	}
	for _, date := range dates {
		if peak := capacity.PeakLoad(byDate[date]); peak > newCapacity {
			return apperr.Conflict("capacity_below_peak",
				"%s has %d overlapping time slots on %s", wc.Name, peak, date).
				With("work_center_id", wc.ID).
				With("date", date).
				With("peak", peak).
				With("capacity", newCapacity)
		}
	}
	return nil
}

func (s *Service) today() string {
	return s.now().In(s.loc).Format(grid.DateLayout)
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateWorkCenter(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("work_center_id", id).Msg("cache invalidation failed")
	}
}

func (s *Service) publish(ctx context.Context, eventType events.EventType, wc *models.WorkCenter) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventType, events.WorkCenterPayload(ctx, wc, nil))
}

func validCapacity(n int) error {
	if n < 1 {
		return apperr.PreconditionFailed("invalid_capacity", "capacity must be at least 1, got %d", n).
			With("capacity", n)
	}
	return nil
}
