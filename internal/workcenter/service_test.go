/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package workcenter

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

// memoryCache is an in-process stand-in for the Redis cache.
type memoryCache struct {
	mu      sync.Mutex
	items   map[string]models.WorkCenter
	lists   map[models.Department][]models.WorkCenter
	hits    int
	invalid int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		items: make(map[string]models.WorkCenter),
		lists: make(map[models.Department][]models.WorkCenter),
	}
}

func (c *memoryCache) GetWorkCenter(_ context.Context, id string) (*models.WorkCenter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wc, ok := c.items[id]
	if ok {
		c.hits++
	}
	return &wc, ok
}

func (c *memoryCache) SetWorkCenter(_ context.Context, wc *models.WorkCenter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[wc.ID] = *wc
	return nil
}

func (c *memoryCache) GetWorkCenterList(_ context.Context, dept models.Department) ([]models.WorkCenter, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, ok := c.lists[dept]
	if ok {
		c.hits++
	}
	return list, "mem", ok
}

func (c *memoryCache) SetWorkCenterList(_ context.Context, dept models.Department, _ string, list []models.WorkCenter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[dept] = list
	return nil
}

func (c *memoryCache) InvalidateWorkCenter(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	c.lists = make(map[models.Department][]models.WorkCenter)
	c.invalid++
	return nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *memoryCache, *events.Bus) {
	t.Helper()
	database := dbtest.New(t)
	cache := newMemoryCache()
	bus := events.NewBus()
	svc := NewService(database, cache, bus, time.UTC, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	return svc, database, cache, bus
}

func TestCreateAndRead(t *testing.T) {
	svc, _, cache, bus := newTestService(t)
	ctx := context.Background()
	created := bus.Subscribe(events.EventWorkCenterCreated)

	inactive := false
	wc, err := svc.Create(ctx, CreateRequest{Name: " Karussell 1 ", Department: models.DepartmentSiebdruck, Capacity: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if wc.Name != "Karussell 1" || !wc.Active || wc.Capacity != 2 {
		t.Fatalf("unexpected work center %+v", wc)
	}
	if _, err := svc.Create(ctx, CreateRequest{Name: "Tajima", Department: models.DepartmentStickerei, Capacity: 1, Active: &inactive}); err != nil {
		t.Fatalf("create inactive: %v", err)
	}

	select {
	case payload := <-created:
		if payload["work_center_id"] != wc.ID {
			t.Fatalf("payload %v", payload)
		}
	default:
		t.Fatal("workcenter.created not published")
	}

	if _, err := svc.Get(ctx, wc.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := svc.Get(ctx, wc.ID); err != nil {
		t.Fatalf("get cached: %v", err)
	}
	if cache.hits != 1 {
		t.Fatalf("cache hits = %d", cache.hits)
	}

	all, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d work centers", len(all))
	}
	embroidery, err := svc.List(ctx, models.DepartmentStickerei)
	if err != nil {
		t.Fatalf("list department: %v", err)
	}
	if len(embroidery) != 1 || embroidery[0].Active {
		t.Fatalf("department list %+v", embroidery)
	}

	if _, err := svc.Get(ctx, "0b8f8d1e-9999-4000-8000-000000000000"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	tests := []struct {
		name string
		req  CreateRequest
		code string
	}{
		{"no name", CreateRequest{Name: "  ", Department: models.DepartmentTextil, Capacity: 1}, "name_required"},
		{"bad department", CreateRequest{Name: "Press", Department: "PAINT", Capacity: 1}, "unknown_department"},
		{"zero capacity", CreateRequest{Name: "Press", Department: models.DepartmentTransfer, Capacity: 0}, "invalid_capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.req)
			appErr, ok := apperr.As(err)
			if !ok || appErr.Code != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestUpdateCapacityRespectsUpcomingPeak(t *testing.T) {
	svc, database, cache, _ := newTestService(t)
	ctx := context.Background()
	wc := dbtest.WorkCenter(t, database, models.DepartmentSiebdruck, 3)

	// Two overlapping slots upcoming, three overlapping in the past.
	for _, s := range []models.TimeSlot{
		{WorkCenterID: wc.ID, Date: "2026-03-04", StartMin: 540, LengthMin: 60},
		{WorkCenterID: wc.ID, Date: "2026-03-04", StartMin: 570, LengthMin: 60},
		{WorkCenterID: wc.ID, Date: "2026-02-27", StartMin: 540, LengthMin: 60},
		{WorkCenterID: wc.ID, Date: "2026-02-27", StartMin: 540, LengthMin: 60},
		{WorkCenterID: wc.ID, Date: "2026-02-27", StartMin: 540, LengthMin: 60},
	} {
		dbtest.Slot(t, database, s)
	}

	one := 1
	_, err := svc.Update(ctx, wc.ID, UpdateRequest{Capacity: &one})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	appErr, _ := apperr.As(err)
	if appErr.Details["date"] != "2026-03-04" || appErr.Details["peak"] != 2 {
		t.Fatalf("details %v", appErr.Details)
	}

	two := 2
	name := "Karussell 2"
	inactive := false
	got, err := svc.Update(ctx, wc.ID, UpdateRequest{Capacity: &two, Name: &name, Active: &inactive})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Capacity != 2 || got.Name != name || got.Active {
		t.Fatalf("unexpected work center %+v", got)
	}
	if cache.invalid == 0 {
		t.Fatal("cache not invalidated")
	}
}

func TestDeleteBlockedByUpcomingSlots(t *testing.T) {
	svc, database, _, bus := newTestService(t)
	ctx := context.Background()
	deleted := bus.Subscribe(events.EventWorkCenterDeleted)

	wc := dbtest.WorkCenter(t, database, models.DepartmentTransfer, 1)
	slot := dbtest.Slot(t, database, models.TimeSlot{WorkCenterID: wc.ID, Date: "2026-03-02", StartMin: 540, LengthMin: 60})
	dbtest.Slot(t, database, models.TimeSlot{WorkCenterID: wc.ID, Date: "2026-02-20", StartMin: 540, LengthMin: 60})

	err := svc.Delete(ctx, wc.ID)
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != "future_time_slots" {
		t.Fatalf("expected future_time_slots, got %v", err)
	}

	if err := database.Delete(&models.TimeSlot{}, "id = ?", slot.ID).Error; err != nil {
		t.Fatalf("delete slot: %v", err)
	}
	if err := svc.Delete(ctx, wc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, wc.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	select {
	case <-deleted:
	default:
		t.Fatal("workcenter.deleted not published")
	}
}
