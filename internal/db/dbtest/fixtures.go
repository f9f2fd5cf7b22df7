/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/models"
)

// WorkCenter inserts an active work center.
func WorkCenter(t testing.TB, database *gorm.DB, dept models.Department, capacity int) *models.WorkCenter {
	t.Helper()
	wc := &models.WorkCenter{
		ID:         uuid.NewString(),
		Name:       string(dept) + "-" + uuid.NewString()[:4],
		Department: dept,
		Active:     true,
		Capacity:   capacity,
	}
	if err := database.Create(wc).Error; err != nil {
		t.Fatalf("create work center: %v", err)
	}
	return wc
}

// Order inserts an order in the given workflow state.
func Order(t testing.TB, database *gorm.DB, dept models.Department, state models.WorkflowState) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:         uuid.NewString(),
		Title:      "test order",
		Department: dept,
		Source:     models.OrderSourceInternal,
		Workflow:   state,
	}
	if err := database.Create(order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

// Slot inserts a time slot as-is, bypassing scheduling checks.
func Slot(t testing.TB, database *gorm.DB, slot models.TimeSlot) *models.TimeSlot {
	t.Helper()
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if slot.Status == "" {
		slot.Status = models.SlotStatusPlanned
		if slot.OrderID == nil {
			slot.Status = models.SlotStatusBlocked
		}
	}
	slot.Blocked = slot.OrderID == nil
	if slot.Version == 0 {
		slot.Version = 1
	}
	if err := database.Create(&slot).Error; err != nil {
		t.Fatalf("create slot: %v", err)
	}
	return &slot
}

// Reload reads a row again by primary key.
func Reload[T any](t testing.TB, database *gorm.DB, id string) *T {
	t.Helper()
	var row T
	if err := database.First(&row, "id = ?", id).Error; err != nil {
		t.Fatalf("reload %T %s: %v", row, id, err)
	}
	return &row
}
