/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/apperr"
	"github.com/friendsincode/shopfloor/internal/auth"
	"github.com/friendsincode/shopfloor/internal/db/dbtest"
	"github.com/friendsincode/shopfloor/internal/events"
	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/ordernumber"
)

type stubVerifier struct {
	missing map[string]bool
}

func (v stubVerifier) Exists(_ context.Context, key string) (bool, error) {
	return !v.missing[key], nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *events.Bus) {
	t.Helper()
	database := dbtest.New(t)
	bus := events.NewBus()
	numbers := ordernumber.NewGenerator(ordernumber.NewYearSequence(), time.UTC)
	return NewService(database, bus, numbers, zerolog.Nop()), database, bus
}

func requireCode(t *testing.T, err error, kind error, code string) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != code {
		t.Fatalf("expected code %s, got %v", code, err)
	}
}

func TestCreateOrderIssuesDisplayNumbers(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx := context.Background()
	created := bus.Subscribe(events.EventOrderCreated)

	first, err := svc.CreateOrder(ctx, CreateOrderRequest{Title: "Hoodies", Department: models.DepartmentTextil})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := svc.CreateOrder(ctx, CreateOrderRequest{Title: "Caps", Department: models.DepartmentStickerei, Draft: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	year := time.Now().UTC().Year()
	if *first.DisplayNumber != fmt.Sprintf("INT-%d-1000", year) || *second.DisplayNumber != fmt.Sprintf("INT-%d-1001", year) {
		t.Fatalf("display numbers %s, %s", *first.DisplayNumber, *second.DisplayNumber)
	}
	if first.Workflow != models.WorkflowNeu || second.Workflow != models.WorkflowEntwurf {
		t.Fatalf("workflow %s, %s", first.Workflow, second.Workflow)
	}
	if first.Source != models.OrderSourceInternal {
		t.Fatalf("source = %s", first.Source)
	}

	select {
	case payload := <-created:
		if payload["resource_id"] != first.ID {
			t.Fatalf("unexpected payload %v", payload)
		}
	default:
		t.Fatal("order.created not published")
	}

	_, err = svc.CreateOrder(ctx, CreateOrderRequest{Department: "PAINT"})
	requireCode(t, err, apperr.ErrPreconditionFailed, "unknown_department")
}

func TestListOrdersFilters(t *testing.T) {
	svc, database, _ := newTestService(t)
	dbtest.Order(t, database, models.DepartmentSiebdruck, models.WorkflowNeu)
	dbtest.Order(t, database, models.DepartmentSiebdruck, models.WorkflowFuerProd)
	dbtest.Order(t, database, models.DepartmentTextil, models.WorkflowFuerProd)

	orders, err := svc.ListOrders(context.Background(), OrderFilter{Workflow: models.WorkflowFuerProd})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("got %d orders", len(orders))
	}

	orders, err = svc.ListOrders(context.Background(), OrderFilter{Workflow: models.WorkflowFuerProd, Department: models.DepartmentTextil})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders", len(orders))
	}
}

func TestSubmitGating(t *testing.T) {
	svc, database, bus := newTestService(t)
	ctx := context.Background()
	submitted := bus.Subscribe(events.EventOrderSubmitted)

	order := dbtest.Order(t, database, models.DepartmentTextil, models.WorkflowNeu)

	_, err := svc.Submit(ctx, order.ID)
	requireCode(t, err, apperr.ErrPreconditionFailed, "required_asset_missing")

	if _, err := svc.AttachPrintAsset(ctx, order.ID, AttachAssetRequest{Kind: "front", ObjectKey: "orders/front.pdf", Required: true}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	_, err = svc.Submit(ctx, order.ID)
	requireCode(t, err, apperr.ErrPreconditionFailed, "size_table_missing")

	if _, err := svc.SetSizeTable(ctx, order.ID, map[string]int{"S": 5, "M": 12}); err != nil {
		t.Fatalf("size table: %v", err)
	}

	got, err := svc.Submit(ctx, order.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Workflow != models.WorkflowFuerProd {
		t.Fatalf("workflow = %s", got.Workflow)
	}
	stored := dbtest.Reload[models.Order](t, database, order.ID)
	if stored.Workflow != models.WorkflowFuerProd || stored.SizeTable["M"] != 12 {
		t.Fatalf("stored order %+v", stored)
	}

	select {
	case payload := <-submitted:
		if payload["from"] != string(models.WorkflowNeu) {
			t.Fatalf("payload %v", payload)
		}
	default:
		t.Fatal("order.submitted not published")
	}

	_, err = svc.Submit(ctx, order.ID)
	requireCode(t, err, apperr.ErrPreconditionFailed, "workflow_not_submittable")
}

func TestSubmitChecksStorage(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()
	svc.SetVerifier(stubVerifier{missing: map[string]bool{"orders/missing.pdf": true}})

	order := dbtest.Order(t, database, models.DepartmentSiebdruck, models.WorkflowPruefung)
	if _, err := svc.AttachPrintAsset(ctx, order.ID, AttachAssetRequest{Kind: "front", ObjectKey: "orders/missing.pdf", Required: true}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	_, err := svc.Submit(ctx, order.ID)
	requireCode(t, err, apperr.ErrPreconditionFailed, "required_asset_unavailable")

	if stored := dbtest.Reload[models.Order](t, database, order.ID); stored.Workflow != models.WorkflowPruefung {
		t.Fatalf("workflow changed to %s", stored.Workflow)
	}
}

func TestSubmitUnknownOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Submit(context.Background(), "2b0e5a36-1111-4000-8000-000000000000")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	inProd := dbtest.Order(t, database, models.DepartmentSiebdruck, models.WorkflowInProd)
	_, err := svc.Release(ctx, inProd.ID)
	requireCode(t, err, apperr.ErrPreconditionFailed, "not_waiting_for_parts")

	waiting := dbtest.Order(t, database, models.DepartmentSiebdruck, models.WorkflowWartetFehlteile)
	got, err := svc.Release(ctx, waiting.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if got.Workflow != models.WorkflowFuerProd {
		t.Fatalf("workflow = %s", got.Workflow)
	}
}

func TestDeliverAndSettle(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := auth.WithClaims(context.Background(), &auth.Claims{UserID: "acct-1"})

	order := dbtest.Order(t, database, models.DepartmentSiebdruck, models.WorkflowFertig)
	wc := dbtest.WorkCenter(t, database, models.DepartmentSiebdruck, 1)
	open := dbtest.Slot(t, database, models.TimeSlot{
		WorkCenterID: wc.ID, Date: "2026-03-02", StartMin: 540, LengthMin: 60, OrderID: &order.ID,
	})

	qty := 250
	_, err := svc.Deliver(ctx, order.ID, DeliverRequest{Qty: &qty})
	requireCode(t, err, apperr.ErrPreconditionFailed, "open_time_slots")

	if err := database.Model(open).Update("status", models.SlotStatusDone).Error; err != nil {
		t.Fatalf("finish slot: %v", err)
	}

	_, err = svc.Settle(ctx, order.ID, "acct-1")
	requireCode(t, err, apperr.ErrPreconditionFailed, "workflow_not_settleable")

	deliveredAt := time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)
	got, err := svc.Deliver(ctx, order.ID, DeliverRequest{DeliveredAt: deliveredAt, Qty: &qty, Note: "picked up"})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got.Workflow != models.WorkflowZurAbrechnung {
		t.Fatalf("workflow = %s", got.Workflow)
	}
	stored := dbtest.Reload[models.Order](t, database, order.ID)
	if stored.DeliveredQty == nil || *stored.DeliveredQty != 250 || stored.DeliveryNote != "picked up" {
		t.Fatalf("delivery not stored: %+v", stored)
	}

	_, err = svc.Settle(ctx, order.ID, "")
	requireCode(t, err, apperr.ErrPreconditionFailed, "actor_required")

	settled, err := svc.Settle(ctx, order.ID, "acct-1")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Workflow != models.WorkflowAbgerechnet {
		t.Fatalf("workflow = %s", settled.Workflow)
	}
	stored = dbtest.Reload[models.Order](t, database, order.ID)
	if stored.SettledBy == nil || *stored.SettledBy != "acct-1" || stored.SettledAt == nil {
		t.Fatalf("settlement not stored: %+v", stored)
	}
}

func TestDeliverRejectsWrongState(t *testing.T) {
	svc, database, _ := newTestService(t)

	for _, state := range []models.WorkflowState{models.WorkflowNeu, models.WorkflowInProd, models.WorkflowWartetFehlteile, models.WorkflowAbgerechnet} {
		order := dbtest.Order(t, database, models.DepartmentTransfer, state)
		_, err := svc.Deliver(context.Background(), order.ID, DeliverRequest{})
		requireCode(t, err, apperr.ErrPreconditionFailed, "workflow_not_deliverable")
	}

	// FUER_PROD without slots goes straight to accounting.
	order := dbtest.Order(t, database, models.DepartmentTransfer, models.WorkflowFuerProd)
	if _, err := svc.Deliver(context.Background(), order.ID, DeliverRequest{}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
}

func TestSubmitDetectsConcurrentWorkflowChange(t *testing.T) {
	svc, database, bus := newTestService(t)
	ctx := context.Background()
	submitted := bus.Subscribe(events.EventOrderSubmitted)

	order := dbtest.Order(t, database, models.DepartmentTextil, models.WorkflowNeu)
	if _, err := svc.AttachPrintAsset(ctx, order.ID, AttachAssetRequest{Kind: "front", ObjectKey: "orders/front.pdf", Required: true}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := svc.SetSizeTable(ctx, order.ID, map[string]int{"M": 4}); err != nil {
		t.Fatalf("size table: %v", err)
	}

	dbtest.ConcurrentWriter(t, database, "orders", 1,
		"UPDATE orders SET workflow = ? WHERE id = ?", string(models.WorkflowEntwurf), order.ID)

	_, err := svc.Submit(ctx, order.ID)
	requireCode(t, err, apperr.ErrConflict, "order_changed")

	if got := dbtest.Reload[models.Order](t, database, order.ID); got.Workflow != models.WorkflowNeu {
		t.Fatalf("workflow = %s", got.Workflow)
	}
	select {
	case payload := <-submitted:
		t.Fatalf("order.submitted published for rejected submit: %v", payload)
	default:
	}
}
