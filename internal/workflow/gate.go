/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package workflow owns the order lifecycle: which workflow transitions are
// legal, which orders may be scheduled, and the order-level operations
// (submit, release, deliver, settle).
package workflow

import (
	"context"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/apperr"
	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/telemetry"
)

// transitions is the only place legal workflow moves are defined.
var transitions = map[models.WorkflowState][]models.WorkflowState{
	models.WorkflowEntwurf:         {models.WorkflowNeu, models.WorkflowFuerProd},
	models.WorkflowNeu:             {models.WorkflowPruefung, models.WorkflowFuerProd},
	models.WorkflowPruefung:        {models.WorkflowFuerProd},
	models.WorkflowFuerProd:        {models.WorkflowInProd, models.WorkflowWartetFehlteile, models.WorkflowZurAbrechnung},
	models.WorkflowInProd:          {models.WorkflowWartetFehlteile, models.WorkflowFertig},
	models.WorkflowWartetFehlteile: {models.WorkflowFuerProd},
	models.WorkflowFertig:          {models.WorkflowZurAbrechnung},
	models.WorkflowZurAbrechnung:   {models.WorkflowAbgerechnet},
}

var schedulable = []models.WorkflowState{
	models.WorkflowFuerProd,
	models.WorkflowInProd,
	models.WorkflowWartetFehlteile,
}

// Orders before production enter it through submit; WARTET_FEHLTEILE
// returns through release instead.
var submittable = []models.WorkflowState{
	models.WorkflowEntwurf,
	models.WorkflowNeu,
	models.WorkflowPruefung,
}

// CanTransition reports whether an order may move from one state to another.
func CanTransition(from, to models.WorkflowState) bool {
	return slices.Contains(transitions[from], to)
}

// Targets lists the states reachable from state in one step.
func Targets(state models.WorkflowState) []models.WorkflowState {
	return slices.Clone(transitions[state])
}

// Schedulable reports whether orders in state may hold time slots.
func Schedulable(state models.WorkflowState) bool {
	return slices.Contains(schedulable, state)
}

// CanReceiveTimeSlot checks that order may be placed on wc.
func CanReceiveTimeSlot(order *models.Order, wc *models.WorkCenter) error {
	if order.Department != wc.Department {
		return apperr.PreconditionFailed("department_mismatch",
			"order %s belongs to %s but work center %s is in %s",
			Label(order), order.Department, wc.Name, wc.Department).
			With("order_department", order.Department).
			With("work_center_department", wc.Department)
	}
	if !Schedulable(order.Workflow) {
		return apperr.PreconditionFailed("workflow_not_schedulable",
			"order %s is in %s and cannot be scheduled until it is released for production",
			Label(order), order.Workflow).
			With("workflow", order.Workflow)
	}
	return nil
}

// CheckSubmit verifies the submission prerequisites on an order loaded with
// its print assets.
func CheckSubmit(order *models.Order) error {
	if !slices.Contains(submittable, order.Workflow) {
		return apperr.PreconditionFailed("workflow_not_submittable",
			"order %s in %s cannot be submitted to production", Label(order), order.Workflow).
			With("workflow", order.Workflow)
	}
	if len(RequiredAssets(order)) == 0 {
		return apperr.PreconditionFailed("required_asset_missing",
			"order %s has no required print asset attached", Label(order))
	}
	if order.Department.RequiresSizeTable() && !order.HasSizeTable() {
		return apperr.PreconditionFailed("size_table_missing",
			"order %s in %s needs a size table before submission", Label(order), order.Department)
	}
	return nil
}

// RequiredAssets returns the print assets flagged as required.
func RequiredAssets(order *models.Order) []models.PrintAsset {
	var required []models.PrintAsset
	for _, asset := range order.PrintAssets {
		if asset.Required {
			required = append(required, asset)
		}
	}
	return required
}

// Transition moves order to state "to" inside tx. The update is guarded by the
// order's current state so a concurrent change surfaces as a conflict.
func Transition(ctx context.Context, tx *gorm.DB, order *models.Order, to models.WorkflowState) error {
	from := order.Workflow
	if !CanTransition(from, to) {
		return apperr.PreconditionFailed("workflow_transition_invalid",
			"order %s cannot move from %s to %s", Label(order), from, to).
			With("from", from).
			With("to", to)
	}

	res := tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND workflow = ?", order.ID, from).
		Updates(map[string]any{"workflow": to, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("update order workflow: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("order_changed", "order %s changed concurrently", Label(order)).
			With("order_id", order.ID)
	}

	order.Workflow = to
	telemetry.OrderWorkflowTransitionsTotal.WithLabelValues(string(to)).Inc()
	return nil
}

// Label names an order for messages, preferring its display number.
func Label(order *models.Order) string {
	if order.DisplayNumber != nil && *order.DisplayNumber != "" {
		return *order.DisplayNumber
	}
	return order.ID
}
