/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package workflow

import (
	"errors"
	"testing"

	"github.com/friendsincode/shopfloor/internal/apperr"
	"github.com/friendsincode/shopfloor/internal/models"
)

func TestCanTransition(t *testing.T) {
	legal := map[[2]models.WorkflowState]bool{
		{models.WorkflowEntwurf, models.WorkflowNeu}:               true,
		{models.WorkflowEntwurf, models.WorkflowFuerProd}:          true,
		{models.WorkflowNeu, models.WorkflowPruefung}:              true,
		{models.WorkflowNeu, models.WorkflowFuerProd}:              true,
		{models.WorkflowPruefung, models.WorkflowFuerProd}:         true,
		{models.WorkflowFuerProd, models.WorkflowInProd}:           true,
		{models.WorkflowFuerProd, models.WorkflowWartetFehlteile}:  true,
		{models.WorkflowFuerProd, models.WorkflowZurAbrechnung}:    true,
		{models.WorkflowInProd, models.WorkflowWartetFehlteile}:    true,
		{models.WorkflowInProd, models.WorkflowFertig}:             true,
		{models.WorkflowWartetFehlteile, models.WorkflowFuerProd}:  true,
		{models.WorkflowFertig, models.WorkflowZurAbrechnung}:      true,
		{models.WorkflowZurAbrechnung, models.WorkflowAbgerechnet}: true,
	}

	for _, from := range models.WorkflowStates {
		for _, to := range models.WorkflowStates {
			want := legal[[2]models.WorkflowState{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}

	if len(Targets(models.WorkflowAbgerechnet)) != 0 {
		t.Errorf("ABGERECHNET must be terminal")
	}
}

func TestCanReceiveTimeSlotEveryState(t *testing.T) {
	wc := &models.WorkCenter{ID: "wc1", Name: "Press 1", Department: models.DepartmentSiebdruck}

	for _, state := range models.WorkflowStates {
		t.Run(string(state), func(t *testing.T) {
			order := &models.Order{ID: "o1", Department: models.DepartmentSiebdruck, Workflow: state}
			err := CanReceiveTimeSlot(order, wc)

			switch state {
			case models.WorkflowFuerProd, models.WorkflowInProd, models.WorkflowWartetFehlteile:
				if err != nil {
					t.Fatalf("expected eligible, got %v", err)
				}
			default:
				if !errors.Is(err, apperr.ErrPreconditionFailed) {
					t.Fatalf("expected ErrPreconditionFailed, got %v", err)
				}
				appErr, _ := apperr.As(err)
				if appErr.Code != "workflow_not_schedulable" {
					t.Fatalf("code = %q", appErr.Code)
				}
			}
		})
	}
}

func TestCanReceiveTimeSlotDepartmentMismatch(t *testing.T) {
	wc := &models.WorkCenter{ID: "wc1", Name: "Stick 2", Department: models.DepartmentStickerei}
	order := &models.Order{ID: "o1", Department: models.DepartmentSiebdruck, Workflow: models.WorkflowFuerProd}

	err := CanReceiveTimeSlot(order, wc)
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != "department_mismatch" {
		t.Fatalf("expected department_mismatch, got %v", err)
	}
}

func TestCheckSubmit(t *testing.T) {
	required := []models.PrintAsset{{ID: "a1", Kind: "front", ObjectKey: "o1/front.pdf", Required: true}}
	optional := []models.PrintAsset{{ID: "a2", Kind: "mockup", ObjectKey: "o1/mock.png"}}

	tests := []struct {
		name  string
		order models.Order
		code  string
	}{
		{"no assets", models.Order{Department: models.DepartmentSiebdruck, Workflow: models.WorkflowNeu}, "required_asset_missing"},
		{"only optional assets", models.Order{Department: models.DepartmentSiebdruck, Workflow: models.WorkflowNeu, PrintAssets: optional}, "required_asset_missing"},
		{"textile without sizes", models.Order{Department: models.DepartmentTextil, Workflow: models.WorkflowPruefung, PrintAssets: required}, "size_table_missing"},
		{"already in production", models.Order{Department: models.DepartmentSiebdruck, Workflow: models.WorkflowInProd, PrintAssets: required}, "workflow_not_submittable"},
		{"waiting for parts", models.Order{Department: models.DepartmentSiebdruck, Workflow: models.WorkflowWartetFehlteile, PrintAssets: required}, "workflow_not_submittable"},
		{"ready", models.Order{Department: models.DepartmentSiebdruck, Workflow: models.WorkflowEntwurf, PrintAssets: required}, ""},
		{"textile ready", models.Order{Department: models.DepartmentTextil, Workflow: models.WorkflowNeu, PrintAssets: required, SizeTable: map[string]int{"M": 10}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSubmit(&tt.order)
			if tt.code == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			appErr, ok := apperr.As(err)
			if !ok || appErr.Code != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestLabelPrefersDisplayNumber(t *testing.T) {
	number := "INT-2026-1042"
	if got := Label(&models.Order{ID: "o1", DisplayNumber: &number}); got != number {
		t.Fatalf("Label = %q", got)
	}
	if got := Label(&models.Order{ID: "o1"}); got != "o1" {
		t.Fatalf("Label = %q", got)
	}
}
