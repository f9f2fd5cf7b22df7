/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/scheduler"
)

type slotCreateRequest struct {
	WorkCenterID string  `json:"work_center_id" validate:"required"`
	Date         string  `json:"date" validate:"required"`
	StartMin     int     `json:"start_min"`
	LengthMin    int     `json:"length_min"`
	OrderID      *string `json:"order_id" validate:"omitempty,min=1"`
	Blocked      bool    `json:"blocked"`
	Note         string  `json:"note" validate:"max=2000"`
}

func (req slotCreateRequest) toService() scheduler.CreateRequest {
	return scheduler.CreateRequest{
		WorkCenterID: req.WorkCenterID,
		Date:         req.Date,
		StartMin:     req.StartMin,
		LengthMin:    req.LengthMin,
		OrderID:      req.OrderID,
		Blocked:      req.Blocked,
		Note:         req.Note,
	}
}

type slotUpdateRequest struct {
	WorkCenterID *string `json:"work_center_id" validate:"omitempty,min=1"`
	Date         *string `json:"date" validate:"omitempty,min=1"`
	StartMin     *int    `json:"start_min"`
	LengthMin    *int    `json:"length_min"`
	Note         *string `json:"note" validate:"omitempty,max=2000"`
}

func (req slotUpdateRequest) toService() scheduler.UpdateRequest {
	return scheduler.UpdateRequest{
		WorkCenterID: req.WorkCenterID,
		Date:         req.Date,
		StartMin:     req.StartMin,
		LengthMin:    req.LengthMin,
		Note:         req.Note,
	}
}

type batchMutationRequest struct {
	Op     string             `json:"op" validate:"required,oneof=create move delete"`
	SlotID string             `json:"slot_id"`
	Create *slotCreateRequest `json:"create"`
	Update *slotUpdateRequest `json:"update"`
}

type batchRequest struct {
	Mutations []batchMutationRequest `json:"mutations" validate:"dive"`
}

type qcRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=OK NOK"`
	Note    string `json:"note" validate:"max=2000"`
}

type missingPartsRequest struct {
	Note      string `json:"note" validate:"required,max=2000"`
	HoldOrder bool   `json:"hold_order"`
}

func (a *API) handleSlotsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := scheduler.ListFilter{
		From:         q.Get("from"),
		To:           q.Get("to"),
		WorkCenterID: q.Get("work_center_id"),
		Department:   models.Department(q.Get("department")),
	}
	if filter.From == "" || filter.To == "" {
		writeError(w, http.StatusBadRequest, "from_and_to_required")
		return
	}

	slots, err := a.scheduler.List(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, "list_time_slots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"time_slots": slots})
}

func (a *API) handleSlotsGet(w http.ResponseWriter, r *http.Request) {
	slot, err := a.scheduler.Get(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		a.writeServiceError(w, r, "get_time_slot", err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (a *API) handleSlotsCreate(w http.ResponseWriter, r *http.Request) {
	var req slotCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	slot, err := a.scheduler.Create(r.Context(), req.toService())
	if err != nil {
		a.writeServiceError(w, r, "create_time_slot", err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (a *API) handleSlotsUpdate(w http.ResponseWriter, r *http.Request) {
	var req slotUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	slot, err := a.scheduler.Update(r.Context(), chi.URLParam(r, "slotID"), req.toService())
	if err != nil {
		a.writeServiceError(w, r, "update_time_slot", err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (a *API) handleSlotsDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.scheduler.Delete(r.Context(), chi.URLParam(r, "slotID")); err != nil {
		a.writeServiceError(w, r, "delete_time_slot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSlotsBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !a.decode(w, r, &req) {
		return
	}

	muts := make([]scheduler.Mutation, len(req.Mutations))
	for i, m := range req.Mutations {
		muts[i] = scheduler.Mutation{Op: scheduler.Op(m.Op), SlotID: m.SlotID}
		if m.Create != nil {
			create := m.Create.toService()
			muts[i].Create = &create
		}
		if m.Update != nil {
			update := m.Update.toService()
			muts[i].Update = &update
		}
	}

	results, err := a.scheduler.Apply(r.Context(), muts)
	if err != nil {
		a.writeServiceError(w, r, "apply_batch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *API) handleSlotStart(w http.ResponseWriter, r *http.Request) {
	slot, err := a.executor.Start(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		a.writeServiceError(w, r, "start_time_slot", err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (a *API) handleSlotPause(w http.ResponseWriter, r *http.Request) {
	slot, err := a.executor.Pause(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		a.writeServiceError(w, r, "pause_time_slot", err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (a *API) handleSlotStop(w http.ResponseWriter, r *http.Request) {
	slot, err := a.executor.Stop(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		a.writeServiceError(w, r, "stop_time_slot", err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (a *API) handleSlotQC(w http.ResponseWriter, r *http.Request) {
	var req qcRequest
	if !a.decode(w, r, &req) {
		return
	}
	slot, err := a.executor.SetQC(r.Context(), chi.URLParam(r, "slotID"), models.QCOutcome(req.Outcome), req.Note)
	if err != nil {
		a.writeServiceError(w, r, "record_qc", err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (a *API) handleSlotMissingParts(w http.ResponseWriter, r *http.Request) {
	var req missingPartsRequest
	if !a.decode(w, r, &req) {
		return
	}
	slot, err := a.executor.MarkMissingParts(r.Context(), chi.URLParam(r, "slotID"), req.Note, req.HoldOrder)
	if err != nil {
		a.writeServiceError(w, r, "mark_missing_parts", err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}
