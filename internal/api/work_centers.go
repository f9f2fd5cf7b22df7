/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/workcenter"
)

type workCenterCreateRequest struct {
	Name       string `json:"name" validate:"required,max=128"`
	Department string `json:"department" validate:"required"`
	Capacity   int    `json:"capacity"`
	Active     *bool  `json:"active"`
}

type workCenterUpdateRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=128"`
	Active   *bool   `json:"active"`
	Capacity *int    `json:"capacity"`
}

func (a *API) handleWorkCentersList(w http.ResponseWriter, r *http.Request) {
	list, err := a.workCenters.List(r.Context(), models.Department(r.URL.Query().Get("department")))
	if err != nil {
		a.writeServiceError(w, r, "list_work_centers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"work_centers": list})
}

func (a *API) handleWorkCentersGet(w http.ResponseWriter, r *http.Request) {
	wc, err := a.workCenters.Get(r.Context(), chi.URLParam(r, "workCenterID"))
	if err != nil {
		a.writeServiceError(w, r, "get_work_center", err)
		return
	}
	writeJSON(w, http.StatusOK, wc)
}

func (a *API) handleWorkCentersCreate(w http.ResponseWriter, r *http.Request) {
	var req workCenterCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	wc, err := a.workCenters.Create(r.Context(), workcenter.CreateRequest{
		Name:       req.Name,
		Department: models.Department(req.Department),
		Capacity:   req.Capacity,
		Active:     req.Active,
	})
	if err != nil {
		a.writeServiceError(w, r, "create_work_center", err)
		return
	}
	writeJSON(w, http.StatusCreated, wc)
}

func (a *API) handleWorkCentersUpdate(w http.ResponseWriter, r *http.Request) {
	var req workCenterUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	wc, err := a.workCenters.Update(r.Context(), chi.URLParam(r, "workCenterID"), workcenter.UpdateRequest{
		Name:     req.Name,
		Active:   req.Active,
		Capacity: req.Capacity,
	})
	if err != nil {
		a.writeServiceError(w, r, "update_work_center", err)
		return
	}
	writeJSON(w, http.StatusOK, wc)
}

func (a *API) handleWorkCentersDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.workCenters.Delete(r.Context(), chi.URLParam(r, "workCenterID")); err != nil {
		a.writeServiceError(w, r, "delete_work_center", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
