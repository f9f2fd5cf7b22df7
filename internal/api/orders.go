/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/shopfloor/internal/auth"
	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/workflow"
)

type orderCreateRequest struct {
	Title      string         `json:"title" validate:"required,max=255"`
	Department string         `json:"department" validate:"required,oneof=SIEBDRUCK STICKEREI TRANSFER TEXTIL"`
	Source     string         `json:"source" validate:"omitempty,oneof=JTL INTERNAL"`
	Draft      bool           `json:"draft"`
	NetCents   int64          `json:"net_cents" validate:"min=0"`
	VatCents   int64          `json:"vat_cents" validate:"min=0"`
	GrossCents int64          `json:"gross_cents" validate:"min=0"`
	SizeTable  map[string]int `json:"size_table"`
}

type attachAssetRequest struct {
	Kind      string `json:"kind" validate:"required,max=32"`
	ObjectKey string `json:"object_key" validate:"required,max=512"`
	Required  bool   `json:"required"`
}

type sizeTableRequest struct {
	Sizes map[string]int `json:"sizes" validate:"required"`
}

type deliverRequest struct {
	DeliveredAt *time.Time `json:"delivered_at"`
	Qty         *int       `json:"qty"`
	Note        string     `json:"note" validate:"max=2000"`
}

func (a *API) handleOrdersList(w http.ResponseWriter, r *http.Request) {
	filter := workflow.OrderFilter{
		Workflow:   models.WorkflowState(r.URL.Query().Get("workflow")),
		Department: models.Department(r.URL.Query().Get("department")),
	}
	orders, err := a.workflow.ListOrders(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, "list_orders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleOrdersGet(w http.ResponseWriter, r *http.Request) {
	order, err := a.workflow.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeServiceError(w, r, "get_order", err)
		return
	}
	writeJSON(w, http.StatusOK, orderView{Order: order, NextStates: workflow.Targets(order.Workflow)})
}

// orderView adds the workflow states the order can move to next.
type orderView struct {
	*models.Order
	NextStates []models.WorkflowState `json:"next_states"`
}

func (a *API) handleOrdersCreate(w http.ResponseWriter, r *http.Request) {
	var req orderCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	source := models.OrderSource(req.Source)
	if source == "" {
		source = models.OrderSourceInternal
	}

	order, err := a.workflow.CreateOrder(r.Context(), workflow.CreateOrderRequest{
		Title:      req.Title,
		Department: models.Department(req.Department),
		Source:     source,
		Draft:      req.Draft,
		NetCents:   req.NetCents,
		VatCents:   req.VatCents,
		GrossCents: req.GrossCents,
		SizeTable:  req.SizeTable,
	})
	if err != nil {
		a.writeServiceError(w, r, "create_order", err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (a *API) handleOrderAttachAsset(w http.ResponseWriter, r *http.Request) {
	var req attachAssetRequest
	if !a.decode(w, r, &req) {
		return
	}
	asset, err := a.workflow.AttachPrintAsset(r.Context(), chi.URLParam(r, "orderID"), workflow.AttachAssetRequest{
		Kind:      req.Kind,
		ObjectKey: req.ObjectKey,
		Required:  req.Required,
	})
	if err != nil {
		a.writeServiceError(w, r, "attach_asset", err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (a *API) handleOrderSizeTable(w http.ResponseWriter, r *http.Request) {
	var req sizeTableRequest
	if !a.decode(w, r, &req) {
		return
	}
	order, err := a.workflow.SetSizeTable(r.Context(), chi.URLParam(r, "orderID"), req.Sizes)
	if err != nil {
		a.writeServiceError(w, r, "set_size_table", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleOrderSubmit(w http.ResponseWriter, r *http.Request) {
	order, err := a.workflow.Submit(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeServiceError(w, r, "submit_order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleOrderRelease(w http.ResponseWriter, r *http.Request) {
	order, err := a.workflow.Release(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeServiceError(w, r, "release_order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleOrderDeliver(w http.ResponseWriter, r *http.Request) {
	var req deliverRequest
	if !a.decode(w, r, &req) {
		return
	}
	in := workflow.DeliverRequest{Qty: req.Qty, Note: req.Note}
	if req.DeliveredAt != nil {
		in.DeliveredAt = *req.DeliveredAt
	}

	order, err := a.workflow.Deliver(r.Context(), chi.URLParam(r, "orderID"), in)
	if err != nil {
		a.writeServiceError(w, r, "deliver_order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleOrderSettle(w http.ResponseWriter, r *http.Request) {
	order, err := a.workflow.Settle(r.Context(), chi.URLParam(r, "orderID"), auth.UserIDFromContext(r.Context()))
	if err != nil {
		a.writeServiceError(w, r, "settle_order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
