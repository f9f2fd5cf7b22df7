/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"context"

	"github.com/friendsincode/shopfloor/internal/auth"
	"github.com/friendsincode/shopfloor/internal/models"
)

// SlotPayload describes a time slot for subscribers and the audit log.
func SlotPayload(ctx context.Context, slot *models.TimeSlot, extra Payload) Payload {
	payload := Payload{
		"resource_type":  "time_slot",
		"resource_id":    slot.ID,
		"slot_id":        slot.ID,
		"work_center_id": slot.WorkCenterID,
		"date":           slot.Date,
		"start_min":      slot.StartMin,
		"length_min":     slot.LengthMin,
		"status":         string(slot.Status),
		"blocked":        slot.Blocked,
	}
	if slot.OrderID != nil {
		payload["order_id"] = *slot.OrderID
	}
	return merge(ctx, payload, extra)
}

// OrderPayload describes an order.
func OrderPayload(ctx context.Context, order *models.Order, extra Payload) Payload {
	payload := Payload{
		"resource_type": "order",
		"resource_id":   order.ID,
		"order_id":      order.ID,
		"department":    string(order.Department),
		"workflow":      string(order.Workflow),
	}
	if order.DisplayNumber != nil {
		payload["display_number"] = *order.DisplayNumber
	}
	return merge(ctx, payload, extra)
}

// WorkCenterPayload describes a work center.
func WorkCenterPayload(ctx context.Context, wc *models.WorkCenter, extra Payload) Payload {
	payload := Payload{
		"resource_type":  "work_center",
		"resource_id":    wc.ID,
		"work_center_id": wc.ID,
		"department":     string(wc.Department),
		"capacity":       wc.Capacity,
		"active":         wc.Active,
	}
	return merge(ctx, payload, extra)
}

// WithActor adds the acting user from ctx to payload.
func WithActor(ctx context.Context, payload Payload) Payload {
	if userID := auth.UserIDFromContext(ctx); userID != "" {
		payload["user_id"] = userID
	}
	return payload
}

func merge(ctx context.Context, payload, extra Payload) Payload {
	WithActor(ctx, payload)
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

// OriginNodeKey marks payloads that arrived from another instance through a
// bridge. Consumers that persist events skip them.
const OriginNodeKey = "origin_node"

// Remote reports whether payload was relayed from another instance.
func Remote(payload Payload) bool {
	_, ok := payload[OriginNodeKey]
	return ok
}
