/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for scheduling and workflow operations.
const (
	AuditActionSlotCreate       AuditAction = "slot.create"
	AuditActionSlotUpdate       AuditAction = "slot.update"
	AuditActionSlotDelete       AuditAction = "slot.delete"
	AuditActionSlotBatch        AuditAction = "slot.batch"
	AuditActionSlotStart        AuditAction = "slot.start"
	AuditActionSlotPause        AuditAction = "slot.pause"
	AuditActionSlotStop         AuditAction = "slot.stop"
	AuditActionSlotQC           AuditAction = "slot.qc"
	AuditActionSlotMissingParts AuditAction = "slot.missing_parts"
	AuditActionSlotOverdue      AuditAction = "slot.overdue"
	AuditActionOrderCreate      AuditAction = "order.create"
	AuditActionOrderSubmit      AuditAction = "order.submit"
	AuditActionOrderWorkflow    AuditAction = "order.workflow"
	AuditActionOrderRelease     AuditAction = "order.release"
	AuditActionOrderDeliver     AuditAction = "order.deliver"
	AuditActionOrderSettle      AuditAction = "order.settle"
	AuditActionWorkCenterCreate AuditAction = "workcenter.create"
	AuditActionWorkCenterUpdate AuditAction = "workcenter.update"
	AuditActionWorkCenterDelete AuditAction = "workcenter.delete"
)

// AuditLog records sensitive operations for traceability.
type AuditLog struct {
	ID           string         `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp    time.Time      `gorm:"index:idx_audit_timestamp;not null" json:"timestamp"`
	UserID       *string        `gorm:"type:varchar(64);index:idx_audit_user" json:"user_id,omitempty"` // NULL for system actions
	Action       AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null" json:"action"`
	ResourceType string         `gorm:"type:varchar(64)" json:"resource_type"` // "time_slot", "order", "work_center"
	ResourceID   string         `gorm:"type:varchar(64);index:idx_audit_resource" json:"resource_id"`
	Details      map[string]any `gorm:"type:jsonb;serializer:json" json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
