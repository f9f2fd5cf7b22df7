/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// WorkflowState is the order's position in its business lifecycle.
type WorkflowState string

const (
	WorkflowEntwurf         WorkflowState = "ENTWURF"
	WorkflowNeu             WorkflowState = "NEU"
	WorkflowPruefung        WorkflowState = "PRUEFUNG"
	WorkflowFuerProd        WorkflowState = "FUER_PROD"
	WorkflowInProd          WorkflowState = "IN_PROD"
	WorkflowWartetFehlteile WorkflowState = "WARTET_FEHLTEILE"
	WorkflowFertig          WorkflowState = "FERTIG"
	WorkflowZurAbrechnung   WorkflowState = "ZUR_ABRECHNUNG"
	WorkflowAbgerechnet     WorkflowState = "ABGERECHNET"
)

// WorkflowStates lists every workflow state in lifecycle order.
var WorkflowStates = []WorkflowState{
	WorkflowEntwurf,
	WorkflowNeu,
	WorkflowPruefung,
	WorkflowFuerProd,
	WorkflowInProd,
	WorkflowWartetFehlteile,
	WorkflowFertig,
	WorkflowZurAbrechnung,
	WorkflowAbgerechnet,
}

// OrderSource identifies where an order came from.
type OrderSource string

const (
	OrderSourceJTL      OrderSource = "JTL"
	OrderSourceInternal OrderSource = "INTERNAL"
)

// Order is a production order as seen by the scheduler.
type Order struct {
	ID            string        `gorm:"type:uuid;primaryKey" json:"id"`
	DisplayNumber *string       `gorm:"type:varchar(32);uniqueIndex" json:"display_number,omitempty"`
	Title         string        `gorm:"type:varchar(255)" json:"title"`
	Department    Department    `gorm:"type:varchar(32);index;not null" json:"department"`
	Source        OrderSource   `gorm:"type:varchar(16);not null;default:'INTERNAL'" json:"source"`
	Workflow      WorkflowState `gorm:"type:varchar(32);index;not null" json:"workflow"`

	// Totals are owned by the billing side and only carried here.
	NetCents   int64 `gorm:"not null;default:0" json:"net_cents"`
	VatCents   int64 `gorm:"not null;default:0" json:"vat_cents"`
	GrossCents int64 `gorm:"not null;default:0" json:"gross_cents"`

	SizeTable map[string]int `gorm:"type:jsonb;serializer:json" json:"size_table,omitempty"`

	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	DeliveredQty *int       `json:"delivered_qty,omitempty"`
	DeliveryNote string     `gorm:"type:text" json:"delivery_note,omitempty"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
	SettledBy    *string    `gorm:"type:varchar(64)" json:"settled_by,omitempty"`

	PrintAssets []PrintAsset `gorm:"foreignKey:OrderID" json:"print_assets,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Order) TableName() string {
	return "orders"
}

// HasSizeTable reports whether at least one size row is present.
func (o *Order) HasSizeTable() bool {
	return len(o.SizeTable) > 0
}

// PrintAsset is a file attached to an order. The file itself lives in object storage.
type PrintAsset struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID   string    `gorm:"type:uuid;index;not null" json:"order_id"`
	Kind      string    `gorm:"type:varchar(32);not null" json:"kind"`
	ObjectKey string    `gorm:"type:varchar(512);not null" json:"object_key"`
	Required  bool      `gorm:"not null;default:false" json:"required"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (PrintAsset) TableName() string {
	return "print_assets"
}

// YearSequence is the per-year display number counter.
type YearSequence struct {
	Year      int `gorm:"primaryKey;autoIncrement:false"`
	LastValue int `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (YearSequence) TableName() string {
	return "year_sequences"
}
