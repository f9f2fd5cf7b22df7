/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// SlotStatus is the execution state of a time slot.
type SlotStatus string

const (
	SlotStatusPlanned SlotStatus = "PLANNED"
	SlotStatusRunning SlotStatus = "RUNNING"
	SlotStatusPaused  SlotStatus = "PAUSED"
	SlotStatusDone    SlotStatus = "DONE"
	SlotStatusBlocked SlotStatus = "BLOCKED"
)

// QCOutcome is the quality control verdict recorded after a slot completes.
type QCOutcome string

const (
	QCOutcomeOK    QCOutcome = "OK"
	QCOutcomeNotOK QCOutcome = "NOK"
)

// Valid reports whether q is a known outcome.
func (q QCOutcome) Valid() bool {
	return q == QCOutcomeOK || q == QCOutcomeNotOK
}

// TimeSlot is a scheduled interval on a work center, bound to an order or a blocker.
type TimeSlot struct {
	ID           string  `gorm:"type:uuid;primaryKey" json:"id"`
	WorkCenterID string  `gorm:"type:uuid;not null;index:idx_time_slots_wc_date,priority:1" json:"work_center_id"`
	Date         string  `gorm:"type:varchar(10);not null;index:idx_time_slots_wc_date,priority:2" json:"date"`
	StartMin     int     `gorm:"not null" json:"start_min"`
	LengthMin    int     `gorm:"not null" json:"length_min"`
	OrderID      *string `gorm:"type:uuid;index" json:"order_id,omitempty"`
	Blocked      bool    `gorm:"not null;default:false" json:"blocked"`
	Note         string  `gorm:"type:text" json:"note,omitempty"`

	Status            SlotStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	StoppedAt         *time.Time `json:"stopped_at,omitempty"`
	AccumulatedSec    int64      `gorm:"not null;default:0" json:"accumulated_sec"`
	ActualDurationMin *int       `json:"actual_duration_min,omitempty"`

	QCOutcome        *QCOutcome `gorm:"type:varchar(8)" json:"qc_outcome,omitempty"`
	QCNote           string     `gorm:"type:text" json:"qc_note,omitempty"`
	MissingPartsNote string     `gorm:"type:text" json:"missing_parts_note,omitempty"`

	Version   int       `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (TimeSlot) TableName() string {
	return "time_slots"
}

// EndMin returns the exclusive end of the slot in minutes since midnight.
func (s *TimeSlot) EndMin() int {
	return s.StartMin + s.LengthMin
}

// IsBlocker reports whether the slot holds capacity without an order.
func (s *TimeSlot) IsBlocker() bool {
	return s.OrderID == nil
}
