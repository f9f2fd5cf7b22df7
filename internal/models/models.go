/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// RoleName enumerates the RBAC roles carried in JWT claims.
type RoleName string

const (
	RoleAdmin      RoleName = "admin"
	RolePlanner    RoleName = "planner"
	RoleOperator   RoleName = "operator"
	RoleAccounting RoleName = "accounting"
)

// Department is the production department an order or work center belongs to.
type Department string

const (
	DepartmentSiebdruck Department = "SIEBDRUCK"
	DepartmentStickerei Department = "STICKEREI"
	DepartmentTransfer  Department = "TRANSFER"
	DepartmentTextil    Department = "TEXTIL"
)

// Departments lists every known department.
var Departments = []Department{
	DepartmentSiebdruck,
	DepartmentStickerei,
	DepartmentTransfer,
	DepartmentTextil,
}

// Valid reports whether d is a known department.
func (d Department) Valid() bool {
	for _, known := range Departments {
		if d == known {
			return true
		}
	}
	return false
}

// RequiresSizeTable reports whether orders of this department need a size
// table before they can be submitted to production.
func (d Department) RequiresSizeTable() bool {
	return d == DepartmentTextil
}

// WorkCenter is a physical production station with finite concurrent capacity.
type WorkCenter struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string     `gorm:"type:varchar(128);not null" json:"name"`
	Department Department `gorm:"type:varchar(32);index;not null" json:"department"`
	Active     bool       `gorm:"not null" json:"active"`
	Capacity   int        `gorm:"not null;default:1" json:"capacity"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (WorkCenter) TableName() string {
	return "work_centers"
}
