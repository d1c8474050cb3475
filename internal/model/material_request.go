package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestStatus is the lifecycle state of a MaterialRequest
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed
func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected
}

// MaterialRequest is a staff ask to draw stock from a Material.
// ProcessedBy and ProcessedAt are nil exactly while Status is pending.
type MaterialRequest struct {
	ID                uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	RequesterID       uuid.UUID     `gorm:"type:uuid;not null;index" json:"requester_id"`
	Requester         *User         `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	MaterialID        uuid.UUID     `gorm:"type:uuid;not null;index" json:"material_id"`
	Material          *Material     `gorm:"foreignKey:MaterialID" json:"material,omitempty"`
	RequestedQuantity int           `gorm:"type:int;not null" json:"requested_quantity"`
	Status            RequestStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Notes             string        `gorm:"type:text" json:"notes"`
	AdminNotes        string        `gorm:"type:text" json:"admin_notes"`
	ProcessedBy       *uuid.UUID    `gorm:"type:uuid" json:"processed_by"`
	Processor         *User         `gorm:"foreignKey:ProcessedBy" json:"processor,omitempty"`
	CreatedAt         time.Time     `gorm:"index" json:"created_at"`
	ProcessedAt       *time.Time    `json:"processed_at"`
}

func (r *MaterialRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
