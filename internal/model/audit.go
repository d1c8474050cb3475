package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionCreateMaterial  = "CREATE_MATERIAL"
	ActionUpdateMaterial  = "UPDATE_MATERIAL"
	ActionDeleteMaterial  = "DELETE_MATERIAL"
	ActionAdjustMaterial  = "ADJUST_MATERIAL_QUANTITY"
	ActionRenameCategory  = "RENAME_CATEGORY"
	ActionCreateBook      = "CREATE_BOOK"
	ActionUpdateBook      = "UPDATE_BOOK"
	ActionDeleteBook      = "DELETE_BOOK"
	ActionAdjustBook      = "ADJUST_BOOK_QUANTITY"
	ActionRenamePublisher = "RENAME_PUBLISHER"
	ActionCreateUser      = "CREATE_USER"
	ActionUpdateUser      = "UPDATE_USER"
	ActionDeleteUser      = "DELETE_USER"
	ActionLoginSuccess    = "LOGIN_SUCCESS"
	ActionLoginFailed     = "LOGIN_FAILED"

	// Request workflow actions
	ActionCreateRequest  = "CREATE_REQUEST"
	ActionEditRequest    = "EDIT_REQUEST"
	ActionApproveRequest = "APPROVE_REQUEST"
	ActionRejectRequest  = "REJECT_REQUEST"
	ActionDeleteRequest  = "DELETE_REQUEST"
)

// SecurityActions are the entries shown in the security log view
var SecurityActions = []string{ActionLoginSuccess, ActionLoginFailed}

// AuditLog tracks Who, What, and When for stock and security events
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // nil for anonymous login attempts
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string     `gorm:"type:text" json:"details"` // serialized JSON payload
	IPAddress  string     `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
