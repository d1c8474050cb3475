package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a stockroom account. Admins resolve requests, users file them.
type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"type:varchar(255);not null" json:"-"` // Omit hash from JSON
	FullName     string     `gorm:"type:varchar(255);not null" json:"full_name"`
	Role         Role       `gorm:"type:varchar(20);not null;default:'user'" json:"role"`
	Company      string     `gorm:"type:varchar(255)" json:"company"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
