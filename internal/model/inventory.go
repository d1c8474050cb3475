package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Default thresholds applied when a create payload omits them
const (
	DefaultMinThreshold = 5
	DefaultMaxThreshold = 50
)

// StockLevel classifies a quantity against its minimum threshold. Display only.
type StockLevel string

const (
	StockOut      StockLevel = "out_of_stock"
	StockLow      StockLevel = "low"
	StockAdequate StockLevel = "adequate"
)

// ClassifyStock returns the stock level for quantity against minThreshold
func ClassifyStock(quantity, minThreshold int) StockLevel {
	switch {
	case quantity <= 0:
		return StockOut
	case quantity <= minThreshold:
		return StockLow
	default:
		return StockAdequate
	}
}

// Material is a consumable supply item (markers, paper, glue...)
type Material struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string         `gorm:"type:varchar(255);not null" json:"name"`
	Category     string         `gorm:"type:varchar(255);not null;index" json:"category"`
	Quantity     int            `gorm:"type:int;default:0;not null" json:"quantity"`
	MinThreshold int            `gorm:"type:int;not null" json:"min_threshold"`
	MaxThreshold int            `gorm:"type:int" json:"max_threshold"` // shown, never enforced
	Notes        string         `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (m *Material) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (m Material) StockLevel() StockLevel {
	return ClassifyStock(m.Quantity, m.MinThreshold)
}

// Book types as labelled by the stockroom
const (
	BookTypeTextbook = "textbook"
	BookTypeWorkbook = "workbook"
)

// Book is a textbook or workbook tracked per subject and grade
type Book struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Subject      string         `gorm:"type:varchar(255);not null" json:"subject"`
	Grade        int            `gorm:"type:int;not null;index" json:"grade"`
	Publisher    string         `gorm:"type:varchar(255);index" json:"publisher"`
	Author       string         `gorm:"type:varchar(255)" json:"author"`
	Quantity     int            `gorm:"type:int;default:0;not null" json:"quantity"`
	MinThreshold int            `gorm:"type:int;not null" json:"min_threshold"`
	Notes        string         `gorm:"type:text" json:"notes"`
	Type         string         `gorm:"type:varchar(50);not null;index" json:"type"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (b Book) StockLevel() StockLevel {
	return ClassifyStock(b.Quantity, b.MinThreshold)
}
