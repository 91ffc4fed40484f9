package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	CodingTypeOpenEnded = "open-ended"
	CodingTypeBrand     = "brand"
	CodingTypeSentiment = "sentiment"
)

type Category struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string         `gorm:"column:name;not null" json:"name"`
	CodingType string         `gorm:"column:coding_type;not null;default:'open-ended'" json:"coding_type"` // open-ended|brand|sentiment
	Language   string         `gorm:"column:language;not null;default:'en'" json:"language"`
	CreatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Category) TableName() string { return "category" }
