package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Code is a production codeframe entry. Created or linked when a completed
// generation is applied.
type Code struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CategoryID   uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_code_category_name" json:"category_id"`
	Name         string         `gorm:"column:name;not null;uniqueIndex:idx_code_category_name" json:"name"`
	Description  string         `gorm:"column:description" json:"description,omitempty"`
	ParentCodeID *uuid.UUID     `gorm:"type:uuid;index" json:"parent_code_id,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Code) TableName() string { return "code" }

// AnswerCode links an answer to a production code. GenerationID records which
// generation's apply produced the link, keeping apply idempotent per generation.
type AnswerCode struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AnswerID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_answer_code_answer_code" json:"answer_id"`
	CodeID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_answer_code_answer_code" json:"code_id"`
	GenerationID *uuid.UUID `gorm:"type:uuid;index" json:"generation_id,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (AnswerCode) TableName() string { return "answer_code" }
