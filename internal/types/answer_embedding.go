package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AnswerEmbedding caches one vector per (answer, model). Recomputed only when
// the source text hash changes; shared across generations.
type AnswerEmbedding struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AnswerID       uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_answer_embedding_answer_model" json:"answer_id"`
	Answer         *Answer        `gorm:"constraint:OnDelete:CASCADE;foreignKey:AnswerID;references:ID" json:"answer,omitempty"`
	EmbeddingModel string         `gorm:"column:embedding_model;not null;uniqueIndex:idx_answer_embedding_answer_model" json:"embedding_model"`
	Embedding      datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding"`
	TextHash       string         `gorm:"column:text_hash;not null;index" json:"text_hash"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (AnswerEmbedding) TableName() string { return "answer_embedding" }
