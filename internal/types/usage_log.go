package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	FeatureEmbedding       = "embedding"
	FeatureLabeling        = "labeling"
	FeatureThemeNaming     = "theme_naming"
	FeatureBrandValidation = "brand_validation"
)

// UsageLogEntry is an append-only cost record written at the point of every
// AI call. Never mutated after insert.
type UsageLogEntry struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	FeatureType  string         `gorm:"column:feature_type;not null;index" json:"feature_type"`
	Model        string         `gorm:"column:model;not null;index" json:"model"`
	InputTokens  int64          `gorm:"column:input_tokens;not null;default:0" json:"input_tokens"`
	OutputTokens int64          `gorm:"column:output_tokens;not null;default:0" json:"output_tokens"`
	CostUSD      float64        `gorm:"column:cost_usd;not null;default:0" json:"cost_usd"`
	GenerationID *uuid.UUID     `gorm:"type:uuid;index" json:"generation_id,omitempty"`
	CategoryID   *uuid.UUID     `gorm:"type:uuid;index" json:"category_id,omitempty"`
	AnswerID     *uuid.UUID     `gorm:"type:uuid;index" json:"answer_id,omitempty"`
	Metadata     datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (UsageLogEntry) TableName() string { return "usage_log_entry" }
