package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	GenerationStatusProcessing = "processing"
	GenerationStatusCompleted  = "completed"
	GenerationStatusFailed     = "failed"
	GenerationStatusApplied    = "applied"
)

// Generation is one taxonomy-building job. Mutated only by the orchestrator
// while status=processing; completed/failed are terminal except for the
// one-way completed -> applied transition.
type Generation struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CategoryID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"category_id"`
	Category        *Category      `gorm:"constraint:OnDelete:CASCADE;foreignKey:CategoryID;references:ID" json:"category,omitempty"`
	AnswerIDs       datatypes.JSON `gorm:"type:jsonb;column:answer_ids" json:"answer_ids"`
	Status          string         `gorm:"column:status;not null;index" json:"status"` // processing|completed|failed|applied
	ProgressPercent int            `gorm:"column:progress_percent;not null;default:0" json:"progress_percent"`
	CurrentStep     string         `gorm:"column:current_step;not null;default:''" json:"current_step"` // embed|cluster|label|themes|mece|brand_validation|publish
	NClusters       int            `gorm:"column:n_clusters;not null;default:0" json:"n_clusters"`
	NThemes         int            `gorm:"column:n_themes;not null;default:0" json:"n_themes"`
	NCodes          int            `gorm:"column:n_codes;not null;default:0" json:"n_codes"`
	MeceScore       *float64       `gorm:"column:mece_score" json:"mece_score,omitempty"`
	MeceWarnings    datatypes.JSON `gorm:"type:jsonb;column:mece_warnings" json:"mece_warnings,omitempty"`
	AlgorithmConfig datatypes.JSON `gorm:"type:jsonb;column:algorithm_config" json:"algorithm_config,omitempty"`
	AIModel         string         `gorm:"column:ai_model" json:"ai_model,omitempty"`
	InputTokens     int64          `gorm:"column:input_tokens;not null;default:0" json:"input_tokens"`
	OutputTokens    int64          `gorm:"column:output_tokens;not null;default:0" json:"output_tokens"`
	CostUSD         float64        `gorm:"column:cost_usd;not null;default:0" json:"cost_usd"`
	Error           datatypes.JSON `gorm:"type:jsonb;column:error" json:"error,omitempty"` // {kind, message}
	CreatedBy       *uuid.UUID     `gorm:"type:uuid;index" json:"created_by,omitempty"`
	LockedAt        *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt     *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	AppliedAt       *time.Time     `gorm:"column:applied_at" json:"applied_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Generation) TableName() string { return "generation" }
