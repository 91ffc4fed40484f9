package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	NodeLevelCategory = 0
	NodeLevelTheme    = 1
	NodeLevelCode     = 2
	NodeLevelSubcode  = 3
)

const (
	NodeTypeCategory = "category"
	NodeTypeTheme    = "theme"
	NodeTypeCode     = "code"
	NodeTypeSubcode  = "subcode"
)

const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// HierarchyNode is one row of the flat taxonomy tree. Every node with
// level > 0 has a parent whose level is exactly level-1.
type HierarchyNode struct {
	ID                      uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID            uuid.UUID      `gorm:"type:uuid;not null;index" json:"generation_id"`
	Generation              *Generation    `gorm:"constraint:OnDelete:CASCADE;foreignKey:GenerationID;references:ID" json:"generation,omitempty"`
	ParentID                *uuid.UUID     `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	Level                   int            `gorm:"column:level;not null" json:"level"` // 0=category 1=theme 2=code 3=subcode
	NodeType                string         `gorm:"column:node_type;not null" json:"node_type"`
	Name                    string         `gorm:"column:name;not null" json:"name"`
	Description             string         `gorm:"column:description" json:"description,omitempty"`
	CodeID                  *uuid.UUID     `gorm:"type:uuid;index" json:"code_id,omitempty"` // set on apply
	ClusterID               *int           `gorm:"column:cluster_id" json:"cluster_id,omitempty"`
	ClusterSize             int            `gorm:"column:cluster_size;not null;default:0" json:"cluster_size"`
	RepresentativeAnswerIDs datatypes.JSON `gorm:"type:jsonb;column:representative_answer_ids" json:"representative_answer_ids,omitempty"`
	MemberAnswerIDs         datatypes.JSON `gorm:"type:jsonb;column:member_answer_ids" json:"member_answer_ids,omitempty"`
	Confidence              string         `gorm:"column:confidence" json:"confidence,omitempty"` // high|medium|low
	FrequencyEstimate       string         `gorm:"column:frequency_estimate" json:"frequency_estimate,omitempty"`
	Embedding               datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding,omitempty"`
	DisplayOrder            int            `gorm:"column:display_order;not null;default:0" json:"display_order"`
	IsAutoGenerated         bool           `gorm:"column:is_auto_generated;not null;default:true" json:"is_auto_generated"`
	IsEdited                bool           `gorm:"column:is_edited;not null;default:false" json:"is_edited"`
	EditHistory             datatypes.JSON `gorm:"type:jsonb;column:edit_history" json:"edit_history,omitempty"`
	ExampleTexts            datatypes.JSON `gorm:"type:jsonb;column:example_texts" json:"example_texts,omitempty"`
	ValidationEvidence      datatypes.JSON `gorm:"type:jsonb;column:validation_evidence" json:"validation_evidence,omitempty"`
	ValidationConfidence    *float64       `gorm:"column:validation_confidence" json:"validation_confidence,omitempty"` // 0..100
	Variants                datatypes.JSON `gorm:"type:jsonb;column:variants" json:"variants,omitempty"`
	ApprovalStatus          string         `gorm:"column:approval_status;index" json:"approval_status,omitempty"` // pending|approved|rejected
	ApprovedBy              *uuid.UUID     `gorm:"type:uuid" json:"approved_by,omitempty"`
	ApprovedAt              *time.Time     `gorm:"column:approved_at" json:"approved_at,omitempty"`
	CreatedAt               time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt               time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt               gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (HierarchyNode) TableName() string { return "hierarchy_node" }
