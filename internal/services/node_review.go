package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/repos"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

type NodeEdit struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	DisplayOrder *int    `json:"display_order,omitempty"`
}

type editHistoryEntry struct {
	At    time.Time  `json:"at"`
	Field string     `json:"field"`
	From  any        `json:"from"`
	To    any        `json:"to"`
	By    *uuid.UUID `json:"by,omitempty"`
}

type NodeReviewService interface {
	// SetApproval moves a node through the pending -> approved|rejected review
	// flow. Approval is a human act; the pipeline never calls this.
	SetApproval(ctx context.Context, nodeID uuid.UUID, status string, reviewerID *uuid.UUID) (*types.HierarchyNode, error)

	// Edit applies manual changes and marks the node edited so later
	// re-ordering passes leave it where the human put it.
	Edit(ctx context.Context, nodeID uuid.UUID, edit NodeEdit, editorID *uuid.UUID) (*types.HierarchyNode, error)
}

type nodeReviewService struct {
	db       *gorm.DB
	log      *logger.Logger
	nodeRepo repos.HierarchyNodeRepo
}

func NewNodeReviewService(db *gorm.DB, baseLog *logger.Logger, nodeRepo repos.HierarchyNodeRepo) NodeReviewService {
	return &nodeReviewService{
		db:       db,
		log:      baseLog.With("service", "NodeReviewService"),
		nodeRepo: nodeRepo,
	}
}

func (s *nodeReviewService) loadNode(ctx context.Context, tx *gorm.DB, nodeID uuid.UUID) (*types.HierarchyNode, error) {
	nodes, err := s.nodeRepo.GetByIDs(ctx, tx, []uuid.UUID{nodeID})
	if err != nil {
		return nil, fmt.Errorf("load node: %w", err)
	}
	if len(nodes) == 0 || nodes[0] == nil {
		return nil, NewInputError("hierarchy node %s not found", nodeID)
	}
	return nodes[0], nil
}

func (s *nodeReviewService) SetApproval(ctx context.Context, nodeID uuid.UUID, status string, reviewerID *uuid.UUID) (*types.HierarchyNode, error) {
	switch status {
	case types.ApprovalApproved, types.ApprovalRejected, types.ApprovalPending:
	default:
		return nil, NewInputError("approval status %q outside {pending,approved,rejected}", status)
	}

	node, err := s.loadNode(ctx, nil, nodeID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updates := map[string]any{
		"approval_status": status,
		"updated_at":      now,
	}
	if status == types.ApprovalApproved {
		updates["approved_by"] = reviewerID
		updates["approved_at"] = now
		node.ApprovedBy = reviewerID
		node.ApprovedAt = &now
	} else {
		updates["approved_by"] = nil
		updates["approved_at"] = nil
		node.ApprovedBy = nil
		node.ApprovedAt = nil
	}
	if err := s.nodeRepo.UpdateFields(ctx, nil, nodeID, updates); err != nil {
		return nil, fmt.Errorf("update approval: %w", err)
	}
	node.ApprovalStatus = status
	node.UpdatedAt = now
	return node, nil
}

func (s *nodeReviewService) Edit(ctx context.Context, nodeID uuid.UUID, edit NodeEdit, editorID *uuid.UUID) (*types.HierarchyNode, error) {
	node, err := s.loadNode(ctx, nil, nodeID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updates := map[string]any{}
	var history []editHistoryEntry
	if len(node.EditHistory) > 0 {
		_ = json.Unmarshal(node.EditHistory, &history)
	}
	record := func(field string, from, to any) {
		history = append(history, editHistoryEntry{At: now, Field: field, From: from, To: to, By: editorID})
	}

	if edit.Name != nil {
		name := strings.TrimSpace(*edit.Name)
		if name == "" {
			return nil, NewInputError("node name cannot be empty")
		}
		if name != node.Name {
			record("name", node.Name, name)
			updates["name"] = name
			node.Name = name
		}
	}
	if edit.Description != nil && *edit.Description != node.Description {
		record("description", node.Description, *edit.Description)
		updates["description"] = *edit.Description
		node.Description = *edit.Description
	}
	if edit.DisplayOrder != nil && *edit.DisplayOrder != node.DisplayOrder {
		if *edit.DisplayOrder < 0 {
			return nil, NewInputError("display_order cannot be negative")
		}
		record("display_order", node.DisplayOrder, *edit.DisplayOrder)
		updates["display_order"] = *edit.DisplayOrder
		node.DisplayOrder = *edit.DisplayOrder
	}

	if len(updates) == 0 {
		return node, nil
	}

	updates["is_edited"] = true
	updates["is_auto_generated"] = false
	updates["edit_history"] = datatypes.JSON(mustJSON(history))
	updates["updated_at"] = now

	if err := s.nodeRepo.UpdateFields(ctx, nil, nodeID, updates); err != nil {
		return nil, fmt.Errorf("update node: %w", err)
	}
	node.IsEdited = true
	node.IsAutoGenerated = false
	node.EditHistory = datatypes.JSON(mustJSON(history))
	node.UpdatedAt = now
	return node, nil
}
