package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/surveyforge/codeframe-backend/internal/repos"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

func reviewFixture(t *testing.T) (NodeReviewService, repos.HierarchyNodeRepo, *types.HierarchyNode) {
	t.Helper()
	db := testDB(t)
	log := testLogger(t)
	nodeRepo := repos.NewHierarchyNodeRepo(db, log)
	svc := NewNodeReviewService(db, log, nodeRepo)

	gen := &types.Generation{ID: uuid.New(), CategoryID: uuid.New(), Status: types.GenerationStatusCompleted, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := db.Create(gen).Error; err != nil {
		t.Fatalf("create generation: %v", err)
	}
	node := &types.HierarchyNode{
		ID:              uuid.New(),
		GenerationID:    gen.ID,
		Level:           types.NodeLevelCode,
		NodeType:        types.NodeTypeCode,
		Name:            "Taste",
		DisplayOrder:    2,
		IsAutoGenerated: true,
		ApprovalStatus:  types.ApprovalPending,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := db.Create(node).Error; err != nil {
		t.Fatalf("create node: %v", err)
	}
	return svc, nodeRepo, node
}

func TestSetApprovalApproveAndRevert(t *testing.T) {
	svc, nodeRepo, node := reviewFixture(t)
	reviewer := uuid.New()

	approved, err := svc.SetApproval(context.Background(), node.ID, types.ApprovalApproved, &reviewer)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.ApprovalStatus != types.ApprovalApproved || approved.ApprovedAt == nil || approved.ApprovedBy == nil {
		t.Fatalf("approval fields not set: %+v", approved)
	}

	// Back to pending clears the reviewer stamp.
	pending, err := svc.SetApproval(context.Background(), node.ID, types.ApprovalPending, nil)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if pending.ApprovedAt != nil || pending.ApprovedBy != nil {
		t.Fatalf("reviewer stamp not cleared: %+v", pending)
	}

	reloaded, err := nodeRepo.GetByIDs(context.Background(), nil, []uuid.UUID{node.ID})
	if err != nil || len(reloaded) != 1 {
		t.Fatalf("reload: %v", err)
	}
	if reloaded[0].ApprovalStatus != types.ApprovalPending {
		t.Fatalf("persisted status %q", reloaded[0].ApprovalStatus)
	}
}

func TestSetApprovalRejectsUnknownStatus(t *testing.T) {
	svc, _, node := reviewFixture(t)
	_, err := svc.SetApproval(context.Background(), node.ID, "maybe", nil)
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != ErrKindInput {
		t.Fatalf("expected input error, got %v", err)
	}
}

func TestEditMarksNodeEditedAndKeepsHistory(t *testing.T) {
	svc, nodeRepo, node := reviewFixture(t)
	editor := uuid.New()

	name := "Flavor"
	order := 0
	edited, err := svc.Edit(context.Background(), node.ID, NodeEdit{Name: &name, DisplayOrder: &order}, &editor)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !edited.IsEdited || edited.IsAutoGenerated {
		t.Fatalf("edit flags not set: %+v", edited)
	}
	if edited.Name != "Flavor" || edited.DisplayOrder != 0 {
		t.Fatalf("edit not applied: %+v", edited)
	}

	reloaded, err := nodeRepo.GetByIDs(context.Background(), nil, []uuid.UUID{node.ID})
	if err != nil || len(reloaded) != 1 {
		t.Fatalf("reload: %v", err)
	}
	var history []map[string]any
	if err := json.Unmarshal(reloaded[0].EditHistory, &history); err != nil {
		t.Fatalf("history payload: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries (name, display_order), got %d", len(history))
	}
}

func TestEditRejectsEmptyName(t *testing.T) {
	svc, _, node := reviewFixture(t)
	name := "   "
	_, err := svc.Edit(context.Background(), node.ID, NodeEdit{Name: &name}, nil)
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != ErrKindInput {
		t.Fatalf("expected input error, got %v", err)
	}
}

func TestEditNoopWithoutChanges(t *testing.T) {
	svc, nodeRepo, node := reviewFixture(t)

	same := node.Name
	out, err := svc.Edit(context.Background(), node.ID, NodeEdit{Name: &same}, nil)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if out.IsEdited {
		t.Fatalf("no-op edit must not mark the node edited")
	}
	reloaded, _ := nodeRepo.GetByIDs(context.Background(), nil, []uuid.UUID{node.ID})
	if len(reloaded) == 1 && reloaded[0].IsEdited {
		t.Fatalf("no-op edit persisted is_edited")
	}
}
