package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/surveyforge/codeframe-backend/internal/repos"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

func TestNestNodesOrdersAndNests(t *testing.T) {
	root := &types.HierarchyNode{ID: uuid.New(), Name: "Category", Level: types.NodeLevelCategory}
	themeB := &types.HierarchyNode{ID: uuid.New(), ParentID: &root.ID, Name: "Price", Level: types.NodeLevelTheme, DisplayOrder: 1}
	themeA := &types.HierarchyNode{ID: uuid.New(), ParentID: &root.ID, Name: "Taste", Level: types.NodeLevelTheme, DisplayOrder: 0}
	code2 := &types.HierarchyNode{ID: uuid.New(), ParentID: &themeA.ID, Name: "Bitter", Level: types.NodeLevelCode, DisplayOrder: 1}
	code1 := &types.HierarchyNode{ID: uuid.New(), ParentID: &themeA.ID, Name: "Sweet", Level: types.NodeLevelCode, DisplayOrder: 0}

	// Deliberately shuffled input; nesting must not depend on row order.
	result := nestNodes([]*types.HierarchyNode{code2, themeB, root, code1, themeA})

	if len(result) != 1 || result[0].Node.ID != root.ID {
		t.Fatalf("expected single root, got %d", len(result))
	}
	themes := result[0].Children
	if len(themes) != 2 || themes[0].Node.Name != "Taste" || themes[1].Node.Name != "Price" {
		t.Fatalf("themes out of order: %+v", themes)
	}
	codes := themes[0].Children
	if len(codes) != 2 || codes[0].Node.Name != "Sweet" || codes[1].Node.Name != "Bitter" {
		t.Fatalf("codes out of order: %+v", codes)
	}
}

func TestNestNodesOrphanFallsBackToRoot(t *testing.T) {
	missing := uuid.New()
	orphan := &types.HierarchyNode{ID: uuid.New(), ParentID: &missing, Name: "Stray"}
	result := nestNodes([]*types.HierarchyNode{orphan})
	if len(result) != 1 || result[0].Node.ID != orphan.ID {
		t.Fatalf("orphan should surface as root, got %+v", result)
	}
}

func TestGetStatusOmitsResultWhileProcessing(t *testing.T) {
	db := testDB(t)
	log := testLogger(t)
	genRepo := repos.NewGenerationRepo(db, log)
	nodeRepo := repos.NewHierarchyNodeRepo(db, log)
	svc := NewGenerationStatusService(db, log, genRepo, nodeRepo)

	gen := &types.Generation{
		ID:              uuid.New(),
		CategoryID:      uuid.New(),
		Status:          types.GenerationStatusProcessing,
		CurrentStep:     "cluster",
		ProgressPercent: 40,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := db.Create(gen).Error; err != nil {
		t.Fatalf("create generation: %v", err)
	}

	status, err := svc.GetStatus(context.Background(), gen.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != types.GenerationStatusProcessing || status.CurrentStep != "cluster" || status.ProgressPercent != 40 {
		t.Fatalf("status payload mismatch: %+v", status)
	}
	if status.Result != nil {
		t.Fatalf("result must stay empty until the run completes")
	}

	latest, err := svc.GetLatestForCategory(context.Background(), gen.CategoryID)
	if err != nil {
		t.Fatalf("GetLatestForCategory: %v", err)
	}
	if latest.ID != gen.ID {
		t.Fatalf("latest returned %s, want %s", latest.ID, gen.ID)
	}
}
