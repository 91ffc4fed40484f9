package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/repos"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

// GenerationStatus is the poll-endpoint payload. Result is only populated
// once the generation reached completed or applied.
type GenerationStatus struct {
	ID              uuid.UUID          `json:"id"`
	CategoryID      uuid.UUID          `json:"category_id"`
	Status          string             `json:"status"`
	ProgressPercent int                `json:"progress_percent"`
	CurrentStep     string             `json:"current_step"`
	NClusters       int                `json:"n_clusters"`
	NThemes         int                `json:"n_themes"`
	NCodes          int                `json:"n_codes"`
	MeceScore       *float64           `json:"mece_score,omitempty"`
	MeceWarnings    json.RawMessage    `json:"mece_warnings,omitempty"`
	InputTokens     int64              `json:"input_tokens"`
	OutputTokens    int64              `json:"output_tokens"`
	CostUSD         float64            `json:"cost_usd"`
	Error           json.RawMessage    `json:"error,omitempty"`
	Result          []*HierarchyResult `json:"result,omitempty"`
}

// HierarchyResult is one node with its children nested, ordered by
// display_order then name.
type HierarchyResult struct {
	Node     *types.HierarchyNode `json:"node"`
	Children []*HierarchyResult   `json:"children,omitempty"`
}

type GenerationStatusService interface {
	GetStatus(ctx context.Context, generationID uuid.UUID) (*GenerationStatus, error)
	GetLatestForCategory(ctx context.Context, categoryID uuid.UUID) (*GenerationStatus, error)
}

type generationStatusService struct {
	db             *gorm.DB
	log            *logger.Logger
	generationRepo repos.GenerationRepo
	nodeRepo       repos.HierarchyNodeRepo
}

func NewGenerationStatusService(db *gorm.DB, baseLog *logger.Logger, generationRepo repos.GenerationRepo, nodeRepo repos.HierarchyNodeRepo) GenerationStatusService {
	return &generationStatusService{
		db:             db,
		log:            baseLog.With("service", "GenerationStatusService"),
		generationRepo: generationRepo,
		nodeRepo:       nodeRepo,
	}
}

func (s *generationStatusService) GetStatus(ctx context.Context, generationID uuid.UUID) (*GenerationStatus, error) {
	gens, err := s.generationRepo.GetByIDs(ctx, nil, []uuid.UUID{generationID})
	if err != nil {
		return nil, fmt.Errorf("load generation: %w", err)
	}
	if len(gens) == 0 || gens[0] == nil {
		return nil, NewInputError("generation %s not found", generationID)
	}
	return s.buildStatus(ctx, gens[0])
}

func (s *generationStatusService) GetLatestForCategory(ctx context.Context, categoryID uuid.UUID) (*GenerationStatus, error) {
	gen, err := s.generationRepo.GetLatestByCategoryID(ctx, nil, categoryID)
	if err != nil {
		return nil, fmt.Errorf("load latest generation: %w", err)
	}
	if gen == nil {
		return nil, NewInputError("no generations for category %s", categoryID)
	}
	return s.buildStatus(ctx, gen)
}

func (s *generationStatusService) buildStatus(ctx context.Context, gen *types.Generation) (*GenerationStatus, error) {
	status := &GenerationStatus{
		ID:              gen.ID,
		CategoryID:      gen.CategoryID,
		Status:          gen.Status,
		ProgressPercent: gen.ProgressPercent,
		CurrentStep:     gen.CurrentStep,
		NClusters:       gen.NClusters,
		NThemes:         gen.NThemes,
		NCodes:          gen.NCodes,
		MeceScore:       gen.MeceScore,
		MeceWarnings:    json.RawMessage(gen.MeceWarnings),
		InputTokens:     gen.InputTokens,
		OutputTokens:    gen.OutputTokens,
		CostUSD:         gen.CostUSD,
		Error:           json.RawMessage(gen.Error),
	}

	if gen.Status != types.GenerationStatusCompleted && gen.Status != types.GenerationStatusApplied {
		return status, nil
	}

	nodes, err := s.nodeRepo.GetByGenerationID(ctx, nil, gen.ID)
	if err != nil {
		return nil, fmt.Errorf("load hierarchy: %w", err)
	}
	status.Result = nestNodes(nodes)
	return status, nil
}

func nestNodes(nodes []*types.HierarchyNode) []*HierarchyResult {
	byID := make(map[uuid.UUID]*HierarchyResult, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = &HierarchyResult{Node: n}
	}

	var roots []*HierarchyResult
	for _, n := range nodes {
		entry := byID[n.ID]
		if n.ParentID == nil {
			roots = append(roots, entry)
			continue
		}
		parent, ok := byID[*n.ParentID]
		if !ok {
			roots = append(roots, entry)
			continue
		}
		parent.Children = append(parent.Children, entry)
	}

	var sortLevel func(entries []*HierarchyResult)
	sortLevel = func(entries []*HierarchyResult) {
		sort.Slice(entries, func(i, j int) bool {
			a, b := entries[i].Node, entries[j].Node
			if a.DisplayOrder != b.DisplayOrder {
				return a.DisplayOrder < b.DisplayOrder
			}
			return a.Name < b.Name
		})
		for _, e := range entries {
			sortLevel(e.Children)
		}
	}
	sortLevel(roots)
	return roots
}
