package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/repos"
	"github.com/surveyforge/codeframe-backend/internal/sse"
	"github.com/surveyforge/codeframe-backend/internal/taxonomy"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

type StartGenerationRequest struct {
	CategoryID      uuid.UUID       `json:"category_id"`
	CodingType      string          `json:"coding_type,omitempty"`
	AnswerIDs       []uuid.UUID     `json:"answer_ids,omitempty"`
	AlgorithmConfig json.RawMessage `json:"algorithm_config,omitempty"`
	CreatedBy       *uuid.UUID      `json:"-"`
}

type GenerationService interface {
	Start(ctx context.Context, req StartGenerationRequest) (*types.Generation, error)
	Apply(ctx context.Context, generationID uuid.UUID) (*types.Generation, error)
	StartWorker(ctx context.Context)

	// ProcessOnce claims and runs at most one pending generation. The worker
	// loop calls it on every tick; tests call it directly.
	ProcessOnce(ctx context.Context) bool
}

type generationService struct {
	db  *gorm.DB
	log *logger.Logger

	sseHub *sse.SSEHub

	categoryRepo   repos.CategoryRepo
	answerRepo     repos.AnswerRepo
	generationRepo repos.GenerationRepo
	nodeRepo       repos.HierarchyNodeRepo
	codeRepo       repos.CodeRepo

	embedding  EmbeddingService
	clustering ClusteringEngine
	builder    HierarchyBuilder
	mece       MeceValidator
	brand      BrandValidationService
	ledger     UsageLedger

	aiModel  string
	defaults AlgorithmConfig
}

func NewGenerationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sseHub *sse.SSEHub,
	categoryRepo repos.CategoryRepo,
	answerRepo repos.AnswerRepo,
	generationRepo repos.GenerationRepo,
	nodeRepo repos.HierarchyNodeRepo,
	codeRepo repos.CodeRepo,
	embedding EmbeddingService,
	clustering ClusteringEngine,
	builder HierarchyBuilder,
	mece MeceValidator,
	brand BrandValidationService,
	ledger UsageLedger,
	aiModel string,
	defaults AlgorithmConfig,
) GenerationService {
	return &generationService{
		db:             db,
		log:            baseLog.With("service", "GenerationService"),
		sseHub:         sseHub,
		categoryRepo:   categoryRepo,
		answerRepo:     answerRepo,
		generationRepo: generationRepo,
		nodeRepo:       nodeRepo,
		codeRepo:       codeRepo,
		embedding:      embedding,
		clustering:     clustering,
		builder:        builder,
		mece:           mece,
		brand:          brand,
		ledger:         ledger,
		aiModel:        aiModel,
		defaults:       defaults,
	}
}

func (gs *generationService) broadcast(generationID uuid.UUID, event sse.SSEEvent, data map[string]any) {
	if gs.sseHub == nil {
		return
	}
	gs.sseHub.Broadcast(sse.SSEMessage{
		Channel: sse.GenerationChannel(generationID),
		Event:   event,
		Data:    data,
	})
}

func (gs *generationService) Start(ctx context.Context, req StartGenerationRequest) (*types.Generation, error) {
	if req.CategoryID == uuid.Nil {
		return nil, NewInputError("category_id is required")
	}

	switch req.CodingType {
	case "", types.CodingTypeOpenEnded, types.CodingTypeBrand, types.CodingTypeSentiment:
	default:
		return nil, NewInputError("coding_type %q outside {open-ended,brand,sentiment}", req.CodingType)
	}

	cats, err := gs.categoryRepo.GetByIDs(ctx, nil, []uuid.UUID{req.CategoryID})
	if err != nil {
		return nil, fmt.Errorf("load category: %w", err)
	}
	if len(cats) == 0 || cats[0] == nil {
		return nil, NewInputError("category %s not found", req.CategoryID)
	}

	var nAnswers int64
	if len(req.AnswerIDs) > 0 {
		nAnswers = int64(len(req.AnswerIDs))
	} else {
		nAnswers, err = gs.answerRepo.CountByCategoryID(ctx, nil, req.CategoryID)
		if err != nil {
			return nil, fmt.Errorf("count answers: %w", err)
		}
	}
	if nAnswers < int64(gs.defaults.MinClusterSize) {
		return nil, NewInputError("category has %d answers; at least %d required", nAnswers, gs.defaults.MinClusterSize)
	}

	var gen *types.Generation
	err = gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		busy, err := gs.generationRepo.HasProcessingForCategory(ctx, tx, req.CategoryID)
		if err != nil {
			return fmt.Errorf("check active generation: %w", err)
		}
		if busy {
			return NewApplyConflictError("a generation is already processing for category %s", req.CategoryID)
		}

		now := time.Now()
		if req.CodingType != "" && req.CodingType != cats[0].CodingType {
			if err := gs.categoryRepo.UpdateFields(ctx, tx, req.CategoryID, map[string]any{
				"coding_type": req.CodingType,
				"updated_at":  now,
			}); err != nil {
				return fmt.Errorf("update coding type: %w", err)
			}
		}
		gen = &types.Generation{
			ID:         uuid.New(),
			CategoryID: req.CategoryID,
			Status:     types.GenerationStatusProcessing,
			AIModel:    gs.aiModel,
			CreatedBy:  req.CreatedBy,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if len(req.AnswerIDs) > 0 {
			gen.AnswerIDs = datatypes.JSON(mustJSON(req.AnswerIDs))
		}
		if len(req.AlgorithmConfig) > 0 {
			gen.AlgorithmConfig = datatypes.JSON(req.AlgorithmConfig)
		}
		if _, err := gs.generationRepo.Create(ctx, tx, []*types.Generation{gen}); err != nil {
			// The partial unique index on (category_id) WHERE processing is
			// the real guard; the pre-check above only gives a nicer message.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return NewApplyConflictError("a generation is already processing for category %s", req.CategoryID)
			}
			return fmt.Errorf("create generation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}

func (gs *generationService) StartWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gs.ProcessOnce(ctx)
			}
		}
	}()
}

func (gs *generationService) ProcessOnce(ctx context.Context) bool {
	staleRunning := 2 * time.Minute

	gen, err := gs.generationRepo.ClaimNextRunnable(ctx, nil, staleRunning)
	if err != nil {
		gs.log.Warn("ClaimNextRunnable failed", "error", err)
		return false
	}
	if gen == nil {
		return false
	}
	gs.processRun(ctx, gen)
	return true
}

func (gs *generationService) processRun(ctx context.Context, gen *types.Generation) {
	genID := gen.ID

	hbDone := make(chan struct{})
	defer close(hbDone)
	go func() {
		hb := time.NewTicker(30 * time.Second)
		defer hb.Stop()
		for {
			select {
			case <-hbDone:
				return
			case <-hb.C:
				_ = gs.generationRepo.Heartbeat(ctx, nil, genID)
			}
		}
	}()

	fail := func(step string, err error) {
		var perr *PipelineError
		if !errors.As(err, &perr) {
			perr = &PipelineError{Kind: ErrKindInternal, Message: err.Error(), Err: err}
		}
		gs.log.Error("Generation failed", "generationID", genID, "step", step, "kind", perr.Kind, "error", err)
		now := time.Now()
		_ = gs.generationRepo.UpdateFields(ctx, nil, genID, map[string]any{
			"status":       types.GenerationStatusFailed,
			"current_step": step,
			"error":        datatypes.JSON(mustJSON(map[string]string{"kind": perr.Kind, "message": perr.Message})),
			"locked_at":    nil,
			"updated_at":   now,
		})
		gs.broadcast(genID, sse.SSEEventGenerationFailed, map[string]any{
			"generation_id": genID,
			"step":          step,
			"kind":          perr.Kind,
			"message":       perr.Message,
		})
	}

	progress := func(step string, pct int, extra map[string]any) {
		now := time.Now()
		updates := map[string]any{
			"current_step":     step,
			"progress_percent": pct,
			"heartbeat_at":     now,
			"updated_at":       now,
		}
		for k, v := range extra {
			updates[k] = v
		}
		_ = gs.generationRepo.UpdateFields(ctx, nil, genID, updates)
		gs.broadcast(genID, sse.SSEEventGenerationProgress, map[string]any{
			"generation_id": genID,
			"step":          step,
			"progress":      pct,
		})
	}

	cats, err := gs.categoryRepo.GetByIDs(ctx, nil, []uuid.UUID{gen.CategoryID})
	if err != nil || len(cats) == 0 || cats[0] == nil {
		fail("embed", fmt.Errorf("load category %s: %w", gen.CategoryID, err))
		return
	}
	category := cats[0]

	var answers []*types.Answer
	if len(gen.AnswerIDs) > 0 {
		var ids []uuid.UUID
		if err := json.Unmarshal(gen.AnswerIDs, &ids); err != nil {
			fail("embed", NewInputError("malformed answer_ids: %v", err))
			return
		}
		answers, err = gs.answerRepo.GetByIDs(ctx, nil, ids)
	} else {
		answers, err = gs.answerRepo.GetByCategoryID(ctx, nil, gen.CategoryID)
	}
	if err != nil {
		fail("embed", fmt.Errorf("load answers: %w", err))
		return
	}

	cfg := MergeAlgorithmConfig(gs.defaults, gen.AlgorithmConfig)
	if len(answers) < cfg.MinClusterSize {
		fail("embed", NewInputError("%d answers loaded; at least %d required", len(answers), cfg.MinClusterSize))
		return
	}

	answerTexts := make(map[uuid.UUID]string, len(answers))
	for _, a := range answers {
		if a != nil {
			answerTexts[a.ID] = a.Text
		}
	}

	// 1) EMBED. Unchanged texts are served from cache and never re-billed.
	embedStart, embedDone := stagePcts(gs.log, "embed")
	progress("embed", embedStart, nil)
	vectors, err := gs.embedding.GetOrCompute(ctx, genID, gen.CategoryID, answers)
	if err != nil {
		fail("embed", err)
		return
	}
	progress("embed", embedDone, nil)

	// 2) CLUSTER.
	clusterStart, clusterDone := stagePcts(gs.log, "cluster")
	progress("cluster", clusterStart, nil)
	clusters, err := gs.clustering.Cluster(vectors, cfg)
	if err != nil {
		fail("cluster", err)
		return
	}
	progress("cluster", clusterDone, map[string]any{"n_clusters": len(clusters.Clusters)})

	// 3) LABEL + 4) THEMES.
	labelStart, _ := stagePcts(gs.log, "label")
	progress("label", labelStart, nil)
	built, err := gs.builder.Build(ctx, gen, category, answerTexts, clusters, cfg)
	if err != nil {
		fail("label", err)
		return
	}
	_, themesDone := stagePcts(gs.log, "themes")
	progress("themes", themesDone, map[string]any{"n_themes": built.NThemes, "n_codes": built.NCodes})

	// 5) MECE.
	meceStart, _ := stagePcts(gs.log, "mece")
	progress("mece", meceStart, nil)
	report := gs.mece.Validate(vectors, built.CodeVectors, cfg)

	// 6) BRAND VALIDATION, brand categories only.
	if category.CodingType == types.CodingTypeBrand && gs.brand != nil {
		brandStart, brandDone := stagePcts(gs.log, "brand_validation")
		progress("brand_validation", brandStart, nil)
		codeNodes := make([]*types.HierarchyNode, 0, built.NCodes)
		for _, n := range built.Nodes {
			if n.Level == types.NodeLevelCode {
				codeNodes = append(codeNodes, n)
			}
		}
		if err := gs.brand.ValidateCodes(ctx, gen, category, codeNodes); err != nil {
			fail("brand_validation", err)
			return
		}
		progress("brand_validation", brandDone, nil)
	}

	// 7) PUBLISH. The staged nodes must form a valid tree before anything is
	// written; nodes and the completed status land in one transaction so
	// readers never observe a partial hierarchy.
	tree := taxonomy.NewTree()
	for _, n := range built.Nodes {
		if err := tree.Insert(&taxonomy.Node{ID: n.ID, ParentID: n.ParentID, Level: n.Level, Name: n.Name}); err != nil {
			fail("publish", fmt.Errorf("staged hierarchy invalid: %w", err))
			return
		}
	}
	if err := tree.Validate(); err != nil {
		fail("publish", fmt.Errorf("staged hierarchy invalid: %w", err))
		return
	}

	var inputTokens, outputTokens int64
	var costUSD float64
	if sum, err := gs.ledger.SumForGeneration(ctx, genID); err == nil && sum != nil {
		inputTokens = sum.InputTokens
		outputTokens = sum.OutputTokens
		costUSD = sum.CostUSD
	}

	_, publishDone := stagePcts(gs.log, "publish")
	err = gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := gs.nodeRepo.Create(ctx, tx, built.Nodes); err != nil {
			return fmt.Errorf("persist hierarchy: %w", err)
		}
		return gs.generationRepo.UpdateFields(ctx, tx, genID, map[string]any{
			"status":           types.GenerationStatusCompleted,
			"current_step":     "publish",
			"progress_percent": publishDone,
			"n_clusters":       len(clusters.Clusters),
			"n_themes":         built.NThemes,
			"n_codes":          built.NCodes,
			"mece_score":       report.Score,
			"mece_warnings":    datatypes.JSON(mustJSON(report.Warnings)),
			"input_tokens":     inputTokens,
			"output_tokens":    outputTokens,
			"cost_usd":         costUSD,
			"locked_at":        nil,
		})
	})
	if err != nil {
		fail("publish", err)
		return
	}

	gs.log.Info("Generation completed",
		"generationID", genID,
		"clusters", len(clusters.Clusters),
		"themes", built.NThemes,
		"codes", built.NCodes,
		"meceScore", report.Score,
	)
	gs.broadcast(genID, sse.SSEEventGenerationCompleted, map[string]any{
		"generation_id": genID,
		"n_themes":      built.NThemes,
		"n_codes":       built.NCodes,
		"mece_score":    report.Score,
	})
}

// Apply promotes a completed generation into the live codebook: every code
// node gets (or reuses) a Code row and its cluster members get answer_codes
// links. Idempotent at the row level, one-way at the status level.
func (gs *generationService) Apply(ctx context.Context, generationID uuid.UUID) (*types.Generation, error) {
	var gen *types.Generation

	err := gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		gens, err := gs.generationRepo.GetByIDs(ctx, tx, []uuid.UUID{generationID})
		if err != nil {
			return fmt.Errorf("load generation: %w", err)
		}
		if len(gens) == 0 || gens[0] == nil {
			return NewInputError("generation %s not found", generationID)
		}
		gen = gens[0]

		switch gen.Status {
		case types.GenerationStatusCompleted:
		case types.GenerationStatusApplied:
			return NewApplyConflictError("generation %s already applied", generationID)
		default:
			return NewApplyConflictError("generation %s has status %s; only completed generations can be applied", generationID, gen.Status)
		}

		codeNodes, err := gs.nodeRepo.GetByGenerationIDAndLevel(ctx, tx, generationID, types.NodeLevelCode)
		if err != nil {
			return fmt.Errorf("load code nodes: %w", err)
		}

		for _, node := range codeNodes {
			code, err := gs.codeRepo.GetByCategoryAndName(ctx, tx, gen.CategoryID, node.Name)
			if err != nil {
				return fmt.Errorf("lookup code %q: %w", node.Name, err)
			}
			if code == nil {
				code = &types.Code{
					ID:          uuid.New(),
					CategoryID:  gen.CategoryID,
					Name:        node.Name,
					Description: node.Description,
					CreatedAt:   time.Now(),
					UpdatedAt:   time.Now(),
				}
				if _, err := gs.codeRepo.Create(ctx, tx, []*types.Code{code}); err != nil {
					return fmt.Errorf("create code %q: %w", node.Name, err)
				}
			}
			if err := gs.nodeRepo.UpdateFields(ctx, tx, node.ID, map[string]any{"code_id": code.ID}); err != nil {
				return fmt.Errorf("link node %s: %w", node.ID, err)
			}

			var memberIDs []uuid.UUID
			if len(node.MemberAnswerIDs) > 0 {
				if err := json.Unmarshal(node.MemberAnswerIDs, &memberIDs); err != nil {
					return fmt.Errorf("node %s member ids: %w", node.ID, err)
				}
			}
			links := make([]*types.AnswerCode, 0, len(memberIDs))
			now := time.Now()
			for _, answerID := range memberIDs {
				links = append(links, &types.AnswerCode{
					ID:           uuid.New(),
					AnswerID:     answerID,
					CodeID:       code.ID,
					GenerationID: &generationID,
					CreatedAt:    now,
				})
			}
			if err := gs.codeRepo.CreateAnswerCodes(ctx, tx, links); err != nil {
				return fmt.Errorf("link answers for code %q: %w", node.Name, err)
			}
		}

		now := time.Now()
		if err := gs.generationRepo.UpdateFields(ctx, tx, generationID, map[string]any{
			"status":     types.GenerationStatusApplied,
			"applied_at": now,
		}); err != nil {
			return fmt.Errorf("mark applied: %w", err)
		}
		gen.Status = types.GenerationStatusApplied
		gen.AppliedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	gs.broadcast(generationID, sse.SSEEventGenerationApplied, map[string]any{
		"generation_id": generationID,
		"applied_at":    gen.AppliedAt,
	})
	return gen, nil
}
