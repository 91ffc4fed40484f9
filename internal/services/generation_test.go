package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	dbpkg "github.com/surveyforge/codeframe-backend/internal/db"
	"github.com/surveyforge/codeframe-backend/internal/repos"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&types.Category{},
		&types.Answer{},
		&types.Generation{},
		&types.HierarchyNode{},
		&types.AnswerEmbedding{},
		&types.UsageLogEntry{},
		&types.Code{},
		&types.AnswerCode{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if err := dbpkg.EnsureGenerationIndexes(db); err != nil {
		t.Fatalf("generation indexes: %v", err)
	}
	return db
}

// groupedEmbedFn maps answers to one of three directions by their text prefix
// so the real clustering engine produces three clusters.
func groupedEmbedFn(inputs []string) [][]float32 {
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		switch {
		case strings.HasPrefix(text, "taste"):
			out[i] = unitVec(0.0 + float64(i%5)*0.01)
		case strings.HasPrefix(text, "price"):
			out[i] = unitVec(2.0 + float64(i%5)*0.01)
		default:
			out[i] = unitVec(4.0 + float64(i%5)*0.01)
		}
	}
	return out
}

type generationFixture struct {
	db       *gorm.DB
	ai       *fakeAI
	svc      *generationService
	genRepo  repos.GenerationRepo
	nodeRepo repos.HierarchyNodeRepo
	codeRepo repos.CodeRepo
	category *types.Category
}

func newGenerationFixture(t *testing.T) *generationFixture {
	t.Helper()
	db := testDB(t)
	log := testLogger(t)

	labelCount := 0
	ai := &fakeAI{
		embedFn: groupedEmbedFn,
		labelFn: func(user string) map[string]any {
			labelCount++
			return map[string]any{
				"name":               fmt.Sprintf("Code %d", labelCount),
				"description":        "generated label",
				"confidence":         "high",
				"frequency_estimate": "medium",
			}
		},
		themeResp: map[string]any{"name": "Grouped theme", "description": "related codes"},
	}

	categoryRepo := repos.NewCategoryRepo(db, log)
	answerRepo := repos.NewAnswerRepo(db, log)
	genRepo := repos.NewGenerationRepo(db, log)
	nodeRepo := repos.NewHierarchyNodeRepo(db, log)
	embeddingRepo := repos.NewAnswerEmbeddingRepo(db, log)
	usageRepo := repos.NewUsageLogRepo(db, log)
	codeRepo := repos.NewCodeRepo(db, log)

	pricing := map[string]ModelPricing{
		"default":   {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"embedding": {InputPer1K: 0.00002},
	}
	ledger := NewUsageLedger(db, log, usageRepo, pricing)
	embedding := NewEmbeddingService(db, log, embeddingRepo, ai, ledger, nil)
	clustering := NewClusteringEngine(log)
	builder := NewHierarchyBuilder(log, ai, ledger)
	mece := NewMeceValidator(log)

	defaults := AlgorithmConfig{
		MinClusterSize:      5,
		MinSamples:          3,
		Epsilon:             0.2,
		ThemeEpsilon:        0.5,
		ThemeMinClusterSize: 2,
		RepresentativeCount: 3,
		CoverageThreshold:   0.3,
		OverlapThreshold:    0.85,
	}

	svc := NewGenerationService(
		db, log, nil,
		categoryRepo, answerRepo, genRepo, nodeRepo, codeRepo,
		embedding, clustering, builder, mece, nil, ledger,
		ai.Model(), defaults,
	).(*generationService)

	category := &types.Category{ID: uuid.New(), Name: "Why this brand?", CodingType: types.CodingTypeOpenEnded, Language: "en"}
	if err := db.Create(category).Error; err != nil {
		t.Fatalf("create category: %v", err)
	}

	return &generationFixture{
		db:       db,
		ai:       ai,
		svc:      svc,
		genRepo:  genRepo,
		nodeRepo: nodeRepo,
		codeRepo: codeRepo,
		category: category,
	}
}

func (f *generationFixture) seedAnswers(t *testing.T, prefix string, n int) {
	t.Helper()
	now := time.Now()
	for i := 0; i < n; i++ {
		a := &types.Answer{
			ID:         uuid.New(),
			CategoryID: f.category.ID,
			Text:       fmt.Sprintf("%s mention %d", prefix, i),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := f.db.Create(a).Error; err != nil {
			t.Fatalf("create answer: %v", err)
		}
	}
}

func (f *generationFixture) runToCompletion(t *testing.T) *types.Generation {
	t.Helper()
	gen, err := f.svc.Start(context.Background(), StartGenerationRequest{CategoryID: f.category.ID})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.svc.processRun(context.Background(), gen)

	gens, err := f.genRepo.GetByIDs(context.Background(), nil, []uuid.UUID{gen.ID})
	if err != nil || len(gens) != 1 {
		t.Fatalf("reload generation: %v", err)
	}
	return gens[0]
}

func TestStartRejectsTooFewAnswers(t *testing.T) {
	f := newGenerationFixture(t)
	f.seedAnswers(t, "taste", 3)

	_, err := f.svc.Start(context.Background(), StartGenerationRequest{CategoryID: f.category.ID})
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != ErrKindInput {
		t.Fatalf("expected %s, got %v", ErrKindInput, err)
	}
}

func TestStartCodingTypeOverridePersistsOnCategory(t *testing.T) {
	f := newGenerationFixture(t)
	f.seedAnswers(t, "taste", 10)

	if _, err := f.svc.Start(context.Background(), StartGenerationRequest{CategoryID: f.category.ID, CodingType: types.CodingTypeBrand}); err != nil {
		t.Fatalf("Start with override: %v", err)
	}
	var cat types.Category
	if err := f.db.First(&cat, "id = ?", f.category.ID).Error; err != nil {
		t.Fatalf("reload category: %v", err)
	}
	if cat.CodingType != types.CodingTypeBrand {
		t.Fatalf("coding_type = %q, want %q", cat.CodingType, types.CodingTypeBrand)
	}
}

func TestStartRejectsUnknownCodingType(t *testing.T) {
	f := newGenerationFixture(t)
	f.seedAnswers(t, "taste", 10)

	_, err := f.svc.Start(context.Background(), StartGenerationRequest{CategoryID: f.category.ID, CodingType: "verbatim"})
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != ErrKindInput {
		t.Fatalf("expected %s, got %v", ErrKindInput, err)
	}
}

func TestStartRefusesSecondConcurrentGeneration(t *testing.T) {
	f := newGenerationFixture(t)
	f.seedAnswers(t, "taste", 10)

	if _, err := f.svc.Start(context.Background(), StartGenerationRequest{CategoryID: f.category.ID}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := f.svc.Start(context.Background(), StartGenerationRequest{CategoryID: f.category.ID})
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != ErrKindApplyConflict {
		t.Fatalf("expected conflict for concurrent start, got %v", err)
	}
}

func TestProcessingUniquePerCategoryIsDatabaseEnforced(t *testing.T) {
	f := newGenerationFixture(t)

	now := time.Now()
	first := &types.Generation{ID: uuid.New(), CategoryID: f.category.ID, Status: types.GenerationStatusProcessing, CreatedAt: now, UpdatedAt: now}
	if err := f.db.Create(first).Error; err != nil {
		t.Fatalf("first processing row: %v", err)
	}

	// Two racing Start calls can both pass the count pre-check; the partial
	// unique index must refuse the second insert itself.
	second := &types.Generation{ID: uuid.New(), CategoryID: f.category.ID, Status: types.GenerationStatusProcessing, CreatedAt: now, UpdatedAt: now}
	if err := f.db.Create(second).Error; !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected duplicate-key error for second processing row, got %v", err)
	}

	// Terminal rows never block a new run.
	done := &types.Generation{ID: uuid.New(), CategoryID: f.category.ID, Status: types.GenerationStatusCompleted, CreatedAt: now, UpdatedAt: now}
	if err := f.db.Create(done).Error; err != nil {
		t.Fatalf("completed row must not collide with the partial index: %v", err)
	}
}

func TestProcessRunCompletesAndPublishesHierarchy(t *testing.T) {
	f := newGenerationFixture(t)
	f.seedAnswers(t, "taste", 12)
	f.seedAnswers(t, "price", 10)
	f.seedAnswers(t, "availability", 8)

	gen := f.runToCompletion(t)

	if gen.Status != types.GenerationStatusCompleted {
		t.Fatalf("expected completed, got %s (error=%s)", gen.Status, string(gen.Error))
	}
	if gen.ProgressPercent != 100 || gen.CurrentStep != "publish" {
		t.Fatalf("expected publish/100, got %s/%d", gen.CurrentStep, gen.ProgressPercent)
	}
	if gen.NClusters == 0 || gen.NCodes == 0 || gen.NThemes == 0 {
		t.Fatalf("expected counts, got clusters=%d themes=%d codes=%d", gen.NClusters, gen.NThemes, gen.NCodes)
	}
	if gen.MeceScore == nil || *gen.MeceScore < 0 || *gen.MeceScore > 100 {
		t.Fatalf("mece score out of range: %v", gen.MeceScore)
	}
	if gen.InputTokens == 0 {
		t.Fatalf("token totals not rolled up from the ledger")
	}

	nodes, err := f.nodeRepo.GetByGenerationID(context.Background(), nil, gen.ID)
	if err != nil {
		t.Fatalf("load nodes: %v", err)
	}
	var roots, themes, codes int
	for _, n := range nodes {
		switch n.Level {
		case types.NodeLevelCategory:
			roots++
		case types.NodeLevelTheme:
			themes++
		case types.NodeLevelCode:
			codes++
			if len(n.MemberAnswerIDs) == 0 {
				t.Fatalf("code node %q missing member answer ids", n.Name)
			}
		}
	}
	if roots != 1 || themes != gen.NThemes || codes != gen.NCodes {
		t.Fatalf("persisted tree mismatch: roots=%d themes=%d codes=%d", roots, themes, codes)
	}
}

func TestProcessRunFailurePersistsErrorKind(t *testing.T) {
	f := newGenerationFixture(t)
	f.seedAnswers(t, "taste", 10)
	f.ai.labelErr = errors.New("schema violation")

	gen := f.runToCompletion(t)

	if gen.Status != types.GenerationStatusFailed {
		t.Fatalf("expected failed, got %s", gen.Status)
	}
	var payload struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(gen.Error, &payload); err != nil {
		t.Fatalf("error payload: %v", err)
	}
	if payload.Kind != ErrKindLabeling {
		t.Fatalf("expected %s, got %q", ErrKindLabeling, payload.Kind)
	}

	// A failed run publishes nothing.
	nodes, err := f.nodeRepo.GetByGenerationID(context.Background(), nil, gen.ID)
	if err != nil {
		t.Fatalf("load nodes: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("failed run must not publish nodes, found %d", len(nodes))
	}
}

func TestApplyCreatesCodesAndLinks(t *testing.T) {
	f := newGenerationFixture(t)
	f.seedAnswers(t, "taste", 12)
	f.seedAnswers(t, "price", 10)

	gen := f.runToCompletion(t)
	if gen.Status != types.GenerationStatusCompleted {
		t.Fatalf("precondition: run must complete, got %s", gen.Status)
	}

	applied, err := f.svc.Apply(context.Background(), gen.ID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.Status != types.GenerationStatusApplied || applied.AppliedAt == nil {
		t.Fatalf("expected applied status with timestamp, got %+v", applied)
	}

	codes, err := f.codeRepo.GetByCategoryID(context.Background(), nil, f.category.ID)
	if err != nil {
		t.Fatalf("load codes: %v", err)
	}
	if len(codes) != gen.NCodes {
		t.Fatalf("expected %d codes, got %d", gen.NCodes, len(codes))
	}

	links, err := f.codeRepo.CountAnswerCodesForGeneration(context.Background(), nil, gen.ID)
	if err != nil {
		t.Fatalf("count links: %v", err)
	}
	if links == 0 {
		t.Fatalf("expected answer_code links after apply")
	}

	codeNodes, err := f.nodeRepo.GetByGenerationIDAndLevel(context.Background(), nil, gen.ID, types.NodeLevelCode)
	if err != nil {
		t.Fatalf("load code nodes: %v", err)
	}
	for _, n := range codeNodes {
		if n.CodeID == nil {
			t.Fatalf("code node %q not linked to a code row", n.Name)
		}
	}
}

func TestApplyIsOneWay(t *testing.T) {
	f := newGenerationFixture(t)
	f.seedAnswers(t, "taste", 12)

	gen := f.runToCompletion(t)
	if _, err := f.svc.Apply(context.Background(), gen.ID); err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	_, err := f.svc.Apply(context.Background(), gen.ID)
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != ErrKindApplyConflict {
		t.Fatalf("expected %s on re-apply, got %v", ErrKindApplyConflict, err)
	}
}

func TestApplyRequiresCompletedStatus(t *testing.T) {
	f := newGenerationFixture(t)
	f.seedAnswers(t, "taste", 10)

	gen, err := f.svc.Start(context.Background(), StartGenerationRequest{CategoryID: f.category.ID})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err = f.svc.Apply(context.Background(), gen.ID)
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != ErrKindApplyConflict {
		t.Fatalf("expected %s for processing generation, got %v", ErrKindApplyConflict, err)
	}
}
