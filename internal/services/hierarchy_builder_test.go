package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/surveyforge/codeframe-backend/internal/repos"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

type fakeAI struct {
	labelResp  map[string]any
	themeResp  map[string]any
	reviewResp map[string]any
	labelErr   error
	calls      []string

	// embedFn/labelFn override the canned responses when set.
	embedFn func(inputs []string) [][]float32
	labelFn func(user string) map[string]any

	embedCalls  int
	embedInputs [][]string
}

func (f *fakeAI) Embed(ctx context.Context, inputs []string) ([][]float32, AIUsage, error) {
	f.embedCalls++
	f.embedInputs = append(f.embedInputs, inputs)
	if f.embedFn != nil {
		return f.embedFn(inputs), AIUsage{InputTokens: int64(len(inputs))}, nil
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = unitVec(float64(i))
	}
	return out, AIUsage{InputTokens: int64(len(inputs))}, nil
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, AIUsage, error) {
	f.calls = append(f.calls, schemaName)
	switch schemaName {
	case "cluster_label":
		if f.labelErr != nil {
			return nil, AIUsage{}, f.labelErr
		}
		if f.labelFn != nil {
			return f.labelFn(user), AIUsage{InputTokens: 40, OutputTokens: 12}, nil
		}
		return f.labelResp, AIUsage{InputTokens: 40, OutputTokens: 12}, nil
	case "theme_label":
		return f.themeResp, AIUsage{InputTokens: 20, OutputTokens: 6}, nil
	case "brand_review":
		if f.reviewResp == nil {
			return map[string]any{"reasoning": "stub", "suggested_codes": []any{}}, AIUsage{InputTokens: 30, OutputTokens: 10}, nil
		}
		return f.reviewResp, AIUsage{InputTokens: 30, OutputTokens: 10}, nil
	}
	return nil, AIUsage{}, errors.New("unexpected schema " + schemaName)
}

func (f *fakeAI) Model() string      { return "test-model" }
func (f *fakeAI) EmbedModel() string { return "test-embed-model" }

type fakeLedger struct {
	entries []UsageRecord
}

func (f *fakeLedger) Record(ctx context.Context, tx *gorm.DB, rec UsageRecord) error {
	f.entries = append(f.entries, rec)
	return nil
}

func (f *fakeLedger) SummarizeBy(ctx context.Context, groupBy string, since time.Time) ([]*repos.UsageSummaryRow, error) {
	return nil, nil
}

func (f *fakeLedger) SumForGeneration(ctx context.Context, generationID uuid.UUID) (*repos.UsageSummaryRow, error) {
	return &repos.UsageSummaryRow{}, nil
}

func testCluster(id int, angle float64, size int) (Cluster, map[uuid.UUID]string) {
	texts := map[uuid.UUID]string{}
	cl := Cluster{ID: id, Centroid: unitVec(angle)}
	for i := 0; i < size; i++ {
		aid := uuid.New()
		cl.MemberIDs = append(cl.MemberIDs, aid)
		texts[aid] = "answer text"
	}
	cl.Representatives = cl.MemberIDs[:1]
	return cl, texts
}

func builderFixture(t *testing.T) (*fakeAI, *fakeLedger, HierarchyBuilder, *types.Generation, *types.Category) {
	t.Helper()
	ai := &fakeAI{
		labelResp: map[string]any{"name": "Taste", "description": "Mentions of flavor", "confidence": "high", "frequency_estimate": "medium"},
		themeResp: map[string]any{"name": "Product experience", "description": "Sensory feedback"},
	}
	ledger := &fakeLedger{}
	b := NewHierarchyBuilder(testLogger(t), ai, ledger)
	gen := &types.Generation{ID: uuid.New(), CategoryID: uuid.New()}
	cat := &types.Category{ID: gen.CategoryID, Name: "Why did you choose this brand?"}
	return ai, ledger, b, gen, cat
}

func TestBuildGroupsNearbyCodesIntoOneTheme(t *testing.T) {
	ai, ledger, b, gen, cat := builderFixture(t)

	texts := map[uuid.UUID]string{}
	c1, t1 := testCluster(0, 0.0, 8)
	c2, t2 := testCluster(1, 0.05, 6)
	c3, t3 := testCluster(2, 2.0, 5)
	for _, m := range []map[uuid.UUID]string{t1, t2, t3} {
		for k, v := range m {
			texts[k] = v
		}
	}

	cfg := DefaultAlgorithmConfig(testLogger(t))
	cfg.ThemeEpsilon = 0.1
	cfg.ThemeMinClusterSize = 2

	built, err := b.Build(context.Background(), gen, cat, texts, &ClusteringResult{Clusters: []Cluster{c1, c2, c3}}, cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if built.NCodes != 3 {
		t.Fatalf("expected 3 code nodes, got %d", built.NCodes)
	}
	// c1+c2 centroids are near-identical, c3 is far away: one named theme plus
	// one singleton theme.
	if built.NThemes != 2 {
		t.Fatalf("expected 2 themes, got %d", built.NThemes)
	}

	var root *types.HierarchyNode
	byLevel := map[int][]*types.HierarchyNode{}
	for _, n := range built.Nodes {
		byLevel[n.Level] = append(byLevel[n.Level], n)
		if n.Level == types.NodeLevelCategory {
			root = n
		}
	}
	if root == nil || root.Name != cat.Name {
		t.Fatalf("missing category root node")
	}
	for _, th := range byLevel[types.NodeLevelTheme] {
		if th.ParentID == nil || *th.ParentID != root.ID {
			t.Fatalf("theme %q not parented to root", th.Name)
		}
	}
	for _, code := range byLevel[types.NodeLevelCode] {
		if code.ParentID == nil {
			t.Fatalf("code %q has no parent theme", code.Name)
		}
		if code.ApprovalStatus != "" && code.ApprovalStatus != types.ApprovalPending {
			t.Fatalf("unexpected approval status %q", code.ApprovalStatus)
		}
	}

	themeCalls := 0
	for _, c := range ai.calls {
		if c == "theme_label" {
			themeCalls++
		}
	}
	if themeCalls != 1 {
		t.Fatalf("expected exactly 1 theme naming call, got %d", themeCalls)
	}

	features := map[string]int{}
	for _, e := range ledger.entries {
		features[e.FeatureType]++
	}
	if features[types.FeatureLabeling] != 3 || features[types.FeatureThemeNaming] != 1 {
		t.Fatalf("ledger features = %v", features)
	}
}

func TestBuildRejectsOutOfEnumConfidence(t *testing.T) {
	ai, _, b, gen, cat := builderFixture(t)
	ai.labelResp = map[string]any{"name": "Taste", "description": "d", "confidence": "certain", "frequency_estimate": "medium"}

	c1, texts := testCluster(0, 0.0, 5)
	_, err := b.Build(context.Background(), gen, cat, texts, &ClusteringResult{Clusters: []Cluster{c1}}, DefaultAlgorithmConfig(testLogger(t)))
	if err == nil {
		t.Fatalf("expected labeling error")
	}
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Kind != ErrKindLabeling {
		t.Fatalf("expected %s, got %v", ErrKindLabeling, err)
	}
}

func TestBuildOrdersThemesByDescendingSize(t *testing.T) {
	_, _, b, gen, cat := builderFixture(t)

	texts := map[uuid.UUID]string{}
	small, t1 := testCluster(0, 0.0, 5)
	large, t2 := testCluster(1, 2.0, 20)
	for k, v := range t1 {
		texts[k] = v
	}
	for k, v := range t2 {
		texts[k] = v
	}

	cfg := DefaultAlgorithmConfig(testLogger(t))
	cfg.ThemeEpsilon = 0.05

	built, err := b.Build(context.Background(), gen, cat, texts, &ClusteringResult{Clusters: []Cluster{small, large}}, cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var themes []*types.HierarchyNode
	for _, n := range built.Nodes {
		if n.Level == types.NodeLevelTheme {
			themes = append(themes, n)
		}
	}
	if len(themes) != 2 {
		t.Fatalf("expected 2 singleton themes, got %d", len(themes))
	}
	if themes[0].ClusterSize < themes[1].ClusterSize {
		t.Fatalf("themes not ordered by size: %d before %d", themes[0].ClusterSize, themes[1].ClusterSize)
	}
	for i, th := range themes {
		if th.DisplayOrder != i {
			t.Fatalf("theme %d has display_order %d", i, th.DisplayOrder)
		}
	}
}

func TestBuildErrorsOnMissingRepresentativeText(t *testing.T) {
	_, _, b, gen, cat := builderFixture(t)
	c1, _ := testCluster(0, 0.0, 5)

	_, err := b.Build(context.Background(), gen, cat, map[uuid.UUID]string{}, &ClusteringResult{Clusters: []Cluster{c1}}, DefaultAlgorithmConfig(testLogger(t)))
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Kind != ErrKindLabeling {
		t.Fatalf("expected %s, got %v", ErrKindLabeling, err)
	}
}
