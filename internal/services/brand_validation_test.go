package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/surveyforge/codeframe-backend/internal/types"
)

type stubTier struct {
	name  string
	ev    *BrandEvidence
	err   error
	calls int
}

func (s *stubTier) Name() string { return s.name }

func (s *stubTier) Collect(ctx context.Context, brand string, category *types.Category) (*BrandEvidence, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.ev
	return &cp, nil
}

func validationFixtureConfig() ValidationConfig {
	return ValidationConfig{
		SearchWeight:       0.30,
		KnowledgeWeight:    0.40,
		VisionWeight:       0.15,
		TranslationWeight:  0.15,
		WrongEntityCeiling: 40,
		TierTimeoutSeconds: 1,
		TierMaxRetries:     1,
		TierRetryBackoffMS: 1,
	}
}

func codeNode(name string) *types.HierarchyNode {
	return &types.HierarchyNode{
		ID:           uuid.New(),
		GenerationID: uuid.New(),
		Level:        types.NodeLevelCode,
		NodeType:     types.NodeTypeCode,
		Name:         name,
	}
}

func TestFuseWrongEntityCapsConfidence(t *testing.T) {
	cfg := validationFixtureConfig()
	evidence := []*BrandEvidence{
		{Tier: TierWebSearch, Status: EvidenceOK, Signal: 1},
		{Tier: TierKnowledgeGraph, Status: EvidenceOK, Signal: 1, WrongEntity: true},
		{Tier: TierVision, Status: EvidenceOK, Signal: 1},
		{Tier: TierTranslation, Status: EvidenceOK, Signal: 1},
	}

	score, issues := fuseConfidence(evidence, cfg)
	if score != cfg.WrongEntityCeiling {
		t.Fatalf("expected wrong-entity cap %.0f, got %.2f", cfg.WrongEntityCeiling, score)
	}
	found := false
	for _, is := range issues {
		if is.Type == "wrong_entity" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected wrong_entity issue, got %+v", issues)
	}
}

func TestFuseRenormalizesOverAvailableTiers(t *testing.T) {
	cfg := validationFixtureConfig()
	evidence := []*BrandEvidence{
		{Tier: TierWebSearch, Status: EvidenceOK, Signal: 1},
		{Tier: TierKnowledgeGraph, Status: EvidenceInsufficient},
		{Tier: TierVision, Status: EvidenceInsufficient},
		{Tier: TierTranslation, Status: EvidenceInsufficient},
	}

	score, issues := fuseConfidence(evidence, cfg)
	// The one available tier carries all renormalized weight.
	if score != 100 {
		t.Fatalf("expected 100 from renormalized single tier, got %.2f", score)
	}
	unavailable := 0
	for _, is := range issues {
		if is.Type == "tier_unavailable" {
			unavailable++
		}
	}
	if unavailable != 3 {
		t.Fatalf("expected 3 tier_unavailable issues, got %d", unavailable)
	}
}

func TestFuseNoEvidence(t *testing.T) {
	score, issues := fuseConfidence([]*BrandEvidence{
		{Tier: TierWebSearch, Status: EvidenceInsufficient},
		{Tier: TierKnowledgeGraph, Status: EvidenceError},
	}, validationFixtureConfig())
	if score != 0 {
		t.Fatalf("expected 0 with no evidence, got %.2f", score)
	}
	found := false
	for _, is := range issues {
		if is.Type == "no_evidence" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected no_evidence issue, got %+v", issues)
	}
}

func TestValidateWellKnownBrandStaysPending(t *testing.T) {
	tiers := []EvidenceTier{
		&stubTier{name: TierWebSearch, ev: &BrandEvidence{Status: EvidenceOK, Signal: 0.9, Summary: "dominant toothpaste results"}},
		&stubTier{name: TierKnowledgeGraph, ev: &BrandEvidence{Status: EvidenceOK, Signal: 0.95, Summary: "Colgate-Palmolive consumer brand"}},
		&stubTier{name: TierVision, ev: &BrandEvidence{Status: EvidenceOK, Signal: 0.8, Summary: "logo detected"}},
		&stubTier{name: TierTranslation, ev: &BrandEvidence{Status: EvidenceOK, Signal: 0.7, Summary: "name stable across languages"}},
	}
	svc := NewBrandValidationService(testLogger(t), &fakeAI{}, &fakeLedger{}, tiers, validationFixtureConfig())

	gen := &types.Generation{ID: uuid.New(), CategoryID: uuid.New()}
	cat := &types.Category{ID: gen.CategoryID, Name: "Toothpaste brands", CodingType: types.CodingTypeBrand}
	node := codeNode("Colgate")

	if err := svc.ValidateCodes(context.Background(), gen, cat, []*types.HierarchyNode{node}); err != nil {
		t.Fatalf("ValidateCodes: %v", err)
	}
	if node.ValidationConfidence == nil || *node.ValidationConfidence < 80 {
		t.Fatalf("expected confidence >= 80, got %v", node.ValidationConfidence)
	}
	// High confidence still never auto-approves.
	if node.ApprovalStatus != types.ApprovalPending {
		t.Fatalf("expected pending approval, got %q", node.ApprovalStatus)
	}
	if len(node.ValidationEvidence) == 0 {
		t.Fatalf("expected validation evidence payload")
	}
	var review brandReview
	if err := json.Unmarshal(node.ValidationEvidence, &review); err != nil {
		t.Fatalf("evidence payload: %v", err)
	}
	if len(review.Evidence) != 4 {
		t.Fatalf("expected 4 tier evidences, got %d", len(review.Evidence))
	}
}

func TestValidateUnreachableTierDegrades(t *testing.T) {
	broken := &stubTier{name: TierKnowledgeGraph, err: errors.New("quota exhausted")}
	tiers := []EvidenceTier{
		&stubTier{name: TierWebSearch, ev: &BrandEvidence{Status: EvidenceOK, Signal: 0.6}},
		broken,
	}
	cfg := validationFixtureConfig()
	svc := NewBrandValidationService(testLogger(t), nil, &fakeLedger{}, tiers, cfg)

	gen := &types.Generation{ID: uuid.New(), CategoryID: uuid.New()}
	cat := &types.Category{ID: gen.CategoryID, Name: "Snack brands", CodingType: types.CodingTypeBrand}
	node := codeNode("Acme Crisps")

	if err := svc.ValidateCodes(context.Background(), gen, cat, []*types.HierarchyNode{node}); err != nil {
		t.Fatalf("unreachable tier must not abort the run: %v", err)
	}
	if broken.calls != cfg.TierMaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", cfg.TierMaxRetries+1, broken.calls)
	}

	var review brandReview
	if err := json.Unmarshal(node.ValidationEvidence, &review); err != nil {
		t.Fatalf("evidence payload: %v", err)
	}
	for _, ev := range review.Evidence {
		if ev.Tier == TierKnowledgeGraph && ev.Status != EvidenceInsufficient {
			t.Fatalf("expected insufficient_data for broken tier, got %q", ev.Status)
		}
	}
	if node.ValidationConfidence == nil || *node.ValidationConfidence <= 0 {
		t.Fatalf("remaining tier should still yield confidence, got %v", node.ValidationConfidence)
	}
}

func TestValidateSkipsNonCodeNodes(t *testing.T) {
	tier := &stubTier{name: TierWebSearch, ev: &BrandEvidence{Status: EvidenceOK, Signal: 1}}
	svc := NewBrandValidationService(testLogger(t), nil, &fakeLedger{}, []EvidenceTier{tier}, validationFixtureConfig())

	gen := &types.Generation{ID: uuid.New(), CategoryID: uuid.New()}
	cat := &types.Category{ID: gen.CategoryID, Name: "Brands", CodingType: types.CodingTypeBrand}
	theme := &types.HierarchyNode{ID: uuid.New(), Level: types.NodeLevelTheme, NodeType: types.NodeTypeTheme, Name: "Household"}

	if err := svc.ValidateCodes(context.Background(), gen, cat, []*types.HierarchyNode{theme}); err != nil {
		t.Fatalf("ValidateCodes: %v", err)
	}
	if tier.calls != 0 {
		t.Fatalf("theme nodes must not be validated, got %d tier calls", tier.calls)
	}
}

func TestCollectTierBacksOffBetweenRetries(t *testing.T) {
	broken := &stubTier{name: TierWebSearch, err: errors.New("rate limited")}
	cfg := validationFixtureConfig()
	cfg.TierMaxRetries = 2
	cfg.TierRetryBackoffMS = 30
	svc := NewBrandValidationService(testLogger(t), nil, &fakeLedger{}, []EvidenceTier{broken}, cfg).(*brandValidationService)

	start := time.Now()
	ev := svc.collectTier(context.Background(), broken, "Acme", &types.Category{Name: "Brands"})
	elapsed := time.Since(start)

	if ev.Status != EvidenceInsufficient {
		t.Fatalf("expected insufficient_data after exhausted retries, got %q", ev.Status)
	}
	if broken.calls != cfg.TierMaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", cfg.TierMaxRetries+1, broken.calls)
	}
	// Two sleeps (30ms then 60ms) minus jitter: at least ~70ms must pass.
	if elapsed < 70*time.Millisecond {
		t.Fatalf("retries fired back-to-back in %v; expected backoff between attempts", elapsed)
	}
}

func TestDedupeStringsIsCaseInsensitive(t *testing.T) {
	// A mixed-case name sorting between two spellings of the same brand must
	// not split them apart.
	got := dedupeStrings([]string{"ACME", "Acme Crisps", "acme"})
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct names, got %v", got)
	}
	for _, v := range got {
		if v == "acme" {
			t.Fatalf("duplicate spelling survived: %v", got)
		}
	}
}
