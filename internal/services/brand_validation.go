package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

const (
	TierWebSearch      = "web_search"
	TierKnowledgeGraph = "knowledge_graph"
	TierVision         = "vision"
	TierTranslation    = "translation"
)

const (
	EvidenceOK           = "ok"
	EvidenceWarning      = "warning"
	EvidenceError        = "error"
	EvidenceInsufficient = "insufficient_data"
)

// BrandEvidence is one tier's verdict for one candidate brand name. Signal is
// a normalized score in [-1, 1]: positive supports the brand reading of the
// name, negative contradicts it.
type BrandEvidence struct {
	Tier           string         `json:"tier"`
	Status         string         `json:"status"`
	Signal         float64        `json:"signal"`
	Summary        string         `json:"summary,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	WrongEntity    bool           `json:"wrong_entity,omitempty"`
	SuggestedNames []string       `json:"suggested_names,omitempty"`
}

type BrandIssue struct {
	Type    string `json:"type"`
	Tier    string `json:"tier,omitempty"`
	Message string `json:"message"`
}

// EvidenceTier is one independent source of brand evidence. Implementations
// live under internal/clients and must stay side-effect free: a tier that
// cannot reach its backend returns an error and the fusion layer degrades it
// to insufficient_data instead of failing the run.
type EvidenceTier interface {
	Name() string
	Collect(ctx context.Context, brand string, category *types.Category) (*BrandEvidence, error)
}

type brandReview struct {
	Brand      string           `json:"brand"`
	Confidence float64          `json:"confidence"`
	Evidence   []*BrandEvidence `json:"evidence"`
	Issues     []BrandIssue     `json:"issues,omitempty"`
	Suggested  []string         `json:"suggested_codes,omitempty"`
	Reasoning  string           `json:"reasoning,omitempty"`
}

type BrandValidationService interface {
	ValidateCodes(ctx context.Context, gen *types.Generation, category *types.Category, codes []*types.HierarchyNode) error
}

type brandValidationService struct {
	log    *logger.Logger
	ai     OpenAIClient
	ledger UsageLedger
	tiers  []EvidenceTier
	cfg    ValidationConfig
}

func NewBrandValidationService(baseLog *logger.Logger, ai OpenAIClient, ledger UsageLedger, tiers []EvidenceTier, cfg ValidationConfig) BrandValidationService {
	return &brandValidationService{
		log:    baseLog.With("service", "BrandValidationService"),
		ai:     ai,
		ledger: ledger,
		tiers:  tiers,
		cfg:    cfg,
	}
}

// collectTier runs one tier with a per-attempt timeout and bounded retries.
// Whatever happens, it returns a usable BrandEvidence: an unreachable tier is
// recorded as insufficient_data, never propagated as a run failure.
func (s *brandValidationService) collectTier(ctx context.Context, tier EvidenceTier, brand string, category *types.Category) *BrandEvidence {
	timeout := time.Duration(s.cfg.TierTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	attempts := s.cfg.TierMaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := time.Duration(s.cfg.TierRetryBackoffMS) * time.Millisecond
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		tctx, cancel := context.WithTimeout(ctx, timeout)
		ev, err := tier.Collect(tctx, brand, category)
		cancel()
		if err == nil && ev != nil {
			ev.Tier = tier.Name()
			if ev.Status == "" {
				ev.Status = EvidenceOK
			}
			ev.Signal = math.Max(-1, math.Min(1, ev.Signal))
			return ev
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		// These are rate-limited external APIs; never hammer them.
		if attempt < attempts-1 {
			time.Sleep(jitterSleep(backoff))
			backoff *= 2
		}
	}

	terr := NewEvidenceTierError(tier.Name(), lastErr)
	s.log.Warn("Evidence tier unreachable", "tier", tier.Name(), "brand", brand, "error", terr)
	return &BrandEvidence{
		Tier:    tier.Name(),
		Status:  EvidenceInsufficient,
		Summary: terr.Error(),
	}
}

// fuseConfidence combines tier evidence into a 0..100 confidence. Weights are
// renormalized over the tiers that actually produced evidence, so a missing
// tier redistributes its weight instead of dragging the score down. A
// knowledge-graph wrong-entity hit caps the result no matter how strongly the
// other tiers agree.
func fuseConfidence(evidence []*BrandEvidence, cfg ValidationConfig) (float64, []BrandIssue) {
	weight := func(tier string) float64 {
		switch tier {
		case TierWebSearch:
			return cfg.SearchWeight
		case TierKnowledgeGraph:
			return cfg.KnowledgeWeight
		case TierVision:
			return cfg.VisionWeight
		case TierTranslation:
			return cfg.TranslationWeight
		}
		return 0
	}

	var issues []BrandIssue
	total := 0.0
	for _, ev := range evidence {
		switch ev.Status {
		case EvidenceOK, EvidenceWarning:
			total += weight(ev.Tier)
		case EvidenceInsufficient, EvidenceError:
			issues = append(issues, BrandIssue{
				Type:    "tier_unavailable",
				Tier:    ev.Tier,
				Message: fmt.Sprintf("%s produced no usable evidence", ev.Tier),
			})
		}
	}
	if total <= 0 {
		issues = append(issues, BrandIssue{Type: "no_evidence", Message: "no evidence tier produced a signal"})
		return 0, issues
	}

	score := 0.0
	wrongEntity := false
	for _, ev := range evidence {
		if ev.Status != EvidenceOK && ev.Status != EvidenceWarning {
			continue
		}
		score += weight(ev.Tier) / total * (ev.Signal + 1) / 2 * 100
		if ev.Status == EvidenceWarning {
			issues = append(issues, BrandIssue{
				Type:    "weak_signal",
				Tier:    ev.Tier,
				Message: ev.Summary,
			})
		}
		if ev.Tier == TierKnowledgeGraph && ev.WrongEntity {
			wrongEntity = true
		}
	}
	score = math.Max(0, math.Min(100, score))

	if wrongEntity && score > cfg.WrongEntityCeiling {
		score = cfg.WrongEntityCeiling
		issues = append(issues, BrandIssue{
			Type:    "wrong_entity",
			Tier:    TierKnowledgeGraph,
			Message: "knowledge graph resolved the name to a different entity",
		})
	} else if wrongEntity {
		issues = append(issues, BrandIssue{
			Type:    "wrong_entity",
			Tier:    TierKnowledgeGraph,
			Message: "knowledge graph resolved the name to a different entity",
		})
	}
	return score, issues
}

var brandReviewSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"reasoning":       map[string]any{"type": "string"},
		"suggested_codes": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required":             []string{"reasoning", "suggested_codes"},
	"additionalProperties": false,
}

func (s *brandValidationService) reviewEvidence(ctx context.Context, gen *types.Generation, brand string, review *brandReview) {
	if s.ai == nil {
		return
	}
	var b strings.Builder
	for _, ev := range review.Evidence {
		fmt.Fprintf(&b, "- %s: status=%s signal=%.2f %s\n", ev.Tier, ev.Status, ev.Signal, ev.Summary)
	}
	obj, usage, err := s.ai.GenerateJSON(ctx,
		"You review multi-source evidence about whether a survey answer names a real brand, and suggest canonical code names.",
		fmt.Sprintf("Candidate brand: %q\nFused confidence: %.0f/100\nEvidence:\n%s", brand, review.Confidence, b.String()),
		"brand_review",
		brandReviewSchema,
	)

	genID := gen.ID
	catID := gen.CategoryID
	_ = s.ledger.Record(ctx, nil, UsageRecord{
		FeatureType:  types.FeatureBrandValidation,
		Model:        s.ai.Model(),
		Usage:        usage,
		GenerationID: &genID,
		CategoryID:   &catID,
	})

	if err != nil {
		// Reasoning is advisory. The fused score stands on its own.
		s.log.Warn("Brand review generation failed", "brand", brand, "error", err)
		return
	}
	review.Reasoning = strings.TrimSpace(fmt.Sprint(obj["reasoning"]))
	if raw, ok := obj["suggested_codes"].([]any); ok {
		for _, v := range raw {
			if name := strings.TrimSpace(fmt.Sprint(v)); name != "" && !strings.EqualFold(name, brand) {
				review.Suggested = append(review.Suggested, name)
			}
		}
	}
}

func (s *brandValidationService) validateOne(ctx context.Context, gen *types.Generation, category *types.Category, node *types.HierarchyNode) error {
	brand := strings.TrimSpace(node.Name)
	evidence := make([]*BrandEvidence, len(s.tiers))

	g, gctx := errgroup.WithContext(ctx)
	for i, tier := range s.tiers {
		g.Go(func() error {
			evidence[i] = s.collectTier(gctx, tier, brand, category)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	confidence, issues := fuseConfidence(evidence, s.cfg)
	review := &brandReview{
		Brand:      brand,
		Confidence: confidence,
		Evidence:   evidence,
		Issues:     issues,
	}
	for _, ev := range evidence {
		review.Suggested = append(review.Suggested, ev.SuggestedNames...)
	}
	review.Suggested = dedupeStrings(review.Suggested)
	s.reviewEvidence(ctx, gen, brand, review)

	node.ValidationEvidence = datatypes.JSON(mustJSON(review))
	node.ValidationConfidence = &review.Confidence
	node.ApprovalStatus = types.ApprovalPending
	if len(review.Suggested) > 0 {
		node.Variants = datatypes.JSON(mustJSON(review.Suggested))
	}
	return nil
}

func (s *brandValidationService) ValidateCodes(ctx context.Context, gen *types.Generation, category *types.Category, codes []*types.HierarchyNode) error {
	if len(s.tiers) == 0 {
		return NewEvidenceTierError("all", fmt.Errorf("no evidence tiers configured"))
	}
	for _, node := range codes {
		if node.Level != types.NodeLevelCode {
			continue
		}
		if err := s.validateOne(ctx, gen, category, node); err != nil {
			return err
		}
	}
	return nil
}

// dedupeStrings sorts case-insensitively and keeps the first spelling of
// each name.
func dedupeStrings(in []string) []string {
	sort.SliceStable(in, func(i, j int) bool {
		return strings.ToLower(in[i]) < strings.ToLower(in[j])
	})
	out := in[:0]
	var prev string
	for i, v := range in {
		if i == 0 || !strings.EqualFold(v, prev) {
			out = append(out, v)
		}
		prev = v
	}
	return out
}
