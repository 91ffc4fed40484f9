package gcp

import (
	"context"
	"fmt"
	"strings"

	kgsearch "google.golang.org/api/kgsearch/v1"
	"google.golang.org/api/option"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/services"
	"github.com/surveyforge/codeframe-backend/internal/types"
	"github.com/surveyforge/codeframe-backend/internal/utils"
)

// brandishTypes are the schema.org types a knowledge-graph entity can carry
// and still plausibly be a brand answer.
var brandishTypes = map[string]bool{
	"Brand":               true,
	"Corporation":         true,
	"Organization":        true,
	"LocalBusiness":       true,
	"Product":             true,
	"ProductModel":        true,
	"SoftwareApplication": true,
}

type knowledgeTier struct {
	log *logger.Logger
	svc *kgsearch.Service
}

func NewKnowledgeTier(log *logger.Logger) (services.EvidenceTier, error) {
	slog := log.With("service", "gcp.KnowledgeTier")

	apiKey := utils.GetEnv("GOOGLE_KG_API_KEY", "", slog)
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_KG_API_KEY required")
	}
	svc, err := kgsearch.NewService(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("kgsearch client: %w", err)
	}
	return &knowledgeTier{log: slog, svc: svc}, nil
}

func (t *knowledgeTier) Name() string { return services.TierKnowledgeGraph }

type kgEntity struct {
	name        string
	description string
	types       []string
	score       float64
}

func parseEntity(raw any) (*kgEntity, bool) {
	elem, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	result, ok := elem["result"].(map[string]any)
	if !ok {
		return nil, false
	}
	ent := &kgEntity{}
	ent.name, _ = result["name"].(string)
	if desc, ok := result["description"].(string); ok {
		ent.description = desc
	}
	if rawTypes, ok := result["@type"].([]any); ok {
		for _, rt := range rawTypes {
			if s, ok := rt.(string); ok {
				ent.types = append(ent.types, s)
			}
		}
	}
	if score, ok := elem["resultScore"].(float64); ok {
		ent.score = score
	}
	return ent, ent.name != ""
}

func (t *knowledgeTier) Collect(ctx context.Context, brand string, category *types.Category) (*services.BrandEvidence, error) {
	resp, err := t.svc.Entities.Search().Query(brand).Limit(5).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("kg lookup %q: %w", brand, err)
	}

	if len(resp.ItemListElement) == 0 {
		return &services.BrandEvidence{
			Status:  services.EvidenceWarning,
			Signal:  -0.6,
			Summary: fmt.Sprintf("no knowledge graph entity for %q", brand),
		}, nil
	}

	var top *kgEntity
	var suggested []string
	for _, raw := range resp.ItemListElement {
		ent, ok := parseEntity(raw)
		if !ok {
			continue
		}
		if top == nil {
			top = ent
			continue
		}
		// Lower-ranked entities with brandish types are alternate readings of
		// the answer and become code suggestions.
		if !strings.EqualFold(ent.name, brand) && hasBrandishType(ent.types) {
			suggested = append(suggested, ent.name)
		}
	}
	if top == nil {
		return &services.BrandEvidence{
			Status:  services.EvidenceInsufficient,
			Summary: fmt.Sprintf("unparseable knowledge graph payload for %q", brand),
		}, nil
	}

	ev := &services.BrandEvidence{
		Status:         services.EvidenceOK,
		SuggestedNames: suggested,
		Details: map[string]any{
			"entity":       top.name,
			"entity_types": top.types,
			"description":  top.description,
			"result_score": top.score,
		},
	}

	nameMatches := strings.EqualFold(top.name, brand) || containsFold(top.name, brand) || containsFold(brand, top.name)
	typeMatches := hasBrandishType(top.types)

	switch {
	case nameMatches && typeMatches:
		ev.Signal = 0.9
		ev.Summary = fmt.Sprintf("%q resolves to %s (%s)", brand, top.name, strings.Join(top.types, ","))
		if !strings.EqualFold(top.name, brand) {
			ev.SuggestedNames = append([]string{top.name}, ev.SuggestedNames...)
		}
	case nameMatches && !typeMatches:
		// The graph knows the name but as something other than a brand: the
		// classic wrong-entity case (a person, a place, a common word).
		ev.Status = services.EvidenceWarning
		ev.Signal = -0.5
		ev.WrongEntity = true
		ev.Summary = fmt.Sprintf("%q resolves to non-brand entity %s (%s)", brand, top.name, strings.Join(top.types, ","))
	default:
		ev.Status = services.EvidenceWarning
		ev.Signal = -0.3
		ev.WrongEntity = true
		ev.Summary = fmt.Sprintf("%q best-matches unrelated entity %s", brand, top.name)
		if hasBrandishType(top.types) {
			ev.SuggestedNames = append([]string{top.name}, ev.SuggestedNames...)
		}
	}
	return ev, nil
}

func hasBrandishType(entityTypes []string) bool {
	for _, et := range entityTypes {
		if brandishTypes[et] {
			return true
		}
	}
	return false
}
