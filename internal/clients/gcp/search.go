package gcp

import (
	"context"
	"fmt"
	"strconv"

	customsearch "google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/services"
	"github.com/surveyforge/codeframe-backend/internal/types"
	"github.com/surveyforge/codeframe-backend/internal/utils"
)

// searchTier scores brand presence in programmable-search results: a real
// brand name dominates its own result page, a misspelling or generic word
// does not.
type searchTier struct {
	log *logger.Logger
	svc *customsearch.Service
	cx  string
}

func NewSearchTier(log *logger.Logger) (services.EvidenceTier, error) {
	slog := log.With("service", "gcp.SearchTier")

	apiKey := utils.GetEnv("GOOGLE_SEARCH_API_KEY", "", slog)
	cx := utils.GetEnv("GOOGLE_SEARCH_CX", "", slog)
	if apiKey == "" || cx == "" {
		return nil, fmt.Errorf("GOOGLE_SEARCH_API_KEY and GOOGLE_SEARCH_CX required")
	}

	svc, err := customsearch.NewService(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("customsearch client: %w", err)
	}
	return &searchTier{log: slog, svc: svc, cx: cx}, nil
}

func (t *searchTier) Name() string { return services.TierWebSearch }

func (t *searchTier) Collect(ctx context.Context, brand string, category *types.Category) (*services.BrandEvidence, error) {
	query := fmt.Sprintf("%q brand", brand)
	if category != nil && category.Name != "" {
		query = fmt.Sprintf("%q %s", brand, category.Name)
	}

	resp, err := t.svc.Cse.List().Q(query).Cx(t.cx).Num(10).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", brand, err)
	}

	var total int64
	if resp.SearchInformation != nil {
		total, _ = strconv.ParseInt(resp.SearchInformation.TotalResults, 10, 64)
	}

	titleHits := 0
	for _, item := range resp.Items {
		if item == nil {
			continue
		}
		if containsFold(item.Title, brand) || containsFold(item.Snippet, brand) {
			titleHits++
		}
	}

	ev := &services.BrandEvidence{
		Status: services.EvidenceOK,
		Details: map[string]any{
			"query":         query,
			"total_results": total,
			"title_hits":    titleHits,
		},
	}

	switch {
	case total == 0 || len(resp.Items) == 0:
		ev.Status = services.EvidenceWarning
		ev.Signal = -0.8
		ev.Summary = fmt.Sprintf("no search results for %q", brand)
	case titleHits == 0:
		ev.Status = services.EvidenceWarning
		ev.Signal = -0.4
		ev.Summary = fmt.Sprintf("results for %q never mention the name itself", brand)
	default:
		// Fraction of the first page that actually names the brand.
		ev.Signal = float64(titleHits)/float64(len(resp.Items))*2 - 1
		ev.Summary = fmt.Sprintf("%d of %d results mention %q", titleHits, len(resp.Items), brand)
	}
	return ev, nil
}
