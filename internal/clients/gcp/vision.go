package gcp

import (
	"context"
	"fmt"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	customsearch "google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/services"
	"github.com/surveyforge/codeframe-backend/internal/types"
	"github.com/surveyforge/codeframe-backend/internal/utils"
)

// visionTier pulls top image results for the candidate name and runs logo
// detection on them. A detected logo matching the name is strong evidence the
// name is a visually established brand.
type visionTier struct {
	log    *logger.Logger
	vision *vision.ImageAnnotatorClient
	search *customsearch.Service
	cx     string

	maxImages int
}

func NewVisionTier(log *logger.Logger) (services.EvidenceTier, error) {
	slog := log.With("service", "gcp.VisionTier")

	apiKey := utils.GetEnv("GOOGLE_SEARCH_API_KEY", "", slog)
	cx := utils.GetEnv("GOOGLE_SEARCH_CX", "", slog)
	if apiKey == "" || cx == "" {
		return nil, fmt.Errorf("GOOGLE_SEARCH_API_KEY and GOOGLE_SEARCH_CX required")
	}

	ctx := context.Background()
	vClient, err := vision.NewImageAnnotatorClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	sClient, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("customsearch client: %w", err)
	}
	return &visionTier{
		log:       slog,
		vision:    vClient,
		search:    sClient,
		cx:        cx,
		maxImages: utils.GetEnvAsInt("BRAND_VISION_MAX_IMAGES", 3, slog),
	}, nil
}

func (t *visionTier) Name() string { return services.TierVision }

func (t *visionTier) Collect(ctx context.Context, brand string, category *types.Category) (*services.BrandEvidence, error) {
	resp, err := t.search.Cse.List().
		Q(fmt.Sprintf("%s logo", brand)).
		Cx(t.cx).
		SearchType("image").
		Num(int64(t.maxImages)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("image search %q: %w", brand, err)
	}
	if len(resp.Items) == 0 {
		return &services.BrandEvidence{
			Status:  services.EvidenceInsufficient,
			Summary: fmt.Sprintf("no image results for %q", brand),
		}, nil
	}

	requests := make([]*visionpb.AnnotateImageRequest, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil || item.Link == "" {
			continue
		}
		requests = append(requests, &visionpb.AnnotateImageRequest{
			Image: &visionpb.Image{
				Source: &visionpb.ImageSource{ImageUri: item.Link},
			},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_LOGO_DETECTION, MaxResults: 5},
			},
		})
	}
	batch, err := t.vision.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{Requests: requests})
	if err != nil {
		return nil, fmt.Errorf("logo detection %q: %w", brand, err)
	}

	bestScore := float32(0)
	bestLogo := ""
	detected := 0
	for _, r := range batch.GetResponses() {
		for _, logo := range r.GetLogoAnnotations() {
			detected++
			if containsFold(logo.GetDescription(), brand) && logo.GetScore() > bestScore {
				bestScore = logo.GetScore()
				bestLogo = logo.GetDescription()
			}
		}
	}

	ev := &services.BrandEvidence{
		Status: services.EvidenceOK,
		Details: map[string]any{
			"images_checked": len(requests),
			"logos_detected": detected,
			"best_match":     bestLogo,
			"best_score":     bestScore,
		},
	}
	switch {
	case bestLogo != "":
		ev.Signal = float64(bestScore)
		ev.Summary = fmt.Sprintf("logo %q detected with score %.2f", bestLogo, bestScore)
	case detected > 0:
		ev.Status = services.EvidenceWarning
		ev.Signal = -0.2
		ev.Summary = fmt.Sprintf("logos detected but none match %q", brand)
	default:
		ev.Status = services.EvidenceWarning
		ev.Signal = -0.1
		ev.Summary = fmt.Sprintf("no logos detected in top images for %q", brand)
	}
	return ev, nil
}

func (t *visionTier) Close() error { return t.vision.Close() }
