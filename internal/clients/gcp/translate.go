package gcp

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	translate "google.golang.org/api/translate/v2"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/services"
	"github.com/surveyforge/codeframe-backend/internal/types"
	"github.com/surveyforge/codeframe-backend/internal/utils"
)

// translationTier checks whether the candidate name survives translation
// unchanged. Proper nouns do; a name that translates into an everyday word
// ("Corona" -> "crown") is ambiguous and gets a weaker signal.
type translationTier struct {
	log *logger.Logger
	svc *translate.Service
}

func NewTranslationTier(log *logger.Logger) (services.EvidenceTier, error) {
	slog := log.With("service", "gcp.TranslationTier")

	apiKey := utils.GetEnv("GOOGLE_TRANSLATE_API_KEY", "", slog)
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_TRANSLATE_API_KEY required")
	}
	svc, err := translate.NewService(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("translate client: %w", err)
	}
	return &translationTier{log: slog, svc: svc}, nil
}

func (t *translationTier) Name() string { return services.TierTranslation }

func (t *translationTier) Collect(ctx context.Context, brand string, category *types.Category) (*services.BrandEvidence, error) {
	target := "en"
	if category != nil && category.Language == "en" {
		// For English surveys, round-trip through Spanish to catch names that
		// are ordinary words elsewhere.
		target = "es"
	}

	call := t.svc.Translations.List([]string{brand}, target).Context(ctx)
	if category != nil && category.Language != "" && category.Language != target {
		call = call.Source(category.Language)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("translate %q: %w", brand, err)
	}
	if len(resp.Translations) == 0 {
		return &services.BrandEvidence{
			Status:  services.EvidenceInsufficient,
			Summary: fmt.Sprintf("no translation result for %q", brand),
		}, nil
	}

	translated := strings.TrimSpace(resp.Translations[0].TranslatedText)
	unchanged := strings.EqualFold(translated, brand)

	ev := &services.BrandEvidence{
		Status: services.EvidenceOK,
		Details: map[string]any{
			"target":     target,
			"translated": translated,
		},
	}
	if unchanged {
		ev.Signal = 0.6
		ev.Summary = fmt.Sprintf("%q is stable under translation", brand)
	} else {
		ev.Status = services.EvidenceWarning
		ev.Signal = -0.3
		ev.Summary = fmt.Sprintf("%q translates to %q; may be a common word", brand, translated)
	}
	return ev, nil
}
