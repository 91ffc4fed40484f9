package services

import (
	"encoding/json"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/utils"
)

// AlgorithmConfig is the per-generation tuning block. Values arrive in the
// generation's algorithm_config jsonb and are merged over env defaults; the
// thresholds are deliberately configuration, not constants.
type AlgorithmConfig struct {
	MinClusterSize int     `json:"min_cluster_size"`
	MinSamples     int     `json:"min_samples"`
	Epsilon        float64 `json:"epsilon"` // max cosine distance between density neighbors

	ThemeEpsilon        float64 `json:"theme_epsilon"`
	ThemeMinClusterSize int     `json:"theme_min_cluster_size"`

	RepresentativeCount int `json:"representative_count"`

	CoverageThreshold float64 `json:"coverage_threshold"`
	OverlapThreshold  float64 `json:"overlap_threshold"`
}

func DefaultAlgorithmConfig(log *logger.Logger) AlgorithmConfig {
	return AlgorithmConfig{
		MinClusterSize:      utils.GetEnvAsInt("CLUSTER_MIN_CLUSTER_SIZE", 5, log),
		MinSamples:          utils.GetEnvAsInt("CLUSTER_MIN_SAMPLES", 3, log),
		Epsilon:             utils.GetEnvAsFloat("CLUSTER_EPSILON", 0.35, log),
		ThemeEpsilon:        utils.GetEnvAsFloat("THEME_EPSILON", 0.5, log),
		ThemeMinClusterSize: utils.GetEnvAsInt("THEME_MIN_CLUSTER_SIZE", 2, log),
		RepresentativeCount: utils.GetEnvAsInt("CLUSTER_REPRESENTATIVES", 5, log),
		CoverageThreshold:   utils.GetEnvAsFloat("MECE_COVERAGE_THRESHOLD", 0.3, log),
		OverlapThreshold:    utils.GetEnvAsFloat("MECE_OVERLAP_THRESHOLD", 0.85, log),
	}
}

// MergeAlgorithmConfig overlays the generation's stored algorithm_config on
// top of the defaults. Zero values in the overlay keep the default.
func MergeAlgorithmConfig(base AlgorithmConfig, raw []byte) AlgorithmConfig {
	if len(raw) == 0 {
		return base
	}
	var overlay AlgorithmConfig
	if err := json.Unmarshal(raw, &overlay); err != nil {
		return base
	}
	out := base
	if overlay.MinClusterSize > 0 {
		out.MinClusterSize = overlay.MinClusterSize
	}
	if overlay.MinSamples > 0 {
		out.MinSamples = overlay.MinSamples
	}
	if overlay.Epsilon > 0 {
		out.Epsilon = overlay.Epsilon
	}
	if overlay.ThemeEpsilon > 0 {
		out.ThemeEpsilon = overlay.ThemeEpsilon
	}
	if overlay.ThemeMinClusterSize > 0 {
		out.ThemeMinClusterSize = overlay.ThemeMinClusterSize
	}
	if overlay.RepresentativeCount > 0 {
		out.RepresentativeCount = overlay.RepresentativeCount
	}
	if overlay.CoverageThreshold > 0 {
		out.CoverageThreshold = overlay.CoverageThreshold
	}
	if overlay.OverlapThreshold > 0 {
		out.OverlapThreshold = overlay.OverlapThreshold
	}
	return out
}

// ValidationConfig drives brand-evidence fusion. Weights are renormalized at
// fusion time over the tiers that actually produced evidence.
type ValidationConfig struct {
	SearchWeight      float64 `json:"search_weight"`
	KnowledgeWeight   float64 `json:"knowledge_weight"`
	VisionWeight      float64 `json:"vision_weight"`
	TranslationWeight float64 `json:"translation_weight"`

	// WrongEntityCeiling caps confidence whenever the knowledge-graph tier
	// reports a wrong-entity error, regardless of the other tiers.
	WrongEntityCeiling float64 `json:"wrong_entity_ceiling"`

	TierTimeoutSeconds int `json:"tier_timeout_seconds"`
	TierMaxRetries     int `json:"tier_max_retries"`

	// TierRetryBackoffMS is the first retry delay; later attempts double it.
	TierRetryBackoffMS int `json:"tier_retry_backoff_ms"`
}

func DefaultValidationConfig(log *logger.Logger) ValidationConfig {
	return ValidationConfig{
		SearchWeight:       utils.GetEnvAsFloat("BRAND_SEARCH_WEIGHT", 0.30, log),
		KnowledgeWeight:    utils.GetEnvAsFloat("BRAND_KNOWLEDGE_WEIGHT", 0.40, log),
		VisionWeight:       utils.GetEnvAsFloat("BRAND_VISION_WEIGHT", 0.15, log),
		TranslationWeight:  utils.GetEnvAsFloat("BRAND_TRANSLATION_WEIGHT", 0.15, log),
		WrongEntityCeiling: utils.GetEnvAsFloat("BRAND_WRONG_ENTITY_CEILING", 40, log),
		TierTimeoutSeconds: utils.GetEnvAsInt("BRAND_TIER_TIMEOUT_SECONDS", 20, log),
		TierMaxRetries:     utils.GetEnvAsInt("BRAND_TIER_MAX_RETRIES", 2, log),
		TierRetryBackoffMS: utils.GetEnvAsInt("BRAND_TIER_RETRY_BACKOFF_MS", 500, log),
	}
}

// ModelPricing maps token counts to USD. Prices are per 1K tokens and come
// from env so cost accounting follows provider price changes without a deploy.
type ModelPricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

func PricingFromEnv(log *logger.Logger) map[string]ModelPricing {
	return map[string]ModelPricing{
		"default": {
			InputPer1K:  utils.GetEnvAsFloat("AI_PRICE_INPUT_PER_1K", 0.0025, log),
			OutputPer1K: utils.GetEnvAsFloat("AI_PRICE_OUTPUT_PER_1K", 0.01, log),
		},
		"embedding": {
			InputPer1K: utils.GetEnvAsFloat("AI_PRICE_EMBED_PER_1K", 0.00002, log),
		},
	}
}
