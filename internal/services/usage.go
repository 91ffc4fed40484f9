package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/repos"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

// UsageLedger is the append-only cost trail. Every AI-calling component
// records at the point of the call; entries are never mutated.
type UsageLedger interface {
	Record(ctx context.Context, tx *gorm.DB, entry UsageRecord) error
	SummarizeBy(ctx context.Context, groupBy string, since time.Time) ([]*repos.UsageSummaryRow, error)
	SumForGeneration(ctx context.Context, generationID uuid.UUID) (*repos.UsageSummaryRow, error)
}

type UsageRecord struct {
	FeatureType  string
	Model        string
	Usage        AIUsage
	GenerationID *uuid.UUID
	CategoryID   *uuid.UUID
	AnswerID     *uuid.UUID
	Metadata     map[string]any
}

type usageLedger struct {
	db      *gorm.DB
	log     *logger.Logger
	repo    repos.UsageLogRepo
	pricing map[string]ModelPricing
}

func NewUsageLedger(db *gorm.DB, baseLog *logger.Logger, repo repos.UsageLogRepo, pricing map[string]ModelPricing) UsageLedger {
	return &usageLedger{
		db:      db,
		log:     baseLog.With("service", "UsageLedger"),
		repo:    repo,
		pricing: pricing,
	}
}

func (u *usageLedger) cost(featureType, model string, usage AIUsage) float64 {
	key := "default"
	if featureType == types.FeatureEmbedding {
		key = "embedding"
	}
	p, ok := u.pricing[model]
	if !ok {
		p = u.pricing[key]
	}
	return float64(usage.InputTokens)/1000.0*p.InputPer1K + float64(usage.OutputTokens)/1000.0*p.OutputPer1K
}

func (u *usageLedger) Record(ctx context.Context, tx *gorm.DB, rec UsageRecord) error {
	entry := &types.UsageLogEntry{
		ID:           uuid.New(),
		FeatureType:  rec.FeatureType,
		Model:        rec.Model,
		InputTokens:  rec.Usage.InputTokens,
		OutputTokens: rec.Usage.OutputTokens,
		CostUSD:      u.cost(rec.FeatureType, rec.Model, rec.Usage),
		GenerationID: rec.GenerationID,
		CategoryID:   rec.CategoryID,
		AnswerID:     rec.AnswerID,
		CreatedAt:    time.Now(),
	}
	if rec.Metadata != nil {
		entry.Metadata = datatypes.JSON(mustJSON(rec.Metadata))
	}
	if _, err := u.repo.Create(ctx, tx, []*types.UsageLogEntry{entry}); err != nil {
		u.log.Error("Failed to append usage entry", "feature", rec.FeatureType, "model", rec.Model, "error", err)
		return err
	}
	return nil
}

func (u *usageLedger) SummarizeBy(ctx context.Context, groupBy string, since time.Time) ([]*repos.UsageSummaryRow, error) {
	switch groupBy {
	case "model":
		return u.repo.SummarizeByModel(ctx, nil, since)
	case "day":
		return u.repo.SummarizeByDay(ctx, nil, since)
	default:
		return u.repo.SummarizeByFeature(ctx, nil, since)
	}
}

func (u *usageLedger) SumForGeneration(ctx context.Context, generationID uuid.UUID) (*repos.UsageSummaryRow, error) {
	return u.repo.SumForGeneration(ctx, nil, generationID)
}
