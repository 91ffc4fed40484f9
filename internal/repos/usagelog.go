package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

type UsageSummaryRow struct {
	Group        string  `json:"group"`
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

type UsageLogRepo interface {
	// Create is append-only; entries are never updated or deleted.
	Create(ctx context.Context, tx *gorm.DB, entries []*types.UsageLogEntry) ([]*types.UsageLogEntry, error)

	SummarizeByFeature(ctx context.Context, tx *gorm.DB, since time.Time) ([]*UsageSummaryRow, error)
	SummarizeByModel(ctx context.Context, tx *gorm.DB, since time.Time) ([]*UsageSummaryRow, error)
	SummarizeByDay(ctx context.Context, tx *gorm.DB, since time.Time) ([]*UsageSummaryRow, error)
	SumForGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) (*UsageSummaryRow, error)
}

type usageLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUsageLogRepo(db *gorm.DB, baseLog *logger.Logger) UsageLogRepo {
	repoLog := baseLog.With("repo", "UsageLogRepo")
	return &usageLogRepo{db: db, log: repoLog}
}

func (r *usageLogRepo) Create(ctx context.Context, tx *gorm.DB, entries []*types.UsageLogEntry) ([]*types.UsageLogEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(entries) == 0 {
		return []*types.UsageLogEntry{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *usageLogRepo) summarize(ctx context.Context, tx *gorm.DB, groupExpr string, since time.Time) ([]*UsageSummaryRow, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*UsageSummaryRow
	q := transaction.WithContext(ctx).
		Model(&types.UsageLogEntry{}).
		Select(groupExpr + ` AS "group",
			COUNT(*) AS calls,
			COALESCE(SUM(input_tokens), 0) AS input_tokens,
			COALESCE(SUM(output_tokens), 0) AS output_tokens,
			COALESCE(SUM(cost_usd), 0) AS cost_usd`).
		Group(groupExpr).
		Order(groupExpr)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *usageLogRepo) SummarizeByFeature(ctx context.Context, tx *gorm.DB, since time.Time) ([]*UsageSummaryRow, error) {
	return r.summarize(ctx, tx, "feature_type", since)
}

func (r *usageLogRepo) SummarizeByModel(ctx context.Context, tx *gorm.DB, since time.Time) ([]*UsageSummaryRow, error) {
	return r.summarize(ctx, tx, "model", since)
}

func (r *usageLogRepo) SummarizeByDay(ctx context.Context, tx *gorm.DB, since time.Time) ([]*UsageSummaryRow, error) {
	return r.summarize(ctx, tx, "DATE(created_at)", since)
}

func (r *usageLogRepo) SumForGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) (*UsageSummaryRow, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row UsageSummaryRow
	if err := transaction.WithContext(ctx).
		Model(&types.UsageLogEntry{}).
		Select(`COUNT(*) AS calls,
			COALESCE(SUM(input_tokens), 0) AS input_tokens,
			COALESCE(SUM(output_tokens), 0) AS output_tokens,
			COALESCE(SUM(cost_usd), 0) AS cost_usd`).
		Where("generation_id = ?", generationID).
		Scan(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
