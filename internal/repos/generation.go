package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

type GenerationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, generations []*types.Generation) ([]*types.Generation, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Generation, error)
	GetLatestByCategoryID(ctx context.Context, tx *gorm.DB, categoryID uuid.UUID) (*types.Generation, error)

	// HasProcessingForCategory enforces the at-most-one-active-generation-per-
	// category invariant: called inside the Start transaction.
	HasProcessingForCategory(ctx context.Context, tx *gorm.DB, categoryID uuid.UUID) (bool, error)

	// ClaimNextRunnable picks the next processing generation whose worker lock
	// is free or whose heartbeat went stale (crash recovery), and stamps the
	// lock. Uses SKIP LOCKED so concurrent workers never double-claim.
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*types.Generation, error)

	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type generationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationRepo(db *gorm.DB, baseLog *logger.Logger) GenerationRepo {
	repoLog := baseLog.With("repo", "GenerationRepo")
	return &generationRepo{db: db, log: repoLog}
}

func (r *generationRepo) Create(ctx context.Context, tx *gorm.DB, generations []*types.Generation) ([]*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(generations) == 0 {
		return []*types.Generation{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&generations).Error; err != nil {
		return nil, err
	}
	return generations, nil
}

func (r *generationRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Generation
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *generationRepo) GetLatestByCategoryID(ctx context.Context, tx *gorm.DB, categoryID uuid.UUID) (*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if categoryID == uuid.Nil {
		return nil, nil
	}
	var gen types.Generation
	err := transaction.WithContext(ctx).
		Where("category_id = ?", categoryID).
		Order("created_at DESC").
		Limit(1).
		Find(&gen).Error
	if err != nil {
		return nil, err
	}
	if gen.ID == uuid.Nil {
		return nil, nil
	}
	return &gen, nil
}

func (r *generationRepo) HasProcessingForCategory(ctx context.Context, tx *gorm.DB, categoryID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Generation{}).
		Where("category_id = ? AND status = ?", categoryID, types.GenerationStatusProcessing).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *generationRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now()
	staleCutoff := now.Add(-staleRunning)

	var claimed *types.Generation

	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var gen types.Generation

		q := txx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				status = ?
				AND (
					locked_at IS NULL
					OR (heartbeat_at IS NOT NULL AND heartbeat_at < ?)
				)
			`, types.GenerationStatusProcessing, staleCutoff).
			Order("created_at ASC")

		qErr := q.First(&gen).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		uErr := txx.Model(&types.Generation{}).
			Where("id = ?", gen.ID).
			Updates(map[string]interface{}{
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}

		claimed = &gen
		return nil
	})

	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *generationRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Generation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *generationRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.Generation{}).
		Where("id = ? AND status = ?", id, types.GenerationStatusProcessing).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}
