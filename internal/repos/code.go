package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

type CodeRepo interface {
	Create(ctx context.Context, tx *gorm.DB, codes []*types.Code) ([]*types.Code, error)
	GetByCategoryID(ctx context.Context, tx *gorm.DB, categoryID uuid.UUID) ([]*types.Code, error)
	GetByCategoryAndName(ctx context.Context, tx *gorm.DB, categoryID uuid.UUID, name string) (*types.Code, error)

	// CreateAnswerCodes ignores (answer_id, code_id) conflicts so re-applying a
	// generation never duplicates rows.
	CreateAnswerCodes(ctx context.Context, tx *gorm.DB, links []*types.AnswerCode) error
	CountAnswerCodesForGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) (int64, error)
}

type codeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCodeRepo(db *gorm.DB, baseLog *logger.Logger) CodeRepo {
	repoLog := baseLog.With("repo", "CodeRepo")
	return &codeRepo{db: db, log: repoLog}
}

func (r *codeRepo) Create(ctx context.Context, tx *gorm.DB, codes []*types.Code) ([]*types.Code, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(codes) == 0 {
		return []*types.Code{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *codeRepo) GetByCategoryID(ctx context.Context, tx *gorm.DB, categoryID uuid.UUID) ([]*types.Code, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Code
	if categoryID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("category_id = ?", categoryID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *codeRepo) GetByCategoryAndName(ctx context.Context, tx *gorm.DB, categoryID uuid.UUID, name string) (*types.Code, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var code types.Code
	err := transaction.WithContext(ctx).
		Where("category_id = ? AND name = ?", categoryID, name).
		Limit(1).
		Find(&code).Error
	if err != nil {
		return nil, err
	}
	if code.ID == uuid.Nil {
		return nil, nil
	}
	return &code, nil
}

func (r *codeRepo) CreateAnswerCodes(ctx context.Context, tx *gorm.DB, links []*types.AnswerCode) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(links) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "answer_id"}, {Name: "code_id"}},
			DoNothing: true,
		}).
		Create(&links).Error
}

func (r *codeRepo) CountAnswerCodesForGeneration(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.AnswerCode{}).
		Where("generation_id = ?", generationID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
