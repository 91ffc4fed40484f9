package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

type HierarchyNodeRepo interface {
	Create(ctx context.Context, tx *gorm.DB, nodes []*types.HierarchyNode) ([]*types.HierarchyNode, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.HierarchyNode, error)
	GetByGenerationID(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.HierarchyNode, error)
	GetByGenerationIDAndLevel(ctx context.Context, tx *gorm.DB, generationID uuid.UUID, level int) ([]*types.HierarchyNode, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type hierarchyNodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewHierarchyNodeRepo(db *gorm.DB, baseLog *logger.Logger) HierarchyNodeRepo {
	repoLog := baseLog.With("repo", "HierarchyNodeRepo")
	return &hierarchyNodeRepo{db: db, log: repoLog}
}

func (r *hierarchyNodeRepo) Create(ctx context.Context, tx *gorm.DB, nodes []*types.HierarchyNode) ([]*types.HierarchyNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(nodes) == 0 {
		return []*types.HierarchyNode{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

func (r *hierarchyNodeRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.HierarchyNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.HierarchyNode
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

func (r *hierarchyNodeRepo) GetByGenerationID(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.HierarchyNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.HierarchyNode
	if generationID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("generation_id = ?", generationID).
		Order("level ASC, display_order ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *hierarchyNodeRepo) GetByGenerationIDAndLevel(ctx context.Context, tx *gorm.DB, generationID uuid.UUID, level int) ([]*types.HierarchyNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.HierarchyNode
	if generationID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("generation_id = ? AND level = ?", generationID, level).
		Order("display_order ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *hierarchyNodeRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.HierarchyNode{}).
		Where("id = ?", id).
		Updates(updates).Error
}
