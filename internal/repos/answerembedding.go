package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

type AnswerEmbeddingRepo interface {
	GetByAnswerIDs(ctx context.Context, tx *gorm.DB, answerIDs []uuid.UUID, model string) ([]*types.AnswerEmbedding, error)

	// Upsert overwrites on (answer_id, embedding_model) conflict. Embeddings are
	// a deterministic function of (text, model), so last-write-wins is safe for
	// concurrent writers producing identical payloads.
	Upsert(ctx context.Context, tx *gorm.DB, embeddings []*types.AnswerEmbedding) error
}

type answerEmbeddingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnswerEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) AnswerEmbeddingRepo {
	repoLog := baseLog.With("repo", "AnswerEmbeddingRepo")
	return &answerEmbeddingRepo{db: db, log: repoLog}
}

func (r *answerEmbeddingRepo) GetByAnswerIDs(ctx context.Context, tx *gorm.DB, answerIDs []uuid.UUID, model string) ([]*types.AnswerEmbedding, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.AnswerEmbedding
	if len(answerIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("answer_id IN ? AND embedding_model = ?", answerIDs, model).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *answerEmbeddingRepo) Upsert(ctx context.Context, tx *gorm.DB, embeddings []*types.AnswerEmbedding) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(embeddings) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "answer_id"}, {Name: "embedding_model"}},
			DoUpdates: clause.AssignmentColumns([]string{"embedding", "text_hash", "updated_at"}),
		}).
		Create(&embeddings).Error
}
