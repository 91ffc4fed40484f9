package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	redisclient "github.com/surveyforge/codeframe-backend/internal/clients/redis"
	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/repos"
	"github.com/surveyforge/codeframe-backend/internal/types"
)

// AnswerVector pairs an answer with its embedding. Vector is nil for
// empty/whitespace-only text; those answers are excluded from clustering.
type AnswerVector struct {
	AnswerID uuid.UUID
	Vector   []float32
}

// EmbeddingService memoizes answer embeddings. A cached row is reused as long
// as its text_hash matches the current text; a changed hash forces recompute.
type EmbeddingService interface {
	GetOrCompute(ctx context.Context, generationID uuid.UUID, categoryID uuid.UUID, answers []*types.Answer) ([]AnswerVector, error)
	Model() string
}

type embeddingService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.AnswerEmbeddingRepo
	ai     OpenAIClient
	ledger UsageLedger
	hot    redisclient.EmbeddingCache // nil when redis is unavailable

	batchSize int
}

func NewEmbeddingService(db *gorm.DB, baseLog *logger.Logger, repo repos.AnswerEmbeddingRepo, ai OpenAIClient, ledger UsageLedger, hot redisclient.EmbeddingCache) EmbeddingService {
	return &embeddingService{
		db:        db,
		log:       baseLog.With("service", "EmbeddingService"),
		repo:      repo,
		ai:        ai,
		ledger:    ledger,
		hot:       hot,
		batchSize: 64,
	}
}

func (s *embeddingService) Model() string {
	return s.ai.EmbedModel()
}

func (s *embeddingService) GetOrCompute(ctx context.Context, generationID uuid.UUID, categoryID uuid.UUID, answers []*types.Answer) ([]AnswerVector, error) {
	model := s.ai.EmbedModel()

	out := make([]AnswerVector, 0, len(answers))
	byAnswer := map[uuid.UUID]*types.Answer{}
	eligibleIDs := make([]uuid.UUID, 0, len(answers))

	for _, a := range answers {
		if a == nil {
			continue
		}
		if strings.TrimSpace(a.Text) == "" {
			out = append(out, AnswerVector{AnswerID: a.ID, Vector: nil})
			continue
		}
		byAnswer[a.ID] = a
		eligibleIDs = append(eligibleIDs, a.ID)
	}

	cached, err := s.repo.GetByAnswerIDs(ctx, nil, eligibleIDs, model)
	if err != nil {
		return nil, NewEmbeddingServiceError(err, "load cached embeddings")
	}
	cachedByAnswer := map[uuid.UUID]*types.AnswerEmbedding{}
	for _, e := range cached {
		if e != nil {
			cachedByAnswer[e.AnswerID] = e
		}
	}

	type pending struct {
		answer *types.Answer
		hash   string
	}
	var misses []pending

	for _, id := range eligibleIDs {
		a := byAnswer[id]
		hash := hashText(a.Text)

		if row, ok := cachedByAnswer[id]; ok && row.TextHash == hash {
			vec := unmarshalVector(row.Embedding)
			if vec != nil {
				out = append(out, AnswerVector{AnswerID: id, Vector: vec})
				continue
			}
		}

		if s.hot != nil {
			if raw, ok := s.hot.Get(ctx, model, hash); ok {
				vec := unmarshalVector(raw)
				if vec != nil {
					// Persist so the next generation hits the DB tier directly.
					s.persist(ctx, id, model, hash, vec)
					out = append(out, AnswerVector{AnswerID: id, Vector: vec})
					continue
				}
			}
		}

		misses = append(misses, pending{answer: a, hash: hash})
	}

	for start := 0; start < len(misses); start += s.batchSize {
		end := start + s.batchSize
		if end > len(misses) {
			end = len(misses)
		}
		batch := misses[start:end]

		inputs := make([]string, len(batch))
		for i, p := range batch {
			inputs[i] = p.answer.Text
		}

		vecs, usage, err := s.ai.Embed(ctx, inputs)
		if err != nil {
			return nil, NewEmbeddingServiceError(err, "embed %d answers", len(batch))
		}

		genID := generationID
		catID := categoryID
		_ = s.ledger.Record(ctx, nil, UsageRecord{
			FeatureType:  types.FeatureEmbedding,
			Model:        model,
			Usage:        usage,
			GenerationID: &genID,
			CategoryID:   &catID,
			Metadata:     map[string]any{"batch_size": len(batch)},
		})

		for i, p := range batch {
			vec := vecs[i]
			s.persist(ctx, p.answer.ID, model, p.hash, vec)
			if s.hot != nil {
				s.hot.Set(ctx, model, p.hash, marshalVector(vec))
			}
			out = append(out, AnswerVector{AnswerID: p.answer.ID, Vector: vec})
		}
	}

	return out, nil
}

func (s *embeddingService) persist(ctx context.Context, answerID uuid.UUID, model, hash string, vec []float32) {
	now := time.Now()
	row := &types.AnswerEmbedding{
		ID:             uuid.New(),
		AnswerID:       answerID,
		EmbeddingModel: model,
		Embedding:      datatypes.JSON(marshalVector(vec)),
		TextHash:       hash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Upsert(ctx, nil, []*types.AnswerEmbedding{row}); err != nil {
		s.log.Warn("Failed to persist answer embedding", "answer_id", answerID, "error", err)
	}
}
