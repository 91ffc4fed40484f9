package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/utils"
)

// EmbeddingCache is the optional hot layer in front of the answer_embedding
// table. Values are keyed by (model, text_hash), so identical text always hits
// the same slot and stale entries are impossible by construction.
type EmbeddingCache interface {
	Get(ctx context.Context, model, textHash string) ([]byte, bool)
	Set(ctx context.Context, model, textHash string, payload []byte)
}

type embeddingCache struct {
	client *goredis.Client
	log    *logger.Logger
	ttl    time.Duration
}

func NewEmbeddingCache(log *logger.Logger) (EmbeddingCache, error) {
	cacheLog := log.With("client", "EmbeddingCache")

	addr := utils.GetEnv("REDIS_ADDR", "localhost:6379", log)
	password := utils.GetEnv("REDIS_PASSWORD", "", log)
	dbNum := utils.GetEnvAsInt("REDIS_DB", 0, log)
	ttlHours := utils.GetEnvAsInt("REDIS_EMBEDDING_TTL_HOURS", 24*7, log)

	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       dbNum,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &embeddingCache{
		client: client,
		log:    cacheLog,
		ttl:    time.Duration(ttlHours) * time.Hour,
	}, nil
}

func cacheKey(model, textHash string) string {
	return fmt.Sprintf("emb:%s:%s", model, textHash)
}

func (c *embeddingCache) Get(ctx context.Context, model, textHash string) ([]byte, bool) {
	raw, err := c.client.Get(ctx, cacheKey(model, textHash)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Debug("Embedding cache read failed", "error", err)
		}
		return nil, false
	}
	return raw, true
}

func (c *embeddingCache) Set(ctx context.Context, model, textHash string, payload []byte) {
	if err := c.client.Set(ctx, cacheKey(model, textHash), payload, c.ttl).Err(); err != nil {
		c.log.Debug("Embedding cache write failed", "error", err)
	}
}
