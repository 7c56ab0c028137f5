package providers

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lab-analysis-server/internal/domain"
)

// ResultCache caches provider analysis results in Redis, keyed by provider
// name and a digest of the document description. A repeated analysis of the
// same document skips the provider call entirely, and a cached result serves
// as the fallback when a circuit breaker is open.
type ResultCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewResultCache connects to Redis and verifies the connection.
func NewResultCache(config domain.CacheConfig) (*ResultCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &ResultCache{
		redis:      client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

type cachedResult struct {
	Result   *domain.ProviderAnalysisResult `json:"result"`
	CachedAt time.Time                      `json:"cached_at"`
}

// Get retrieves a cached result. The second return value reports a hit.
func (c *ResultCache) Get(ctx context.Context, provider string, req *domain.AnalysisRequest) (*domain.ProviderAnalysisResult, bool, error) {
	val, err := c.redis.Get(ctx, c.key(provider, req)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached result: %w", err)
	}

	var cached cachedResult
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return cached.Result, true, nil
}

// Set stores a result with the default TTL.
func (c *ResultCache) Set(ctx context.Context, provider string, req *domain.AnalysisRequest, result *domain.ProviderAnalysisResult) error {
	encoded, err := json.Marshal(cachedResult{
		Result:   result,
		CachedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode result for cache: %w", err)
	}

	if err := c.redis.Set(ctx, c.key(provider, req), encoded, c.defaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}
	return nil
}

// Ping checks cache connectivity.
func (c *ResultCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *ResultCache) Close() error {
	return c.redis.Close()
}

func (c *ResultCache) key(provider string, req *domain.AnalysisRequest) string {
	digest := sha256.Sum256([]byte(buildDocumentDescription(req)))
	return fmt.Sprintf("analysis:%s:%x", provider, digest)
}
