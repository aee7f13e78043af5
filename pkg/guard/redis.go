package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Guard shared by every API replica. Leases are SET NX keys with a TTL.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis parses a redis:// URL and checks the connection.
func NewRedis(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisWithClient(client, ttl, logger), nil
}

func NewRedisWithClient(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Redis{client: client, ttl: ttl, logger: logger.With("module", "guard")}
}

func (r *Redis) Acquire(ctx context.Context, workflowID int64, executionID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key(workflowID), executionID, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire execution lease: %w", err)
	}

	if !ok {
		r.logger.DebugContext(ctx, "execution already active", "workflow_id", workflowID)
	}

	return ok, nil
}

func (r *Redis) Release(ctx context.Context, workflowID int64) error {
	if err := r.client.Del(ctx, key(workflowID)).Err(); err != nil {
		return fmt.Errorf("failed to release execution lease: %w", err)
	}

	return nil
}

func (r *Redis) Active(ctx context.Context, workflowID int64) (string, bool, error) {
	executionID, err := r.client.Get(ctx, key(workflowID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to read execution lease: %w", err)
	}

	return executionID, true, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
