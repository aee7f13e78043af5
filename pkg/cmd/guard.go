// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/funcscan/flowdesk/pkg/guard"
)

// NewGuard returns the redis guard when redisURL is set and the in-memory one otherwise.
// The returned close function is never nil.
func NewGuard(ctx context.Context, redisURL string, ttl time.Duration, logger *slog.Logger) (guard.Guard, func() error, error) {
	if redisURL == "" {
		logger.Info("using in-memory execution guard")

		return guard.NewMemory(ttl), func() error { return nil }, nil
	}

	g, err := guard.NewRedis(ctx, redisURL, ttl, logger)
	if err != nil {
		return nil, nil, err
	}

	return g, g.Close, nil
}
