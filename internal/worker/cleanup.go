package worker

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/memora-app/memora/internal/repository"
)

// Sweeper periodically deletes expired refresh and action token rows.
// Expired tokens are already unusable; this only keeps the tables from
// growing without bound.
type Sweeper struct {
	refreshTokens repository.RefreshTokenRepository
	actionTokens  repository.ActionTokenRepository
	interval      time.Duration
	logger        *slog.Logger
}

// DefaultInterval is used when the configured sweep interval is zero or
// negative.
const DefaultInterval = time.Hour

// NewSweeper creates a sweeper that runs every interval. Non-positive
// intervals fall back to DefaultInterval.
func NewSweeper(
	refreshTokens repository.RefreshTokenRepository,
	actionTokens repository.ActionTokenRepository,
	interval time.Duration,
	logger *slog.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		refreshTokens: refreshTokens,
		actionTokens:  actionTokens,
		interval:      interval,
		logger:        logger,
	}
}

// Run blocks until ctx is cancelled. The first sweep is delayed by a random
// fraction of the interval so multiple instances do not sweep in lockstep.
func (s *Sweeper) Run(ctx context.Context) {
	offset := time.Duration(rand.Int63n(int64(s.interval)))

	select {
	case <-ctx.Done():
		return
	case <-time.After(offset):
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	refreshDeleted, err := s.refreshTokens.DeleteExpired(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "refresh token sweep failed", slog.String("error", err.Error()))
	}

	actionDeleted, err := s.actionTokens.DeleteExpired(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "action token sweep failed", slog.String("error", err.Error()))
	}

	if refreshDeleted > 0 || actionDeleted > 0 {
		s.logger.InfoContext(ctx, "expired tokens swept",
			slog.Int64("refresh_tokens", refreshDeleted),
			slog.Int64("action_tokens", actionDeleted),
		)
	}
}
