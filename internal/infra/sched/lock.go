package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/ports/adapter"
)

// runLocked runs fn only if this instance wins the lock. A nil locker always runs fn.
func runLocked(ctx context.Context, locker adapter.Locker, key string, ttl time.Duration, log *zerolog.Logger, fn func(ctx context.Context)) {
	if locker == nil {
		fn(ctx)
		return
	}
	token, err := locker.TryLock(ctx, key, ttl)
	if errors.Is(err, domain.ErrLockHeld) {
		log.Debug().Str("lock", key).Msg("held by another instance, skipping")
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("lock", key).Msg("lock unavailable, skipping")
		return
	}
	defer func() {
		if err := locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warn().Err(err).Str("lock", key).Msg("unlock")
		}
	}()
	fn(ctx)
}
