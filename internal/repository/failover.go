package repository

import (
	"context"
	"sync/atomic"
	"time"

	"meetbook/internal/domain"
	"meetbook/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// failoverState tracks whether the primary backend is considered down.
type failoverState struct {
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

// usePrimary reports whether the primary should be tried, probing it again
// once recoveryInterval has passed since the last failure.
func (s *failoverState) usePrimary() bool {
	if !s.isDown.Load() {
		return true
	}
	return s.now().Sub(time.Unix(0, s.lastCheck.Load())) > recoveryInterval
}

func (s *failoverState) markDown() {
	s.isDown.Store(true)
	s.lastCheck.Store(s.now().UnixNano())
}

// FailoverSlotLocker prefers the shared (Redis) locker and falls back to the
// in-process one while the primary is failing.
type FailoverSlotLocker struct {
	failoverState
	primary  domain.SlotLocker
	fallback domain.SlotLocker
	logger   *zerolog.Logger
}

func NewFailoverSlotLocker(primary, fallback domain.SlotLocker, logger *zerolog.Logger) *FailoverSlotLocker {
	l := &FailoverSlotLocker{primary: primary, fallback: fallback, logger: logger}
	l.now = time.Now
	return l
}

func (l *FailoverSlotLocker) Lock(ctx context.Context, key models.SlotKey) (func(), error) {
	if l.usePrimary() {
		unlock, err := l.primary.Lock(ctx, key)
		if err == nil {
			if l.isDown.Swap(false) {
				l.logger.Info().Msg("Primary slot locker recovered")
			}
			return unlock, nil
		}
		if isContextErr(err) {
			return nil, err
		}
		l.logger.Error().Err(err).Msg("Primary slot locker failed, falling back to memory")
		l.markDown()
	}

	return l.fallback.Lock(ctx, key)
}

type FailoverRateLimiter struct {
	failoverState
	primary  domain.RateLimiter
	fallback domain.RateLimiter
	logger   *zerolog.Logger
}

func NewFailoverRateLimiter(primary, fallback domain.RateLimiter, logger *zerolog.Logger) *FailoverRateLimiter {
	r := &FailoverRateLimiter{primary: primary, fallback: fallback, logger: logger}
	r.now = time.Now
	return r
}

func (r *FailoverRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.Allow(ctx, key, limit, window)
		if err == nil {
			r.isDown.Store(false)
			return allowed, nil
		}
		r.logger.Error().Err(err).Msg("Primary rate limiter failed, falling back to memory")
		r.markDown()
	}

	return r.fallback.Allow(ctx, key, limit, window)
}
