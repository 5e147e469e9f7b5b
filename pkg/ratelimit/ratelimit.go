// Package ratelimit implements the per-domain request limiter.
//
// State lives in Redis so limits hold across worker processes: a
// last-request timestamp per domain and a daily counter that expires at
// local midnight. An in-process mutex per domain keeps concurrent callers
// from sleeping redundantly against the same spacing window.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
)

const (
	lastRequestTTL = time.Hour
)

// Config controls request spacing and quotas.
type Config struct {
	DelayMin   time.Duration
	DelayMax   time.Duration
	DailyLimit int
}

// Limiter serializes requests per domain and enforces daily quotas.
type Limiter struct {
	rdb *redis.Client
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// New creates a limiter backed by the given Redis client.
func New(rdb *redis.Client, cfg Config, log *slog.Logger) *Limiter {
	return &Limiter{
		rdb:   rdb,
		cfg:   cfg,
		log:   log.With(logger.Scope("ratelimit")),
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

func lastRequestKey(domain string) string {
	return fmt.Sprintf("ratelimit:%s:last_request", domain)
}

func dailyCountKey(domain string, day time.Time) string {
	return fmt.Sprintf("ratelimit:%s:daily_count:%s", domain, day.Format("20060102"))
}

func (l *Limiter) domainLock(domain string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[domain]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[domain] = lock
	}
	return lock
}

// Acquire blocks until the caller may send the next request to domain, then
// records the request. Returns a rate_limit_exceeded error when the daily
// quota is reached; the details carry the seconds until the quota resets.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	if domain == "" {
		return nil
	}

	now := l.now()
	countKey := dailyCountKey(domain, now)

	if l.cfg.DailyLimit > 0 {
		count, err := l.rdb.Get(ctx, countKey).Int()
		if err != nil && err != redis.Nil {
			return apperror.ErrDatabase.WithMessage("rate limit state read failed").WithInternal(err)
		}
		if err == nil && count >= l.cfg.DailyLimit {
			resetIn, ttlErr := l.rdb.TTL(ctx, countKey).Result()
			if ttlErr != nil || resetIn < 0 {
				resetIn = time.Until(endOfLocalDay(now))
			}
			return apperror.ErrRateLimitExceeded.WithDetails(map[string]any{
				"domain":           domain,
				"limit":            l.cfg.DailyLimit,
				"reset_in_seconds": int(resetIn.Seconds()),
			})
		}
	}

	lock := l.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	if err := l.waitSpacing(ctx, domain); err != nil {
		return err
	}

	now = l.now()
	if err := l.rdb.Set(ctx, lastRequestKey(domain), now.Unix(), lastRequestTTL).Err(); err != nil {
		return apperror.ErrDatabase.WithMessage("rate limit state write failed").WithInternal(err)
	}

	if l.cfg.DailyLimit > 0 {
		count, err := l.rdb.Incr(ctx, countKey).Result()
		if err != nil {
			return apperror.ErrDatabase.WithMessage("rate limit counter increment failed").WithInternal(err)
		}
		if count == 1 {
			// First request of the local day; expire the counter at midnight.
			if err := l.rdb.Expire(ctx, countKey, time.Until(endOfLocalDay(now))).Err(); err != nil {
				l.log.Warn("failed to set daily counter expiry",
					slog.String("domain", domain), logger.Error(err))
			}
		}
	}

	return nil
}

// waitSpacing sleeps the remainder of a randomized inter-request gap. The
// first request for a domain (no last_request key) never sleeps.
func (l *Limiter) waitSpacing(ctx context.Context, domain string) error {
	raw, err := l.rdb.Get(ctx, lastRequestKey(domain)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return apperror.ErrDatabase.WithMessage("rate limit state read failed").WithInternal(err)
	}

	lastUnix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}

	elapsed := l.now().Sub(time.Unix(lastUnix, 0))
	wait := l.spacing() - elapsed
	if wait <= 0 {
		return nil
	}

	l.log.Debug("spacing requests to domain",
		slog.String("domain", domain),
		slog.Duration("wait", wait),
	)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) spacing() time.Duration {
	if l.cfg.DelayMax <= l.cfg.DelayMin {
		return l.cfg.DelayMin
	}
	spread := l.cfg.DelayMax - l.cfg.DelayMin
	return l.cfg.DelayMin + time.Duration(rand.Int63n(int64(spread)))
}

func endOfLocalDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}
