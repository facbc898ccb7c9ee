// Package ratelimit ограничивает входящие сообщения по отправителю через token
// bucket. Limiter держит бакеты в памяти процесса, RedisLimiter делит их между
// репликами.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"glamstore/internal/config"
	sl "glamstore/internal/lib/logger"
)

const (
	defaultCapacity = 10
	defaultRefill   = 2
	defaultInterval = 5 * time.Second
	defaultIdleTTL  = time.Hour
)

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

type bucket struct {
	tokens int
	// начало текущего интервала пополнения
	refilledAt time.Time
	seenAt     time.Time
}

type Limiter struct {
	log      *slog.Logger
	now      func() time.Time
	capacity int
	refill   int
	interval time.Duration
	idleTTL  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

func New(log *slog.Logger, cfg config.RateLimit, opts ...Option) *Limiter {
	capacity, refill, interval, idleTTL := withDefaults(cfg)

	l := &Limiter{
		log:      log,
		now:      time.Now,
		capacity: capacity,
		refill:   refill,
		interval: interval,
		idleTTL:  idleTTL,
		buckets:  make(map[string]*bucket),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Consume берёт токен из бакета identity и сообщает, можно ли обработать
// сообщение.
func (l *Limiter) Consume(_ context.Context, identity string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{tokens: l.capacity, refilledAt: now}
		l.buckets[identity] = b
	}
	b.seenAt = now

	if elapsed := now.Sub(b.refilledAt); elapsed >= l.interval {
		n := int(elapsed / l.interval)
		b.tokens = min(l.capacity, b.tokens+n*l.refill)
		b.refilledAt = b.refilledAt.Add(time.Duration(n) * l.interval)
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--

	return true
}

// Sweep удаляет бакеты, простаивающие дольше idle ttl, и возвращает их число.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, b := range l.buckets {
		if b.seenAt.Before(cutoff) {
			delete(l.buckets, id)
			removed++
		}
	}

	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.buckets)
}

// * Run чистит простаивающие бакеты до отмены ctx
func (l *Limiter) Run(ctx context.Context) error {
	const op = "ratelimit.Run"

	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if n := l.Sweep(); n > 0 {
			l.log.Debug("idle buckets removed", slog.String("op", op), slog.Int("count", n))
		}
	}
}

type TokenStore interface {
	TakeToken(
		ctx context.Context,
		identity string,
		capacity, refill int,
		interval time.Duration,
		now time.Time,
		idleTTL time.Duration,
	) (bool, error)
}

// RedisLimiter - тот же бакет внутри Redis. При ошибке Redis сообщение
// пропускается.
type RedisLimiter struct {
	log      *slog.Logger
	store    TokenStore
	now      func() time.Time
	capacity int
	refill   int
	interval time.Duration
	idleTTL  time.Duration
}

func NewRedis(log *slog.Logger, store TokenStore, cfg config.RateLimit) *RedisLimiter {
	capacity, refill, interval, idleTTL := withDefaults(cfg)

	return &RedisLimiter{
		log:      log,
		store:    store,
		now:      time.Now,
		capacity: capacity,
		refill:   refill,
		interval: interval,
		idleTTL:  idleTTL,
	}
}

func (l *RedisLimiter) Consume(ctx context.Context, identity string) bool {
	const op = "ratelimit.RedisLimiter.Consume"

	ok, err := l.store.TakeToken(ctx, identity, l.capacity, l.refill, l.interval, l.now(), l.idleTTL)
	if err != nil {
		l.log.Warn("shared rate limit unavailable",
			slog.String("op", op),
			slog.String("identity", identity),
			sl.Err(err),
		)
		return true
	}

	return ok
}

func withDefaults(cfg config.RateLimit) (int, int, time.Duration, time.Duration) {
	capacity, refill, interval, idleTTL := cfg.Capacity, cfg.Refill, cfg.Interval, cfg.IdleTTL

	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if refill <= 0 {
		refill = defaultRefill
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}

	return capacity, refill, interval, idleTTL
}
