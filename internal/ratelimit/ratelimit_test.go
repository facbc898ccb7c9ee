package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"glamstore/internal/config"
	sl "glamstore/internal/lib/logger"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLimiter(c *clock) *Limiter {
	return New(sl.NewDiscardLogger(), config.RateLimit{}, WithClock(c.Now))
}

func allowed(l *Limiter, identity string, n int) int {
	ok := 0
	for range n {
		if l.Consume(context.Background(), identity) {
			ok++
		}
	}
	return ok
}

func TestConsume(t *testing.T) {
	c := &clock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	l := newLimiter(c)

	assert.Equal(t, 10, allowed(l, "56911111111", 10))
	assert.False(t, l.Consume(context.Background(), "56911111111"))

	c.Advance(5 * time.Second)
	assert.Equal(t, 2, allowed(l, "56911111111", 5))
}

func TestConsumeRefill(t *testing.T) {
	c := &clock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	l := newLimiter(c)

	allowed(l, "a", 10)

	// неполный интервал не пополняет и не теряется
	c.Advance(4 * time.Second)
	assert.False(t, l.Consume(context.Background(), "a"))
	c.Advance(2 * time.Second)
	assert.Equal(t, 2, allowed(l, "a", 5))

	// пополнение ограничено capacity
	c.Advance(time.Hour)
	assert.Equal(t, 10, allowed(l, "a", 20))
}

func TestConsumePerIdentity(t *testing.T) {
	c := &clock{now: time.Now()}
	l := newLimiter(c)

	allowed(l, "a", 10)
	assert.False(t, l.Consume(context.Background(), "a"))
	assert.True(t, l.Consume(context.Background(), "b"))
}

func TestConsumeConcurrent(t *testing.T) {
	c := &clock{now: time.Now()}
	l := newLimiter(c)

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Consume(context.Background(), "same") {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
}

func TestSweep(t *testing.T) {
	c := &clock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	l := newLimiter(c)

	l.Consume(context.Background(), "old")
	c.Advance(30 * time.Minute)
	l.Consume(context.Background(), "recent")
	c.Advance(31 * time.Minute)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

type tokenStore struct {
	allow bool
	err   error
	got   []any
}

func (s *tokenStore) TakeToken(
	_ context.Context,
	identity string,
	capacity, refill int,
	interval time.Duration,
	_ time.Time,
	idleTTL time.Duration,
) (bool, error) {
	s.got = []any{identity, capacity, refill, interval, idleTTL}
	return s.allow, s.err
}

func TestRedisLimiter(t *testing.T) {
	store := &tokenStore{allow: false}
	l := NewRedis(sl.NewDiscardLogger(), store, config.RateLimit{})

	assert.False(t, l.Consume(context.Background(), "a"))
	assert.Equal(t, []any{"a", 10, 2, 5 * time.Second, time.Hour}, store.got)

	store.err = errors.New("connection refused")
	assert.True(t, l.Consume(context.Background(), "a"))
}
