package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"glamstore/internal/storage"

	"github.com/redis/go-redis/v9"
)

const (
	SyncLeaseKey    = "glamstore:sync:lease"
	rateLimitPrefix = "glamstore:ratelimit:"
)

// releaseScript удаляет lease, только пока он принадлежит вызывающему.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// takeTokenScript - token bucket из ratelimit.Limiter, выполняемый атомарно
// на сервере. Пополнение целыми интервалами.
var takeTokenScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill   = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now      = tonumber(ARGV[4])
local ttl      = tonumber(ARGV[5])

local state  = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local tokens = tonumber(state[1])
local last   = tonumber(state[2])

if tokens == nil or last == nil then
	tokens = capacity
	last = now
end

if now - last >= interval then
	local n = math.floor((now - last) / interval)
	tokens = math.min(capacity, tokens + n * refill)
	last = last + n * interval
end

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last', last)
redis.call('PEXPIRE', KEYS[1], ttl)

return allowed
`)

type RedisRepo struct {
	client   *redis.Client
	LeaseTTL time.Duration
}

func New(ctx context.Context, address string, db int, leaseTTL time.Duration) (*RedisRepo, error) {
	const op = "storage.redis.New"

	rdb := redis.NewClient(&redis.Options{
		Addr: address,
		DB:   db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisRepo{
		client:   rdb,
		LeaseTTL: leaseTTL,
	}, nil
}

// * Acquire берёт lease на синхронизацию каталога (SET NX PX)
func (r *RedisRepo) Acquire(ctx context.Context, owner string) error {
	const op = "storage.redis.Acquire"

	ok, err := r.client.SetNX(ctx, SyncLeaseKey, owner, r.LeaseTTL).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		return storage.ErrLeaseHeld
	}

	return nil
}

// * Release отпускает lease, если он всё ещё принадлежит owner
func (r *RedisRepo) Release(ctx context.Context, owner string) error {
	const op = "storage.redis.Release"

	if err := releaseScript.Run(ctx, r.client, []string{SyncLeaseKey}, owner).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * TakeToken берёт один токен из общего бакета identity
func (r *RedisRepo) TakeToken(
	ctx context.Context,
	identity string,
	capacity, refill int,
	interval time.Duration,
	now time.Time,
	idleTTL time.Duration,
) (bool, error) {
	const op = "storage.redis.TakeToken"

	allowed, err := takeTokenScript.Run(ctx, r.client,
		[]string{rateLimitPrefix + identity},
		capacity,
		refill,
		interval.Milliseconds(),
		now.UnixMilli(),
		idleTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return allowed == 1, nil
}

// Close закрывает соединение с базой данных.
func (r *RedisRepo) Close() {
	r.client.Close()
}
