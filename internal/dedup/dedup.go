// Package dedup запоминает id обработанных входящих сообщений, чтобы повторные
// доставки обрабатывались один раз.
package dedup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"glamstore/internal/config"
	sl "glamstore/internal/lib/logger"
	"glamstore/internal/storage"
)

const (
	busyAttempts = 3
	busyBackoff  = 200 * time.Millisecond
)

type Repository interface {
	InsertProcessedMessage(ctx context.Context, messageID string, at time.Time) error
	DeleteProcessedMessagesBefore(ctx context.Context, before time.Time) (int64, error)
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithSleep подменяет ожидание между попытками при занятом хранилище.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(r *Registry) { r.sleep = sleep }
}

type Registry struct {
	log           *slog.Logger
	repo          Repository
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration)
	retention     time.Duration
	pruneInterval time.Duration
}

func New(log *slog.Logger, repo Repository, cfg config.Dedup, opts ...Option) *Registry {
	r := &Registry{
		log:           log,
		repo:          repo,
		now:           time.Now,
		sleep:         sleepCtx,
		retention:     cfg.Retention,
		pruneInterval: cfg.PruneInterval,
	}

	if r.retention <= 0 {
		r.retention = 7 * 24 * time.Hour
	}
	if r.pruneInterval <= 0 {
		r.pruneInterval = time.Hour
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// * CheckAndMark записывает messageID и сообщает, встречался ли он раньше.
// Пустой id считается повтором. Если хранилище занято или падает, сообщение
// пропускается
func (r *Registry) CheckAndMark(ctx context.Context, messageID string) bool {
	const op = "dedup.CheckAndMark"

	if messageID == "" {
		return true
	}

	log := r.log.With(
		slog.String("op", op),
		slog.String("message_id", messageID),
	)

	var err error
	for attempt := 1; attempt <= busyAttempts; attempt++ {
		err = r.repo.InsertProcessedMessage(ctx, messageID, r.now().UTC())

		switch {
		case err == nil:
			return false
		case errors.Is(err, storage.ErrMessageExists):
			return true
		case !errors.Is(err, storage.ErrStoreBusy):
			log.Error("failed to mark message", sl.Err(err))
			return false
		}

		if attempt < busyAttempts {
			log.Debug("store busy, retrying", slog.Int("attempt", attempt))
			r.sleep(ctx, busyBackoff)
		}
	}

	log.Warn("store still busy, message let through", sl.Err(err))

	return false
}

// Prune удаляет записи старше окна хранения.
func (r *Registry) Prune(ctx context.Context) (int64, error) {
	return r.repo.DeleteProcessedMessagesBefore(ctx, r.now().UTC().Add(-r.retention))
}

// Run чистит записи каждые prune interval до отмены ctx.
func (r *Registry) Run(ctx context.Context) error {
	const op = "dedup.Run"

	log := r.log.With(slog.String("op", op))

	ticker := time.NewTicker(r.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := r.Prune(ctx)
		if err != nil {
			log.Error("prune failed", sl.Err(err))
			continue
		}
		if n > 0 {
			log.Info("processed messages pruned", slog.Int64("count", n))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
