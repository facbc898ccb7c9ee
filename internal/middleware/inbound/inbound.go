// Package inbound - конвейер входящих сообщений перед каталогом: дедупликация,
// ограничение по отправителю, проверка устаревания и поиск.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sl "glamstore/internal/lib/logger"
	"glamstore/internal/metrics"
	"glamstore/internal/models"
)

const (
	StatusIgnoredDuplicate = "ignored_duplicate"
	StatusRateLimited      = "rate_limited"
	StatusOK               = "ok"
)

var ErrCheckoutDisabled = errors.New("checkout is disabled in magazine mode")

type Deduper interface {
	CheckAndMark(ctx context.Context, messageID string) bool
}

type RateLimiter interface {
	Consume(ctx context.Context, identity string) bool
}

type Catalog interface {
	TriggerSyncIfStale(maxAge time.Duration) bool
	Mode(ctx context.Context) (bool, error)
}

type Searcher interface {
	Search(ctx context.Context, rawQuery string) models.SearchResult
}

type CheckoutBuilder interface {
	Build(ctx context.Context, ids []int64) (*models.CheckoutResult, error)
}

type Message struct {
	ID     string `json:"message_id"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type Outcome struct {
	Status string               `json:"status"`
	Result *models.SearchResult `json:"result,omitempty"`
}

type Operator struct {
	log        *slog.Logger
	dedup      Deduper
	limiter    RateLimiter
	catalog    Catalog
	search     Searcher
	checkout   CheckoutBuilder
	metrics    *metrics.Metrics
	staleAfter time.Duration
}

func New(
	log *slog.Logger,
	dedup Deduper,
	limiter RateLimiter,
	catalog Catalog,
	search Searcher,
	checkout CheckoutBuilder,
	m *metrics.Metrics,
	staleAfter time.Duration,
) *Operator {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}

	return &Operator{
		log:        log,
		dedup:      dedup,
		limiter:    limiter,
		catalog:    catalog,
		search:     search,
		checkout:   checkout,
		metrics:    m,
		staleAfter: staleAfter,
	}
}

// Handle проводит одно входящее сообщение через конвейер.
func (o *Operator) Handle(ctx context.Context, msg Message) Outcome {
	const op = "inbound.Handle"

	log := o.log.With(
		slog.String("op", op),
		slog.String("message_id", msg.ID),
	)

	if o.dedup.CheckAndMark(ctx, msg.ID) {
		log.Debug("duplicate message ignored")
		return o.finish(Outcome{Status: StatusIgnoredDuplicate})
	}

	if !o.limiter.Consume(ctx, msg.Sender) {
		log.Info("sender throttled", slog.String("sender", msg.Sender))
		return o.finish(Outcome{Status: StatusRateLimited})
	}

	if o.catalog.TriggerSyncIfStale(o.staleAfter) {
		log.Info("stale catalog, sync started")
	}

	res := o.search.Search(ctx, msg.Text)

	return o.finish(Outcome{Status: StatusOK, Result: &res})
}

// Checkout создаёт черновик заказа, если магазин не в режиме витрины.
// Нечитаемый режим считается режимом витрины.
func (o *Operator) Checkout(ctx context.Context, ids []int64) (*models.CheckoutResult, error) {
	const op = "inbound.Checkout"

	magazine, err := o.catalog.Mode(ctx)
	if err != nil {
		o.log.Warn("operating mode unavailable", slog.String("op", op), sl.Err(err))
	}

	if magazine {
		return nil, ErrCheckoutDisabled
	}

	res, err := o.checkout.Build(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

func (o *Operator) finish(out Outcome) Outcome {
	o.metrics.InboundHandled(out.Status)
	return out
}
