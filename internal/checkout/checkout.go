// Package checkout превращает выбранные id продуктов в черновик заказа Shopify.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"glamstore/internal/catalog"
	sl "glamstore/internal/lib/logger"
	"glamstore/internal/metrics"
	"glamstore/internal/models"
	"glamstore/internal/shopify"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	orderNote = "Bot Venta"
	orderTag  = "whatsapp-bot"
)

var ErrNoItems = errors.New("none of the selected products is in the catalog")

type Catalog interface {
	Snapshot(ctx context.Context) *catalog.Snapshot
	ForceSync() bool
}

type OrderCreator interface {
	CreateDraftOrder(ctx context.Context, order shopify.DraftOrder) (shopify.DraftOrderResult, error)
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, msg any) error
}

type Option func(*Builder)

func WithEvents(p EventPublisher) Option {
	return func(b *Builder) { b.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

type Builder struct {
	log     *slog.Logger
	catalog Catalog
	orders  OrderCreator
	events  EventPublisher
	metrics *metrics.Metrics
	timeout time.Duration
}

func New(log *slog.Logger, c Catalog, orders OrderCreator, timeout time.Duration, opts ...Option) *Builder {
	b := &Builder{
		log:     log,
		catalog: c,
		orders:  orders,
		timeout: timeout,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// * Build создаёт по строке на каждое вхождение id. Неизвестные id
// отбрасываются, если не осталось ни одного - ErrNoItems. Удалённый вызов
// не повторяется
func (b *Builder) Build(ctx context.Context, ids []int64) (*models.CheckoutResult, error) {
	const op = "checkout.Build"

	log := b.log.With(slog.String("op", op))

	snap := b.catalog.Snapshot(ctx)

	items := make([]models.Product, 0, len(ids))
	lines := make([]shopify.LineItem, 0, len(ids))
	total := decimal.Zero

	for _, id := range ids {
		p, ok := snap.Product(id)
		if !ok {
			log.Debug("unknown product dropped", slog.Int64("product_id", id))
			continue
		}

		items = append(items, p)
		lines = append(lines, shopify.LineItem{VariantID: p.VariantID, Quantity: 1})
		total = total.Add(p.Price)
	}

	if len(items) == 0 {
		return nil, ErrNoItems
	}

	reference := uuid.NewString()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	order, err := b.orders.CreateDraftOrder(ctx, shopify.DraftOrder{
		LineItems: lines,
		Note:      orderNote,
		Tags:      orderTag + ", ref-" + reference,
	})
	b.metrics.CheckoutFinished(err)
	if err != nil {
		log.Error("draft order failed", slog.String("reference", reference), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// остатки в магазине изменились
	b.catalog.ForceSync()

	res := &models.CheckoutResult{
		Items:        items,
		Total:        total,
		PaymentURL:   order.InvoiceURL,
		DraftOrderID: order.ID,
		Reference:    reference,
	}

	log.Info("draft order created",
		slog.String("reference", reference),
		slog.Int64("draft_order_id", order.ID),
		slog.Int("lines", len(lines)),
		slog.String("total", total.String()),
	)

	b.emit(ctx, log, res)

	return res, nil
}

func (b *Builder) emit(ctx context.Context, log *slog.Logger, res *models.CheckoutResult) {
	if b.events == nil {
		return
	}

	ids := make([]int64, 0, len(res.Items))
	for _, p := range res.Items {
		ids = append(ids, p.ID)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := b.events.PublishJSON(ctx, models.Event{
		Type:       models.EventCheckoutCreated,
		OccurredAt: time.Now().UTC(),
		Reference:  res.Reference,
		Total:      res.Total,
		ProductIDs: ids,
	})
	if err != nil {
		log.Warn("event publish failed", sl.Err(err))
	}
}
