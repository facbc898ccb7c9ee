package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sl "glamstore/internal/lib/logger"
	"glamstore/internal/lib/normalize"
	"glamstore/internal/models"
	"glamstore/internal/shopify"
	"glamstore/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// filterIndexTag вешают приложения Shopify на каждый продукт
const filterIndexTag = "Smart Products Filter Index - Do not delete"

var (
	errOutOfStock     = errors.New("out of stock")
	errNoVariant      = errors.New("product has no variants")
	errCursorStuck    = errors.New("pagination cursor did not advance")
	errInvalidPrice   = errors.New("invalid price")
	errInvalidVariant = errors.New("invalid variant id")
)

type syncResult struct {
	seen    int
	skipped int
	deleted int64
}

func (s *Store) sync(ctx context.Context) error {
	const op = "catalog.sync"

	runID := uuid.NewString()
	log := s.log.With(
		slog.String("op", op),
		slog.String("run_id", runID),
	)

	if s.locker != nil {
		err := s.locker.Acquire(ctx, runID)
		switch {
		case errors.Is(err, storage.ErrLeaseHeld):
			log.Info("sync skipped, another replica holds the lease")
			return nil
		case err != nil:
			log.Warn("lease unavailable, syncing without it", sl.Err(err))
		default:
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()

				if err := s.locker.Release(releaseCtx, runID); err != nil {
					log.Warn("lease release failed", sl.Err(err))
				}
			}()
		}
	}

	start := s.now()
	s.setState(models.SyncSyncing)
	log.Info("catalog sync started")

	res, err := s.reconcile(ctx, log)
	if err == nil {
		err = s.reload(ctx)
	}

	s.metrics.SyncFinished(err, s.now().Sub(start))

	if err != nil {
		s.fail(err)
		return fmt.Errorf("%s: %w", op, err)
	}

	s.succeed(s.now())

	count := s.snapshot.Load().Len()
	log.Info("catalog sync finished",
		slog.Int("count", count),
		slog.Int("seen", res.seen),
		slog.Int("skipped", res.skipped),
		slog.Int64("deleted", res.deleted),
		slog.Duration("took", s.now().Sub(start)),
	)

	s.emit(ctx, log, models.Event{
		Type:       models.EventCatalogSynced,
		OccurredAt: s.now().UTC(),
		Count:      count,
		Deleted:    res.deleted,
	})

	return nil
}

// reconcile проходит каталог постранично, записывая каждую страницу сразу,
// затем удаляет продукты, которых больше нет в выгрузке.
func (s *Store) reconcile(ctx context.Context, log *slog.Logger) (syncResult, error) {
	var res syncResult

	magazine, err := s.Mode(ctx)
	if err != nil {
		return res, err
	}

	filter := shopify.SellableFilter
	if magazine {
		filter = ""
	}

	seen := make(map[int64]struct{})
	ids := make([]int64, 0, s.pageSize)
	after := ""

	for page := 1; ; page++ {
		resp, err := s.source.FetchProducts(ctx, s.pageSize, after, filter)
		if err != nil {
			return res, fmt.Errorf("page %d: %w", page, err)
		}

		for _, r := range resp.Rejected {
			res.skipped++
			log.Warn("product skipped", slog.String("gid", r.ID), sl.Err(r.Err))
		}

		batch := make([]models.Product, 0, len(resp.Products))
		for _, node := range resp.Products {
			p, err := toProduct(node, magazine, s.now())
			if err != nil {
				res.skipped++
				if !errors.Is(err, errOutOfStock) {
					log.Warn("product skipped", slog.String("gid", node.ID), sl.Err(err))
				}
				continue
			}

			if _, ok := seen[p.ID]; !ok {
				seen[p.ID] = struct{}{}
				ids = append(ids, p.ID)
			}
			batch = append(batch, p)
		}

		if err := s.repo.UpsertProducts(ctx, batch); err != nil {
			return res, fmt.Errorf("page %d: %w", page, err)
		}

		log.Debug("page stored", slog.Int("page", page), slog.Int("products", len(batch)))

		if !resp.PageInfo.HasNextPage {
			break
		}

		if resp.PageInfo.EndCursor == "" || resp.PageInfo.EndCursor == after {
			return res, fmt.Errorf("page %d: %w", page, errCursorStuck)
		}
		after = resp.PageInfo.EndCursor
	}

	res.seen = len(ids)

	// пустая выгрузка никогда не очищает хранилище
	if len(ids) == 0 {
		log.Warn("remote listing is empty, reconciliation skipped")
		return res, nil
	}

	deleted, err := s.repo.DeleteProductsNotIn(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("delete stale products: %w", err)
	}
	res.deleted = deleted

	return res, nil
}

func (s *Store) reload(ctx context.Context) error {
	products, err := s.repo.Products(ctx)
	if err != nil {
		return fmt.Errorf("reload snapshot: %w", err)
	}

	s.publish(products)

	return nil
}

func (s *Store) emit(ctx context.Context, log *slog.Logger, ev models.Event) {
	if s.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.events.PublishJSON(ctx, ev); err != nil {
		log.Warn("event publish failed", slog.String("type", string(ev.Type)), sl.Err(err))
	}
}

// toProduct превращает узел выгрузки в Product. В режиме продаж вариант без
// остатка и без предзаказа отклоняется с errOutOfStock.
func toProduct(node shopify.ProductNode, magazine bool, now time.Time) (models.Product, error) {
	variants := node.Variants.Nodes()
	if len(variants) == 0 {
		return models.Product{}, errNoVariant
	}
	v := variants[0]

	if !magazine && !v.Backorder() && v.Quantity() <= 0 {
		return models.Product{}, errOutOfStock
	}

	id, err := shopify.ParseGID(node.ID)
	if err != nil {
		return models.Product{}, err
	}

	variantID, err := shopify.ParseGID(v.ID)
	if err != nil {
		return models.Product{}, fmt.Errorf("%w: %s", errInvalidVariant, v.ID)
	}

	price, err := decimal.NewFromString(v.Price)
	if err != nil {
		return models.Product{}, fmt.Errorf("%w: %q", errInvalidPrice, v.Price)
	}

	var compareAt decimal.NullDecimal
	if v.CompareAtPrice != nil && *v.CompareAtPrice != "" {
		d, err := decimal.NewFromString(*v.CompareAtPrice)
		if err != nil {
			return models.Product{}, fmt.Errorf("%w: compare at %q", errInvalidPrice, *v.CompareAtPrice)
		}
		compareAt = decimal.NewNullDecimal(d)
	}

	category := node.ProductType
	if node.Category != nil && node.Category.Name != "" {
		category = node.Category.Name
	}

	tags := mergeTags(node)

	var body string
	if node.DescriptionHTML != nil {
		body = *node.DescriptionHTML
	}

	images := make([]string, 0, len(node.Images.Edges))
	for _, img := range node.Images.Nodes() {
		if img.URL != "" {
			images = append(images, img.URL)
		}
	}

	updatedAt := node.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	return models.Product{
		ID:             id,
		Title:          node.Title,
		Price:          price,
		CompareAtPrice: compareAt,
		Stock:          max(v.Quantity(), 0),
		Vendor:         node.Vendor,
		Category:       category,
		Tags:           tags,
		BodyHTML:       body,
		Handle:         node.Handle,
		Images:         images,
		SearchText: normalize.Normalize(
			node.Title + " " + node.Vendor + " " + category + " " + strings.Join(tags, ", "),
		),
		VariantID: variantID,
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

// mergeTags - теги продукта и названия его коллекций в порядке первого
// появления, без тега фильтра.
func mergeTags(node shopify.ProductNode) []string {
	collections := node.Collections.Nodes()

	tags := make([]string, 0, len(node.Tags)+len(collections))
	seen := make(map[string]struct{}, cap(tags))

	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" || t == filterIndexTag {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}

	for _, t := range node.Tags {
		add(t)
	}
	for _, c := range collections {
		add(c.Title)
	}

	return tags
}
