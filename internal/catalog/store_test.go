package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"glamstore/internal/config"
	sl "glamstore/internal/lib/logger"
	"glamstore/internal/models"
	"glamstore/internal/shopify"
	"glamstore/internal/storage"
	"glamstore/internal/storage/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	pages    [][]shopify.ProductNode
	rejected map[int][]shopify.RejectedNode
	failAt   int
	err      error
	filters  []string
	block    chan struct{}
	calls    atomic.Int32
}

func (f *fakeSource) setPages(pages ...[]shopify.ProductNode) {
	f.mu.Lock()
	f.pages = pages
	f.failAt = -1
	f.mu.Unlock()
}

func (f *fakeSource) failOn(page int, err error) {
	f.mu.Lock()
	f.failAt = page
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) FetchProducts(ctx context.Context, first int, after, filter string) (shopify.ProductsPage, error) {
	f.calls.Add(1)

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return shopify.ProductsPage{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.filters = append(f.filters, filter)

	idx := 0
	if after != "" {
		idx, _ = strconv.Atoi(strings.TrimPrefix(after, "p"))
	}

	if f.failAt == idx {
		return shopify.ProductsPage{}, f.err
	}

	if idx >= len(f.pages) {
		return shopify.ProductsPage{}, nil
	}

	return shopify.ProductsPage{
		Products: f.pages[idx],
		Rejected: f.rejected[idx],
		PageInfo: shopify.PageInfo{
			HasNextPage: idx < len(f.pages)-1,
			EndCursor:   fmt.Sprintf("p%d", idx+1),
		},
	}, nil
}

func node(id int64, title, vendor, price string, qty int, policy string) shopify.ProductNode {
	var n shopify.ProductNode

	n.ID = fmt.Sprintf("gid://shopify/Product/%d", id)
	n.Title = title
	n.Vendor = vendor
	n.ProductType = "Perfume"
	n.Handle = strings.ToLower(strings.ReplaceAll(title, " ", "-"))
	n.Tags = []string{"Arabe"}
	n.UpdatedAt = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	n.Variants.Edges = append(n.Variants.Edges, struct {
		Node shopify.VariantNode `json:"node"`
	}{Node: shopify.VariantNode{
		ID:                fmt.Sprintf("gid://shopify/ProductVariant/%d", id*100),
		Price:             price,
		InventoryQuantity: &qty,
		InventoryPolicy:   policy,
	}})

	return n
}

type fakeLocker struct {
	err      error
	acquired []string
	released []string
}

func (l *fakeLocker) Acquire(_ context.Context, owner string) error {
	if l.err != nil {
		return l.err
	}
	l.acquired = append(l.acquired, owner)
	return nil
}

func (l *fakeLocker) Release(_ context.Context, owner string) error {
	l.released = append(l.released, owner)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []models.Event
}

func (e *fakeEvents) PublishJSON(_ context.Context, msg any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, msg.(models.Event))
	return nil
}

func newTestStore(t *testing.T, src Source, opts ...Option) (*Store, *sqlite.Store) {
	t.Helper()

	repo, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	s := New(context.Background(), sl.NewDiscardLogger(), repo, src, config.Catalog{
		SyncInterval: time.Hour,
		PageSize:     2,
	}, opts...)

	return s, repo
}

func seed(t *testing.T, repo *sqlite.Store, ids ...int64) {
	t.Helper()

	products := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		products = append(products, models.Product{
			ID:        id,
			Title:     fmt.Sprintf("seed %d", id),
			Price:     decimal.NewFromInt(1000),
			UpdatedAt: time.Now(),
		})
	}

	require.NoError(t, repo.UpsertProducts(context.Background(), products))
}

func ids(products []models.Product) []int64 {
	out := make([]int64, 0, len(products))
	for _, p := range products {
		out = append(out, p.ID)
	}
	return out
}

func TestSyncReconciles(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.setPages(
		[]shopify.ProductNode{
			node(1, "Lattafa Mayar Spray", "Lattafa", "12000.00", 3, "DENY"),
			node(2, "Maison Alhambra Glacier Ultra", "Maison Alhambra", "15000.00", 1, "DENY"),
		},
		[]shopify.ProductNode{
			node(3, "Armaf Club de Nuit", "Armaf", "25000.50", 2, "DENY"),
		},
	)

	s, repo := newTestStore(t, src)
	seed(t, repo, 99)
	require.NoError(t, s.Bootstrap(ctx))
	require.Equal(t, 1, s.Snapshot(ctx).Len())

	require.NoError(t, s.SyncNow(ctx))

	stored, err := repo.Products(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(stored))

	snap := s.Snapshot(ctx)
	assert.Equal(t, 3, snap.Len())
	p, ok := snap.Product(3)
	require.True(t, ok)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("25000.5")))
	assert.Equal(t, int64(300), p.VariantID)

	st := s.Status()
	assert.Equal(t, models.SyncOK, st.State)
	assert.Equal(t, 3, st.Count)
	assert.NotNil(t, st.LastSync)
	assert.Empty(t, st.LastError)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestSyncSkipsMalformedNodes(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.setPages(
		[]shopify.ProductNode{
			node(1, "Lattafa Mayar Spray", "Lattafa", "12000.00", 3, "DENY"),
		},
		[]shopify.ProductNode{
			node(3, "Armaf Club de Nuit", "Armaf", "25000.50", 2, "DENY"),
		},
	)
	src.rejected = map[int][]shopify.RejectedNode{
		0: {{ID: "gid://shopify/Product/2", Err: shopify.ErrMalformedNode}},
	}

	s, repo := newTestStore(t, src)
	seed(t, repo, 2)

	require.NoError(t, s.SyncNow(ctx))

	stored, err := repo.Products(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(stored))
	assert.Equal(t, 2, s.Snapshot(ctx).Len())
	assert.Equal(t, models.SyncOK, s.Status().State)
}

func TestSyncEmptyListingKeepsStore(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.setPages()

	s, repo := newTestStore(t, src)
	seed(t, repo, 1, 2, 3)

	require.NoError(t, s.SyncNow(ctx))

	count, err := repo.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, models.SyncOK, s.Status().State)
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.setPages(
		[]shopify.ProductNode{
			node(1, "Lattafa Mayar Spray", "Lattafa", "12000", 3, "DENY"),
			node(2, "Glacier Ultra", "Maison Alhambra", "15000", 1, "DENY"),
		},
	)

	s, repo := newTestStore(t, src)

	require.NoError(t, s.SyncNow(ctx))
	first, err := repo.Products(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SyncNow(ctx))
	second, err := repo.Products(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSyncFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.setPages(
		[]shopify.ProductNode{node(1, "A", "Lattafa", "1000", 1, "DENY")},
	)

	s, repo := newTestStore(t, src)
	require.NoError(t, s.SyncNow(ctx))
	before := s.Snapshot(ctx)

	src.setPages(
		[]shopify.ProductNode{node(2, "B", "Armaf", "2000", 1, "DENY")},
		[]shopify.ProductNode{node(3, "C", "Armaf", "3000", 1, "DENY")},
	)
	src.failOn(1, errors.New("upstream timeout"))

	err := s.SyncNow(ctx)
	require.Error(t, err)

	assert.Same(t, before, s.Snapshot(ctx))

	st := s.Status()
	assert.Equal(t, models.SyncError, st.State)
	assert.Contains(t, st.LastError, "upstream timeout")
	assert.Equal(t, 1, st.Count)

	// первая страница записана, удаление не запускалось
	stored, err := repo.Products(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(stored))
}

func TestSyncModeFilter(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.setPages(
		[]shopify.ProductNode{
			node(1, "In stock", "Lattafa", "1000", 2, "DENY"),
			node(2, "Sold out", "Lattafa", "1000", 0, "DENY"),
			node(3, "Backorder", "Lattafa", "1000", 0, "CONTINUE"),
		},
	)

	s, repo := newTestStore(t, src)

	t.Run("magazine by default", func(t *testing.T) {
		require.NoError(t, s.SyncNow(ctx))

		assert.Equal(t, "", src.filters[len(src.filters)-1])
		assert.Equal(t, 3, s.Snapshot(ctx).Len())
	})

	t.Run("selling", func(t *testing.T) {
		require.NoError(t, s.SetMode(ctx, false))
		require.NoError(t, s.SyncNow(ctx))

		assert.Equal(t, shopify.SellableFilter, src.filters[len(src.filters)-1])

		stored, err := repo.Products(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, ids(stored))
	})
}

func TestSingleFlight(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	src.setPages([]shopify.ProductNode{node(1, "A", "Lattafa", "1000", 1, "DENY")})

	s, _ := newTestStore(t, src)

	require.True(t, s.ForceSync())
	assert.False(t, s.ForceSync())
	assert.False(t, s.TriggerSyncIfStale(time.Minute))
	assert.ErrorIs(t, s.SyncNow(context.Background()), ErrSyncInProgress)

	close(src.block)
	s.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, models.SyncOK, s.Status().State)

	assert.True(t, s.ForceSync())
	s.Wait()
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestTriggerSyncIfStale(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	src := &fakeSource{}
	src.setPages([]shopify.ProductNode{node(1, "A", "Lattafa", "1000", 1, "DENY")})

	s, _ := newTestStore(t, src, WithClock(clock))

	// синхронизаций ещё не было
	require.True(t, s.TriggerSyncIfStale(30*time.Minute))
	s.Wait()

	now.Add(int64(10 * time.Minute))
	assert.False(t, s.TriggerSyncIfStale(30*time.Minute))

	now.Add(int64(21 * time.Minute))
	assert.True(t, s.TriggerSyncIfStale(30*time.Minute))
	s.Wait()

	assert.Equal(t, int32(2), src.calls.Load())
}

func TestSnapshotSelfHeals(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t, &fakeSource{})

	assert.Equal(t, 0, s.Snapshot(ctx).Len())

	seed(t, repo, 1, 2)

	snap := s.Snapshot(ctx)
	assert.Equal(t, 2, snap.Len())
	assert.Same(t, snap, s.Snapshot(ctx))
}

func TestSnapshotAtomicity(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.setPages([]shopify.ProductNode{
		node(1, "A", "Lattafa", "1000", 1, "DENY"),
		node(2, "B", "Lattafa", "1000", 1, "DENY"),
	})

	s, _ := newTestStore(t, src)
	require.NoError(t, s.SyncNow(ctx))

	src.setPages(
		[]shopify.ProductNode{
			node(1, "A", "Lattafa", "1000", 1, "DENY"),
			node(2, "B", "Lattafa", "1000", 1, "DENY"),
		},
		[]shopify.ProductNode{
			node(3, "C", "Lattafa", "1000", 1, "DENY"),
			node(4, "D", "Lattafa", "1000", 1, "DENY"),
		},
	)

	stop := make(chan struct{})
	var (
		wg  sync.WaitGroup
		bad atomic.Int32
	)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}

				snap := s.Snapshot(ctx)
				switch snap.Len() {
				case 2:
					if _, ok := snap.Product(3); ok {
						bad.Add(1)
					}
				case 4:
					if _, ok := snap.Product(4); !ok {
						bad.Add(1)
					}
				default:
					bad.Add(1)
				}
			}
		}()
	}

	require.NoError(t, s.SyncNow(ctx))
	close(stop)
	wg.Wait()

	assert.Zero(t, bad.Load())
	assert.Equal(t, 4, s.Snapshot(ctx).Len())
}

func TestSyncLeaseAndEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("lease held", func(t *testing.T) {
		src := &fakeSource{}
		src.setPages([]shopify.ProductNode{node(1, "A", "Lattafa", "1000", 1, "DENY")})

		locker := &fakeLocker{err: storage.ErrLeaseHeld}
		s, _ := newTestStore(t, src, WithLocker(locker))

		require.NoError(t, s.SyncNow(ctx))
		assert.Zero(t, src.calls.Load())
		assert.Equal(t, models.SyncIdle, s.Status().State)
	})

	t.Run("lease released and event sent", func(t *testing.T) {
		src := &fakeSource{}
		src.setPages([]shopify.ProductNode{node(1, "A", "Lattafa", "1000", 1, "DENY")})

		locker := &fakeLocker{}
		events := &fakeEvents{}
		s, _ := newTestStore(t, src, WithLocker(locker), WithEvents(events))

		require.NoError(t, s.SyncNow(ctx))

		require.Len(t, locker.acquired, 1)
		assert.Equal(t, locker.acquired, locker.released)

		require.Len(t, events.events, 1)
		assert.Equal(t, models.EventCatalogSynced, events.events[0].Type)
		assert.Equal(t, 1, events.events[0].Count)
	})

	t.Run("lease store down", func(t *testing.T) {
		src := &fakeSource{}
		src.setPages([]shopify.ProductNode{node(1, "A", "Lattafa", "1000", 1, "DENY")})

		locker := &fakeLocker{err: errors.New("redis: connection refused")}
		s, _ := newTestStore(t, src, WithLocker(locker))

		require.NoError(t, s.SyncNow(ctx))
		assert.Equal(t, 1, s.Snapshot(ctx).Len())
		assert.Empty(t, locker.released)
	})
}

func TestMode(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t, &fakeSource{})

	magazine, err := s.Mode(ctx)
	require.NoError(t, err)
	assert.True(t, magazine)

	require.NoError(t, s.SetMode(ctx, false))
	magazine, err = s.Mode(ctx)
	require.NoError(t, err)
	assert.False(t, magazine)

	require.NoError(t, repo.SetConfigValue(ctx, storage.KeyMagazineMode, "garbage"))
	magazine, err = s.Mode(ctx)
	require.NoError(t, err)
	assert.True(t, magazine)
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	src.setPages([]shopify.ProductNode{node(1, "A", "Lattafa", "1000", 1, "DENY")})

	s, _ := newTestStore(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Status().State == models.SyncOK }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
