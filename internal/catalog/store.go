// Package catalog зеркалирует удалённый каталог в постоянное хранилище
// и отдаёт его читателям как неизменяемый снапшот в памяти.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"glamstore/internal/config"
	sl "glamstore/internal/lib/logger"
	"glamstore/internal/metrics"
	"glamstore/internal/models"
	"glamstore/internal/shopify"
	"glamstore/internal/storage"
)

var ErrSyncInProgress = errors.New("catalog sync already running")

type Source interface {
	FetchProducts(ctx context.Context, first int, after, filter string) (shopify.ProductsPage, error)
}

type Repository interface {
	UpsertProducts(ctx context.Context, products []models.Product) error
	DeleteProductsNotIn(ctx context.Context, ids []int64) (int64, error)
	Products(ctx context.Context) ([]models.Product, error)
	CountProducts(ctx context.Context) (int, error)
	ConfigValue(ctx context.Context, key string) (string, error)
	SetConfigValue(ctx context.Context, key, value string) error
}

// Locker - lease, общий для всех реплик сервиса.
type Locker interface {
	Acquire(ctx context.Context, owner string) error
	Release(ctx context.Context, owner string) error
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, msg any) error
}

type Option func(*Store)

func WithLocker(l Locker) Option {
	return func(s *Store) { s.locker = l }
}

func WithEvents(p EventPublisher) Option {
	return func(s *Store) { s.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	log     *slog.Logger
	repo    Repository
	source  Source
	locker  Locker
	events  EventPublisher
	metrics *metrics.Metrics
	now     func() time.Time

	pageSize int
	interval time.Duration

	// родитель фоновых синхронизаций, отменяется при остановке
	ctx context.Context

	snapshot atomic.Pointer[Snapshot]
	version  atomic.Uint64
	healMu   sync.Mutex

	running atomic.Bool
	wg      sync.WaitGroup

	mu        sync.RWMutex
	state     models.SyncState
	lastSync  *time.Time
	lastError string
}

func New(
	ctx context.Context,
	log *slog.Logger,
	repo Repository,
	source Source,
	cfg config.Catalog,
	opts ...Option,
) *Store {
	s := &Store{
		log:      log,
		repo:     repo,
		source:   source,
		now:      time.Now,
		pageSize: cfg.PageSize,
		interval: cfg.SyncInterval,
		ctx:      ctx,
		state:    models.SyncIdle,
	}

	if s.pageSize <= 0 {
		s.pageSize = 50
	}
	if s.interval <= 0 {
		s.interval = 30 * time.Minute
	}

	for _, opt := range opts {
		opt(s)
	}

	s.snapshot.Store(NewSnapshot(0, nil))

	return s
}

// * Bootstrap публикует то, что лежит в хранилище. Пустое хранилище не ошибка.
func (s *Store) Bootstrap(ctx context.Context) error {
	const op = "catalog.Bootstrap"

	products, err := s.repo.Products(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.publish(products)

	s.log.Info("catalog loaded from store",
		slog.String("op", op),
		slog.Int("count", len(products)),
	)

	return nil
}

// Snapshot возвращает опубликованный каталог. Если он пуст, а хранилище нет,
// один раз перечитывает хранилище.
func (s *Store) Snapshot(ctx context.Context) *Snapshot {
	const op = "catalog.Snapshot"

	snap := s.snapshot.Load()
	if snap.Len() > 0 {
		return snap
	}

	// кто-то уже перечитывает
	if !s.healMu.TryLock() {
		return snap
	}
	defer s.healMu.Unlock()

	count, err := s.repo.CountProducts(ctx)
	if err != nil || count == 0 {
		return s.snapshot.Load()
	}

	products, err := s.repo.Products(ctx)
	if err != nil {
		s.log.Warn("snapshot reload failed", slog.String("op", op), sl.Err(err))
		return s.snapshot.Load()
	}

	fresh := NewSnapshot(s.version.Add(1), products)
	if !s.snapshot.CompareAndSwap(snap, fresh) {
		return s.snapshot.Load()
	}

	s.metrics.SnapshotPublished(fresh.Len())
	s.log.Warn("empty snapshot reloaded from store",
		slog.String("op", op),
		slog.Int("count", fresh.Len()),
	)

	return fresh
}

// TriggerSyncIfStale запускает фоновую синхронизацию, если успешной ещё не было
// или последняя старше maxAge.
func (s *Store) TriggerSyncIfStale(maxAge time.Duration) bool {
	s.mu.RLock()
	last := s.lastSync
	s.mu.RUnlock()

	if last != nil && s.now().Sub(*last) <= maxAge {
		return false
	}

	return s.spawn()
}

// ForceSync запускает фоновую синхронизацию, если она ещё не идёт.
func (s *Store) ForceSync() bool {
	return s.spawn()
}

func (s *Store) Status() models.SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := models.SyncStatus{
		Count:     s.snapshot.Load().Len(),
		State:     s.state,
		LastError: s.lastError,
	}

	if s.lastSync != nil {
		t := *s.lastSync
		st.LastSync = &t
	}

	return st
}

// SyncNow синхронизирует в вызывающей горутине.
func (s *Store) SyncNow(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer s.running.Store(false)

	return s.sync(ctx)
}

// * Run синхронизирует сразу и затем каждый interval до отмены ctx
func (s *Store) Run(ctx context.Context) error {
	const op = "catalog.Run"

	log := s.log.With(slog.String("op", op))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.SyncNow(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			log.Error("periodic sync failed", sl.Err(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Wait ждёт завершения фоновых синхронизаций.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Mode сообщает, работает ли магазин в режиме витрины. Незаданный или
// нечитаемый флаг означает режим витрины.
func (s *Store) Mode(ctx context.Context) (bool, error) {
	const op = "catalog.Mode"

	v, err := s.repo.ConfigValue(ctx, storage.KeyMagazineMode)
	if err != nil {
		if errors.Is(err, storage.ErrConfigNotFound) {
			return true, nil
		}
		return true, fmt.Errorf("%s: %w", op, err)
	}

	magazine, err := strconv.ParseBool(v)
	if err != nil {
		s.log.Warn("invalid operating mode value",
			slog.String("op", op),
			slog.String("value", v),
		)
		return true, nil
	}

	return magazine, nil
}

func (s *Store) SetMode(ctx context.Context, magazine bool) error {
	const op = "catalog.SetMode"

	if err := s.repo.SetConfigValue(ctx, storage.KeyMagazineMode, strconv.FormatBool(magazine)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Store) spawn() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		if err := s.sync(s.ctx); err != nil {
			s.log.Error("background sync failed", sl.Err(err))
		}
	}()

	return true
}

func (s *Store) publish(products []models.Product) *Snapshot {
	snap := NewSnapshot(s.version.Add(1), products)
	s.snapshot.Store(snap)
	s.metrics.SnapshotPublished(snap.Len())

	return snap
}

func (s *Store) setState(state models.SyncState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Store) fail(err error) {
	s.mu.Lock()
	s.state = models.SyncError
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *Store) succeed(at time.Time) {
	s.mu.Lock()
	s.state = models.SyncOK
	s.lastError = ""
	s.lastSync = &at
	s.mu.Unlock()
}
