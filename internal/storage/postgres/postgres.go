package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"glamstore/internal/config"
	"glamstore/internal/models"
	"glamstore/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const schema = `
	CREATE TABLE IF NOT EXISTS products (
		id               BIGINT PRIMARY KEY,
		title            TEXT NOT NULL,
		price            NUMERIC(14, 2) NOT NULL,
		compare_at_price NUMERIC(14, 2),
		stock            INTEGER NOT NULL DEFAULT 0,
		vendor           TEXT NOT NULL DEFAULT '',
		category         TEXT NOT NULL DEFAULT '',
		tags             TEXT[] NOT NULL DEFAULT '{}',
		body_html        TEXT NOT NULL DEFAULT '',
		handle           TEXT NOT NULL DEFAULT '',
		images           TEXT[] NOT NULL DEFAULT '{}',
		search_text      TEXT NOT NULL DEFAULT '',
		variant_id       BIGINT NOT NULL DEFAULT 0,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS processed_messages (
		message_id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_processed_messages_created ON processed_messages (created_at);
`

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	poolConfig, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30
	// * конкуренция за блокировку отдаётся как 55P03, воркер не висит вечно
	poolConfig.ConnConfig.RuntimeParams["lock_timeout"] = "5s"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping failed: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

// * Migrate создаёт таблицы, если их нет
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	const op = "storage.postgres.Migrate"

	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

const upsertProductQuery = `
	INSERT INTO products (
		id, title, price, compare_at_price, stock, vendor, category, tags,
		body_html, handle, images, search_text, variant_id, updated_at
	)
	VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO UPDATE SET
		title            = EXCLUDED.title,
		price            = EXCLUDED.price,
		compare_at_price = EXCLUDED.compare_at_price,
		stock            = EXCLUDED.stock,
		vendor           = EXCLUDED.vendor,
		category         = EXCLUDED.category,
		tags             = EXCLUDED.tags,
		body_html        = EXCLUDED.body_html,
		handle           = EXCLUDED.handle,
		images           = EXCLUDED.images,
		search_text      = EXCLUDED.search_text,
		variant_id       = EXCLUDED.variant_id,
		updated_at       = EXCLUDED.updated_at
`

// * UpsertProducts пишет одну страницу каталога в одной транзакции
func (r *PostgresRepo) UpsertProducts(ctx context.Context, products []models.Product) error {
	const op = "storage.postgres.UpsertProducts"

	if len(products) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, mapError(err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(upsertProductQuery,
			p.ID,
			p.Title,
			p.Price.String(),
			nullDecimal(p.CompareAtPrice),
			p.Stock,
			p.Vendor,
			p.Category,
			nonNil(p.Tags),
			p.BodyHTML,
			p.Handle,
			nonNil(p.Images),
			p.SearchText,
			p.VariantID,
			p.UpdatedAt,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%s: batch: %w", op, mapError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, mapError(err))
	}

	return nil
}

// * DeleteProductsNotIn удаляет продукты, которых нет в последней выгрузке
func (r *PostgresRepo) DeleteProductsNotIn(ctx context.Context, ids []int64) (int64, error) {
	const op = "storage.postgres.DeleteProductsNotIn"

	if len(ids) == 0 {
		return 0, nil
	}

	cmd, err := r.pool.Exec(ctx, `DELETE FROM products WHERE NOT (id = ANY($1))`, ids)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return cmd.RowsAffected(), nil
}

const selectProducts = `
	SELECT id, title, price::text, compare_at_price::text, stock, vendor, category, tags,
	       body_html, handle, images, search_text, variant_id, updated_at
	FROM products
`

// * Products возвращает весь каталог, упорядоченный по id
func (r *PostgresRepo) Products(ctx context.Context) ([]models.Product, error) {
	const op = "storage.postgres.Products"

	rows, err := r.pool.Query(ctx, selectProducts+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}

	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("%s: collect: %w", op, err)
	}

	return products, nil
}

func (r *PostgresRepo) CountProducts(ctx context.Context) (int, error) {
	const op = "storage.postgres.CountProducts"

	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return count, nil
}

func (r *PostgresRepo) ConfigValue(ctx context.Context, key string) (string, error) {
	const op = "storage.postgres.ConfigValue"

	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM config WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", storage.ErrConfigNotFound
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return value, nil
}

func (r *PostgresRepo) SetConfigValue(ctx context.Context, key, value string) error {
	const op = "storage.postgres.SetConfigValue"

	const query = `
		INSERT INTO config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`

	if _, err := r.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	return nil
}

// * InsertProcessedMessage регистрирует id входящего сообщения ровно один раз
func (r *PostgresRepo) InsertProcessedMessage(ctx context.Context, messageID string, at time.Time) error {
	const op = "storage.postgres.InsertProcessedMessage"

	_, err := r.pool.Exec(ctx,
		`INSERT INTO processed_messages (message_id, created_at) VALUES ($1, $2)`,
		messageID, at,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	return nil
}

func (r *PostgresRepo) DeleteProcessedMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.postgres.DeleteProcessedMessagesBefore"

	cmd, err := r.pool.Exec(ctx, `DELETE FROM processed_messages WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return cmd.RowsAffected(), nil
}

// * Close закрывает соединение с базой данных.
func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func scanProduct(row pgx.CollectableRow) (models.Product, error) {
	var (
		p         models.Product
		price     string
		compareAt *string
	)

	err := row.Scan(
		&p.ID,
		&p.Title,
		&price,
		&compareAt,
		&p.Stock,
		&p.Vendor,
		&p.Category,
		&p.Tags,
		&p.BodyHTML,
		&p.Handle,
		&p.Images,
		&p.SearchText,
		&p.VariantID,
		&p.UpdatedAt,
	)
	if err != nil {
		return models.Product{}, err
	}

	if p.Price, err = decimal.NewFromString(price); err != nil {
		return models.Product{}, fmt.Errorf("product %d price: %w", p.ID, err)
	}

	if compareAt != nil {
		v, err := decimal.NewFromString(*compareAt)
		if err != nil {
			return models.Product{}, fmt.Errorf("product %d compare_at_price: %w", p.ID, err)
		}
		p.CompareAtPrice = decimal.NewNullDecimal(v)
	}

	return p, nil
}

// mapError переводит коды ошибок Postgres в ошибки storage.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case storage.UniqueViolation:
		return fmt.Errorf("%w: %s", storage.ErrMessageExists, pgErr.Message)
	case storage.LockNotAvailable, storage.DeadlockDetected, storage.SerializationFailure:
		return fmt.Errorf("%w: %s", storage.ErrStoreBusy, pgErr.Message)
	}

	return err
}

func nullDecimal(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}

	s := d.Decimal.String()
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// * dsn формирует конфигурацию базы данных.
func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
