// Package sqlite - хранилище для одного хоста. Таблицы те же, что в Postgres,
// используется для локального запуска и тестов.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"glamstore/internal/models"
	"glamstore/internal/storage"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
	CREATE TABLE IF NOT EXISTS products (
		id               INTEGER PRIMARY KEY,
		title            TEXT NOT NULL,
		price            TEXT NOT NULL,
		compare_at_price TEXT,
		stock            INTEGER NOT NULL DEFAULT 0,
		vendor           TEXT NOT NULL DEFAULT '',
		category         TEXT NOT NULL DEFAULT '',
		tags             TEXT NOT NULL DEFAULT '[]',
		body_html        TEXT NOT NULL DEFAULT '',
		handle           TEXT NOT NULL DEFAULT '',
		images           TEXT NOT NULL DEFAULT '[]',
		search_text      TEXT NOT NULL DEFAULT '',
		variant_id       INTEGER NOT NULL DEFAULT 0,
		updated_at       INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS processed_messages (
		message_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_processed_messages_created ON processed_messages (created_at);
`

// Store безопасен для конкурентного использования: SQLite сам упорядочивает
// писателей, busy_timeout ограничивает ожидание блокировки.
type Store struct {
	db *sql.DB
}

// * Open открывает (или создаёт) базу по path и применяет схему.
// ":memory:" открывает приватную базу в памяти на одном соединении
func Open(path string) (*Store, error) {
	const op = "storage.sqlite.Open"

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	if path == ":memory:" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open database: %w", op, err)
	}

	// каждое соединение к ":memory:" получило бы свою пустую базу
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: ping database: %w", op, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: create tables: %w", op, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertProducts пишет одну страницу каталога в одной транзакции.
func (s *Store) UpsertProducts(ctx context.Context, products []models.Product) error {
	const op = "storage.sqlite.UpsertProducts"

	if len(products) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, mapError(err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO products (
			id, title, price, compare_at_price, stock, vendor, category, tags,
			body_html, handle, images, search_text, variant_id, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%s: prepare: %w", op, mapError(err))
	}
	defer stmt.Close()

	for _, p := range products {
		tags, err := encodeList(p.Tags)
		if err != nil {
			return fmt.Errorf("%s: product %d tags: %w", op, p.ID, err)
		}

		images, err := encodeList(p.Images)
		if err != nil {
			return fmt.Errorf("%s: product %d images: %w", op, p.ID, err)
		}

		var compareAt any
		if p.CompareAtPrice.Valid {
			compareAt = p.CompareAtPrice.Decimal.String()
		}

		_, err = stmt.ExecContext(ctx,
			p.ID,
			p.Title,
			p.Price.String(),
			compareAt,
			p.Stock,
			p.Vendor,
			p.Category,
			tags,
			p.BodyHTML,
			p.Handle,
			images,
			p.SearchText,
			p.VariantID,
			p.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("%s: product %d: %w", op, p.ID, mapError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, mapError(err))
	}

	return nil
}

// DeleteProductsNotIn удаляет все продукты не из списка.
// Пустой список ничего не удаляет.
func (s *Store) DeleteProductsNotIn(ctx context.Context, ids []int64) (int64, error) {
	const op = "storage.sqlite.DeleteProductsNotIn"

	if len(ids) == 0 {
		return 0, nil
	}

	list, err := json.Marshal(ids)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM products WHERE id NOT IN (SELECT value FROM json_each(?))`,
		string(list),
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return res.RowsAffected()
}

const selectProducts = `
	SELECT id, title, price, compare_at_price, stock, vendor, category, tags,
	       body_html, handle, images, search_text, variant_id, updated_at
	FROM products
`

func (s *Store) Products(ctx context.Context) ([]models.Product, error) {
	const op = "storage.sqlite.Products"

	rows, err := s.db.QueryContext(ctx, selectProducts+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, mapError(err))
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}

	return products, nil
}

func (s *Store) CountProducts(ctx context.Context) (int, error) {
	const op = "storage.sqlite.CountProducts"

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return count, nil
}

func (s *Store) ConfigValue(ctx context.Context, key string) (string, error) {
	const op = "storage.sqlite.ConfigValue"

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrConfigNotFound
		}
		return "", fmt.Errorf("%s: %w", op, mapError(err))
	}

	return value, nil
}

func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	const op = "storage.sqlite.SetConfigValue"

	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	return nil
}

// InsertProcessedMessage возвращает storage.ErrMessageExists, если id уже
// записан.
func (s *Store) InsertProcessedMessage(ctx context.Context, messageID string, at time.Time) error {
	const op = "storage.sqlite.InsertProcessedMessage"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages (message_id, created_at) VALUES (?, ?)`,
		messageID, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	return nil
}

func (s *Store) DeleteProcessedMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.sqlite.DeleteProcessedMessagesBefore"

	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_messages WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (models.Product, error) {
	var (
		p         models.Product
		price     string
		compareAt sql.NullString
		tags      string
		images    string
		updatedAt int64
	)

	err := row.Scan(
		&p.ID,
		&p.Title,
		&price,
		&compareAt,
		&p.Stock,
		&p.Vendor,
		&p.Category,
		&tags,
		&p.BodyHTML,
		&p.Handle,
		&images,
		&p.SearchText,
		&p.VariantID,
		&updatedAt,
	)
	if err != nil {
		return models.Product{}, err
	}

	if p.Price, err = decimal.NewFromString(price); err != nil {
		return models.Product{}, fmt.Errorf("product %d price: %w", p.ID, err)
	}

	if compareAt.Valid {
		v, err := decimal.NewFromString(compareAt.String)
		if err != nil {
			return models.Product{}, fmt.Errorf("product %d compare_at_price: %w", p.ID, err)
		}
		p.CompareAtPrice = decimal.NewNullDecimal(v)
	}

	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return models.Product{}, fmt.Errorf("product %d tags: %w", p.ID, err)
	}

	if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
		return models.Product{}, fmt.Errorf("product %d images: %w", p.ID, err)
	}

	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return p, nil
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}

	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// mapError переводит коды SQLite в ошибки storage.
func mapError(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	code := sqliteErr.Code()

	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
		code == sqlite3.SQLITE_CONSTRAINT_UNIQUE,
		code == sqlite3.SQLITE_CONSTRAINT:
		return fmt.Errorf("%w: %s", storage.ErrMessageExists, sqliteErr.Error())
	case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %s", storage.ErrStoreBusy, sqliteErr.Error())
	}

	return err
}
