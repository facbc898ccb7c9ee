// Package parser разбирает запросы синхронизации каталога из брокера
// и превращает их в запуски синхронизации.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"glamstore/internal/models"
	"glamstore/internal/rabbitmq"
)

type Catalog interface {
	ForceSync() bool
	TriggerSyncIfStale(maxAge time.Duration) bool
}

type Consumer interface {
	Consume(ctx context.Context, handler rabbitmq.HandlerFunc) error
}

type Parser struct {
	log        *slog.Logger
	catalog    Catalog
	staleAfter time.Duration
}

func New(log *slog.Logger, c Catalog, staleAfter time.Duration) *Parser {
	return &Parser{
		log:        log,
		catalog:    c,
		staleAfter: staleAfter,
	}
}

func (p *Parser) Run(ctx context.Context, consumer Consumer) error {
	return consumer.Consume(ctx, p.HandleMessage)
}

// * HandleMessage никогда не просит повторной доставки: уже идущая
// синхронизация покрывает запрос
func (p *Parser) HandleMessage(ctx context.Context, body []byte) error {
	const op = "parser.HandleMessage"

	var msg models.SyncRequest

	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%s: invalid message format: %w: %w", op, rabbitmq.ErrDiscard, err)
	}

	log := p.log.With(slog.String("op", op), slog.Bool("force", msg.Force))

	var started bool
	if msg.Force {
		started = p.catalog.ForceSync()
	} else {
		maxAge := p.staleAfter
		if msg.MaxAgeMinutes > 0 {
			maxAge = time.Duration(msg.MaxAgeMinutes) * time.Minute
		}
		started = p.catalog.TriggerSyncIfStale(maxAge)
	}

	log.Info("sync request handled", slog.Bool("started", started))

	return nil
}
