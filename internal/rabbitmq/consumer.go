package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	sl "glamstore/internal/lib/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDiscard помечает сообщение, которое нельзя доставлять повторно.
var ErrDiscard = errors.New("discard message")

var errChannelClosed = errors.New("delivery channel closed")

type HandlerFunc func(ctx context.Context, body []byte) error

type Consumer struct {
	ch             *amqp.Channel
	log            *slog.Logger
	queueName      string
	workerPoolSize int
}

func NewConsumer(ch *amqp.Channel, log *slog.Logger, queueName string, poolSize int) *Consumer {
	if poolSize < 1 {
		poolSize = 1
	}

	return &Consumer{
		ch:             ch,
		log:            log,
		queueName:      queueName,
		workerPoolSize: poolSize,
	}
}

// * Consume блокируется до отмены ctx или закрытия канала брокером.
// Одновременно работает не больше workerPoolSize обработчиков
func (c *Consumer) Consume(
	ctx context.Context,
	handler HandlerFunc,
) error {
	const op = "rabbitmq.Consume"

	log := c.log.With(
		slog.String("op", op),
		slog.String("queue", c.queueName),
	)

	if err := c.ch.Qos(
		c.workerPoolSize,
		0,
		false,
	); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	msgs, err := c.ch.ConsumeWithContext(
		ctx,
		c.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	semaphore := make(chan struct{}, c.workerPoolSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%s: %w", op, errChannelClosed)
			}

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				_ = msg.Nack(false, true)
				return nil
			}

			wg.Add(1)
			go func(m amqp.Delivery) {
				defer wg.Done()
				defer func() { <-semaphore }()

				c.settle(log, m, handler(ctx, m.Body))
			}(msg)
		}
	}
}

func (c *Consumer) settle(log *slog.Logger, m amqp.Delivery, err error) {
	log = log.With(slog.String("message_id", m.MessageId))

	if err == nil {
		if err := m.Ack(false); err != nil {
			log.Error("ack failed", sl.Err(err))
		}
		return
	}

	requeue := !errors.Is(err, ErrDiscard)
	log.Warn("message handling failed", sl.Err(err), slog.Bool("requeue", requeue))

	if err := m.Nack(false, requeue); err != nil {
		log.Error("nack failed", sl.Err(err))
	}
}
