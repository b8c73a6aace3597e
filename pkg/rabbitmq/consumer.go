package rabbitmq

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"worker-walkthrough/config"
)

// Binding names the exchange, queue and routing key one consumer listens on. Messages that
// exhaust their retries are dead-lettered to "<Queue>.dlq".
type Binding struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

var (
	ClassificationBinding = Binding{Exchange: "walkthrough_exchange", Queue: "classification_queue", RoutingKey: "walkthrough.classify"}
	GenerationBinding     = Binding{Exchange: "walkthrough_exchange", Queue: "generation_queue", RoutingKey: "walkthrough.generate"}
)

func (b Binding) DeadLetterQueue() string {
	return b.Queue + ".dlq"
}

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type Handler[T any] func(ctx context.Context, msg amqp.Delivery, dependencies T) error

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	binding    Binding
	handler    Handler[T]
	numWorkers int
	retryDelay time.Duration
}

func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	ctx = zerolog.Ctx(ctx).With().Str("queue", c.binding.Queue).Logger().WithContext(ctx)
	if err := declare(ctx, ch, c.cfg.Kind, c.binding); err != nil {
		return err
	}

	if err := ch.Qos(c.numWorkers, 0, false); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(c.binding.Queue, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to consume queue")
		return err
	}

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				c.handle(ctx, workerId, msg, dependencies)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

// handle retries the handler with exponential backoff. A message that still fails is nacked
// without requeue so the broker moves it to the dead-letter queue, unless ctx was cancelled.
func (c consumer[T]) handle(ctx context.Context, workerId int, msg amqp.Delivery, dependencies T) {
	logger := zerolog.Ctx(ctx).With().Int("worker", workerId).Str("message_id", msg.MessageId).Logger()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryDelay
	bo.MaxInterval = 30 * time.Second
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := c.handler(logger.WithContext(ctx), msg, dependencies); err != nil {
			logger.Warn().Err(err).Msg("failed to handle message. Retrying...")
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.cfg.MaxRetries+1))

	if err != nil {
		// A shutdown interrupts the retries; the message goes back to the queue instead.
		requeue := ctx.Err() != nil
		if requeue {
			logger.Warn().Err(err).Msg("shutting down, requeueing message")
		} else {
			logger.Error().Err(err).Msg("message exhausted retries, dead-lettering")
		}
		if nackErr := msg.Nack(false, requeue); nackErr != nil {
			logger.Error().Err(nackErr).Msg("failed to nack message")
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error().Err(err).Msg("failed to acknowledge message")
	}
}

func declare(ctx context.Context, ch *amqp.Channel, kind string, b Binding) error {
	if kind == "" {
		kind = amqp.ExchangeDirect
	}
	dlx := b.Exchange + ".dlx"

	if err := ch.ExchangeDeclare(b.Exchange, kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to declare exchange")
		return err
	}
	if err := ch.ExchangeDeclare(dlx, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to declare dead-letter exchange")
		return err
	}

	dlq, err := ch.QueueDeclare(b.DeadLetterQueue(), true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to declare dead-letter queue")
		return err
	}
	if err := ch.QueueBind(dlq.Name, b.RoutingKey, dlx, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to bind dead-letter queue")
		return err
	}

	q, err := ch.QueueDeclare(b.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": b.RoutingKey,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to declare queue")
		return err
	}
	if err := ch.QueueBind(q.Name, b.RoutingKey, b.Exchange, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to bind queue")
		return err
	}
	return nil
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	binding Binding,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:       conn,
		cfg:        cfg,
		binding:    binding,
		handler:    handler,
		numWorkers: numWorkers,
		retryDelay: 2 * time.Second,
	}
}
