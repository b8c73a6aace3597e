package config

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var dialAMQP = amqp.Dial

func (r *RabbitMQ) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", r.User, r.Pass, r.Host, r.Port)
}

func (r *RabbitMQ) dialBackOff() (*backoff.ExponentialBackOff, uint) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = r.DialMaxInterval
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = 10 * time.Second
	}
	if bo.InitialInterval > bo.MaxInterval {
		bo.InitialInterval = bo.MaxInterval
	}
	tries := r.DialTries
	if tries == 0 {
		tries = 5
	}
	return bo, tries
}

// NewRabbitMQConn dials the broker with exponential backoff. The connection is closed when ctx
// is done.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQ) (*amqp.Connection, error) {
	logger := zerolog.Ctx(ctx).With().Str("host", cfg.Host).Int("port", cfg.Port).Logger()

	attempt := 0
	operation := func() (*amqp.Connection, error) {
		attempt++
		conn, err := dialAMQP(cfg.URL())
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Failed to connect to RabbitMQ. Retrying...")
			return nil, err
		}
		return conn, nil
	}

	bo, tries := cfg.dialBackOff()
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(tries))
	if err != nil {
		logger.Error().Err(err).Int("attempts", attempt).Msg("Giving up connecting to RabbitMQ")
		return nil, err
	}

	logger.Info().Msg("Successfully connected to RabbitMQ")
	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
			return
		}
		logger.Info().Msg("RabbitMQ connection closed")
	}()

	return conn, nil
}
