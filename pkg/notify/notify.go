package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"worker-walkthrough/dto"
)

// Notifier announces the end of a generation run.
type Notifier interface {
	Publish(ctx context.Context, event dto.GenerationEvent) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaNotifier struct {
	writer messageWriter
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish keys the message by project so events of one project stay ordered on a partition.
func (n *KafkaNotifier) Publish(ctx context.Context, event dto.GenerationEvent) error {
	const op = "notify.Publish"

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ProjectId.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(event.Status)},
		},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	zerolog.Ctx(ctx).Info().
		Str("project_id", event.ProjectId.String()).
		Str("status", string(event.Status)).
		Msg("generation event published")
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier only logs events. Used when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Publish(ctx context.Context, event dto.GenerationEvent) error {
	zerolog.Ctx(ctx).Info().
		Str("project_id", event.ProjectId.String()).
		Str("status", string(event.Status)).
		Str("video_url", event.VideoURL).
		Strs("failed_rooms", event.FailedRooms).
		Msg("generation finished")
	return nil
}
