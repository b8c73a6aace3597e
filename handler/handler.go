package handler

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"worker-walkthrough/dto"
	"worker-walkthrough/service"
)

type ServiceDependencies struct {
	JobService service.JobService
}

// ClassificationHandler drops malformed messages; redelivery cannot fix them.
func ClassificationHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var message dto.ClassificationMessage
	if err := json.Unmarshal(msg.Body, &message); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal classification message")
		return nil
	}

	zerolog.Ctx(ctx).Info().
		Str("job_id", message.JobId.String()).
		Str("project_id", message.ProjectId.String()).
		Msg("received classification message")

	return deps.JobService.ProcessClassification(ctx, message)
}

func GenerationHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var message dto.GenerationMessage
	if err := json.Unmarshal(msg.Body, &message); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal generation message")
		return nil
	}

	zerolog.Ctx(ctx).Info().
		Str("job_id", message.JobId.String()).
		Str("project_id", message.ProjectId.String()).
		Bool("retry_failed_rooms", message.RetryFailedRooms).
		Msg("received generation message")

	return deps.JobService.ProcessGeneration(ctx, message)
}
