package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"worker-walkthrough/constant"
	"worker-walkthrough/dto"
	"worker-walkthrough/pkg/apperror"
	"worker-walkthrough/repository"
)

// JobService runs queued messages under their job row. A job that is not pending is skipped.
type JobService interface {
	ProcessClassification(ctx context.Context, message dto.ClassificationMessage) error
	ProcessGeneration(ctx context.Context, message dto.GenerationMessage) error
}

type jobService struct {
	repo           repository.Repository
	classification ClassificationService
	generation     GenerationService
}

func NewJobService(repo repository.Repository, classification ClassificationService, generation GenerationService) JobService {
	return &jobService{repo: repo, classification: classification, generation: generation}
}

func (s *jobService) ProcessClassification(ctx context.Context, message dto.ClassificationMessage) error {
	return s.run(ctx, message.JobId, func(ctx context.Context) error {
		_, err := s.classification.Classify(ctx, message.ProjectId, nil)
		return err
	})
}

func (s *jobService) ProcessGeneration(ctx context.Context, message dto.GenerationMessage) error {
	req := GenerateRequest{
		ProjectID:   message.ProjectId,
		Directions:  message.Directions,
		AspectRatio: message.AspectRatio,
		Transitions: message.Transitions,
		Logo:        message.Logo,
		Subtitles:   message.Subtitles,
	}
	return s.run(ctx, message.JobId, func(ctx context.Context) error {
		var err error
		if message.RetryFailedRooms {
			_, err = s.generation.RetryFailedRooms(ctx, req)
		} else {
			_, err = s.generation.Generate(ctx, req)
		}
		return err
	})
}

// run marks the job processing, then completed on success. A non-retryable failure marks it
// failed and is swallowed; any other failure puts it back to pending and is returned so the
// message can be redelivered.
func (s *jobService) run(ctx context.Context, jobID uuid.UUID, fn func(ctx context.Context) error) (err error) {
	ctx = zerolog.Ctx(ctx).With().Str("job_id", jobID.String()).Logger().WithContext(ctx)
	logger := zerolog.Ctx(ctx)
	logger.Info().Msg("processing job")

	job, err := s.repo.FindJobById(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to find job by id")
		if apperror.Is(err, apperror.CodeNotFound) {
			return nil
		}
		return err
	}
	if job.Status != constant.JobStatusPending {
		logger.Info().Str("status", string(job.Status)).Msg("job is not pending")
		return nil
	}

	if err := s.repo.UpdateStatusJob(ctx, constant.JobStatusProcessing, jobID); err != nil {
		logger.Error().Err(err).Msg("failed to update job status")
		return err
	}

	defer func() {
		if err == nil {
			return
		}
		status := constant.JobStatusPending
		if errors.Is(err, ErrNonRetryable) {
			status = constant.JobStatusFailed
		}
		if updateErr := s.repo.UpdateStatusJob(context.WithoutCancel(ctx), status, jobID); updateErr != nil {
			logger.Error().Err(updateErr).Msg("failed to update job status")
		}
		if status == constant.JobStatusFailed {
			logger.Error().Err(err).Msg("job failed")
			err = nil
		}
	}()

	if err = terminal(fn(ctx)); err != nil {
		return err
	}

	if err = s.repo.UpdateStatusJob(ctx, constant.JobStatusCompleted, jobID); err != nil {
		logger.Error().Err(err).Msg("failed to update job status")
		return err
	}
	logger.Info().Msg("job completed")
	return nil
}
