package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"worker-walkthrough/constant"
	"worker-walkthrough/dto"
	"worker-walkthrough/entities"
	"worker-walkthrough/pkg/apperror"
	"worker-walkthrough/pkg/batch"
	"worker-walkthrough/pkg/storage"
	"worker-walkthrough/pkg/vision"
	"worker-walkthrough/repository"
)

const (
	uploadProgressEnd   = 50
	analysisProgressEnd = 95
	categorizeProgress  = 95
	completeProgress    = 100
)

type ClassificationConfig struct {
	Concurrency       int
	RateLimitCooldown time.Duration
	// MaxCooldowns bounds how many rate-limit cooldowns one image may wait through.
	MaxCooldowns int
}

// SourceLoader reads the original bytes of an uploaded photograph.
type SourceLoader func(ctx context.Context, ref string) ([]byte, error)

type ClassificationResult struct {
	ProjectID  uuid.UUID                    `json:"projectId"`
	Phase      constant.ClassificationPhase `json:"phase"`
	Groups     []RoomGroup                  `json:"groups"`
	Classified int                          `json:"classified"`
	Failed     int                          `json:"failed"`
}

type ClassificationService interface {
	Classify(ctx context.Context, projectID uuid.UUID, onProgress func(dto.ClassificationProgress)) (*ClassificationResult, error)
}

type classificationService struct {
	repo       repository.Repository
	store      storage.ObjectStorage
	classifier vision.Classifier
	loadSource SourceLoader
	progress   *ProgressStore
	cfg        ClassificationConfig
}

func NewClassificationService(
	repo repository.Repository,
	store storage.ObjectStorage,
	classifier vision.Classifier,
	loadSource SourceLoader,
	progress *ProgressStore,
	cfg ClassificationConfig,
) ClassificationService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 3
	}
	if loadSource == nil {
		loadSource = LoadLocalSource
	}
	return &classificationService{
		repo:       repo,
		store:      store,
		classifier: classifier,
		loadSource: loadSource,
		progress:   progress,
		cfg:        cfg,
	}
}

// LoadLocalSource reads a source reference from the local filesystem.
func LoadLocalSource(ctx context.Context, ref string) ([]byte, error) {
	return os.ReadFile(ref)
}

// Classify moves a project's images through uploading, analyzing and categorizing. Individual
// image failures are recorded on the image; the run fails only when nothing was classified.
func (s *classificationService) Classify(ctx context.Context, projectID uuid.UUID, onProgress func(dto.ClassificationProgress)) (result *ClassificationResult, err error) {
	const op = "service.Classify"
	ctx = zerolog.Ctx(ctx).With().Str("project_id", projectID.String()).Logger().WithContext(ctx)

	project, err := s.repo.FindProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	images, err := s.repo.ListImages(ctx, projectID)
	if err != nil {
		return nil, err
	}

	report := func(phase constant.ClassificationPhase, value, completed, total int) {
		p := dto.ClassificationProgress{ProjectId: projectID, Phase: phase, Progress: value, Completed: completed, Total: total}
		if s.progress != nil {
			s.progress.SetClassification(p)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}

	defer func() {
		if err != nil {
			report(constant.PhaseError, 0, 0, len(images))
			if updateErr := s.repo.UpdateProjectStatus(ctx, projectID, constant.ProjectStatusFailed, string(apperror.CodeOf(err)), apperror.Message(err)); updateErr != nil {
				zerolog.Ctx(ctx).Error().Err(updateErr).Msg("failed to update project status")
			}
		}
	}()

	if len(images) == 0 {
		return nil, apperror.New(apperror.CodeValidation, op, "project has no images")
	}
	if err = s.repo.UpdateProjectStatus(ctx, projectID, constant.ProjectStatusClassifying, "", ""); err != nil {
		return nil, err
	}

	if err = s.upload(ctx, project, images, report); err != nil {
		return nil, err
	}

	uploaded := make([]*entities.Image, 0, len(images))
	for _, img := range images {
		if img.Uploaded() {
			uploaded = append(uploaded, img)
		}
	}

	report(constant.PhaseAnalyzing, uploadProgressEnd, 0, len(uploaded))
	results := batch.Run(ctx, uploaded, s.cfg.Concurrency, s.analyze, func(completed, total int, _ batch.Result[*vision.Classification]) {
		report(constant.PhaseAnalyzing, uploadProgressEnd+completed*(analysisProgressEnd-uploadProgressEnd)/total, completed, total)
	})
	if ctx.Err() != nil {
		return nil, apperror.Wrap(apperror.CodeCancelled, op, ctx.Err())
	}

	classified := batch.Succeeded(results)
	report(constant.PhaseCategorizing, categorizeProgress, classified, len(images))

	// Re-read so groups reflect what was persisted.
	images, err = s.repo.ListImages(ctx, projectID)
	if err != nil {
		return nil, err
	}
	groups := BuildRoomGroups(images)

	result = &ClassificationResult{
		ProjectID:  projectID,
		Phase:      constant.PhaseComplete,
		Groups:     groups,
		Classified: classified,
		Failed:     len(images) - classified,
	}
	if classified == 0 {
		result.Phase = constant.PhaseError
		return result, apperror.New(apperror.CodeJobFailed, op, "no image could be classified")
	}

	if err = s.repo.UpdateProjectStatus(ctx, projectID, constant.ProjectStatusClassified, "", ""); err != nil {
		return nil, err
	}
	report(constant.PhaseComplete, completeProgress, classified, len(images))
	zerolog.Ctx(ctx).Info().Int("classified", classified).Int("failed", result.Failed).Int("rooms", len(groups)).Msg("classification completed")
	return result, nil
}

// upload stores every image that has no storage URL yet. The phase is skipped when all
// images are already uploaded.
func (s *classificationService) upload(ctx context.Context, project *entities.Project, images []*entities.Image, report func(constant.ClassificationPhase, int, int, int)) error {
	pending := make([]*entities.Image, 0, len(images))
	for _, img := range images {
		if !img.Uploaded() {
			pending = append(pending, img)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	report(constant.PhaseUploading, 0, 0, len(pending))
	var mu sync.Mutex
	batch.Run(ctx, pending, s.cfg.Concurrency, func(ctx context.Context, _ int, img *entities.Image) (string, error) {
		url, err := s.uploadOne(ctx, project, img)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("image_id", img.ID.String()).Msg("failed to upload image")
			if updateErr := s.repo.UpdateImageStatus(ctx, img.ID, constant.ImageStatusError, apperror.Message(err)); updateErr != nil {
				zerolog.Ctx(ctx).Error().Err(updateErr).Msg("failed to update image status")
			}
			mu.Lock()
			img.Status = constant.ImageStatusError
			mu.Unlock()
			return "", err
		}
		mu.Lock()
		img.StorageURL = url
		img.Status = constant.ImageStatusUploaded
		mu.Unlock()
		return url, nil
	}, func(completed, total int, _ batch.Result[string]) {
		report(constant.PhaseUploading, completed*uploadProgressEnd/total, completed, total)
	})

	if ctx.Err() != nil {
		return apperror.Wrap(apperror.CodeCancelled, "service.upload", ctx.Err())
	}
	return nil
}

func (s *classificationService) uploadOne(ctx context.Context, project *entities.Project, img *entities.Image) (string, error) {
	if err := s.repo.UpdateImageStatus(ctx, img.ID, constant.ImageStatusUploading, ""); err != nil {
		return "", err
	}
	data, err := s.loadSource(ctx, img.SourceRef)
	if err != nil {
		return "", apperror.Wrapf(apperror.CodeStorage, "service.uploadOne", err, "read source %s", img.SourceRef)
	}

	ext := strings.ToLower(filepath.Ext(img.SourceRef))
	if ext == "" {
		ext = ".jpg"
	}
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objectPath := fmt.Sprintf("users/%s/projects/%s/images/%s-%s%s", project.UserID, project.ID, img.ID, uuid.NewString(), ext)

	url, err := s.store.Put(ctx, data, objectPath, contentType)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetImageStorageURL(ctx, img.ID, url); err != nil {
		return "", err
	}
	return url, nil
}

// analyze classifies one image and persists the outcome on its row. A rate-limit answer makes
// the unit wait out the configured cooldown before asking again.
func (s *classificationService) analyze(ctx context.Context, _ int, img *entities.Image) (*vision.Classification, error) {
	logger := zerolog.Ctx(ctx).With().Str("image_id", img.ID.String()).Logger()

	if err := s.repo.UpdateImageStatus(ctx, img.ID, constant.ImageStatusAnalyzing, ""); err != nil {
		return nil, err
	}

	cls, err := backoff.Retry(ctx, func() (*vision.Classification, error) {
		c, err := s.classifier.Classify(ctx, img.StorageURL)
		if err == nil {
			return c, nil
		}
		if apperror.Is(err, apperror.CodeRateLimited) {
			logger.Warn().Dur("cooldown", s.cfg.RateLimitCooldown).Msg("vision API rate limited. Cooling down...")
			return nil, &backoff.RetryAfterError{Duration: s.cfg.RateLimitCooldown}
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithMaxTries(uint(s.cfg.MaxCooldowns+1)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		var ra *backoff.RetryAfterError
		if errors.As(err, &ra) {
			err = apperror.New(apperror.CodeRateLimited, "service.analyze", "vision API rate limit persisted through cooldowns")
		}
		err = unwrapPermanent(err)
		if ctx.Err() != nil {
			return nil, err
		}
		if updateErr := s.repo.UpdateImageStatus(ctx, img.ID, constant.ImageStatusError, apperror.Message(err)); updateErr != nil {
			logger.Error().Err(updateErr).Msg("failed to update image status")
		}
		logger.Warn().Err(err).Msg("image classification failed")
		return nil, err
	}

	err = s.repo.SaveImageClassification(ctx, img.ID, repository.ImageClassification{
		Category:   cls.Category,
		Confidence: entities.ConfidencePercent(cls.Confidence),
		Reasoning:  cls.Reasoning,
		Features:   cls.Features,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("category", string(cls.Category)).Float64("confidence", cls.Confidence).Msg("image classified")
	return cls, nil
}
