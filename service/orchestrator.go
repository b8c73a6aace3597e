package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"worker-walkthrough/constant"
	"worker-walkthrough/dto"
	"worker-walkthrough/entities"
	"worker-walkthrough/pkg/apperror"
	"worker-walkthrough/pkg/notify"
	"worker-walkthrough/pkg/storage"
	"worker-walkthrough/pkg/videoapi"
	"worker-walkthrough/repository"
)

type GenerateRequest struct {
	ProjectID   uuid.UUID
	Directions  string
	AspectRatio string
	Transitions *bool
	Logo        *dto.Logo
	Subtitles   *dto.Subtitle
}

// GenerationResult lists room ids in presentation order.
type GenerationResult struct {
	FinalVideo     *entities.Video
	CompletedRooms []string
	FailedRooms    []string
}

type GenerationService interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerationResult, error)
	RetryFailedRooms(ctx context.Context, req GenerateRequest) (*GenerationResult, error)
	Cancel(projectID uuid.UUID) bool
}

type OrchestratorConfig struct {
	Poll        PollerConfig
	AspectRatio string
	Transitions bool
}

type orchestrator struct {
	repo         repository.Repository
	submitter    *Submitter
	api          videoapi.Generator
	store        storage.ObjectStorage
	composer     Composer
	notifier     notify.Notifier
	progress     *ProgressStore
	entitlements *Entitlements
	cfg          OrchestratorConfig
}

func NewOrchestrator(
	repo repository.Repository,
	submitter *Submitter,
	api videoapi.Generator,
	store storage.ObjectStorage,
	composer Composer,
	notifier notify.Notifier,
	progress *ProgressStore,
	entitlements *Entitlements,
	cfg OrchestratorConfig,
) GenerationService {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if progress == nil {
		progress = NewProgressStore()
	}
	if cfg.AspectRatio == "" {
		cfg.AspectRatio = "9:16"
	}
	return &orchestrator{
		repo:         repo,
		submitter:    submitter,
		api:          api,
		store:        store,
		composer:     composer,
		notifier:     notifier,
		progress:     progress,
		entitlements: entitlements,
		cfg:          cfg,
	}
}

// Generate produces one clip per room and composes them into the final walkthrough. Rooms may
// fail individually; the run fails with ALL_ROOMS_FAILED only when none succeeded, and the
// composer is then never called.
func (o *orchestrator) Generate(ctx context.Context, req GenerateRequest) (*GenerationResult, error) {
	return o.run(ctx, req, false)
}

// RetryFailedRooms regenerates from scratch every room whose clip is not completed, then
// recomposes from all completed rooms.
func (o *orchestrator) RetryFailedRooms(ctx context.Context, req GenerateRequest) (*GenerationResult, error) {
	return o.run(ctx, req, true)
}

func (o *orchestrator) Cancel(projectID uuid.UUID) bool {
	return o.progress.Cancel(projectID)
}

var encodeSettings = json.Marshal

type generationSettings struct {
	AspectRatio string        `json:"aspect_ratio"`
	Transitions bool          `json:"transitions"`
	Directions  string        `json:"directions,omitempty"`
	Logo        *dto.Logo     `json:"logo,omitempty"`
	Subtitles   *dto.Subtitle `json:"subtitles,omitempty"`
}

func (o *orchestrator) run(ctx context.Context, req GenerateRequest, retryOnly bool) (result *GenerationResult, err error) {
	const op = "service.Generate"
	ctx = zerolog.Ctx(ctx).With().Str("project_id", req.ProjectID.String()).Logger().WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	project, err := o.repo.FindProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if o.entitlements != nil {
		if err := o.entitlements.Check(ctx, project.UserID); err != nil {
			return nil, err
		}
	}

	images, err := o.repo.ListImages(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	groups := generationGroups(BuildRoomGroups(images))

	settings := generationSettings{
		AspectRatio: req.AspectRatio,
		Transitions: o.cfg.Transitions,
		Directions:  req.Directions,
		Logo:        req.Logo,
		Subtitles:   req.Subtitles,
	}
	if settings.AspectRatio == "" {
		settings.AspectRatio = o.cfg.AspectRatio
	}
	if req.Transitions != nil {
		settings.Transitions = *req.Transitions
	}
	if settings.Directions == "" {
		settings.Directions = project.Directions
	}
	rawSettings, err := encodeSettings(settings)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, op, err)
	}

	existing := make(map[string]*entities.Video)
	if retryOnly {
		videos, err := o.repo.ListRoomVideos(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		for _, v := range videos {
			existing[v.Room()] = v
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !o.progress.Start(project.ID, generationSteps(groups), cancel) {
		return nil, apperror.New(apperror.CodeValidation, op, "a generation is already running for this project")
	}
	defer o.progress.Finish(project.ID)

	result = &GenerationResult{}
	defer func() {
		if err != nil {
			o.fail(ctx, project, result, err)
		}
	}()

	if len(groups) == 0 {
		return result, apperror.New(apperror.CodeValidation, op, "project has no classified rooms")
	}

	if err = o.setStatus(ctx, project.ID, constant.ProjectStatusProcessingRooms, constant.GenerationStatusProcessingRooms); err != nil {
		return result, err
	}

	reqs := make([]RoomRequest, 0, len(groups))
	for _, g := range groups {
		if v, ok := existing[g.RoomID()]; ok && v.Status == constant.VideoStatusCompleted {
			o.progress.SetStep(project.ID, g.RoomID(), constant.StepStatusCompleted)
			continue
		}
		o.progress.SetStep(project.ID, g.RoomID(), constant.StepStatusInProgress)
		reqs = append(reqs, RoomRequest{
			ProjectID:   project.ID,
			UserID:      project.UserID,
			Group:       g,
			Directions:  settings.Directions,
			AspectRatio: settings.AspectRatio,
			Settings:    datatypes.JSON(rawSettings),
		})
	}

	handles, failures := o.submitter.SubmitAll(runCtx, reqs)
	for room := range failures {
		o.progress.SetStep(project.ID, room, constant.StepStatusFailed)
	}
	logger.Info().Int("submitted", len(handles)).Int("failed", len(failures)).Msg("room videos submitted")

	poller := NewPoller(o.repo, o.api, o.store, o.cfg.Poll)
	_, pollErr := poller.Run(runCtx, handles, func(res Resolution) {
		status := constant.StepStatusCompleted
		if res.Status != constant.VideoStatusCompleted {
			status = constant.StepStatusFailed
		}
		o.progress.SetStep(project.ID, res.Handle.RoomID, status)
	})
	if runCtx.Err() != nil {
		return result, apperror.Wrap(apperror.CodeCancelled, op, runCtx.Err())
	}
	if pollErr != nil {
		return result, pollErr
	}

	// Records are the source of truth; presentation order comes from the group list.
	videos, err := o.repo.ListRoomVideos(ctx, project.ID)
	if err != nil {
		return result, err
	}
	byRoom := make(map[string]*entities.Video, len(videos))
	for _, v := range videos {
		byRoom[v.Room()] = v
	}
	clips := make([]Clip, 0, len(groups))
	for _, g := range groups {
		v, ok := byRoom[g.RoomID()]
		if ok && v.Status == constant.VideoStatusCompleted && v.VideoURL != "" {
			clips = append(clips, Clip{URL: v.VideoURL, RoomName: g.Label})
			result.CompletedRooms = append(result.CompletedRooms, g.RoomID())
			continue
		}
		result.FailedRooms = append(result.FailedRooms, g.RoomID())
	}
	if len(clips) == 0 {
		return result, apperror.New(apperror.CodeAllRoomsFailed, op, "every room video failed")
	}

	if err = o.setStatus(ctx, project.ID, constant.ProjectStatusComposingVideo, constant.GenerationStatusComposingVideo); err != nil {
		return result, err
	}
	o.progress.SetStep(project.ID, stepCompose, constant.StepStatusInProgress)

	composition := CompositionSettings{
		UserID:      project.UserID,
		ProjectID:   project.ID,
		Clips:       clips,
		Transitions: settings.Transitions,
		AspectRatio: settings.AspectRatio,
	}
	if req.Logo != nil && req.Logo.URL != "" {
		data, err := o.store.Get(runCtx, req.Logo.URL)
		if err != nil {
			return result, apperror.Wrapf(apperror.CodeComposition, op, err, "fetch logo")
		}
		composition.Logo = &LogoSettings{Data: data, Position: req.Logo.Position}
	}
	if req.Subtitles != nil {
		composition.Subtitles = &SubtitleSettings{Enabled: req.Subtitles.Enabled, Text: req.Subtitles.Text, Font: req.Subtitles.Font}
	}

	composed, err := o.composer.Compose(runCtx, composition)
	if err != nil {
		return result, err
	}
	o.progress.SetStep(project.ID, stepCompose, constant.StepStatusCompleted)
	o.progress.SetStep(project.ID, stepFinalize, constant.StepStatusInProgress)

	final, err := o.repo.UpsertFinalVideo(ctx, project.ID, repository.FinalVideo{
		VideoURL:     composed.VideoURL,
		ThumbnailURL: composed.ThumbnailURL,
		Duration:     composed.Duration,
		FileSize:     composed.FileSize,
		Settings:     datatypes.JSON(rawSettings),
	})
	if err != nil {
		return result, err
	}
	result.FinalVideo = final

	if err = o.repo.UpdateProjectStatus(ctx, project.ID, constant.ProjectStatusCompleted, "", ""); err != nil {
		return result, err
	}
	o.progress.Complete(project.ID)

	o.publish(ctx, dto.GenerationEvent{
		ProjectId:      project.ID,
		UserId:         project.UserID,
		Status:         constant.GenerationStatusCompleted,
		VideoURL:       final.VideoURL,
		ThumbnailURL:   final.ThumbnailURL,
		CompletedRooms: result.CompletedRooms,
		FailedRooms:    result.FailedRooms,
	})
	logger.Info().
		Str("video_url", final.VideoURL).
		Strs("failed_rooms", result.FailedRooms).
		Msg("generation completed")
	return result, nil
}

func (o *orchestrator) setStatus(ctx context.Context, projectID uuid.UUID, status constant.ProjectStatus, gen constant.GenerationStatus) error {
	if err := o.repo.UpdateProjectStatus(ctx, projectID, status, "", ""); err != nil {
		return err
	}
	o.progress.SetStatus(projectID, gen)
	return nil
}

// fail persists the failure on the project, publishes it and updates progress. The run's own
// context may be cancelled by now, so writes use a detached context.
func (o *orchestrator) fail(ctx context.Context, project *entities.Project, result *GenerationResult, err error) {
	code := apperror.CodeOf(err)
	msg := apperror.Message(err)
	writeCtx := context.WithoutCancel(ctx)

	if updateErr := o.repo.UpdateProjectStatus(writeCtx, project.ID, constant.ProjectStatusFailed, string(code), msg); updateErr != nil {
		zerolog.Ctx(ctx).Error().Err(updateErr).Msg("failed to update project status")
	}
	o.progress.Fail(project.ID, msg)
	o.publish(writeCtx, dto.GenerationEvent{
		ProjectId:      project.ID,
		UserId:         project.UserID,
		Status:         constant.GenerationStatusFailed,
		ErrorCode:      string(code),
		Error:          msg,
		CompletedRooms: result.CompletedRooms,
		FailedRooms:    result.FailedRooms,
	})
	zerolog.Ctx(ctx).Error().Err(err).Str("code", string(code)).Msg("generation failed")
}

func (o *orchestrator) publish(ctx context.Context, event dto.GenerationEvent) {
	event.OccurredAt = time.Now().UTC()
	if err := o.notifier.Publish(ctx, event); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to publish generation event")
	}
}
