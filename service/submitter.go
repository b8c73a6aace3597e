package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"worker-walkthrough/entities"
	"worker-walkthrough/pkg/apperror"
	"worker-walkthrough/pkg/videoapi"
	"worker-walkthrough/repository"
)

const cameraInstruction = "Smooth cinematic real estate walkthrough. Slow steady camera glide forward through the space " +
	"with gentle parallax, natural lighting, true-to-life colors, no people, no text."

type SubmitterConfig struct {
	MaxImages      int
	PromptMaxChars int
	ClipDuration   string
	AspectRatio    string
}

type RoomRequest struct {
	ProjectID   uuid.UUID
	UserID      uuid.UUID
	Group       RoomGroup
	Directions  string
	AspectRatio string
	Settings    datatypes.JSON
}

// JobHandle is an outstanding external request. It lives only for the duration of a run.
type JobHandle struct {
	RequestID   string
	RoomID      string
	RoomLabel   string
	VideoID     uuid.UUID
	ProjectID   uuid.UUID
	UserID      uuid.UUID
	SubmittedAt time.Time
}

type Submitter struct {
	repo repository.Repository
	api  videoapi.Generator
	cfg  SubmitterConfig
	now  func() time.Time
}

func NewSubmitter(repo repository.Repository, api videoapi.Generator, cfg SubmitterConfig) *Submitter {
	if cfg.MaxImages <= 0 || cfg.MaxImages > videoapi.MaxImages {
		cfg.MaxImages = videoapi.MaxImages
	}
	if cfg.PromptMaxChars <= 0 || cfg.PromptMaxChars > videoapi.MaxPromptChars {
		cfg.PromptMaxChars = videoapi.MaxPromptChars
	}
	if cfg.ClipDuration == "" {
		cfg.ClipDuration = "5"
	}
	if cfg.AspectRatio == "" {
		cfg.AspectRatio = "9:16"
	}
	return &Submitter{repo: repo, api: api, cfg: cfg, now: time.Now}
}

// SelectImages keeps images that have a storage URL, highest confidence first when there are
// more than max. Ties keep position order.
func SelectImages(images []*entities.Image, max int) []*entities.Image {
	usable := make([]*entities.Image, 0, len(images))
	for _, img := range images {
		if img.Uploaded() {
			usable = append(usable, img)
		}
	}
	if len(usable) <= max {
		return usable
	}
	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].Confidence != usable[j].Confidence {
			return usable[i].Confidence > usable[j].Confidence
		}
		return usable[i].Position < usable[j].Position
	})
	return usable[:max]
}

// BuildPrompt joins the camera instruction, room label, scene descriptions and user directions,
// cut to maxChars runes.
func BuildPrompt(label string, images []*entities.Image, directions string, maxChars int) string {
	parts := []string{cameraInstruction, fmt.Sprintf("Room: %s.", label)}

	var scenes []string
	for _, img := range images {
		desc := strings.TrimSpace(img.Description)
		if desc == "" {
			if features := img.FeatureList(); len(features) > 0 {
				desc = "Features: " + strings.Join(features, ", ") + "."
			}
		}
		if desc != "" {
			scenes = append(scenes, desc)
		}
	}
	if len(scenes) > 0 {
		parts = append(parts, "Scene: "+strings.Join(scenes, " "))
	}
	if d := strings.TrimSpace(directions); d != "" {
		parts = append(parts, "Directions: "+d)
	}

	prompt := strings.Join(parts, " ")
	if r := []rune(prompt); len(r) > maxChars {
		prompt = strings.TrimSpace(string(r[:maxChars]))
	}
	return prompt
}

// Submit creates or resets the room's video record and queues its generation. Failures are
// recorded on the record before being returned.
func (s *Submitter) Submit(ctx context.Context, req RoomRequest) (*JobHandle, error) {
	const op = "service.Submitter.Submit"
	roomID := req.Group.RoomID()
	logger := zerolog.Ctx(ctx).With().Str("room", roomID).Logger()

	video, err := s.repo.ResetRoomVideo(ctx, req.ProjectID, roomID, req.Settings)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*JobHandle, error) {
		if _, updateErr := s.repo.FailVideo(ctx, video.ID, apperror.Message(err)); updateErr != nil {
			logger.Error().Err(updateErr).Msg("failed to mark room video failed")
		}
		logger.Warn().Err(err).Msg("room submission failed")
		return nil, err
	}

	images := SelectImages(req.Group.Images, s.cfg.MaxImages)
	if len(images) == 0 {
		return fail(apperror.New(apperror.CodeValidation, op, fmt.Sprintf("room %s has no usable images", roomID)))
	}

	urls := make([]string, len(images))
	for i, img := range images {
		urls[i] = img.StorageURL
	}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = s.cfg.AspectRatio
	}

	requestID, err := s.api.Submit(ctx, videoapi.SubmitRequest{
		Prompt:      BuildPrompt(req.Group.Label, images, req.Directions, s.cfg.PromptMaxChars),
		ImageURLs:   urls,
		Duration:    s.cfg.ClipDuration,
		AspectRatio: aspect,
	})
	if err != nil {
		return fail(err)
	}

	if err := s.repo.MarkVideoProcessing(ctx, video.ID, requestID); err != nil {
		return fail(err)
	}
	logger.Info().Str("request_id", requestID).Int("images", len(urls)).Msg("room video submitted")

	return &JobHandle{
		RequestID:   requestID,
		RoomID:      roomID,
		RoomLabel:   req.Group.Label,
		VideoID:     video.ID,
		ProjectID:   req.ProjectID,
		UserID:      req.UserID,
		SubmittedAt: s.now(),
	}, nil
}

// SubmitAll submits every room concurrently. A failed room never aborts its siblings; its error
// is returned in the failure map keyed by room id. Handles keep the input order.
func (s *Submitter) SubmitAll(ctx context.Context, reqs []RoomRequest) ([]*JobHandle, map[string]error) {
	handles := make([]*JobHandle, len(reqs))
	failures := make(map[string]error)
	var mu sync.Mutex

	var g errgroup.Group
	for i, req := range reqs {
		g.Go(func() error {
			h, err := s.Submit(ctx, req)
			if err != nil {
				mu.Lock()
				failures[req.Group.RoomID()] = err
				mu.Unlock()
				return nil
			}
			handles[i] = h
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*JobHandle, 0, len(handles))
	for _, h := range handles {
		if h != nil {
			out = append(out, h)
		}
	}
	return out, failures
}
