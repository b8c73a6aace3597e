package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"worker-walkthrough/constant"
	"worker-walkthrough/pkg/apperror"
	"worker-walkthrough/pkg/storage"
	"worker-walkthrough/pkg/videoapi"
	"worker-walkthrough/repository"
)

type PollerConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	ClipDuration string
}

// Resolution is the terminal outcome of one job handle.
type Resolution struct {
	Handle   *JobHandle
	Status   constant.VideoStatus
	VideoURL string
	Err      error
}

// Poller resolves outstanding job handles on a fixed wait-then-poll schedule. One Poller
// serves one run; it remembers what it has already resolved.
type Poller struct {
	repo  repository.Repository
	api   videoapi.Generator
	store storage.ObjectStorage
	cfg   PollerConfig

	mu       sync.Mutex
	resolved map[string]*Resolution
}

func NewPoller(repo repository.Repository, api videoapi.Generator, store storage.ObjectStorage, cfg PollerConfig) *Poller {
	return &Poller{
		repo:     repo,
		api:      api,
		store:    store,
		cfg:      cfg,
		resolved: make(map[string]*Resolution),
	}
}

// Run waits the initial delay, then checks every pending handle once per interval until none
// is left or ctx is done. onResolve is called once per handle as it reaches a terminal state.
// The returned map is keyed by room id.
func (p *Poller) Run(ctx context.Context, handles []*JobHandle, onResolve func(Resolution)) (map[string]Resolution, error) {
	out := make(map[string]Resolution, len(handles))
	pending := make([]*JobHandle, len(handles))
	copy(pending, handles)
	if len(pending) == 0 {
		return out, nil
	}

	if err := sleep(ctx, p.cfg.InitialDelay); err != nil {
		return out, apperror.Wrap(apperror.CodeCancelled, "service.Poller.Run", err)
	}

	for tick := 1; ; tick++ {
		results := make([]*Resolution, len(pending))
		var g errgroup.Group
		for i, h := range pending {
			g.Go(func() error {
				results[i] = p.Check(ctx, h)
				return nil
			})
		}
		_ = g.Wait()

		// Only the loop mutates the pending set.
		still := pending[:0]
		for i, h := range pending {
			res := results[i]
			if res == nil {
				still = append(still, h)
				continue
			}
			out[h.RoomID] = *res
			if onResolve != nil {
				onResolve(*res)
			}
		}
		pending = still

		zerolog.Ctx(ctx).Debug().Int("tick", tick).Int("pending", len(pending)).Msg("poll tick finished")
		if len(pending) == 0 {
			return out, nil
		}
		if err := sleep(ctx, p.cfg.Interval); err != nil {
			return out, apperror.Wrap(apperror.CodeCancelled, "service.Poller.Run", err)
		}
	}
}

// Check asks for the handle's state once. It returns nil while the job is still running or the
// status read failed transiently; otherwise the job's terminal resolution. A handle resolved
// before is answered from memory.
func (p *Poller) Check(ctx context.Context, h *JobHandle) *Resolution {
	if res, ok := p.lookup(h.RequestID); ok {
		return res
	}
	logger := zerolog.Ctx(ctx).With().Str("room", h.RoomID).Str("request_id", h.RequestID).Logger()

	status, err := p.api.Status(ctx, h.RequestID)
	if err != nil {
		if ctx.Err() != nil || transient(err) {
			logger.Warn().Err(err).Msg("status check failed. Will retry next tick")
			return nil
		}
		return p.fail(ctx, h, err)
	}

	switch status.State {
	case videoapi.StateCompleted:
		return p.complete(ctx, h)
	case videoapi.StateFailed:
		msg := status.Error
		if _, err := p.repo.FailVideo(ctx, h.VideoID, msg); err != nil {
			logger.Error().Err(err).Msg("failed to mark room video failed")
		}
		logger.Warn().Str("reason", msg).Msg("room video generation failed")
		return p.remember(h, &Resolution{
			Handle: h,
			Status: constant.VideoStatusFailed,
			Err:    apperror.New(apperror.CodeJobFailed, "service.Poller.Check", msg),
		})
	}
	return nil
}

func (p *Poller) complete(ctx context.Context, h *JobHandle) *Resolution {
	const op = "service.Poller.complete"
	logger := zerolog.Ctx(ctx).With().Str("room", h.RoomID).Str("request_id", h.RequestID).Logger()

	// A record completed earlier, e.g. by a previous poller, is not downloaded again.
	if video, err := p.repo.FindVideo(ctx, h.VideoID); err == nil && video.Status == constant.VideoStatusCompleted {
		return p.remember(h, &Resolution{Handle: h, Status: constant.VideoStatusCompleted, VideoURL: video.VideoURL})
	}

	result, err := p.api.Result(ctx, h.RequestID)
	if err != nil {
		if ctx.Err() != nil || transient(err) {
			logger.Warn().Err(err).Msg("result fetch failed. Will retry next tick")
			return nil
		}
		return p.fail(ctx, h, err)
	}

	data, err := p.api.Download(ctx, result.VideoURL)
	if err != nil {
		return p.fail(ctx, h, err)
	}

	objectPath := fmt.Sprintf("users/%s/projects/%s/rooms/%s-%s.mp4", h.UserID, h.ProjectID, h.RoomID, uuid.NewString())
	url, err := p.store.Put(ctx, data, objectPath, "video/mp4")
	if err != nil {
		return p.fail(ctx, h, err)
	}

	duration := parseClipSeconds(p.cfg.ClipDuration)
	changed, err := p.repo.CompleteVideo(ctx, h.VideoID, url, duration, int64(len(data)))
	if err != nil {
		return p.fail(ctx, h, apperror.Wrap(apperror.CodeStorage, op, err))
	}
	if !changed {
		logger.Warn().Msg("room video was already terminal")
		if video, err := p.repo.FindVideo(ctx, h.VideoID); err == nil {
			return p.remember(h, &Resolution{Handle: h, Status: video.Status, VideoURL: video.VideoURL})
		}
	}
	logger.Info().Str("video_url", url).Msg("room video completed")
	return p.remember(h, &Resolution{Handle: h, Status: constant.VideoStatusCompleted, VideoURL: url})
}

// fail marks the room video failed and resolves the handle. Nothing is recorded once ctx is
// done; the run reports the cancellation instead.
func (p *Poller) fail(ctx context.Context, h *JobHandle, err error) *Resolution {
	if ctx.Err() != nil {
		return nil
	}
	logger := zerolog.Ctx(ctx).With().Str("room", h.RoomID).Str("request_id", h.RequestID).Logger()
	if _, updateErr := p.repo.FailVideo(ctx, h.VideoID, apperror.Message(err)); updateErr != nil {
		logger.Error().Err(updateErr).Msg("failed to mark room video failed")
	}
	logger.Warn().Err(err).Msg("room video failed")
	return p.remember(h, &Resolution{Handle: h, Status: constant.VideoStatusFailed, Err: err})
}

// transient reports whether a failed read is worth repeating on the next tick.
func transient(err error) bool {
	switch apperror.CodeOf(err) {
	case apperror.CodeNetwork, apperror.CodeRateLimited, apperror.CodeTimeout:
		return true
	}
	return false
}

func (p *Poller) lookup(requestID string) (*Resolution, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.resolved[requestID]
	return res, ok
}

func (p *Poller) remember(h *JobHandle, res *Resolution) *Resolution {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.resolved[h.RequestID]; ok {
		return prev
	}
	p.resolved[h.RequestID] = res
	return res
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
