package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"worker-walkthrough/constant"
	"worker-walkthrough/pkg/apperror"
	"worker-walkthrough/pkg/ffmpeg"
	"worker-walkthrough/pkg/storage"
)

type Clip struct {
	URL      string
	RoomName string
}

type LogoSettings struct {
	Data     []byte
	Position constant.LogoPosition
}

type SubtitleSettings struct {
	Enabled bool
	Text    string
	Font    string
}

// CompositionSettings is built once per run and not modified during composition.
type CompositionSettings struct {
	UserID      uuid.UUID
	ProjectID   uuid.UUID
	Clips       []Clip
	Logo        *LogoSettings
	Subtitles   *SubtitleSettings
	Transitions bool
	AspectRatio string
}

type CompositionResult struct {
	VideoURL     string
	ThumbnailURL string
	Duration     float64
	FileSize     int64
}

type Composer interface {
	Compose(ctx context.Context, settings CompositionSettings) (*CompositionResult, error)
}

type CompositionConfig struct {
	ScratchDir        string
	CrossfadeDuration float64
	SubtitleChunk     time.Duration
	SubtitleMaxChars  int
	SubtitleFont      string
	LogoMaxWidth      int
	LogoMaxHeight     int
}

type compositionEngine struct {
	store  storage.ObjectStorage
	runner ffmpeg.Runner
	cfg    CompositionConfig
}

func NewCompositionEngine(store storage.ObjectStorage, runner ffmpeg.Runner, cfg CompositionConfig) Composer {
	if cfg.CrossfadeDuration <= 0 {
		cfg.CrossfadeDuration = 0.5
	}
	if cfg.SubtitleChunk <= 0 {
		cfg.SubtitleChunk = 3 * time.Second
	}
	if cfg.SubtitleMaxChars <= 0 {
		cfg.SubtitleMaxChars = 40
	}
	if cfg.LogoMaxWidth <= 0 {
		cfg.LogoMaxWidth = 240
	}
	if cfg.LogoMaxHeight <= 0 {
		cfg.LogoMaxHeight = 120
	}
	return &compositionEngine{store: store, runner: runner, cfg: cfg}
}

var encodeArgs = []string{"-c:v", "libx264", "-preset", "fast", "-crf", "20", "-pix_fmt", "yuv420p", "-an", "-movflags", "+faststart"}

// Compose turns the ordered clips into one video plus a thumbnail. Every step writes its artifact
// into a scratch directory that is removed when Compose returns. Any failing step fails the
// whole composition with COMPOSITION_ERROR.
func (e *compositionEngine) Compose(ctx context.Context, settings CompositionSettings) (result *CompositionResult, err error) {
	const op = "service.Compose"
	logger := zerolog.Ctx(ctx)

	if len(settings.Clips) == 0 {
		return nil, apperror.New(apperror.CodeComposition, op, "no clips to compose")
	}

	dir, err := os.MkdirTemp(e.cfg.ScratchDir, "compose-")
	if err != nil {
		return nil, apperror.Wrapf(apperror.CodeComposition, op, err, "create scratch dir")
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logger.Error().Err(rmErr).Str("dir", dir).Msg("failed to remove scratch dir")
		}
	}()

	step := func(name string, err error) error {
		if ctx.Err() != nil {
			return apperror.Wrap(apperror.CodeCancelled, op, ctx.Err())
		}
		return apperror.Wrapf(apperror.CodeComposition, op, err, "%s", name)
	}

	logger.Info().Int("clips", len(settings.Clips)).Msg("downloading clips")
	paths, err := e.download(ctx, dir, settings.Clips)
	if err != nil {
		return nil, step("download clips", err)
	}

	durations := make([]float64, len(paths))
	for i, p := range paths {
		if durations[i], err = ffmpeg.Probe(ctx, e.runner, p); err != nil {
			return nil, step("probe clip", err)
		}
	}

	res := ffmpeg.ResolutionFor(settings.AspectRatio)
	current := filepath.Join(dir, "concat.mp4")
	if err := e.concat(ctx, paths, durations, settings.Transitions, res, current); err != nil {
		return nil, step("concatenate", err)
	}

	if settings.Logo != nil && len(settings.Logo.Data) > 0 {
		out := filepath.Join(dir, "logo.mp4")
		if err := e.overlayLogo(ctx, dir, current, settings.Logo, out); err != nil {
			return nil, step("logo overlay", err)
		}
		current = out
	}

	if settings.Subtitles != nil && settings.Subtitles.Enabled && settings.Subtitles.Text != "" {
		out := filepath.Join(dir, "subtitled.mp4")
		if err := e.burnSubtitles(ctx, dir, current, settings.Subtitles, out); err != nil {
			return nil, step("subtitles", err)
		}
		current = out
	}

	duration, err := ffmpeg.Probe(ctx, e.runner, current)
	if err != nil {
		return nil, step("probe final video", err)
	}

	thumb := filepath.Join(dir, "thumbnail.jpg")
	if _, err := e.runner.Run(ctx, "ffmpeg", "-y", "-i", current, "-vframes", "1", "-q:v", "2", thumb); err != nil {
		return nil, step("thumbnail", err)
	}

	videoData, err := os.ReadFile(current)
	if err != nil {
		return nil, step("read final video", err)
	}
	thumbData, err := os.ReadFile(thumb)
	if err != nil {
		return nil, step("read thumbnail", err)
	}

	prefix := fmt.Sprintf("users/%s/projects/%s/videos", settings.UserID, settings.ProjectID)
	videoURL, err := e.store.Put(ctx, videoData, fmt.Sprintf("%s/final-%s.mp4", prefix, uuid.NewString()), "video/mp4")
	if err != nil {
		return nil, step("upload final video", err)
	}
	thumbURL, err := e.store.Put(ctx, thumbData, fmt.Sprintf("%s/thumbnail-%s.jpg", prefix, uuid.NewString()), "image/jpeg")
	if err != nil {
		return nil, step("upload thumbnail", err)
	}

	logger.Info().Str("video_url", videoURL).Float64("duration", duration).Int("size", len(videoData)).Msg("composition completed")
	return &CompositionResult{
		VideoURL:     videoURL,
		ThumbnailURL: thumbURL,
		Duration:     duration,
		FileSize:     int64(len(videoData)),
	}, nil
}

func (e *compositionEngine) download(ctx context.Context, dir string, clips []Clip) ([]string, error) {
	paths := make([]string, len(clips))
	g, gctx := errgroup.WithContext(ctx)
	for i, clip := range clips {
		g.Go(func() error {
			data, err := e.store.Get(gctx, clip.URL)
			if err != nil {
				return fmt.Errorf("clip %d (%s): %w", i, clip.RoomName, err)
			}
			path := filepath.Join(dir, fmt.Sprintf("clip-%02d.mp4", i))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// concat re-encodes a single clip, otherwise chains crossfades or joins the clips back to back.
func (e *compositionEngine) concat(ctx context.Context, paths []string, durations []float64, transitions bool, res ffmpeg.Resolution, out string) error {
	args := []string{"-y"}
	for _, p := range paths {
		args = append(args, "-i", p)
	}

	switch {
	case len(paths) == 1:
		args = append(args, "-vf", ffmpeg.ReencodeFilter(res))
	case transitions:
		args = append(args, "-filter_complex", ffmpeg.CrossfadeGraph(durations, e.cfg.CrossfadeDuration, res), "-map", "[vout]")
	default:
		args = append(args, "-filter_complex", ffmpeg.ConcatGraph(len(paths), res), "-map", "[vout]")
	}
	args = append(args, encodeArgs...)
	args = append(args, out)

	zerolog.Ctx(ctx).Info().Int("clips", len(paths)).Bool("transitions", transitions).Str("resolution", res.String()).Msg("concatenating clips")
	_, err := e.runner.Run(ctx, "ffmpeg", args...)
	return err
}

func (e *compositionEngine) overlayLogo(ctx context.Context, dir, in string, logo *LogoSettings, out string) error {
	img, err := imaging.Decode(bytes.NewReader(logo.Data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode logo: %w", err)
	}
	fitted := imaging.Fit(img, e.cfg.LogoMaxWidth, e.cfg.LogoMaxHeight, imaging.Lanczos)
	logoPath := filepath.Join(dir, "logo.png")
	if err := imaging.Save(fitted, logoPath); err != nil {
		return fmt.Errorf("save logo: %w", err)
	}

	position := logo.Position
	if !position.Valid() {
		position = constant.LogoBottomRight
	}
	args := []string{"-y", "-i", in, "-i", logoPath,
		"-filter_complex", ffmpeg.OverlayFilter(position, ffmpeg.LogoPadding), "-map", "[vout]"}
	args = append(args, encodeArgs...)
	args = append(args, out)
	_, err = e.runner.Run(ctx, "ffmpeg", args...)
	return err
}

func (e *compositionEngine) burnSubtitles(ctx context.Context, dir, in string, subs *SubtitleSettings, out string) error {
	total, err := ffmpeg.Probe(ctx, e.runner, in)
	if err != nil {
		return err
	}
	cues := ffmpeg.ChunkSubtitles(subs.Text, e.cfg.SubtitleMaxChars, e.cfg.SubtitleChunk, time.Duration(total*float64(time.Second)))
	srtPath := filepath.Join(dir, "subtitles.srt")
	if err := os.WriteFile(srtPath, []byte(ffmpeg.FormatSRT(cues)), 0o644); err != nil {
		return err
	}

	font := subs.Font
	if font == "" {
		font = e.cfg.SubtitleFont
	}
	args := []string{"-y", "-i", in, "-vf", ffmpeg.SubtitleFilter(srtPath, font, 0)}
	args = append(args, encodeArgs...)
	args = append(args, out)

	zerolog.Ctx(ctx).Info().Int("cues", len(cues)).Str("font", font).Msg("burning subtitles")
	_, err = e.runner.Run(ctx, "ffmpeg", args...)
	return err
}

// parseClipSeconds reads the configured clip duration, e.g. "5".
func parseClipSeconds(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
