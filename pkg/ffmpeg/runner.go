package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Runner executes a media binary and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExecRunner struct {
	FFmpegPath  string
	FFprobePath string
}

func NewExecRunner(ffmpegPath, ffprobePath string) *ExecRunner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &ExecRunner{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	bin := name
	switch name {
	case "ffmpeg":
		bin = r.FFmpegPath
	case "ffprobe":
		bin = r.FFprobePath
	}

	zerolog.Ctx(ctx).Debug().Str("bin", bin).Strs("args", args).Msg("executing media command")

	cmd := exec.CommandContext(ctx, bin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		zerolog.Ctx(ctx).Error().
			Err(err).
			Str("bin", bin).
			Str("ffmpeg_output", tail(string(output), 2000)).
			Msg("media command failed")
		return output, fmt.Errorf("%s execution failed: %w\nOutput: %s", name, err, tail(string(output), 2000))
	}
	return output, nil
}

// Probe returns the container duration of path in seconds.
func Probe(ctx context.Context, r Runner, path string) (float64, error) {
	out, err := r.Run(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(out))
	if nl := strings.IndexByte(raw, '\n'); nl >= 0 {
		raw = strings.TrimSpace(raw[:nl])
	}
	dur, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q of %s: %w", raw, path, err)
	}
	return dur, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
