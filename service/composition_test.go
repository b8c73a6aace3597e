package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worker-walkthrough/constant"
	"worker-walkthrough/pkg/apperror"
)

func pngLogo(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func seedClips(t *testing.T, store *memStore, n int) []Clip {
	t.Helper()
	clips := make([]Clip, n)
	for i := range clips {
		url, err := store.Put(context.Background(), []byte("clip"), "rooms/"+uuid.NewString()+".mp4", "video/mp4")
		require.NoError(t, err)
		clips[i] = Clip{URL: url, RoomName: "Room"}
	}
	return clips
}

func joined(call []string) string {
	return strings.Join(call, " ")
}

func TestCompose_TransitionsLogoSubtitles(t *testing.T) {
	store := newMemStore()
	runner := &fakeRunner{}
	scratch := t.TempDir()
	engine := NewCompositionEngine(store, runner, CompositionConfig{ScratchDir: scratch})

	settings := CompositionSettings{
		UserID:      uuid.New(),
		ProjectID:   uuid.New(),
		Clips:       seedClips(t, store, 3),
		Logo:        &LogoSettings{Data: pngLogo(t, 600, 300), Position: constant.LogoTopLeft},
		Subtitles:   &SubtitleSettings{Enabled: true, Text: "Welcome to this beautiful three bedroom home"},
		Transitions: true,
		AspectRatio: "16:9",
	}
	result, err := engine.Compose(context.Background(), settings)
	require.NoError(t, err)

	calls := runner.ffmpegCalls()
	require.Len(t, calls, 4)

	concat := joined(calls[0])
	assert.Contains(t, concat, "xfade=transition=fade:duration=0.500:offset=4.500")
	assert.Contains(t, concat, "offset=9.000")
	assert.Contains(t, concat, "scale=1920:1080")
	assert.Contains(t, concat, "-map [vout]")

	overlay := joined(calls[1])
	assert.Contains(t, overlay, "overlay=40:40[vout]")
	assert.Contains(t, overlay, "logo.png")

	subs := joined(calls[2])
	assert.Contains(t, subs, "subtitles=")
	assert.Contains(t, subs, "FontName=Arial")

	thumb := joined(calls[3])
	assert.Contains(t, thumb, "-vframes 1")
	assert.True(t, strings.HasSuffix(thumb, "thumbnail.jpg"))

	assert.Contains(t, result.VideoURL, "/videos/final-")
	assert.Contains(t, result.ThumbnailURL, "/videos/thumbnail-")
	assert.InDelta(t, 5.0, result.Duration, 1e-9)
	assert.Positive(t, result.FileSize)

	// The scratch directory is gone once Compose returns.
	dir := filepath.Dir(calls[3][len(calls[3])-1])
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCompose_SingleClipWithoutTransitions(t *testing.T) {
	store := newMemStore()
	runner := &fakeRunner{}
	engine := NewCompositionEngine(store, runner, CompositionConfig{ScratchDir: t.TempDir()})

	_, err := engine.Compose(context.Background(), CompositionSettings{Clips: seedClips(t, store, 1), AspectRatio: "9:16"})
	require.NoError(t, err)

	calls := runner.ffmpegCalls()
	require.Len(t, calls, 2)
	assert.Contains(t, joined(calls[0]), "-vf scale=1080:1920")
	assert.NotContains(t, joined(calls[0]), "xfade")
}

func TestCompose_ConcatWithoutTransitions(t *testing.T) {
	store := newMemStore()
	runner := &fakeRunner{}
	engine := NewCompositionEngine(store, runner, CompositionConfig{ScratchDir: t.TempDir()})

	_, err := engine.Compose(context.Background(), CompositionSettings{Clips: seedClips(t, store, 2)})
	require.NoError(t, err)
	assert.Contains(t, joined(runner.ffmpegCalls()[0]), "concat=n=2:v=1:a=0[vout]")
}

func TestCompose_Failures(t *testing.T) {
	t.Run("no clips", func(t *testing.T) {
		engine := NewCompositionEngine(newMemStore(), &fakeRunner{}, CompositionConfig{})
		_, err := engine.Compose(context.Background(), CompositionSettings{})
		assert.True(t, apperror.Is(err, apperror.CodeComposition))
	})

	t.Run("missing clip", func(t *testing.T) {
		engine := NewCompositionEngine(newMemStore(), &fakeRunner{}, CompositionConfig{ScratchDir: t.TempDir()})
		_, err := engine.Compose(context.Background(), CompositionSettings{Clips: []Clip{{URL: "https://storage.example.com/bucket/gone.mp4"}}})
		assert.True(t, apperror.Is(err, apperror.CodeComposition))
	})

	t.Run("ffmpeg fails and scratch is removed", func(t *testing.T) {
		store := newMemStore()
		scratch := t.TempDir()
		engine := NewCompositionEngine(store, &fakeRunner{failOn: "overlay"}, CompositionConfig{ScratchDir: scratch})
		_, err := engine.Compose(context.Background(), CompositionSettings{
			Clips: seedClips(t, store, 2),
			Logo:  &LogoSettings{Data: pngLogo(t, 20, 20)},
		})
		assert.True(t, apperror.Is(err, apperror.CodeComposition))
		assert.Contains(t, err.Error(), "logo overlay")
		entries, _ := os.ReadDir(scratch)
		assert.Empty(t, entries)
	})

	t.Run("bad logo", func(t *testing.T) {
		store := newMemStore()
		engine := NewCompositionEngine(store, &fakeRunner{}, CompositionConfig{ScratchDir: t.TempDir()})
		_, err := engine.Compose(context.Background(), CompositionSettings{
			Clips: seedClips(t, store, 1),
			Logo:  &LogoSettings{Data: []byte("not an image")},
		})
		assert.True(t, apperror.Is(err, apperror.CodeComposition))
	})
}
