package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worker-walkthrough/constant"
	"worker-walkthrough/pkg/apperror"
)

func submitRoom(t *testing.T, f *fixture, category constant.RoomCategory) *JobHandle {
	t.Helper()
	images, err := f.repo.ListImages(context.Background(), f.project.ID)
	require.NoError(t, err)
	var group RoomGroup
	for _, g := range BuildRoomGroups(images) {
		if g.Category == category {
			group = g
		}
	}
	h, err := NewSubmitter(f.repo, f.api, SubmitterConfig{}).Submit(context.Background(), RoomRequest{
		ProjectID: f.project.ID,
		UserID:    f.project.UserID,
		Group:     group,
	})
	require.NoError(t, err)
	return h
}

func TestPoller_CheckIsIdempotent(t *testing.T) {
	f := newFixture(t, constant.CategoryKitchen)
	h := submitRoom(t, f, constant.CategoryKitchen)
	p := NewPoller(f.repo, f.api, f.store, PollerConfig{ClipDuration: "5"})

	first := p.Check(context.Background(), h)
	require.NotNil(t, first)
	assert.Equal(t, constant.VideoStatusCompleted, first.Status)

	second := p.Check(context.Background(), h)
	require.NotNil(t, second)
	assert.Equal(t, first.VideoURL, second.VideoURL)
	assert.Equal(t, 1, f.api.totalDownloads())
	assert.Len(t, f.store.keys("/rooms/"), 1)

	// A fresh poller sees the completed record and does not download again.
	again := NewPoller(f.repo, f.api, f.store, PollerConfig{}).Check(context.Background(), h)
	require.NotNil(t, again)
	assert.Equal(t, first.VideoURL, again.VideoURL)
	assert.Equal(t, 1, f.api.totalDownloads())

	video, err := f.repo.FindVideo(context.Background(), h.VideoID)
	require.NoError(t, err)
	assert.Equal(t, constant.VideoStatusCompleted, video.Status)
	assert.Equal(t, first.VideoURL, video.VideoURL)
	assert.EqualValues(t, len("video:https://cdn.example.com/"+h.RequestID+".mp4"), video.FileSize)
}

func TestPoller_CheckPending(t *testing.T) {
	f := newFixture(t, constant.CategoryKitchen)
	f.api.pendingTicks = 2
	h := submitRoom(t, f, constant.CategoryKitchen)
	p := NewPoller(f.repo, f.api, f.store, PollerConfig{})

	assert.Nil(t, p.Check(context.Background(), h))
	assert.Nil(t, p.Check(context.Background(), h))
	res := p.Check(context.Background(), h)
	require.NotNil(t, res)
	assert.Equal(t, constant.VideoStatusCompleted, res.Status)
}

func TestPoller_CheckFailed(t *testing.T) {
	f := newFixture(t, constant.CategoryKitchen)
	f.api.failed["Kitchen"] = true
	h := submitRoom(t, f, constant.CategoryKitchen)

	res := NewPoller(f.repo, f.api, f.store, PollerConfig{}).Check(context.Background(), h)
	require.NotNil(t, res)
	assert.Equal(t, constant.VideoStatusFailed, res.Status)
	assert.True(t, apperror.Is(res.Err, apperror.CodeJobFailed))
	assert.Zero(t, f.api.totalDownloads())
}

func TestPoller_StorageFailureFailsRoom(t *testing.T) {
	f := newFixture(t, constant.CategoryKitchen)
	h := submitRoom(t, f, constant.CategoryKitchen)
	f.store.putErr = apperror.New(apperror.CodeStorage, "fake", "bucket unavailable")

	res := NewPoller(f.repo, f.api, f.store, PollerConfig{}).Check(context.Background(), h)
	require.NotNil(t, res)
	assert.Equal(t, constant.VideoStatusFailed, res.Status)

	video, err := f.repo.FindVideo(context.Background(), h.VideoID)
	require.NoError(t, err)
	assert.Equal(t, constant.VideoStatusFailed, video.Status)
}

func TestPoller_Run(t *testing.T) {
	f := newFixture(t, constant.CategoryKitchen, constant.CategoryBedroom)
	f.api.pendingTicks = 1
	f.api.failed["Bedroom"] = true
	kitchen := submitRoom(t, f, constant.CategoryKitchen)
	bedroom := submitRoom(t, f, constant.CategoryBedroom)

	var resolved []string
	out, err := NewPoller(f.repo, f.api, f.store, PollerConfig{Interval: time.Millisecond}).
		Run(context.Background(), []*JobHandle{kitchen, bedroom}, func(r Resolution) {
			resolved = append(resolved, r.Handle.RoomID)
		})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"kitchen", "bedroom"}, resolved)
	assert.Equal(t, constant.VideoStatusCompleted, out["kitchen"].Status)
	assert.Equal(t, constant.VideoStatusFailed, out["bedroom"].Status)
}

func TestPoller_RunCancelled(t *testing.T) {
	f := newFixture(t, constant.CategoryKitchen)
	f.api.pendingTicks = 1 << 30
	h := submitRoom(t, f, constant.CategoryKitchen)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewPoller(f.repo, f.api, f.store, PollerConfig{Interval: time.Millisecond}).Run(ctx, []*JobHandle{h}, nil)
	assert.True(t, apperror.Is(err, apperror.CodeCancelled))
}

func TestPoller_CheckUnreadableStatusFailsRoom(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unknown job state", apperror.New(apperror.CodeAPIContract, "fake", `unknown job state "WEIRD"`)},
		{"rejected request", apperror.New(apperror.CodeValidation, "fake", "status 404")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, constant.CategoryKitchen)
			h := submitRoom(t, f, constant.CategoryKitchen)
			f.api.statusErr["Kitchen"] = tc.err

			res := NewPoller(f.repo, f.api, f.store, PollerConfig{}).Check(context.Background(), h)
			require.NotNil(t, res)
			assert.Equal(t, constant.VideoStatusFailed, res.Status)
			assert.True(t, apperror.Is(res.Err, apperror.CodeOf(tc.err)))

			video, err := f.repo.FindVideo(context.Background(), h.VideoID)
			require.NoError(t, err)
			assert.Equal(t, constant.VideoStatusFailed, video.Status)
			assert.NotEmpty(t, video.ErrorMessage)
		})
	}
}

func TestPoller_CheckUnreadableResultFailsRoom(t *testing.T) {
	for _, code := range []apperror.Code{apperror.CodeAPIContract, apperror.CodeValidation} {
		t.Run(string(code), func(t *testing.T) {
			f := newFixture(t, constant.CategoryKitchen)
			h := submitRoom(t, f, constant.CategoryKitchen)
			f.api.resultErr["Kitchen"] = apperror.New(code, "fake", "no result")

			res := NewPoller(f.repo, f.api, f.store, PollerConfig{}).Check(context.Background(), h)
			require.NotNil(t, res)
			assert.Equal(t, constant.VideoStatusFailed, res.Status)
			assert.Zero(t, f.api.totalDownloads())

			video, err := f.repo.FindVideo(context.Background(), h.VideoID)
			require.NoError(t, err)
			assert.Equal(t, constant.VideoStatusFailed, video.Status)
		})
	}
}

func TestPoller_CheckTransientErrorsRetry(t *testing.T) {
	for _, code := range []apperror.Code{apperror.CodeNetwork, apperror.CodeRateLimited, apperror.CodeTimeout} {
		t.Run(string(code), func(t *testing.T) {
			f := newFixture(t, constant.CategoryKitchen)
			h := submitRoom(t, f, constant.CategoryKitchen)
			p := NewPoller(f.repo, f.api, f.store, PollerConfig{})

			f.api.statusErr["Kitchen"] = apperror.New(code, "fake", "try later")
			assert.Nil(t, p.Check(context.Background(), h))
			delete(f.api.statusErr, "Kitchen")

			f.api.resultErr["Kitchen"] = apperror.New(code, "fake", "try later")
			assert.Nil(t, p.Check(context.Background(), h))
			delete(f.api.resultErr, "Kitchen")

			video, err := f.repo.FindVideo(context.Background(), h.VideoID)
			require.NoError(t, err)
			assert.Equal(t, constant.VideoStatusProcessing, video.Status)

			res := p.Check(context.Background(), h)
			require.NotNil(t, res)
			assert.Equal(t, constant.VideoStatusCompleted, res.Status)
		})
	}
}

func TestPoller_RunResolvesUnreadableStatus(t *testing.T) {
	f := newFixture(t, constant.CategoryKitchen, constant.CategoryBedroom)
	f.api.statusErr["Bedroom"] = apperror.New(apperror.CodeAPIContract, "fake", `unknown job state "WEIRD"`)
	kitchen := submitRoom(t, f, constant.CategoryKitchen)
	bedroom := submitRoom(t, f, constant.CategoryBedroom)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := NewPoller(f.repo, f.api, f.store, PollerConfig{Interval: time.Millisecond}).
		Run(ctx, []*JobHandle{kitchen, bedroom}, nil)
	require.NoError(t, err)
	assert.Equal(t, constant.VideoStatusCompleted, out["kitchen"].Status)
	assert.Equal(t, constant.VideoStatusFailed, out["bedroom"].Status)
}
