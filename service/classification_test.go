package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"worker-walkthrough/constant"
	"worker-walkthrough/dto"
	"worker-walkthrough/entities"
	"worker-walkthrough/pkg/apperror"
	"worker-walkthrough/pkg/vision"
)

func createSourceImages(t *testing.T, db *gorm.DB, projectID uuid.UUID, refs ...string) {
	t.Helper()
	for i, ref := range refs {
		require.NoError(t, db.Create(&entities.Image{ProjectID: projectID, SourceRef: ref, Status: constant.ImageStatusPending, Position: i}).Error)
	}
}

func fakeLoader(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "missing") {
		return nil, errors.New("no such file")
	}
	return []byte("jpeg:" + ref), nil
}

type progressLog struct {
	mu     sync.Mutex
	events []dto.ClassificationProgress
}

func (l *progressLog) record(p dto.ClassificationProgress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, p)
}

func TestClassify_UploadsAnalyzesAndGroups(t *testing.T) {
	repo, db := newTestRepo(t)
	project := createProject(t, db)
	createSourceImages(t, db, project.ID, "front.jpg", "kitchen.png", "missing.jpg")

	classifier := newFakeClassifier()
	classifier.answers[".jpg"] = &vision.Classification{Category: constant.CategoryExteriorFront, Confidence: 0.91, Features: []string{"porch"}}
	classifier.answers[".png"] = &vision.Classification{Category: constant.CategoryKitchen, Confidence: 0.8}

	store := newMemStore()
	progress := NewProgressStore()
	svc := NewClassificationService(repo, store, classifier, fakeLoader, progress, ClassificationConfig{Concurrency: 2})

	log := &progressLog{}
	result, err := svc.Classify(context.Background(), project.ID, log.record)
	require.NoError(t, err)

	assert.Equal(t, constant.PhaseComplete, result.Phase)
	assert.Equal(t, 2, result.Classified)
	assert.Equal(t, 1, result.Failed)

	categories := make([]constant.RoomCategory, len(result.Groups))
	for i, g := range result.Groups {
		categories[i] = g.Category
	}
	assert.Equal(t, []constant.RoomCategory{constant.CategoryExteriorFront, constant.CategoryKitchen, constant.CategoryErrors}, categories)
	assert.InDelta(t, 0.91, result.Groups[0].AverageConfidence, 1e-9)

	uploads := store.keys("/images/")
	require.Len(t, uploads, 2)
	for _, u := range uploads {
		assert.Contains(t, u, "users/"+project.UserID.String()+"/projects/"+project.ID.String()+"/images/")
	}

	images, err := repo.ListImages(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.ImageStatusAnalyzed, images[0].Status)
	assert.Equal(t, 91, images[0].Confidence)
	assert.Equal(t, []string{"porch"}, images[0].FeatureList())
	assert.Equal(t, constant.ImageStatusError, images[2].Status)
	assert.NotEmpty(t, images[2].ErrorMessage)

	p, err := repo.FindProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.ProjectStatusClassified, p.Status)

	require.NotEmpty(t, log.events)
	last := 0
	for _, e := range log.events {
		assert.GreaterOrEqual(t, e.Progress, last)
		last = e.Progress
	}
	assert.Equal(t, constant.PhaseUploading, log.events[0].Phase)
	final := log.events[len(log.events)-1]
	assert.Equal(t, constant.PhaseComplete, final.Phase)
	assert.Equal(t, 100, final.Progress)

	stored, ok := progress.Classification(project.ID)
	require.True(t, ok)
	assert.Equal(t, final, stored)
}

func TestClassify_SkipsUploadWhenStored(t *testing.T) {
	repo, db := newTestRepo(t)
	project := createProject(t, db)
	createRoomImages(t, db, project.ID, 1, constant.CategoryBedroom)

	classifier := newFakeClassifier()
	classifier.answers["bedroom-0.jpg"] = &vision.Classification{Category: constant.CategoryBedroom, Confidence: 0.7}
	store := newMemStore()
	svc := NewClassificationService(repo, store, classifier, fakeLoader, nil, ClassificationConfig{})

	log := &progressLog{}
	result, err := svc.Classify(context.Background(), project.ID, log.record)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Classified)
	assert.Zero(t, store.puts)
	assert.Equal(t, constant.PhaseAnalyzing, log.events[0].Phase)
	assert.Equal(t, 50, log.events[0].Progress)
}

func TestClassify_RateLimitCooldown(t *testing.T) {
	repo, db := newTestRepo(t)
	project := createProject(t, db)
	createRoomImages(t, db, project.ID, 1, constant.CategoryKitchen, constant.CategoryBathroom)

	limited := apperror.New(apperror.CodeRateLimited, "fake", "slow down")
	classifier := newFakeClassifier()
	classifier.answers["kitchen-0.jpg"] = &vision.Classification{Category: constant.CategoryKitchen, Confidence: 0.9}
	classifier.errs["kitchen-0.jpg"] = []error{limited}
	classifier.answers["bathroom-0.jpg"] = &vision.Classification{Category: constant.CategoryBathroom, Confidence: 0.9}
	classifier.errs["bathroom-0.jpg"] = []error{limited, limited, limited, limited}

	svc := NewClassificationService(repo, newMemStore(), classifier, fakeLoader, nil, ClassificationConfig{
		Concurrency:       1,
		RateLimitCooldown: time.Millisecond,
		MaxCooldowns:      2,
	})
	result, err := svc.Classify(context.Background(), project.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Classified)
	assert.Equal(t, 2, classifier.calls["kitchen-0.jpg"])
	assert.Equal(t, 3, classifier.calls["bathroom-0.jpg"])

	images, err := repo.ListImages(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.ImageStatusAnalyzed, images[0].Status)
	assert.Equal(t, constant.ImageStatusError, images[1].Status)
}

func TestClassify_NothingClassified(t *testing.T) {
	repo, db := newTestRepo(t)
	project := createProject(t, db)
	createRoomImages(t, db, project.ID, 2, constant.CategoryKitchen)

	classifier := newFakeClassifier()
	classifier.answers[".jpg"] = nil
	svc := NewClassificationService(repo, newMemStore(), classifier, fakeLoader, nil, ClassificationConfig{})

	log := &progressLog{}
	result, err := svc.Classify(context.Background(), project.ID, log.record)
	assert.True(t, apperror.Is(err, apperror.CodeJobFailed))
	require.NotNil(t, result)
	assert.Equal(t, constant.PhaseError, result.Phase)
	assert.Equal(t, constant.PhaseError, log.events[len(log.events)-1].Phase)

	p, err := repo.FindProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.ProjectStatusFailed, p.Status)
}

func TestClassify_NoImages(t *testing.T) {
	repo, db := newTestRepo(t)
	project := createProject(t, db)
	svc := NewClassificationService(repo, newMemStore(), newFakeClassifier(), fakeLoader, nil, ClassificationConfig{})

	_, err := svc.Classify(context.Background(), project.ID, nil)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}
