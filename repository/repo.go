package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"worker-walkthrough/constant"
	"worker-walkthrough/entities"
	"worker-walkthrough/pkg/apperror"
)

type Repository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB() *gorm.DB

	FindJobById(ctx context.Context, id uuid.UUID) (*entities.Job, error)
	UpdateStatusJob(ctx context.Context, status constant.JobStatus, id uuid.UUID) error

	FindProject(ctx context.Context, id uuid.UUID) (*entities.Project, error)
	UpdateProjectStatus(ctx context.Context, id uuid.UUID, status constant.ProjectStatus, errCode, errMsg string) error

	ListImages(ctx context.Context, projectID uuid.UUID) ([]*entities.Image, error)
	SetImageStorageURL(ctx context.Context, id uuid.UUID, url string) error
	UpdateImageStatus(ctx context.Context, id uuid.UUID, status constant.ImageStatus, errMsg string) error
	SaveImageClassification(ctx context.Context, id uuid.UUID, c ImageClassification) error

	ResetRoomVideo(ctx context.Context, projectID uuid.UUID, roomID string, settings datatypes.JSON) (*entities.Video, error)
	MarkVideoProcessing(ctx context.Context, id uuid.UUID, requestID string) error
	CompleteVideo(ctx context.Context, id uuid.UUID, url string, duration float64, size int64) (bool, error)
	FailVideo(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)
	FindVideo(ctx context.Context, id uuid.UUID) (*entities.Video, error)
	ListRoomVideos(ctx context.Context, projectID uuid.UUID) ([]*entities.Video, error)
	UpsertFinalVideo(ctx context.Context, projectID uuid.UUID, final FinalVideo) (*entities.Video, error)

	FindActiveSubscription(ctx context.Context, userID uuid.UUID) (*entities.Subscription, error)
}

type ImageClassification struct {
	Category   constant.RoomCategory
	Confidence int
	Reasoning  string
	Features   []string
}

type FinalVideo struct {
	VideoURL     string
	ThumbnailURL string
	Duration     float64
	FileSize     int64
	Settings     datatypes.JSON
}

type txKey struct{}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) Repository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	return &repo{
		db: gormDB,
	}
}

// NewRepoWithGorm wraps an already opened connection, e.g. sqlite in tests.
func NewRepoWithGorm(db *gorm.DB) Repository {
	return &repo{db: db}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(context.WithValue(ctx, txKey{}, tx))
	}, opts...)
}

func (r *repo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.Job, error) {
	job := &entities.Job{}
	err := r.conn(ctx).First(job, "id = ?", id).Error
	if err != nil {
		return nil, notFound("repository.FindJobById", err)
	}

	return job, nil
}

func (r *repo) UpdateStatusJob(ctx context.Context, status constant.JobStatus, id uuid.UUID) error {
	job := &entities.Job{}
	err := r.conn(ctx).First(job, "id = ?", id).Error
	if err != nil {
		return notFound("repository.UpdateStatusJob", err)
	}
	job.Status = status
	return r.conn(ctx).Save(job).Error
}

func (r *repo) FindProject(ctx context.Context, id uuid.UUID) (*entities.Project, error) {
	project := &entities.Project{}
	if err := r.conn(ctx).First(project, "id = ?", id).Error; err != nil {
		return nil, notFound("repository.FindProject", err)
	}
	return project, nil
}

func (r *repo) UpdateProjectStatus(ctx context.Context, id uuid.UUID, status constant.ProjectStatus, errCode, errMsg string) error {
	updates := map[string]interface{}{
		"status":        status,
		"error_code":    errCode,
		"error_message": errMsg,
	}
	return r.conn(ctx).Model(&entities.Project{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repo) ListImages(ctx context.Context, projectID uuid.UUID) ([]*entities.Image, error) {
	var images []*entities.Image
	err := r.conn(ctx).Where("project_id = ?", projectID).Order("position ASC").Find(&images).Error
	if err != nil {
		return nil, err
	}
	return images, nil
}

func (r *repo) SetImageStorageURL(ctx context.Context, id uuid.UUID, url string) error {
	updates := map[string]interface{}{
		"storage_url":   url,
		"status":        constant.ImageStatusUploaded,
		"error_message": "",
	}
	return r.conn(ctx).Model(&entities.Image{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repo) UpdateImageStatus(ctx context.Context, id uuid.UUID, status constant.ImageStatus, errMsg string) error {
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
	}
	return r.conn(ctx).Model(&entities.Image{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repo) SaveImageClassification(ctx context.Context, id uuid.UUID, c ImageClassification) error {
	features := c.Features
	if features == nil {
		features = []string{}
	}
	raw, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	updates := map[string]interface{}{
		"category":      c.Category,
		"confidence":    c.Confidence,
		"reasoning":     c.Reasoning,
		"features":      datatypes.JSON(raw),
		"status":        constant.ImageStatusAnalyzed,
		"error_message": "",
	}
	return r.conn(ctx).Model(&entities.Image{}).Where("id = ?", id).Updates(updates).Error
}

// ResetRoomVideo returns the single record for (project, room), created or reset to pending.
func (r *repo) ResetRoomVideo(ctx context.Context, projectID uuid.UUID, roomID string, settings datatypes.JSON) (*entities.Video, error) {
	var video *entities.Video
	err := r.Transaction(ctx, func(ctx context.Context) error {
		existing := &entities.Video{}
		err := r.conn(ctx).Where("project_id = ? AND room_id = ?", projectID, roomID).First(existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			room := roomID
			video = &entities.Video{
				ProjectID: projectID,
				RoomID:    &room,
				Status:    constant.VideoStatusPending,
				Settings:  settings,
			}
			return r.conn(ctx).Create(video).Error
		case err != nil:
			return err
		}

		updates := map[string]interface{}{
			"status":        constant.VideoStatusPending,
			"video_url":     "",
			"duration":      0,
			"error_message": "",
			"thumbnail_url": "",
			"file_size":     0,
			"request_id":    "",
			"settings":      settings,
		}
		if err := r.conn(ctx).Model(existing).Updates(updates).Error; err != nil {
			return err
		}
		video = &entities.Video{}
		return r.conn(ctx).First(video, "id = ?", existing.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return video, nil
}

func (r *repo) MarkVideoProcessing(ctx context.Context, id uuid.UUID, requestID string) error {
	updates := map[string]interface{}{
		"status":     constant.VideoStatusProcessing,
		"request_id": requestID,
	}
	return r.conn(ctx).Model(&entities.Video{}).
		Where("id = ? AND status = ?", id, constant.VideoStatusPending).
		Updates(updates).Error
}

// CompleteVideo moves a non-terminal record to completed. It reports false when the record
// was already terminal, leaving it untouched.
func (r *repo) CompleteVideo(ctx context.Context, id uuid.UUID, url string, duration float64, size int64) (bool, error) {
	updates := map[string]interface{}{
		"status":        constant.VideoStatusCompleted,
		"video_url":     url,
		"duration":      duration,
		"file_size":     size,
		"error_message": "",
	}
	res := r.conn(ctx).Model(&entities.Video{}).
		Where("id = ? AND status NOT IN ?", id, terminalVideoStatuses()).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) FailVideo(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	updates := map[string]interface{}{
		"status":        constant.VideoStatusFailed,
		"error_message": errMsg,
	}
	res := r.conn(ctx).Model(&entities.Video{}).
		Where("id = ? AND status NOT IN ?", id, terminalVideoStatuses()).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) FindVideo(ctx context.Context, id uuid.UUID) (*entities.Video, error) {
	video := &entities.Video{}
	if err := r.conn(ctx).First(video, "id = ?", id).Error; err != nil {
		return nil, notFound("repository.FindVideo", err)
	}
	return video, nil
}

func (r *repo) ListRoomVideos(ctx context.Context, projectID uuid.UUID) ([]*entities.Video, error) {
	var videos []*entities.Video
	err := r.conn(ctx).Where("project_id = ? AND room_id IS NOT NULL", projectID).Order("created_at ASC").Find(&videos).Error
	if err != nil {
		return nil, err
	}
	return videos, nil
}

// UpsertFinalVideo keeps at most one final video per project.
func (r *repo) UpsertFinalVideo(ctx context.Context, projectID uuid.UUID, final FinalVideo) (*entities.Video, error) {
	var video *entities.Video
	err := r.Transaction(ctx, func(ctx context.Context) error {
		existing := &entities.Video{}
		err := r.conn(ctx).Where("project_id = ? AND room_id IS NULL", projectID).First(existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			video = &entities.Video{
				ProjectID:    projectID,
				VideoURL:     final.VideoURL,
				ThumbnailURL: final.ThumbnailURL,
				Duration:     final.Duration,
				FileSize:     final.FileSize,
				Settings:     final.Settings,
				Status:       constant.VideoStatusCompleted,
			}
			return r.conn(ctx).Create(video).Error
		case err != nil:
			return err
		}

		updates := map[string]interface{}{
			"status":        constant.VideoStatusCompleted,
			"video_url":     final.VideoURL,
			"thumbnail_url": final.ThumbnailURL,
			"duration":      final.Duration,
			"file_size":     final.FileSize,
			"settings":      final.Settings,
			"error_message": "",
		}
		if err := r.conn(ctx).Model(existing).Updates(updates).Error; err != nil {
			return err
		}
		video = &entities.Video{}
		return r.conn(ctx).First(video, "id = ?", existing.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return video, nil
}

func (r *repo) FindActiveSubscription(ctx context.Context, userID uuid.UUID) (*entities.Subscription, error) {
	sub := &entities.Subscription{}
	err := r.conn(ctx).
		Where("user_id = ? AND status IN ?", userID, []constant.SubscriptionStatus{constant.SubscriptionActive, constant.SubscriptionTrialing}).
		Order("current_period_end DESC").
		First(sub).Error
	if err != nil {
		return nil, notFound("repository.FindActiveSubscription", err)
	}
	return sub, nil
}

func terminalVideoStatuses() []constant.VideoStatus {
	return []constant.VideoStatus{constant.VideoStatusCompleted, constant.VideoStatusFailed}
}

func notFound(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.Wrap(apperror.CodeNotFound, op, err)
	}
	return err
}
