package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"worker-walkthrough/constant"
)

// Video is either a room clip or, when RoomID is nil, the final composed walkthrough.
type Video struct {
	ID           uuid.UUID            `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID    uuid.UUID            `json:"project_id" gorm:"type:uuid;uniqueIndex:idx_videos_project_room"`
	RoomID       *string              `json:"room_id" gorm:"uniqueIndex:idx_videos_project_room"`
	VideoURL     string               `json:"video_url"`
	Duration     float64              `json:"duration"`
	Status       constant.VideoStatus `json:"status"`
	ErrorMessage string               `json:"error_message"`
	ThumbnailURL string               `json:"thumbnail_url"`
	FileSize     int64                `json:"file_size"`
	Settings     datatypes.JSON       `json:"settings"`
	RequestID    string               `json:"request_id"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func (Video) TableName() string {
	return "videos"
}

func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

func (v *Video) IsFinal() bool {
	return v.RoomID == nil
}

func (v *Video) Room() string {
	if v.RoomID == nil {
		return ""
	}
	return *v.RoomID
}
