package dto

import (
	"time"

	"github.com/google/uuid"

	"worker-walkthrough/constant"
)

type ClassificationMessage struct {
	JobId     uuid.UUID `json:"jobId"`
	ProjectId uuid.UUID `json:"projectId"`
}

type GenerationMessage struct {
	JobId            uuid.UUID `json:"jobId"`
	ProjectId        uuid.UUID `json:"projectId"`
	RetryFailedRooms bool      `json:"retryFailedRooms"`
	Directions       string    `json:"directions,omitempty"`
	AspectRatio      string    `json:"aspectRatio,omitempty"`
	Transitions      *bool     `json:"transitions,omitempty"`
	Logo             *Logo     `json:"logo,omitempty"`
	Subtitles        *Subtitle `json:"subtitles,omitempty"`
}

// Logo references an image already in durable storage.
type Logo struct {
	URL      string                `json:"url"`
	Position constant.LogoPosition `json:"position"`
}

type Subtitle struct {
	Enabled bool   `json:"enabled"`
	Text    string `json:"text"`
	Font    string `json:"font,omitempty"`
}

type Step struct {
	Key    string              `json:"key"`
	Label  string              `json:"label"`
	Status constant.StepStatus `json:"status"`
}

// Progress is the polled view of one generation run.
type Progress struct {
	ProjectId        uuid.UUID                 `json:"projectId"`
	Status           constant.GenerationStatus `json:"status"`
	CurrentStep      string                    `json:"currentStep"`
	TotalSteps       int                       `json:"totalSteps"`
	CompletedSteps   int                       `json:"completedSteps"`
	Percentage       int                       `json:"percentage"`
	EstimatedSeconds int                       `json:"estimatedSecondsRemaining"`
	Steps            []Step                    `json:"steps"`
	Error            string                    `json:"error,omitempty"`
	UpdatedAt        time.Time                 `json:"updatedAt"`
}

type ClassificationProgress struct {
	ProjectId uuid.UUID                    `json:"projectId"`
	Phase     constant.ClassificationPhase `json:"phase"`
	Progress  int                          `json:"progress"`
	Completed int                          `json:"completed"`
	Total     int                          `json:"total"`
}

type GenerationEvent struct {
	ProjectId      uuid.UUID                 `json:"projectId"`
	UserId         uuid.UUID                 `json:"userId"`
	Status         constant.GenerationStatus `json:"status"`
	VideoURL       string                    `json:"videoUrl,omitempty"`
	ThumbnailURL   string                    `json:"thumbnailUrl,omitempty"`
	FailedRooms    []string                  `json:"failedRooms,omitempty"`
	CompletedRooms []string                  `json:"completedRooms,omitempty"`
	ErrorCode      string                    `json:"errorCode,omitempty"`
	Error          string                    `json:"error,omitempty"`
	OccurredAt     time.Time                 `json:"occurredAt"`
}
