package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"worker-walkthrough/constant"
)

// Job tracks one queued unit of work. EntityId points at the project it concerns.
type Job struct {
	ID         uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey"`
	EntityId   uuid.UUID          `json:"entity_id" gorm:"type:uuid;index"`
	EntityType string             `json:"entity_type"`
	Status     constant.JobStatus `json:"status"`
	JobType    constant.JobType   `json:"job_type"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
