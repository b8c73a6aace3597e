package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"worker-walkthrough/constant"
)

type Project struct {
	ID           uuid.UUID              `json:"id" gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID              `json:"user_id" gorm:"type:uuid;index"`
	Name         string                 `json:"name"`
	Status       constant.ProjectStatus `json:"status"`
	Directions   string                 `json:"directions"`
	ErrorCode    string                 `json:"error_code"`
	ErrorMessage string                 `json:"error_message"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
