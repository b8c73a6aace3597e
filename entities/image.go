package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"worker-walkthrough/constant"
)

// Image is one uploaded photograph. Confidence is stored as an integer percentage.
type Image struct {
	ID           uuid.UUID             `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID    uuid.UUID             `json:"project_id" gorm:"type:uuid;index"`
	SourceRef    string                `json:"source_ref"`
	StorageURL   string                `json:"storage_url"`
	Category     constant.RoomCategory `json:"category"`
	Confidence   int                   `json:"confidence"`
	Reasoning    string                `json:"reasoning"`
	Features     datatypes.JSON        `json:"features"`
	Description  string                `json:"description"`
	Metadata     datatypes.JSON        `json:"metadata"`
	Status       constant.ImageStatus  `json:"status"`
	ErrorMessage string                `json:"error_message"`
	Position     int                   `json:"position"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func (Image) TableName() string {
	return "images"
}

func (i *Image) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

func (i *Image) ConfidenceScore() float64 {
	return float64(i.Confidence) / 100
}

func (i *Image) FeatureList() []string {
	if len(i.Features) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(i.Features, &out); err != nil {
		return nil
	}
	return out
}

func (i *Image) Uploaded() bool {
	return i.StorageURL != ""
}

func (i *Image) Classified() bool {
	return i.Status == constant.ImageStatusAnalyzed && i.Category != ""
}

// ConfidencePercent converts a [0,1] confidence into the stored integer form.
func ConfidencePercent(c float64) int {
	return int(c*100 + 0.5)
}
