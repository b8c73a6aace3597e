package entities

import (
	"time"

	"github.com/google/uuid"

	"worker-walkthrough/constant"
)

type Subscription struct {
	ID               uuid.UUID                   `json:"id" gorm:"type:uuid;primaryKey"`
	UserID           uuid.UUID                   `json:"user_id" gorm:"type:uuid;index"`
	Plan             string                      `json:"plan"`
	Status           constant.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd time.Time                   `json:"current_period_end"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Entitled reports whether the subscription allows generation at now.
func (s *Subscription) Entitled(now time.Time) bool {
	switch s.Status {
	case constant.SubscriptionActive, constant.SubscriptionTrialing:
		return s.CurrentPeriodEnd.IsZero() || now.Before(s.CurrentPeriodEnd)
	}
	return false
}
