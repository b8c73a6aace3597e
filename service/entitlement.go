package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"worker-walkthrough/pkg/apperror"
	"worker-walkthrough/pkg/cache"
	"worker-walkthrough/repository"
)

// Entitlements answers whether a user may generate videos. Answers are cached per user.
type Entitlements struct {
	repo     repository.Repository
	cache    *cache.TTL[uuid.UUID, bool]
	required bool
	now      func() time.Time
}

func NewEntitlements(repo repository.Repository, ttl time.Duration, required bool) *Entitlements {
	return &Entitlements{
		repo:     repo,
		cache:    cache.NewTTL[uuid.UUID, bool](ttl),
		required: required,
		now:      time.Now,
	}
}

func (e *Entitlements) Check(ctx context.Context, userID uuid.UUID) error {
	const op = "service.Entitlements.Check"
	if !e.required {
		return nil
	}

	entitled, ok := e.cache.Get(userID)
	if !ok {
		sub, err := e.repo.FindActiveSubscription(ctx, userID)
		switch {
		case apperror.Is(err, apperror.CodeNotFound):
			entitled = false
		case err != nil:
			return err
		default:
			entitled = sub.Entitled(e.now())
		}
		e.cache.Set(userID, entitled)
		zerolog.Ctx(ctx).Debug().Str("user_id", userID.String()).Bool("entitled", entitled).Msg("subscription status cached")
	}

	if !entitled {
		return apperror.New(apperror.CodeSubscriptionRequired, op, "an active subscription is required to generate videos")
	}
	return nil
}

// Invalidate forgets the cached answer for a user.
func (e *Entitlements) Invalidate(userID uuid.UUID) {
	e.cache.Delete(userID)
}
