package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.PendingMarkerRepository = (*PendingMarkerRepo)(nil)

// PendingMarkerRepo keeps one "last unresolved payment" slot per user.
// Markers carry no TTL; they are removed only on terminal resolution.
type PendingMarkerRepo struct {
	client RedisClient
}

func NewPendingMarkerRepo(client RedisClient) *PendingMarkerRepo {
	return &PendingMarkerRepo{client: client}
}

func markerKey(userID string) string {
	return fmt.Sprintf("pending_payment:%s", userID)
}

func (r *PendingMarkerRepo) Save(ctx context.Context, m *model.PendingMarker) error {
	if m == nil || m.UserID == "" || m.PaymentID == "" {
		return domain.ErrInvalidArgument
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode pending marker: %w", err)
	}
	return r.client.Set(ctx, markerKey(m.UserID), data, 0)
}

func (r *PendingMarkerRepo) Find(ctx context.Context, userID string) (*model.PendingMarker, error) {
	data, err := r.client.Get(ctx, markerKey(userID))
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m model.PendingMarker
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("decode pending marker: %w", err)
	}
	return &m, nil
}

func (r *PendingMarkerRepo) Delete(ctx context.Context, userID string) error {
	return r.client.Del(ctx, markerKey(userID))
}
