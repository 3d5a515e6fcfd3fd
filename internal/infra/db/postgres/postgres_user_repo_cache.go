package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"avante-billing/internal/domain/model"
	"avante-billing/internal/domain/ports/repository"
	"avante-billing/internal/infra/metrics"
	red "avante-billing/internal/infra/redis"

	"github.com/go-redis/redis/v8"
)

var _ repository.UserRepository = (*userRepoCacheDecorator)(nil)

// userRepoCacheDecorator caches pool reads of the user row. Reads inside a
// transaction always go to the database since they take a row lock.
type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache red.RedisClient
	ttl   time.Duration
	count func(result string)
}

func NewUserRepoCacheDecorator(inner repository.UserRepository, cache red.RedisClient, ttl time.Duration) repository.UserRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &userRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, count: func(result string) {
		metrics.IncCacheRequest("user", result)
	}}
}

func userKey(id string) string { return fmt.Sprintf("user:id:%s", id) }

func (d *userRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	_ = d.cache.Del(ctx, userKey(u.ID))
	return d.inner.Save(ctx, tx, u)
}

func (d *userRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if tx != nil {
		d.count("bypass")
		return d.inner.FindByID(ctx, tx, id)
	}

	key := userKey(id)
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var user model.User
		if json.Unmarshal([]byte(val), &user) == nil {
			d.count("hit")
			return &user, nil
		}
		d.count("miss")
	case errors.Is(err, redis.Nil):
		d.count("miss")
	default:
		d.count("error")
	}

	user, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(user); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return user, nil
}

// UpdateSubscription drops the cached row on both sides of the write.
func (d *userRepoCacheDecorator) UpdateSubscription(ctx context.Context, tx repository.Tx, id string, tier model.Tier) error {
	_ = d.cache.Del(ctx, userKey(id))
	if err := d.inner.UpdateSubscription(ctx, tx, id, tier); err != nil {
		return err
	}
	_ = d.cache.Del(ctx, userKey(id))
	return nil
}
