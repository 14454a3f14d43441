package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/metrics"
)

const (
	sessionKeyPrefix = "arena:session:"
	activeSetKey     = "arena:sessions"
)

// RedisStore keeps each session as a JSON string. Updates WATCH the key and
// commit in a MULTI block, so a concurrent writer on another node makes the
// transaction fail and surfaces as ErrStaleVersion.
type RedisStore struct {
	client  *redis.Client
	metrics *metrics.ArenaCollector
}

func NewRedisStore(client *redis.Client, m *metrics.ArenaCollector) *RedisStore {
	return &RedisStore{client: client, metrics: m}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (r *RedisStore) Get(ctx context.Context, id string) (*game.Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}
	return decode(raw)
}

func (r *RedisStore) Create(ctx context.Context, s *game.Session) error {
	s.Version = 1
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, sessionKey(s.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("redis create %s: %w", s.ID, err)
	}
	if !ok {
		return ErrExists
	}
	if err := r.client.SAdd(ctx, activeSetKey, s.ID).Err(); err != nil {
		return fmt.Errorf("redis index %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) Update(ctx context.Context, s *game.Session) error {
	key := sessionKey(s.ID)
	next := s.Clone()
	next.Version++

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decode(raw)
		if err != nil {
			return err
		}
		if cur.Version != s.Version {
			return ErrStaleVersion
		}

		out, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		s.Version = next.Version
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrStaleVersion):
		r.metrics.StaleWrite()
		return ErrStaleVersion
	case errors.Is(err, ErrNotFound):
		return err
	default:
		return fmt.Errorf("redis update %s: %w", s.ID, err)
	}
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		pipe.SRem(ctx, activeSetKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context) ([]*game.Session, error) {
	ids, err := r.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	out := make([]*game.Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			r.client.SRem(ctx, activeSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
