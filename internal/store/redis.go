package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "profilegpt:session:"
	defaultRedisTTL  = 30 * 24 * time.Hour
)

// RedisSessions keeps sessions in Redis so several instances can share them.
// Writes use WATCH/MULTI/EXEC on the session key.
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

var _ SessionStore = (*RedisSessions)(nil)

// NewRedisSessions stores sessions with ttl, refreshed on every read and write.
func NewRedisSessions(client *redis.Client, ttl time.Duration) *RedisSessions {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisSessions{client: client, ttl: ttl}
}

func (s *RedisSessions) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	key := s.key(id)
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	// A failed refresh only shortens the session's life.
	_ = s.client.Expire(ctx, key, s.ttl).Err()

	return &sess, nil
}

func (s *RedisSessions) PutSession(ctx context.Context, sess *domain.Session, expectedVersion int64) error {
	key := s.key(sess.ID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		val, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored domain.Session
			if err := json.Unmarshal([]byte(val), &stored); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			current = stored.Version
		}

		if current != expectedVersion {
			return domain.ErrVersionConflict
		}

		next := sess.Clone()
		next.Version = expectedVersion + 1
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrVersionConflict
	}
	return err
}

func (s *RedisSessions) Close() error {
	return s.client.Close()
}

func (s *RedisSessions) key(id string) string {
	return sessionKeyPrefix + id
}

// Composite pairs a session store with a separate reset request store.
type Composite struct {
	SessionStore
	ResetRequestStore
	closers []func() error
}

var _ Store = (*Composite)(nil)

func NewComposite(sessions SessionStore, requests ResetRequestStore, closers ...func() error) *Composite {
	return &Composite{SessionStore: sessions, ResetRequestStore: requests, closers: closers}
}

func (c *Composite) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
