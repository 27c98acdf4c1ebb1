/*
Copyright 2025 Veriflow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package store keeps the receiver-side view of session statuses and the
// replay ledger of webhook delivery ids. It is an observer cache: the gateway
// owns the session record and the store never contradicts a terminal status
// it has already seen.
package store

import (
	"context"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/veriflow-hq/veriflow-go/internal/apierror"
	redlock "github.com/veriflow-hq/veriflow-go/internal/lock"
	redis_db "github.com/veriflow-hq/veriflow-go/internal/redis-db"
	"github.com/veriflow-hq/veriflow-go/model"
)

const (
	sessionKeyPrefix  = "veriflow:session:"
	deliveryKeyPrefix = "veriflow:delivery:"
	sessionLockPrefix = "veriflow:session-lock:"

	// sessionTTL bounds how long an observed status outlives its last update.
	sessionTTL = 24 * time.Hour

	// sessionLockTTL bounds how long a crashed holder can block a session.
	sessionLockTTL = 5 * time.Second

	// sessionLockWait is how long an update waits for a concurrent delivery
	// of the same session to finish.
	sessionLockWait = 3 * time.Second

	// localCacheSize is the entry count for the in-process TinyLFU layer in
	// front of Redis.
	localCacheSize = 10000
)

// Store persists observed session statuses and seen delivery ids in Redis,
// with a small local cache for hot status reads.
type Store struct {
	cache  *cache.Cache
	client redis.UniversalClient
}

// NewStore connects to Redis at the given connection string.
func NewStore(redisDNS string) (*Store, error) {
	client, err := redis_db.NewRedisClient(redisDNS, false)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect session store")
	}
	return NewStoreWithClient(client.Client()), nil
}

// NewStoreWithClient wraps an existing client; tests hand in a miniredis-backed one.
func NewStoreWithClient(client redis.UniversalClient) *Store {
	return &Store{
		client: client,
		cache: cache.New(&cache.Options{
			Redis:      client,
			LocalCache: cache.NewTinyLFU(localCacheSize, time.Minute),
		}),
	}
}

// ApplyEvent folds one status event into the stored view of a session. A
// terminal status already on record is never overwritten, so late or
// replayed non-terminal updates cannot roll a session back.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The session the event belongs to.
// - event model.StatusEvent: The event to fold in.
//
// Returns:
// - bool: True if the stored view changed.
// - error: An error if Redis is unreachable.
func (s *Store) ApplyEvent(ctx context.Context, sessionID string, event model.StatusEvent) (bool, error) {
	locker := redlock.NewLocker(s.client, sessionLockPrefix+sessionID, uuid.New().String())
	if err := locker.WaitLock(ctx, sessionLockTTL, sessionLockWait); err != nil {
		return false, errors.Wrap(err, "failed to serialize session update")
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.WithError(err).WithField("session_id", sessionID).
				Warn("failed to release session lock")
		}
	}()

	// The guard read goes straight to Redis. Another worker may hold a
	// fresher record than this process's local cache.
	var existing model.StatusEvent
	err := s.cache.GetSkippingLocalCache(ctx, sessionKeyPrefix+sessionID, &existing)
	switch {
	case err == cache.ErrCacheMiss:
	case err != nil:
		return false, errors.Wrap(err, "failed to read session status")
	default:
		if _, ok := model.Advance(existing.Status, event.Status); !ok {
			return false, nil
		}
	}

	if err := s.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   sessionKeyPrefix + sessionID,
		Value: event,
		TTL:   sessionTTL,
	}); err != nil {
		return false, errors.Wrap(err, "failed to store session status")
	}
	return true, nil
}

// GetStatus returns the latest observed event for a session.
func (s *Store) GetStatus(ctx context.Context, sessionID string) (model.StatusEvent, error) {
	var event model.StatusEvent
	err := s.cache.Get(ctx, sessionKeyPrefix+sessionID, &event)
	if err != nil {
		if err == cache.ErrCacheMiss {
			return model.StatusEvent{}, apierror.NewAPIError(apierror.ErrNotFound,
				"no status observed for session", nil)
		}
		return model.StatusEvent{}, errors.Wrap(err, "failed to read session status")
	}
	return event, nil
}

// MarkDelivery records a webhook delivery id and reports whether it was seen
// for the first time. The TTL keeps the ledger bounded; replay of a delivery
// older than the TTL is already rejected by the signature timestamp window.
func (s *Store) MarkDelivery(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error) {
	fresh, err := s.client.SetNX(ctx, deliveryKeyPrefix+deliveryID, "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to record webhook delivery")
	}
	return fresh, nil
}

// UnmarkDelivery removes a delivery id from the replay ledger. The receiver
// calls this when the hand-off to the queue fails after the id was recorded,
// so the gateway's redelivery is not mistaken for a replay.
func (s *Store) UnmarkDelivery(ctx context.Context, deliveryID string) error {
	if err := s.client.Del(ctx, deliveryKeyPrefix+deliveryID).Err(); err != nil {
		return errors.Wrap(err, "failed to release webhook delivery")
	}
	return nil
}
