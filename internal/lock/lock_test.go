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

package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLockAcquiresOnce(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := NewLocker(client, "session:abc", "holder-1")
	require.NoError(t, first.Lock(ctx, time.Second))

	second := NewLocker(client, "session:abc", "holder-2")
	err := second.Lock(ctx, time.Second)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already held")
}

func TestUnlockReleasesOnlyOwnLock(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	holder := NewLocker(client, "session:abc", "holder-1")
	require.NoError(t, holder.Lock(ctx, time.Second))

	intruder := NewLocker(client, "session:abc", "holder-2")
	require.NoError(t, intruder.Unlock(ctx))

	// Still held by holder-1, so a fresh acquisition must fail.
	assert.Error(t, intruder.Lock(ctx, time.Second))

	require.NoError(t, holder.Unlock(ctx))
	assert.NoError(t, intruder.Lock(ctx, time.Second))
}

func TestWaitLockAcquiresAfterRelease(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	holder := NewLocker(client, "session:abc", "holder-1")
	require.NoError(t, holder.Lock(ctx, time.Second))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = holder.Unlock(context.Background())
	}()

	waiter := NewLocker(client, "session:abc", "holder-2")
	assert.NoError(t, waiter.WaitLock(ctx, time.Second, 2*time.Second))
}

func TestWaitLockGivesUp(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	holder := NewLocker(client, "session:abc", "holder-1")
	require.NoError(t, holder.Lock(ctx, time.Minute))

	waiter := NewLocker(client, "session:abc", "holder-2")
	err := waiter.WaitLock(ctx, time.Second, 150*time.Millisecond)
	assert.Error(t, err)
}
