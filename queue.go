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

package veriflow

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/veriflow-hq/veriflow-go/config"
	"github.com/veriflow-hq/veriflow-go/internal/apierror"
	redis_db "github.com/veriflow-hq/veriflow-go/internal/redis-db"
	"github.com/veriflow-hq/veriflow-go/model"
)

// Queue decouples webhook acceptance from webhook processing: the receiver
// answers the gateway as soon as a delivery is authenticated and recorded,
// and a worker folds the event into the status store afterwards.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      *config.Configuration
}

// NewQueue initializes a new Queue instance from the configuration.
//
// Parameters:
// - conf *config.Configuration: The loaded configuration.
//
// Returns:
// - *Queue: The queue handle.
// - error: An error if the Redis connection string is unusable.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	redisConn, err := redis_db.NewRedisClient(conf.Redis.Dns, false)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(redisConn),
		Inspector: asynq.NewInspector(redisConn),
		conf:      conf,
	}, nil
}

// PendingDeliveries returns the number of accepted deliveries waiting in the
// webhook queue. The receiver surfaces it on its health endpoint.
func (q *Queue) PendingDeliveries() (int, error) {
	info, err := q.Inspector.GetQueueInfo(q.conf.Queue.WebhookQueue)
	if err != nil {
		return 0, err
	}
	return info.Pending, nil
}

// EnqueueWebhookEvent enqueues an accepted webhook delivery for processing.
// The task id is the delivery id, so a delivery that slips past the replay
// ledger still cannot be processed twice.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - event model.WebhookEvent: The authenticated, validated delivery.
//
// Returns:
// - error: A conflict error for an already-enqueued delivery, or an enqueue failure.
func (q *Queue) EnqueueWebhookEvent(ctx context.Context, event model.WebhookEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	task := buildWebhookTask(q.conf.Queue, event.DeliveryID, payload)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return apierror.NewAPIError(apierror.ErrConflict, "delivery already enqueued", nil)
		}
		return err
	}

	logrus.WithFields(logrus.Fields{
		"delivery_id": event.DeliveryID,
		"session_id":  event.SessionID,
		"queue":       info.Queue,
	}).Info("Enqueued webhook delivery")
	return nil
}

// buildWebhookTask constructs the delivery task with its idempotency options.
func buildWebhookTask(conf config.QueueConfig, deliveryID string, payload []byte) *asynq.Task {
	return asynq.NewTask(conf.WebhookQueue, payload,
		asynq.TaskID(deliveryID),
		asynq.Queue(conf.WebhookQueue),
		asynq.MaxRetry(conf.MaxRetryAttempts),
	)
}
