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

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/veriflow-hq/veriflow-go/model"
)

// SessionStore is the slice of the status store the worker needs.
type SessionStore interface {
	ApplyEvent(ctx context.Context, sessionID string, event model.StatusEvent) (bool, error)
}

// WebhookProcessor applies queued webhook deliveries to the session status
// store.
type WebhookProcessor struct {
	store SessionStore
}

// NewWebhookProcessor creates a processor backed by the given store.
func NewWebhookProcessor(store SessionStore) *WebhookProcessor {
	return &WebhookProcessor{store: store}
}

// ProcessWebhookTask handles one queued delivery. A payload that no longer
// decodes or validates is dropped rather than retried: it was accepted as
// authentic at the receiver, so a decode failure here is a bug, not a
// transient fault.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - task *asynq.Task: The queued delivery.
//
// Returns:
// - error: An error if the store write failed and the task should retry.
func (p *WebhookProcessor) ProcessWebhookTask(ctx context.Context, task *asynq.Task) error {
	ctx, span := otel.Tracer("veriflow.webhooks.worker").Start(ctx, "Process Webhook Delivery")
	defer span.End()

	var event model.WebhookEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		logrus.WithError(err).Error("dropping undecodable webhook task")
		return nil
	}
	if err := event.ValidateWebhookEvent(); err != nil {
		logrus.WithFields(logrus.Fields{
			"delivery_id": event.DeliveryID,
			"error":       err,
		}).Error("dropping invalid webhook task")
		return nil
	}

	applied, err := p.store.ApplyEvent(ctx, event.SessionID, event.ToStatusEvent())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"delivery_id": event.DeliveryID,
			"session_id":  event.SessionID,
			"error":       err,
		}).Error("failed to apply webhook delivery, will retry")
		return err
	}

	logrus.WithFields(logrus.Fields{
		"delivery_id": event.DeliveryID,
		"session_id":  event.SessionID,
		"status":      event.Status,
		"applied":     applied,
	}).Info("Processed webhook delivery")
	return nil
}
