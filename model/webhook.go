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

package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// WebhookEvent is the payload of an asynchronous callback the gateway posts
// to a receiver endpoint once a session's outcome is known. The signature
// over the raw body is checked before this struct is ever populated.
type WebhookEvent struct {
	DeliveryID string              `json:"delivery_id"`
	EventType  string              `json:"event_type"`
	SessionID  string              `json:"session_id"`
	Status     string              `json:"status"`
	Result     *VerificationResult `json:"result,omitempty"`
	Error      *ErrorDetail        `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// gatewayStatusVocabulary is everything the gateway may put in a webhook's
// status field. The client vocabulary is wider (it includes synthetic idle
// and timeout states) so webhooks are validated against the gateway set.
var gatewayStatusVocabulary = []interface{}{
	"pending", "processing", "verified", "failed", "canceled", "expired",
}

// ValidateWebhookEvent checks that a decoded webhook carries everything a
// receiver needs to fold it into session state.
func (w *WebhookEvent) ValidateWebhookEvent() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.DeliveryID, validation.Required),
		validation.Field(&w.EventType, validation.Required),
		validation.Field(&w.SessionID, validation.Required),
		validation.Field(&w.Status, validation.Required, validation.In(gatewayStatusVocabulary...)),
	)
}

// ToStatusEvent converts an accepted webhook into the channel-agnostic
// StatusEvent shape used everywhere else.
func (w *WebhookEvent) ToStatusEvent() StatusEvent {
	status := MapGatewayStatus(w.Status)
	kind := EventKindStatus
	switch {
	case w.Error != nil:
		kind = EventKindError
	case status == StatusTimeout:
		kind = EventKindTimeout
	case w.Result != nil:
		kind = EventKindResult
	}
	timestamp := w.CreatedAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return StatusEvent{
		Kind:      kind,
		Status:    status,
		Result:    w.Result,
		Error:     w.Error,
		Timestamp: timestamp,
	}
}
