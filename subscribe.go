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
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/veriflow-hq/veriflow-go/model"
)

// SubscribeOptions configures one status subscription.
type SubscribeOptions struct {
	// OnEvent receives every status event, from whichever channel is active.
	// Required.
	OnEvent func(model.StatusEvent)
	// OnError receives the terminal subscription error when failover is
	// disabled or the fallback channel itself gives up. Optional.
	OnError func(error)
}

// subscriberHandle is what the orchestrator needs from either channel.
type subscriberHandle interface {
	Start()
	Stop()
}

// Subscription is the caller's handle on one observed session. It owns at
// most one live network subscription at any moment, including during the
// push-to-poll handover, and exposes a single idempotent Stop.
type Subscription struct {
	mu        sync.Mutex
	cancelled bool
	active    subscriberHandle
	span      trace.Span
}

// Stop cancels whichever subscriber is presently active, along with any
// pending timer or in-flight request. Safe to call any number of times,
// concurrently with a channel handover.
func (s *Subscription) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked()
}

func (s *Subscription) finishLocked() {
	if s.cancelled {
		return
	}
	s.cancelled = true
	if s.active != nil {
		s.active.Stop()
	}
	if s.span != nil {
		s.span.End()
	}
}

// SubscribeStatus starts observing a session: the push channel first, with an
// atomic failover to the polling channel when the push channel surfaces a
// terminal error and failover is enabled.
//
// Parameters:
// - sessionID string: The opaque session identifier.
// - token string: The short-lived bearer credential scoped to this session.
// - opts SubscribeOptions: Event and error callbacks.
//
// Returns:
// - *Subscription: The cancellation handle for the subscription.
// - error: An error if the arguments are unusable.
func (c *Client) SubscribeStatus(sessionID, token string, opts SubscribeOptions) (*Subscription, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if token == "" {
		return nil, errors.New("client token is required")
	}
	if opts.OnEvent == nil {
		return nil, errors.New("an OnEvent handler is required")
	}

	_, span := otel.Tracer("veriflow.subscription").Start(context.Background(), "SubscribeStatus",
		trace.WithAttributes(attribute.String("session.id", sessionID)))

	sub := &Subscription{span: span}

	// Events are forwarded outside the lock so a caller may call Stop from
	// inside its own handler. Terminality still closes the subscription.
	deliver := func(event model.StatusEvent) {
		opts.OnEvent(event)
		if event.Status.IsTerminal() {
			span.AddEvent("terminal status observed",
				trace.WithAttributes(attribute.String("session.status", string(event.Status))))
			sub.mu.Lock()
			sub.finishLocked()
			sub.mu.Unlock()
		}
	}

	surfaceError := func(err error) {
		sub.mu.Lock()
		alreadyCancelled := sub.cancelled
		sub.finishLocked()
		sub.mu.Unlock()
		if alreadyCancelled {
			return
		}
		if opts.OnError != nil {
			opts.OnError(err)
		}
	}

	var onPushError func(error)
	if !c.subscriber.DisablePollingFallback {
		onPushError = func(err error) {
			sub.mu.Lock()
			defer sub.mu.Unlock()
			if sub.cancelled {
				return
			}
			// Tear down the push subscriber's resources before starting the
			// fallback, then re-check cancellation: the caller may stop the
			// subscription concurrently with this handover, and a poller
			// started after that point would never be cleaned up.
			sub.active.Stop()
			if sub.cancelled {
				return
			}
			logrus.WithFields(logrus.Fields{
				"session_id": sessionID,
				"error":      err,
			}).Warn("push channel exhausted, failing over to polling")
			span.AddEvent("failover to polling")

			poll := c.newPollSubscriber(sessionID, token, deliver)
			sub.active = poll
			poll.Start()
		}
	} else {
		onPushError = surfaceError
	}

	push := c.newPushSubscriber(sessionID, token, deliver, onPushError)
	sub.mu.Lock()
	sub.active = push
	sub.mu.Unlock()
	push.Start()

	return sub, nil
}
