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
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/veriflow-hq/veriflow-go/internal/apierror"
	"github.com/veriflow-hq/veriflow-go/model"
)

// pollStatusResponse mirrors the gateway's poll endpoint body. The status
// field uses the gateway vocabulary and is mapped before emission.
type pollStatusResponse struct {
	Status        string                    `json:"status"`
	Result        *model.VerificationResult `json:"result,omitempty"`
	Error         *model.ErrorDetail        `json:"error,omitempty"`
	TimeRemaining int                       `json:"timeRemaining,omitempty"`
}

// pollSubscriber is the fallback channel: one bounded status request, a wait,
// then the next, on a backoff schedule. Two independent timeouts bound total
// resource use: an overall deadline measured from the first poll, and a
// per-request cap of min(remaining, request timeout).
type pollSubscriber struct {
	client    *Client
	sessionID string
	token     string
	handler   func(model.StatusEvent)

	initialInterval time.Duration
	maxInterval     time.Duration
	maxDuration     time.Duration
	requestTimeout  time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

func (c *Client) newPollSubscriber(sessionID, token string, handler func(model.StatusEvent)) *pollSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &pollSubscriber{
		client:          c,
		sessionID:       sessionID,
		token:           token,
		handler:         handler,
		initialInterval: time.Duration(c.subscriber.InitialBackoffMS) * time.Millisecond,
		maxInterval:     time.Duration(c.subscriber.MaxBackoffMS) * time.Millisecond,
		maxDuration:     time.Duration(c.subscriber.PollMaxDurationMS) * time.Millisecond,
		requestTimeout:  time.Duration(c.subscriber.PollRequestTimeoutMS) * time.Millisecond,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
}

// Start launches the polling loop.
func (s *pollSubscriber) Start() {
	go s.run()
}

// Stop cancels any in-flight request and any pending inter-poll timer. It is
// idempotent; after it returns no further handler invocations occur.
func (s *pollSubscriber) Stop() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.cancel()
	}
}

// Done is closed once the polling loop has fully exited.
func (s *pollSubscriber) Done() <-chan struct{} {
	return s.done
}

func (s *pollSubscriber) run() {
	defer close(s.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialInterval
	bo.Multiplier = 2
	bo.MaxInterval = s.maxInterval
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	deadline := s.client.now().Add(s.maxDuration)
	lastStatus := model.StatusIdle

	for {
		remaining := deadline.Sub(s.client.now())
		if remaining <= 0 {
			s.emitTimeout()
			return
		}

		// One slow request must not silently consume the whole remaining
		// budget, so each request is bounded by min(remaining, cap).
		requestBudget := s.requestTimeout
		if remaining < requestBudget {
			requestBudget = remaining
		}

		event, err := s.pollOnce(requestBudget)
		if s.cancelled.Load() {
			return
		}

		switch {
		case err == nil:
			// Emit only on change or terminality, so an unchanged pending
			// status does not produce redundant callbacks.
			if event.Status != lastStatus || event.Status.IsTerminal() {
				s.handler(event)
			}
			if event.Status.IsTerminal() {
				s.Stop()
				return
			}
			lastStatus = event.Status
		case errors.Is(err, context.DeadlineExceeded):
			s.emitTimeout()
			return
		case apierror.IsRetryable(err):
			logrus.WithFields(logrus.Fields{
				"session_id": s.sessionID,
				"error":      err,
			}).Warn("status poll failed, staying on schedule")
		default:
			s.emitErrorEvent(err)
			return
		}

		wait := bo.NextBackOff()
		if untilDeadline := deadline.Sub(s.client.now()); wait > untilDeadline {
			wait = untilDeadline
		}
		select {
		case <-s.client.newTimer(wait):
		case <-s.ctx.Done():
			return
		}
	}
}

// pollOnce issues one bounded status request and maps the response into the
// channel-agnostic event shape.
func (s *pollSubscriber) pollOnce(timeout time.Duration) (model.StatusEvent, error) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	req, err := s.client.newGatewayRequest(ctx, s.client.statusURL(s.sessionID), s.token)
	if err != nil {
		return model.StatusEvent{}, apierror.NewAPIError(apierror.ErrNetwork, "failed to build status request", err)
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return model.StatusEvent{}, context.DeadlineExceeded
		}
		return model.StatusEvent{}, apierror.NewAPIError(apierror.ErrNetwork, "status request failed", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.WithError(err).Error("failed to close poll response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("status endpoint returned %d", resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError {
			return model.StatusEvent{}, apierror.NewAPIError(apierror.ErrNetwork, message, nil)
		}
		// Client-side rejections (revoked token, unknown session) will not
		// heal on a retry.
		return model.StatusEvent{}, apierror.NewAPIError(apierror.ErrInvalidInput, message, nil)
	}

	var body pollStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.StatusEvent{}, apierror.NewAPIError(apierror.ErrNetwork, "failed to decode status response", err)
	}

	status := model.MapGatewayStatus(body.Status)
	kind := model.EventKindStatus
	switch {
	case body.Error != nil:
		kind = model.EventKindError
	case status == model.StatusTimeout:
		kind = model.EventKindTimeout
	case body.Result != nil:
		kind = model.EventKindResult
	}
	return model.StatusEvent{
		Kind:      kind,
		Status:    status,
		Result:    body.Result,
		Error:     body.Error,
		Timestamp: s.client.now(),
	}, nil
}

// emitTimeout delivers the synthetic timeout event and stops the subscriber,
// regardless of whether the overall deadline or a per-request budget expired.
func (s *pollSubscriber) emitTimeout() {
	if s.cancelled.Load() {
		return
	}
	s.handler(model.StatusEvent{
		Kind:      model.EventKindTimeout,
		Status:    model.StatusTimeout,
		Timestamp: s.client.now(),
	})
	s.Stop()
}

// emitErrorEvent delivers a synthetic error event for a non-retryable failure
// and stops the subscriber.
func (s *pollSubscriber) emitErrorEvent(err error) {
	if s.cancelled.Load() {
		return
	}
	detail := &model.ErrorDetail{Code: string(apierror.CodeOf(err)), Message: err.Error()}
	s.handler(model.StatusEvent{
		Kind:      model.EventKindError,
		Status:    model.StatusError,
		Error:     detail,
		Timestamp: s.client.now(),
	})
	s.Stop()
}
