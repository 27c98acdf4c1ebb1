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
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/veriflow-hq/veriflow-go/internal/apierror"
	"github.com/veriflow-hq/veriflow-go/internal/sse"
	"github.com/veriflow-hq/veriflow-go/model"
)

// maxReconnectJitter is added on top of each backoff delay so many clients
// recovering from the same outage do not reconnect in lockstep.
const maxReconnectJitter = time.Second

// pushSubscriber holds one long-lived streaming connection to the gateway and
// decodes its server-sent events. On stream failure it reconnects with
// exponential backoff until a terminal event arrives, the caller stops it, or
// the attempt budget runs out.
type pushSubscriber struct {
	client    *Client
	sessionID string
	token     string
	handler   func(model.StatusEvent)
	onError   func(error)

	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxAttempts    int

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

func (c *Client) newPushSubscriber(sessionID, token string, handler func(model.StatusEvent), onError func(error)) *pushSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &pushSubscriber{
		client:         c,
		sessionID:      sessionID,
		token:          token,
		handler:        handler,
		onError:        onError,
		initialBackoff: time.Duration(c.subscriber.InitialBackoffMS) * time.Millisecond,
		maxBackoff:     time.Duration(c.subscriber.MaxBackoffMS) * time.Millisecond,
		maxAttempts:    c.subscriber.MaxReconnectAttempts,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// Start launches the subscriber loop.
func (s *pushSubscriber) Start() {
	go s.run()
}

// Stop aborts any in-flight read and cancels any pending reconnect timer.
// It is idempotent; after it returns no further handler invocations occur.
func (s *pushSubscriber) Stop() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.cancel()
	}
}

// Done is closed once the subscriber loop has fully exited.
func (s *pushSubscriber) Done() <-chan struct{} {
	return s.done
}

func (s *pushSubscriber) run() {
	defer close(s.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialBackoff
	bo.Multiplier = 2
	bo.MaxInterval = s.maxBackoff
	// Jitter is added separately so the doubling schedule stays exact.
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; ; attempt++ {
		terminal, err := s.connectOnce()
		if s.cancelled.Load() {
			return
		}
		if terminal {
			return
		}

		logrus.WithFields(logrus.Fields{
			"session_id": s.sessionID,
			"attempt":    attempt,
			"error":      err,
		}).Warn("status stream lost, scheduling reconnect")

		if attempt >= s.maxAttempts {
			s.emitError(apierror.NewAPIError(apierror.ErrNetwork,
				fmt.Sprintf("status stream failed after %d attempts", attempt), err))
			return
		}

		wait := bo.NextBackOff() + time.Duration(rand.Int63n(int64(maxReconnectJitter)))
		select {
		case <-s.client.newTimer(wait):
		case <-s.ctx.Done():
			return
		}
	}
}

// connectOnce opens one streaming request and reads it to completion. It
// returns terminal=true once a terminal-status event has been delivered. Any
// other outcome, including a clean end of stream without a terminal event, is
// a connection loss the caller answers with the reconnection policy.
func (s *pushSubscriber) connectOnce() (bool, error) {
	req, err := s.client.newGatewayRequest(s.ctx, s.client.streamURL(s.sessionID), s.token)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrNetwork, "failed to build stream request", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrNetwork, "failed to open status stream", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.WithError(err).Error("failed to close stream body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return false, apierror.NewAPIError(apierror.ErrNetwork,
			fmt.Sprintf("status stream returned %d", resp.StatusCode), nil)
	}

	parser := sse.NewParser()
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			events, parseErr := parser.Feed(buf[:n])
			for _, event := range events {
				decoded, decodeErr := model.DecodeStatusEvent(event.Type, event.Data)
				if decodeErr != nil {
					// Malformed events are dropped with a diagnostic, never
					// treated as stream failures.
					logrus.WithFields(logrus.Fields{
						"session_id": s.sessionID,
						"event_type": event.Type,
						"error":      decodeErr,
					}).Warn("dropping malformed status event")
					continue
				}
				if decoded.IsHeartbeat() {
					continue
				}
				if s.cancelled.Load() {
					return false, nil
				}
				s.handler(decoded)
				if decoded.Status.IsTerminal() {
					s.Stop()
					return true, nil
				}
			}
			if parseErr != nil {
				return false, parseErr
			}
		}
		if readErr == io.EOF {
			return false, apierror.NewAPIError(apierror.ErrNetwork, "stream ended before a terminal event", nil)
		}
		if readErr != nil {
			if s.ctx.Err() != nil {
				return false, nil
			}
			return false, apierror.NewAPIError(apierror.ErrNetwork, "stream read failed", readErr)
		}
	}
}

// emitError surfaces a terminal subscriber error unless the caller already
// stopped the subscription.
func (s *pushSubscriber) emitError(err error) {
	if s.cancelled.Load() {
		return
	}
	if s.onError != nil {
		s.onError(err)
	}
}
