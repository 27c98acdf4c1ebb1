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
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriflow-hq/veriflow-go/config"
	"github.com/veriflow-hq/veriflow-go/internal/apierror"
	"github.com/veriflow-hq/veriflow-go/model"
)

const (
	testBaseURL   = "https://gateway.test"
	testStreamURL = testBaseURL + "/sessions/sess_1/status/stream"
	testStatusURL = testBaseURL + "/sessions/sess_1/status"
)

const terminalStreamBody = "event: status\ndata: {\"status\":\"pending\"}\n\nevent: result\ndata: {\"status\":\"verified\"}\n\n"

// eventRecorder collects delivered events across subscriber goroutines.
type eventRecorder struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (r *eventRecorder) handler(event model.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) statuses() []model.VerificationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := make([]model.VerificationStatus, 0, len(r.events))
	for _, event := range r.events {
		statuses = append(statuses, event.Status)
	}
	return statuses
}

func (r *eventRecorder) snapshot() []model.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.StatusEvent(nil), r.events...)
}

func fastSubscriberConfig() config.SubscriberConfig {
	return config.SubscriberConfig{
		InitialBackoffMS:     10,
		MaxBackoffMS:         40,
		MaxReconnectAttempts: 3,
		PollMaxDurationMS:    2000,
		PollRequestTimeoutMS: 200,
	}
}

func newTestClient(cfg config.SubscriberConfig) *Client {
	return NewClient(testBaseURL, WithSubscriberConfig(cfg))
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not finish in time")
	}
}

func TestPushSubscriberDeliversUntilTerminal(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodGet, testStreamURL,
		httpmock.NewStringResponder(http.StatusOK, terminalStreamBody))

	recorder := &eventRecorder{}
	errs := make(chan error, 1)
	sub := newTestClient(fastSubscriberConfig()).newPushSubscriber("sess_1", "tok_1", recorder.handler,
		func(err error) { errs <- err })
	sub.Start()
	waitDone(t, sub.Done())

	assert.Equal(t, []model.VerificationStatus{model.StatusPending, model.StatusVerified}, recorder.statuses())
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "a terminal event must not trigger a reconnect")
	assert.Empty(t, errs)
}

func TestPushSubscriberSendsBearerTokenInHeaderOnly(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var authorization, rawQuery string
	httpmock.RegisterResponder(http.MethodGet, testStreamURL, func(req *http.Request) (*http.Response, error) {
		authorization = req.Header.Get("Authorization")
		rawQuery = req.URL.RawQuery
		return httpmock.NewStringResponse(http.StatusOK, terminalStreamBody), nil
	})

	recorder := &eventRecorder{}
	sub := newTestClient(fastSubscriberConfig()).newPushSubscriber("sess_1", "tok_secret", recorder.handler, nil)
	sub.Start()
	waitDone(t, sub.Done())

	assert.Equal(t, "Bearer tok_secret", authorization)
	assert.Empty(t, rawQuery, "the token must never travel as a query parameter")
}

func TestPushSubscriberReconnectsAfterStreamLoss(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodGet, testStreamURL,
		httpmock.ResponderFromMultipleResponses([]*http.Response{
			httpmock.NewStringResponse(http.StatusInternalServerError, "unavailable"),
			httpmock.NewStringResponse(http.StatusOK, terminalStreamBody),
		}))

	recorder := &eventRecorder{}
	sub := newTestClient(fastSubscriberConfig()).newPushSubscriber("sess_1", "tok_1", recorder.handler, nil)
	sub.Start()
	waitDone(t, sub.Done())

	assert.Equal(t, []model.VerificationStatus{model.StatusPending, model.StatusVerified}, recorder.statuses())
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestPushSubscriberRecoversFromBufferOverflow(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodGet, testStreamURL,
		httpmock.ResponderFromMultipleResponses([]*http.Response{
			// A stream that never sends the blank-line delimiter.
			httpmock.NewStringResponse(http.StatusOK, strings.Repeat("x", 70_000)),
			httpmock.NewStringResponse(http.StatusOK, terminalStreamBody),
		}))

	recorder := &eventRecorder{}
	sub := newTestClient(fastSubscriberConfig()).newPushSubscriber("sess_1", "tok_1", recorder.handler, nil)
	sub.Start()
	waitDone(t, sub.Done())

	assert.Equal(t, 2, httpmock.GetTotalCallCount(), "a buffer overflow is answered with a reconnect")
	assert.Equal(t, []model.VerificationStatus{model.StatusPending, model.StatusVerified}, recorder.statuses())
}

func TestPushSubscriberDropsMalformedAndHeartbeatEvents(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	body := "event: heartbeat\ndata: {}\n\n" +
		"event: status\ndata: {not json\n\n" +
		"event: audit\ndata: {\"status\":\"pending\"}\n\n" +
		"event: status\ndata: {\"status\":\"verified\"}\n\n"
	httpmock.RegisterResponder(http.MethodGet, testStreamURL,
		httpmock.NewStringResponder(http.StatusOK, body))

	recorder := &eventRecorder{}
	sub := newTestClient(fastSubscriberConfig()).newPushSubscriber("sess_1", "tok_1", recorder.handler, nil)
	sub.Start()
	waitDone(t, sub.Done())

	assert.Equal(t, []model.VerificationStatus{model.StatusVerified}, recorder.statuses())
}

func TestPushSubscriberGivesUpAfterMaxAttempts(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodGet, testStreamURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "unavailable"))

	cfg := fastSubscriberConfig()
	cfg.MaxReconnectAttempts = 2

	recorder := &eventRecorder{}
	errs := make(chan error, 1)
	sub := newTestClient(cfg).newPushSubscriber("sess_1", "tok_1", recorder.handler,
		func(err error) { errs <- err })
	sub.Start()
	waitDone(t, sub.Done())

	select {
	case err := <-errs:
		assert.Equal(t, apierror.ErrNetwork, apierror.CodeOf(err))
		assert.Contains(t, err.Error(), "after 2 attempts")
	default:
		t.Fatal("expected a terminal subscriber error")
	}
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
	assert.Empty(t, recorder.statuses())
}

func TestPushSubscriberStopSuppressesErrors(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodGet, testStreamURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "unavailable"))

	cfg := fastSubscriberConfig()
	cfg.MaxReconnectAttempts = 100

	recorder := &eventRecorder{}
	errs := make(chan error, 1)
	sub := newTestClient(cfg).newPushSubscriber("sess_1", "tok_1", recorder.handler,
		func(err error) { errs <- err })
	sub.Start()
	time.Sleep(30 * time.Millisecond)
	sub.Stop()
	sub.Stop()
	waitDone(t, sub.Done())

	assert.Empty(t, errs, "a stopped subscriber must not surface errors")
	assert.Empty(t, recorder.statuses())
}

func TestNewGatewayRequestURLs(t *testing.T) {
	client := NewClient(testBaseURL + "/")
	assert.Equal(t, testStreamURL, client.streamURL("sess_1"))
	assert.Equal(t, testStatusURL, client.statusURL("sess_1"))
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(testBaseURL)
	cfg := client.subscriber
	require.False(t, cfg.DisablePollingFallback, "failover is on by default")
	assert.Equal(t, 1000, cfg.InitialBackoffMS)
	assert.Equal(t, 30000, cfg.MaxBackoffMS)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 300000, cfg.PollMaxDurationMS)
	assert.Equal(t, 30000, cfg.PollRequestTimeoutMS)
}
