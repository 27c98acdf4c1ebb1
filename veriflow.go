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

// Package veriflow is the client for the Veriflow verification gateway. It
// reconciles two independent channels reporting the same session's outcome, a
// server push stream with a polling fallback, into one terminal-aware view,
// and authenticates the gateway's asynchronous webhook callbacks.
package veriflow

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/veriflow-hq/veriflow-go/config"
)

// timerFunc produces a channel that fires after d. Injected so deterministic
// tests can drive backoff and deadline logic without real sleeps.
type timerFunc func(d time.Duration) <-chan time.Time

// Client talks to the verification gateway on behalf of one or more sessions.
// The HTTP transport and the clock are injected dependencies rather than
// ambient globals.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
	newTimer   timerFunc
	subscriber config.SubscriberConfig
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the transport used for both channels.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithClock replaces the wall clock, used for poll deadlines.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSubscriberConfig overrides the backoff, attempt and deadline knobs for
// subscriptions created by this client.
func WithSubscriberConfig(sub config.SubscriberConfig) ClientOption {
	return func(c *Client) {
		c.subscriber = sub
	}
}

// defaultSubscriberConfig mirrors the documented channel defaults: reconnect
// backoff 1s doubling to 30s over at most 5 attempts, a 5 minute polling
// deadline with 30s per-request cap, and failover enabled.
func defaultSubscriberConfig() config.SubscriberConfig {
	return config.SubscriberConfig{
		InitialBackoffMS:     1000,
		MaxBackoffMS:         30000,
		MaxReconnectAttempts: 5,
		PollMaxDurationMS:    300000,
		PollRequestTimeoutMS: 30000,
	}
}

// NewClient creates a gateway client rooted at baseURL.
//
// Parameters:
// - baseURL string: The gateway's base URL, without a trailing slash.
// - opts ...ClientOption: Optional transport, clock and subscriber overrides.
//
// Returns:
// - *Client: A configured client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: http.DefaultClient,
		now:        time.Now,
		newTimer:   time.After,
		subscriber: defaultSubscriberConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a client from the loaded configuration.
func NewClientFromConfig(conf *config.Configuration) *Client {
	return NewClient(conf.Gateway.BaseURL, WithSubscriberConfig(conf.Subscriber))
}

// streamURL is the push channel endpoint for a session.
func (c *Client) streamURL(sessionID string) string {
	return fmt.Sprintf("%s/sessions/%s/status/stream", c.baseURL, sessionID)
}

// statusURL is the poll channel endpoint for a session.
func (c *Client) statusURL(sessionID string) string {
	return fmt.Sprintf("%s/sessions/%s/status", c.baseURL, sessionID)
}

// newGatewayRequest builds an authenticated GET against the gateway. The
// client token travels only in the Authorization header, never as a query
// parameter, so it cannot leak through access logs or referrers.
func (c *Client) newGatewayRequest(ctx context.Context, url, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}
