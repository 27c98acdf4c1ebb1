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

// Package api exposes the webhook receiver: the HTTP surface that accepts
// the gateway's asynchronous callbacks, authenticates them and hands them to
// the processing queue.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	veriflow "github.com/veriflow-hq/veriflow-go"
	"github.com/veriflow-hq/veriflow-go/api/middleware"
	"github.com/veriflow-hq/veriflow-go/config"
	"github.com/veriflow-hq/veriflow-go/model"
)

// WebhookEnqueuer is the slice of the queue the receiver needs.
type WebhookEnqueuer interface {
	EnqueueWebhookEvent(ctx context.Context, event model.WebhookEvent) error
}

// QueueMonitor reports queue depth for the health endpoint. The receiver
// detects it on its queue with a type assertion, so test doubles that only
// enqueue stay small.
type QueueMonitor interface {
	PendingDeliveries() (int, error)
}

// StatusReader serves the receiver's observed view of a session and the
// replay ledger of delivery ids.
type StatusReader interface {
	GetStatus(ctx context.Context, sessionID string) (model.StatusEvent, error)
	MarkDelivery(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error)
	UnmarkDelivery(ctx context.Context, deliveryID string) error
}

type Api struct {
	router      *gin.Engine
	store       StatusReader
	queue       WebhookEnqueuer
	verifier    veriflow.SignatureVerifier
	deliveryTTL time.Duration
	secure      bool
}

// Router registers the receiver's routes and returns the engine.
func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/", a.Health)
	router.POST("/webhooks/veriflow", a.ReceiveWebhook)

	// Webhook deliveries authenticate through their signature; only the
	// operational lookup sits behind the secret key.
	sessions := router.Group("/")
	if a.secure {
		sessions.Use(middleware.SecretKeyAuthMiddleware())
	}
	sessions.GET("/sessions/:id/status", a.GetSessionStatus)
	return a.router
}

// Health reports liveness, with the webhook queue depth when the wired queue
// can be inspected.
func (a Api) Health(c *gin.Context) {
	response := gin.H{"status": "server running..."}
	if monitor, ok := a.queue.(QueueMonitor); ok {
		pending, err := monitor.PendingDeliveries()
		if err != nil {
			logrus.WithError(err).Warn("failed to inspect webhook queue")
		} else {
			response["pending_deliveries"] = pending
		}
	}
	c.JSON(http.StatusOK, response)
}

// NewAPI wires the receiver from the loaded configuration.
//
// Parameters:
// - store StatusReader: The session status store and replay ledger.
// - queue WebhookEnqueuer: The processing queue for accepted deliveries.
//
// Returns:
// - *Api: The receiver, or nil when configuration is not loaded.
func NewAPI(store StatusReader, queue WebhookEnqueuer) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}

	r := gin.Default()
	r.Use(otelgin.Middleware("veriflow-webhook-receiver"))
	r.Use(middleware.RateLimitMiddleware(conf))

	return &Api{
		router:      r,
		store:       store,
		queue:       queue,
		verifier:    veriflow.NewSignatureVerifier(conf.Webhook.SigningSecret, conf.Webhook.ToleranceSeconds),
		deliveryTTL: time.Duration(conf.Webhook.DeliveryTTLHours) * time.Hour,
		secure:      conf.Server.Secure,
	}
}
