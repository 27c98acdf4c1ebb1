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

package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	veriflow "github.com/veriflow-hq/veriflow-go"
	"github.com/veriflow-hq/veriflow-go/internal/apierror"
	"github.com/veriflow-hq/veriflow-go/model"
)

// ReceiveWebhook accepts one callback delivery from the gateway. The exact
// bytes received on the wire are read before any JSON decoding so the
// signature is computed over the payload the gateway actually signed; a
// framework re-serialization between here and the verifier would break
// byte-for-byte fidelity.
//
// Verification failures are terminal for the request: fail closed, never
// retried, never partially trusted.
//
// Responses:
// - 202 Accepted: The delivery was authenticated and enqueued.
// - 200 OK: The delivery was authentic but already seen (replay ledger hit).
// - 400 Bad Request: The payload does not decode or validate.
// - 401 Unauthorized: Missing or invalid signature, or timestamp out of tolerance.
func (a Api) ReceiveWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	header := c.GetHeader(veriflow.SignatureHeaderName)
	if header == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing signature header"})
		return
	}
	if err := a.verifier.Verify(rawBody, header); err != nil {
		logrus.WithFields(logrus.Fields{
			"code":  apierror.CodeOf(err),
			"error": err.Error(),
		}).Warn("rejected webhook delivery")
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	var event model.WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is not valid JSON"})
		return
	}
	if err := event.ValidateWebhookEvent(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fresh, err := a.store.MarkDelivery(c.Request.Context(), event.DeliveryID, a.deliveryTTL)
	if err != nil {
		logrus.WithError(err).Error("replay ledger unavailable")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record delivery"})
		return
	}
	if !fresh {
		// Authentic but already accepted. Answer 200 so the gateway stops
		// redelivering.
		c.JSON(http.StatusOK, gin.H{"status": "duplicate delivery"})
		return
	}

	if err := a.queue.EnqueueWebhookEvent(c.Request.Context(), event); err != nil {
		if apierror.CodeOf(err) == apierror.ErrConflict {
			c.JSON(http.StatusOK, gin.H{"status": "duplicate delivery"})
			return
		}
		logrus.WithError(err).Error("failed to enqueue webhook delivery")
		// The delivery never reached the queue, so release its ledger entry.
		// Otherwise the gateway's redelivery would be answered as a duplicate
		// and the event would be lost for good.
		if unmarkErr := a.store.UnmarkDelivery(c.Request.Context(), event.DeliveryID); unmarkErr != nil {
			logrus.WithError(unmarkErr).WithField("delivery_id", event.DeliveryID).
				Error("failed to release delivery after enqueue failure")
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue delivery"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "delivery_id": event.DeliveryID})
}

// GetSessionStatus serves the receiver's latest observed status event for a
// session.
//
// Responses:
// - 200 OK: The latest observed event.
// - 404 Not Found: No webhook has been observed for the session.
func (a Api) GetSessionStatus(c *gin.Context) {
	sessionID := c.Param("id")
	event, err := a.store.GetStatus(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, event)
}
