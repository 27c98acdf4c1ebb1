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
	"encoding/json"
	"fmt"
	"time"
)

// EventKind tags a StatusEvent with the shape of its payload. The set is
// closed: decoding rejects anything outside it.
type EventKind string

const (
	EventKindStatus    EventKind = "status"
	EventKindResult    EventKind = "result"
	EventKindError     EventKind = "error"
	EventKindTimeout   EventKind = "timeout"
	EventKindHeartbeat EventKind = "heartbeat"
)

// knownEventKinds is the closed set accepted at the decoding boundary.
var knownEventKinds = map[EventKind]struct{}{
	EventKindStatus:    {},
	EventKindResult:    {},
	EventKindError:     {},
	EventKindTimeout:   {},
	EventKindHeartbeat: {},
}

// ErrorDetail carries the gateway's error description for a session.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VerificationResult is the gateway's final verdict payload, attached to
// result events once a session reaches a terminal status.
type VerificationResult struct {
	SessionID   string                 `json:"session_id"`
	Status      VerificationStatus     `json:"status"`
	CompletedAt time.Time              `json:"completed_at"`
	MetaData    map[string]interface{} `json:"meta_data,omitempty"`
}

// StatusEvent is the single event shape delivered to callers by both the push
// and the polling channel, so callers stay channel-agnostic. Heartbeat events
// are filtered out before they reach a caller.
type StatusEvent struct {
	Kind      EventKind           `json:"kind"`
	Status    VerificationStatus  `json:"status"`
	Result    *VerificationResult `json:"result,omitempty"`
	Error     *ErrorDetail        `json:"error,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// IsHeartbeat reports whether the event carries no status change and should
// be dropped before delivery.
func (e StatusEvent) IsHeartbeat() bool {
	return e.Kind == EventKindHeartbeat
}

// statusEventWire mirrors the gateway's JSON for a streamed event. The status
// field uses the gateway vocabulary and is mapped before the event is handed
// to a caller.
type statusEventWire struct {
	Status    string              `json:"status"`
	Result    *VerificationResult `json:"result,omitempty"`
	Error     *ErrorDetail        `json:"error,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// DecodeStatusEvent decodes one streamed event into a StatusEvent.
// The event type comes from the stream framing; the data is the JSON payload
// of that event. Unrecognized kinds and malformed payloads are rejected so
// they can be dropped at the boundary instead of propagating as a valid
// variant.
//
// Parameters:
// - eventType string: The event type announced by the stream framing.
// - data []byte: The raw JSON payload for the event.
//
// Returns:
// - StatusEvent: The decoded event in the client vocabulary.
// - error: An error if the kind is unknown or the payload is malformed.
func DecodeStatusEvent(eventType string, data []byte) (StatusEvent, error) {
	kind := EventKind(eventType)
	if _, ok := knownEventKinds[kind]; !ok {
		return StatusEvent{}, fmt.Errorf("unknown event kind %q", eventType)
	}

	if kind == EventKindHeartbeat {
		return StatusEvent{Kind: EventKindHeartbeat, Timestamp: time.Now()}, nil
	}

	var wire statusEventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return StatusEvent{}, fmt.Errorf("malformed %s event payload: %w", eventType, err)
	}

	event := StatusEvent{
		Kind:      kind,
		Result:    wire.Result,
		Error:     wire.Error,
		Timestamp: wire.Timestamp,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	switch kind {
	case EventKindStatus, EventKindResult:
		if wire.Status == "" {
			return StatusEvent{}, fmt.Errorf("%s event carries no status", eventType)
		}
		event.Status = ParseStatus(wire.Status)
	case EventKindError:
		event.Status = StatusError
	case EventKindTimeout:
		event.Status = StatusTimeout
	}

	return event, nil
}
