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

// Package sse frames a raw byte stream into discrete server-sent events under
// a fixed memory ceiling, so a slow or malicious peer that never sends a
// delimiter cannot grow the buffer without bound.
package sse

import (
	"bytes"
	"strings"

	"github.com/veriflow-hq/veriflow-go/internal/apierror"
)

// MaxBufferSize is the hard ceiling on accumulated un-delimited bytes.
const MaxBufferSize = 64 * 1024

const heartbeatEventType = "heartbeat"

// Event is one framed server-sent event: the announced type plus the joined
// data payload.
type Event struct {
	Type string
	Data []byte
}

// Parser accumulates stream chunks and splits them on the blank-line
// delimiter. It is not safe for concurrent use; each subscription owns one.
type Parser struct {
	buf []byte
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk to the buffer and returns every complete event framed
// so far. Consumed bytes are released immediately, so a well-formed peer never
// approaches the ceiling regardless of session duration. If un-delimited data
// exceeds MaxBufferSize, Feed fails with a network_error-class buffer overflow;
// that is a hard fault the caller answers with a reconnect or a failover, the
// parser never retries on its own.
//
// Heartbeat events and events without data are recognized and dropped here,
// before they can reach a caller.
func (p *Parser) Feed(chunk []byte) ([]Event, error) {
	p.buf = append(p.buf, chunk...)

	var events []Event
	for {
		// A blank line ends an event in both LF and strict CRLF framing.
		idx, sep := bytes.Index(p.buf, []byte("\n\n")), 2
		if cr := bytes.Index(p.buf, []byte("\r\n\r\n")); cr >= 0 && (idx < 0 || cr < idx) {
			idx, sep = cr, 4
		}
		if idx < 0 {
			break
		}
		block := p.buf[:idx]
		// Retain only the unconsumed tail.
		p.buf = append(p.buf[:0:0], p.buf[idx+sep:]...)

		if event, ok := parseBlock(block); ok {
			events = append(events, event)
		}
	}

	if len(p.buf) > MaxBufferSize {
		p.buf = nil
		return events, apierror.NewAPIError(apierror.ErrNetwork, "buffer overflow", nil)
	}
	return events, nil
}

// Buffered reports how many un-delimited bytes the parser is holding.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// parseBlock extracts the event: and data: lines from one delimited block.
// The second return value is false for blocks that must not reach the caller:
// heartbeats, comment-only blocks and events with no data.
func parseBlock(block []byte) (Event, bool) {
	var eventType string
	var data []string

	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if eventType == heartbeatEventType {
		return Event{}, false
	}
	payload := strings.Join(data, "\n")
	if payload == "" {
		return Event{}, false
	}
	if eventType == "" {
		eventType = "status"
	}
	return Event{Type: eventType, Data: []byte(payload)}, true
}
