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

package sse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriflow-hq/veriflow-go/internal/apierror"
)

func TestFeedSingleEvent(t *testing.T) {
	parser := NewParser()
	events, err := parser.Feed([]byte("event: status\ndata: {\"status\":\"pending\"}\n\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "status", events[0].Type)
	assert.JSONEq(t, `{"status":"pending"}`, string(events[0].Data))
	assert.Equal(t, 0, parser.Buffered(), "consumed bytes must be released")
}

func TestFeedEventSplitAcrossChunks(t *testing.T) {
	parser := NewParser()

	events, err := parser.Feed([]byte("event: result\ndata: {\"sta"))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NotZero(t, parser.Buffered())

	events, err = parser.Feed([]byte("tus\":\"verified\"}\n\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "result", events[0].Type)
	assert.JSONEq(t, `{"status":"verified"}`, string(events[0].Data))
	assert.Equal(t, 0, parser.Buffered())
}

func TestFeedMultipleEventsInOneChunk(t *testing.T) {
	parser := NewParser()
	chunk := []byte("event: status\ndata: {\"status\":\"pending\"}\n\nevent: status\ndata: {\"status\":\"processing\"}\n\n")
	events, err := parser.Feed(chunk)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"status":"pending"}`, string(events[0].Data))
	assert.JSONEq(t, `{"status":"processing"}`, string(events[1].Data))
}

func TestFeedDropsHeartbeatsAndEmptyEvents(t *testing.T) {
	parser := NewParser()
	chunk := []byte("event: heartbeat\ndata: {}\n\nevent: status\n\n: comment only\n\nevent: status\ndata: {\"status\":\"processing\"}\n\n")
	events, err := parser.Feed(chunk)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"status":"processing"}`, string(events[0].Data))
}

func TestFeedDefaultsEventType(t *testing.T) {
	parser := NewParser()
	events, err := parser.Feed([]byte("data: {\"status\":\"pending\"}\n\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "status", events[0].Type)
}

func TestFeedHandlesCRLF(t *testing.T) {
	parser := NewParser()
	events, err := parser.Feed([]byte("event: status\r\ndata: {\"status\":\"pending\"}\r\n\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"status":"pending"}`, string(events[0].Data))
}

func TestFeedHandlesStrictCRLFFraming(t *testing.T) {
	// Some gateways terminate lines and events exclusively with CRLF, so the
	// blank line separating events arrives as \r\n\r\n.
	parser := NewParser()
	events, err := parser.Feed([]byte(
		"event: status\r\ndata: {\"status\":\"processing\"}\r\n\r\n" +
			"event: result\r\ndata: {\"status\":\"verified\"}\r\n\r\n"))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "status", events[0].Type)
	assert.JSONEq(t, `{"status":"processing"}`, string(events[0].Data))
	assert.Equal(t, "result", events[1].Type)
	assert.JSONEq(t, `{"status":"verified"}`, string(events[1].Data))

	// Everything was consumed, so later input starts from a clean buffer.
	events, err = parser.Feed([]byte("data: {\"status\":\"pending\"}\r\n\r\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestFeedJoinsMultiLineData(t *testing.T) {
	parser := NewParser()
	events, err := parser.Feed([]byte("event: status\ndata: line one\ndata: line two\n\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "line one\nline two", string(events[0].Data))
}

func TestFeedBufferOverflow(t *testing.T) {
	parser := NewParser()

	// Never send a delimiter; the buffer must fault instead of growing.
	chunk := bytes.Repeat([]byte("a"), 4096)
	var feedErr error
	for i := 0; i < 32; i++ {
		if _, feedErr = parser.Feed(chunk); feedErr != nil {
			break
		}
	}
	require.Error(t, feedErr)
	assert.Equal(t, apierror.ErrNetwork, apierror.CodeOf(feedErr))
	assert.Contains(t, feedErr.Error(), "buffer overflow")
	assert.Equal(t, 0, parser.Buffered(), "buffer must be discarded after an overflow")
}

func TestFeedCompleteEventsReturnedAlongsideOverflow(t *testing.T) {
	parser := NewParser()
	chunk := append([]byte("event: status\ndata: {\"status\":\"pending\"}\n\n"), bytes.Repeat([]byte("b"), MaxBufferSize+1)...)
	events, err := parser.Feed(chunk)
	require.Error(t, err)
	require.Len(t, events, 1, "events framed before the fault are still delivered")
}
