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

package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies every failure the client and the webhook receiver can
// surface. Subscribers use the class to decide between retrying locally and
// giving up; the receiver maps it to an HTTP status.
type ErrorCode string

const (
	// ErrNetwork covers transport failures, request timeouts and the stream
	// parser's buffer overflow. Retryable.
	ErrNetwork ErrorCode = "network_error"
	// ErrTimeout marks a deadline exceeded. Delivered to callers as a
	// synthetic timeout status event, not as a callback error.
	ErrTimeout ErrorCode = "timeout"
	// ErrSignatureInvalid marks a webhook whose signatures all mismatch.
	ErrSignatureInvalid ErrorCode = "signature_invalid"
	// ErrTimestampOutOfTolerance marks a webhook signed outside the accepted
	// clock window, in either direction.
	ErrTimestampOutOfTolerance ErrorCode = "timestamp_out_of_tolerance"
	// ErrParse marks a malformed event payload. Logged and skipped, never
	// fatal to a stream.
	ErrParse ErrorCode = "parse_error"
	// ErrInvalidInput marks a request the receiver rejects before any
	// processing.
	ErrInvalidInput ErrorCode = "invalid_input"
	// ErrConflict marks a webhook delivery that was already accepted.
	ErrConflict ErrorCode = "conflict"
	// ErrNotFound marks a session the receiver has not observed yet.
	ErrNotFound ErrorCode = "not_found"
	// ErrInternalServer is the catch-all for receiver-side faults.
	ErrInternalServer ErrorCode = "internal_server_error"
)

// APIError is the error type carried across the whole module.
type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError builds an APIError with the given classification.
func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf extracts the error class, or ErrInternalServer for foreign errors.
func CodeOf(err error) ErrorCode {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrInternalServer
}

// IsRetryable reports whether a subscriber should stay on its backoff
// schedule after err, rather than surfacing it to the caller.
func IsRetryable(err error) bool {
	return CodeOf(err) == ErrNetwork
}

// MapErrorToHTTPStatus translates an error into the receiver's response code.
// Authentication failures map to 401 so a misconfigured sender sees the same
// response for a bad signature and a stale timestamp.
func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrSignatureInvalid, ErrTimestampOutOfTolerance:
			return http.StatusUnauthorized
		case ErrInvalidInput, ErrParse:
			return http.StatusBadRequest
		case ErrConflict:
			return http.StatusConflict
		case ErrNotFound:
			return http.StatusNotFound
		case ErrTimeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
