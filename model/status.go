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

// VerificationStatus represents the lifecycle state of a verification session
// as observed by one client. The gateway owns the session record; the client
// only observes transitions reported over the push stream, the poll endpoint,
// or webhook callbacks.
type VerificationStatus string

const (
	// StatusIdle indicates no subscription has observed the session yet.
	StatusIdle VerificationStatus = "idle"
	// StatusPending indicates the session exists but verification has not started.
	StatusPending VerificationStatus = "pending"
	// StatusProcessing indicates the gateway is actively verifying the session.
	StatusProcessing VerificationStatus = "processing"
	// StatusVerified indicates the session completed successfully. Terminal.
	StatusVerified VerificationStatus = "verified"
	// StatusFailed indicates the verification was rejected. Terminal.
	StatusFailed VerificationStatus = "failed"
	// StatusTimeout indicates the session or the observing client ran out of time. Terminal.
	StatusTimeout VerificationStatus = "timeout"
	// StatusError indicates an unrecoverable error was reported for the session. Terminal.
	StatusError VerificationStatus = "error"
)

// IsTerminal reports whether no further transitions are expected after s.
// Both subscription channels consult this before deciding whether to keep
// observing, and the status store consults it before overwriting a record.
func (s VerificationStatus) IsTerminal() bool {
	switch s {
	case StatusVerified, StatusFailed, StatusTimeout, StatusError:
		return true
	default:
		return false
	}
}

// Advance applies the single transition rule shared by every component:
// once a session reaches a terminal status, no candidate replaces it.
//
// Parameters:
// - previous VerificationStatus: The last status observed for the session.
// - candidate VerificationStatus: The newly reported status.
//
// Returns:
// - VerificationStatus: The status the observer should now hold.
// - bool: True if the candidate was accepted, false if the previous status was kept.
func Advance(previous, candidate VerificationStatus) (VerificationStatus, bool) {
	if previous.IsTerminal() {
		return previous, false
	}
	return candidate, true
}

// ParseStatus interprets a status reported on the push stream. The stream
// speaks the client vocabulary directly, so recognized values pass through
// unchanged; anything else is treated as gateway vocabulary and mapped, which
// keeps the canceled and expired aliases working and coerces drift to error.
func ParseStatus(raw string) VerificationStatus {
	switch status := VerificationStatus(raw); status {
	case StatusIdle, StatusPending, StatusProcessing, StatusVerified,
		StatusFailed, StatusTimeout, StatusError:
		return status
	default:
		return MapGatewayStatus(raw)
	}
}

// MapGatewayStatus translates the gateway's status vocabulary into the client
// vocabulary. The gateway reports pending|processing|verified|failed|canceled|expired;
// canceled maps to error and expired maps to timeout. Anything unrecognized maps
// to error so a vocabulary drift on the gateway side is never silently treated
// as progress.
func MapGatewayStatus(gatewayStatus string) VerificationStatus {
	switch gatewayStatus {
	case "pending":
		return StatusPending
	case "processing":
		return StatusProcessing
	case "verified":
		return StatusVerified
	case "failed":
		return StatusFailed
	case "canceled":
		return StatusError
	case "expired":
		return StatusTimeout
	default:
		return StatusError
	}
}
