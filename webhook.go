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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/veriflow-hq/veriflow-go/internal/apierror"
)

const (
	// SignatureHeaderName is the header the gateway signs callbacks with.
	SignatureHeaderName = "X-Signature"

	// DefaultSignatureTolerance bounds how far a signed timestamp may drift
	// from the receiver clock, in either direction.
	DefaultSignatureTolerance = 300 * time.Second

	signatureScheme = "v1"
)

// SignatureHeader is the parsed form of t=<unix_seconds>,v1=<hex_hmac>[,v1=...].
// Multiple v1 values represent concurrent signing keys during rotation; any
// one matching is sufficient.
type SignatureHeader struct {
	Timestamp  int64
	Signatures []string
}

// ParseSignatureHeader splits a signature header into its timestamp and
// signature values. The header must contain exactly one timestamp and at
// least one signature or parsing fails closed. Unrecognized elements are
// ignored so the gateway can extend the header without breaking receivers.
func ParseSignatureHeader(header string) (SignatureHeader, error) {
	var parsed SignatureHeader
	seenTimestamp := false

	for _, element := range strings.Split(header, ",") {
		parts := strings.SplitN(strings.TrimSpace(element), "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "t":
			if seenTimestamp {
				return SignatureHeader{}, apierror.NewAPIError(apierror.ErrSignatureInvalid,
					"signature header contains more than one timestamp", nil)
			}
			timestamp, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return SignatureHeader{}, apierror.NewAPIError(apierror.ErrSignatureInvalid,
					"signature header timestamp is not a unix time", nil)
			}
			parsed.Timestamp = timestamp
			seenTimestamp = true
		case signatureScheme:
			if parts[1] != "" {
				parsed.Signatures = append(parsed.Signatures, parts[1])
			}
		}
	}

	if !seenTimestamp {
		return SignatureHeader{}, apierror.NewAPIError(apierror.ErrSignatureInvalid,
			"signature header carries no timestamp", nil)
	}
	if len(parsed.Signatures) == 0 {
		return SignatureHeader{}, apierror.NewAPIError(apierror.ErrSignatureInvalid,
			"signature header carries no v1 signature", nil)
	}
	return parsed, nil
}

// SignWebhookPayload computes the hex-encoded HMAC-SHA256 over
// "{timestamp}.{payload}" with the shared signing secret. Receivers use it to
// recompute the expected signature; gateway simulators and tests use it to
// produce one.
func SignWebhookPayload(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureVerifier authenticates webhook payloads. The clock is injectable
// for deterministic replay-window tests.
type SignatureVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

// NewSignatureVerifier builds a verifier with the default tolerance when
// toleranceSeconds is zero or negative.
func NewSignatureVerifier(secret string, toleranceSeconds int) SignatureVerifier {
	tolerance := DefaultSignatureTolerance
	if toleranceSeconds > 0 {
		tolerance = time.Duration(toleranceSeconds) * time.Second
	}
	return SignatureVerifier{Secret: secret, Tolerance: tolerance}
}

// Verify authenticates payload against the signature header. It is a pure
// check: no state is touched, so calling it twice yields the same result.
//
// The timestamp is rejected when it is strictly more than the tolerance in
// the past, or strictly more than the tolerance in the future; the latter
// prevents an attacker from pre-signing a payload for replay after the
// legitimate window closes. Signatures are compared in constant time, and
// error messages never echo the secret or any computed digest.
//
// Parameters:
// - payload []byte: The exact raw bytes received on the wire, never re-encoded.
// - header string: The X-Signature header value.
//
// Returns:
// - error: nil when the payload is authentic and inside the window.
func (v SignatureVerifier) Verify(payload []byte, header string) error {
	parsed, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	signedAt := time.Unix(parsed.Timestamp, 0)
	if now.Sub(signedAt) > tolerance {
		return apierror.NewAPIError(apierror.ErrTimestampOutOfTolerance,
			"signed timestamp is too far in the past", nil)
	}
	if signedAt.Sub(now) > tolerance {
		return apierror.NewAPIError(apierror.ErrTimestampOutOfTolerance,
			"signed timestamp is too far in the future", nil)
	}

	expected, err := hex.DecodeString(SignWebhookPayload(v.Secret, parsed.Timestamp, payload))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to compute expected signature", nil)
	}
	for _, signature := range parsed.Signatures {
		candidate, decodeErr := hex.DecodeString(signature)
		if decodeErr != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrSignatureInvalid,
		"no provided signature matched the expected signature", nil)
}

// VerifyWebhookSignature is the package-level convenience form of Verify with
// the default tolerance and clock.
func VerifyWebhookSignature(payload []byte, header, secret string) error {
	return SignatureVerifier{Secret: secret}.Verify(payload, header)
}
