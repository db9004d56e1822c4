package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxAge is the replay window used when none is configured.
const DefaultMaxAge = 300 * time.Second

// Reasons reported by VerifyWithTimestamp.
const (
	ReasonOK                  = ""
	ReasonInvalidTimestamp    = "invalid_timestamp"
	ReasonTimestampOutOfRange = "timestamp_out_of_window"
	ReasonSignatureMismatch   = "signature_mismatch"
)

// Result is the outcome of a timestamped verification.
type Result struct {
	Valid  bool
	Reason string
}

// Verify reports whether header is a valid signature of payload under secret.
// Malformed headers yield false.
func Verify(payload []byte, header, secret string) bool {
	hexPart, ok := strings.CutPrefix(header, Prefix)
	if !ok || len(hexPart) != hex.EncodedLen(sha256.Size) {
		return false
	}
	got, err := hex.DecodeString(hexPart)
	if err != nil {
		return false
	}
	return hmac.Equal(got, digest(payload, secret))
}

// Verifier checks signatures with a replay window. The zero value uses
// DefaultMaxAge and the wall clock.
type Verifier struct {
	MaxAge time.Duration
	Now    func() time.Time
}

// VerifyWithTimestamp rejects requests whose timestamp is more than MaxAge
// away from now before checking the signature.
func (v Verifier) VerifyWithTimestamp(payload []byte, sigHeader, tsHeader, secret string) Result {
	maxAge := v.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(tsHeader), 10, 64)
	if err != nil {
		return Result{Reason: ReasonInvalidTimestamp}
	}

	age := now().Unix() - ts
	if age < 0 {
		age = -age
	}
	if age > int64(maxAge/time.Second) {
		return Result{Reason: ReasonTimestampOutOfRange}
	}

	if !Verify(payload, sigHeader, secret) {
		return Result{Reason: ReasonSignatureMismatch}
	}
	return Result{Valid: true}
}

// VerifyWithTimestamp is Verifier{MaxAge: maxAge}.VerifyWithTimestamp.
func VerifyWithTimestamp(payload []byte, sigHeader, tsHeader, secret string, maxAge time.Duration) Result {
	return Verifier{MaxAge: maxAge}.VerifyWithTimestamp(payload, sigHeader, tsHeader, secret)
}
