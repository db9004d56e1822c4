// Package signature provides HMAC-SHA256 webhook signing and verification.
//
// The signature covers the raw request body only. The timestamp travels in a
// separate header and receivers check it against a replay window.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Header names set on every delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// Prefix precedes the hex digest in the signature header.
const Prefix = "sha256="

// Signed is a signature together with the out-of-band timestamp.
type Signed struct {
	Signature string
	Timestamp int64
}

// TimestampHeader returns the timestamp formatted for the header.
func (s Signed) TimestampHeader() string {
	return strconv.FormatInt(s.Timestamp, 10)
}

// Sign returns "sha256=<hex>" where hex is the lowercase HMAC-SHA256 of
// payload keyed with secret.
func Sign(payload []byte, secret string) string {
	return Prefix + hex.EncodeToString(digest(payload, secret))
}

// SignWithTimestamp signs payload and pairs the signature with unix.
// The timestamp is not part of the signed bytes.
func SignWithTimestamp(payload []byte, secret string, unix int64) Signed {
	return Signed{Signature: Sign(payload, secret), Timestamp: unix}
}

func digest(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
