package signature

import (
	"crypto/rand"
	"encoding/hex"
)

// NewSecret creates a signing secret of 32 random bytes, hex encoded.
func NewSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("signature: failed to generate random secret: " + err.Error())
	}
	return hex.EncodeToString(b)
}
