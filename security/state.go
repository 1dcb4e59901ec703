package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// stateBytes is the entropy of a CSRF state value.
const stateBytes = 32

// GenerateState returns an unguessable CSRF state value: 32 random bytes,
// base64url encoded with padding (44 characters).
//
// It panics if the system random source fails, since no safe state can be produced.
func GenerateState() string {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.URLEncoding.EncodeToString(b)
}
