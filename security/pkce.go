package security

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// PKCEMethodS256 is the only code challenge method sent to GitHub.
const PKCEMethodS256 = "S256"

// ProofKey is a PKCE verifier and its S256 challenge (RFC 7636).
type ProofKey struct {
	// Verifier is 32 random bytes, base64url encoded without padding (43 characters).
	Verifier string

	// Challenge is BASE64URL(SHA256(Verifier)) without padding.
	Challenge string
}

// GenerateProofKey returns a fresh PKCE verifier and challenge.
func GenerateProofKey() ProofKey {
	verifier := oauth2.GenerateVerifier()
	return ProofKey{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
	}
}

// VerifyProofKey reports whether challenge is the S256 challenge of verifier.
func VerifyProofKey(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
