package authz

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/github-authz/security"
)

// DefaultSessionTTL bounds the time between the redirect to GitHub and the callback.
const DefaultSessionTTL = 10 * time.Minute

// ErrSessionExpired is returned by SessionSealer.Open for a session older than its TTL.
var ErrSessionExpired = errors.New("login session expired")

// SessionSealer encrypts an AuthSession so the browser can carry it between
// the redirect and the callback. The auth config id is bound as additional
// data, so a session issued for one auth config does not open for another.
type SessionSealer struct {
	encryptor *security.Encryptor
	ttl       time.Duration
	now       func() time.Time
}

type sealedSession struct {
	AuthSession
	IssuedAt int64 `json:"iat"`
}

// NewSessionSealer creates a sealer. A ttl <= 0 uses DefaultSessionTTL.
func NewSessionSealer(encryptor *security.Encryptor, ttl time.Duration) *SessionSealer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionSealer{
		encryptor: encryptor,
		ttl:       ttl,
		now:       time.Now,
	}
}

// TTL returns how long a sealed session stays valid.
func (s *SessionSealer) TTL() time.Duration {
	return s.ttl
}

// Seal encrypts session for authConfigID.
func (s *SessionSealer) Seal(authConfigID string, session AuthSession) (string, error) {
	plaintext, err := json.Marshal(sealedSession{AuthSession: session, IssuedAt: s.now().Unix()})
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}
	return s.encryptor.Seal(plaintext, []byte(authConfigID))
}

// Open decrypts a value produced by Seal for the same authConfigID.
func (s *SessionSealer) Open(authConfigID, sealed string) (*AuthSession, error) {
	plaintext, err := s.encryptor.Open(sealed, []byte(authConfigID))
	if err != nil {
		return nil, err
	}

	var session sealedSession
	if err := json.Unmarshal(plaintext, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	if s.now().Sub(time.Unix(session.IssuedAt, 0)) > s.ttl {
		return nil, ErrSessionExpired
	}

	return &session.AuthSession, nil
}
