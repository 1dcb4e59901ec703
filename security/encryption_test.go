package security

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	key2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	if len(key1) != KeySize {
		t.Errorf("len(key) = %d, want %d", len(key1), KeySize)
	}
	if bytes.Equal(key1, key2) {
		t.Error("GenerateKey() returned the same key twice")
	}
}

func TestNewEncryptor_InvalidKey(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33} {
		if _, err := NewEncryptor(make([]byte, size)); err == nil {
			t.Errorf("NewEncryptor() with %d-byte key: error = nil, want error", size)
		}
	}
}

func TestEncryptor_SealOpen(t *testing.T) {
	key, _ := GenerateKey()
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	plaintext := []byte(`{"oauth2_state":"abc","oauth2_code_verifier_encoded":"xyz"}`)
	aad := []byte("auth-1")

	sealed, err := enc.Seal(plaintext, aad)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if strings.ContainsAny(sealed, "+/=") {
		t.Errorf("sealed value %q is not cookie safe", sealed)
	}
	if strings.Contains(sealed, "abc") {
		t.Error("sealed value contains plaintext")
	}

	opened, err := enc.Open(sealed, aad)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}

	again, _ := enc.Seal(plaintext, aad)
	if again == sealed {
		t.Error("Seal() is deterministic, want a fresh nonce per call")
	}
}

func TestEncryptor_OpenRejectsTampering(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)
	otherKey, _ := GenerateKey()
	other, _ := NewEncryptor(otherKey)

	sealed, err := enc.Seal([]byte("payload"), []byte("auth-1"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	flipped := []byte(sealed)
	mid := len(flipped) / 2
	if flipped[mid] == 'A' {
		flipped[mid] = 'B'
	} else {
		flipped[mid] = 'A'
	}

	tests := []struct {
		name  string
		enc   *Encryptor
		value string
		aad   string
	}{
		{name: "not base64", enc: enc, value: "!!!", aad: "auth-1"},
		{name: "too short", enc: enc, value: "AAAA", aad: "auth-1"},
		{name: "modified", enc: enc, value: string(flipped), aad: "auth-1"},
		{name: "wrong additional data", enc: enc, value: sealed, aad: "auth-2"},
		{name: "wrong key", enc: other, value: sealed, aad: "auth-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.enc.Open(tt.value, []byte(tt.aad))
			if !errors.Is(err, ErrInvalidCiphertext) {
				t.Errorf("Open() error = %v, want ErrInvalidCiphertext", err)
			}
		})
	}
}

func TestNewEncryptorFromSecret(t *testing.T) {
	secret := []byte("a-long-enough-operator-secret")

	a, err := NewEncryptorFromSecret(secret, "session")
	if err != nil {
		t.Fatalf("NewEncryptorFromSecret() error = %v", err)
	}
	b, _ := NewEncryptorFromSecret(secret, "session")
	c, _ := NewEncryptorFromSecret(secret, "other-purpose")

	sealed, _ := a.Seal([]byte("payload"), nil)
	if _, err := b.Open(sealed, nil); err != nil {
		t.Errorf("same secret and info should derive the same key: %v", err)
	}
	if _, err := c.Open(sealed, nil); err == nil {
		t.Error("different info should derive a different key")
	}

	if _, err := NewEncryptorFromSecret([]byte("short"), "session"); err == nil {
		t.Error("NewEncryptorFromSecret() with short secret: error = nil, want error")
	}
}

func TestKeyFromBase64(t *testing.T) {
	if _, err := KeyFromBase64("AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="); err != nil {
		t.Errorf("KeyFromBase64() error = %v", err)
	}
	if _, err := KeyFromBase64("not-base64!"); err == nil {
		t.Error("KeyFromBase64() invalid base64: error = nil")
	}
	if _, err := KeyFromBase64("AAEC"); err == nil {
		t.Error("KeyFromBase64() short key: error = nil")
	}
}
