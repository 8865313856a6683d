// Package auth gates the admin API behind a configured access key.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashToken computes the SHA256 hash of a token.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Errors for authentication failures.
var (
	// ErrMissingKey indicates no access key was provided.
	ErrMissingKey = errors.New("auth: missing access key")
	// ErrInvalidKey indicates the access key does not match.
	ErrInvalidKey = errors.New("auth: invalid access key")
	// ErrNotConfigured indicates neither a plain nor a hashed admin key is set.
	ErrNotConfigured = errors.New("auth: no admin key configured")
)

// Method names how a principal was authenticated.
type Method string

const (
	MethodAccessKey Method = "access_key"
	MethodBcrypt    Method = "bcrypt"
)

// Principal is the authenticated caller of the admin API.
type Principal struct {
	Name   string `json:"name"`
	Method Method `json:"method"`
}

// KeyAuthenticator checks admin access keys against a SHA-256 digest of
// the configured plain key, a bcrypt hash, or both.
type KeyAuthenticator struct {
	keyHash    string // SHA-256 hex of the plain key; empty if unset
	bcryptHash []byte
}

// NewKeyAuthenticator creates an authenticator. accessKey is the plain admin
// key and bcryptHash a bcrypt hash of it; at least one must be set.
func NewKeyAuthenticator(accessKey, bcryptHash string) (*KeyAuthenticator, error) {
	if accessKey == "" && bcryptHash == "" {
		return nil, ErrNotConfigured
	}
	a := &KeyAuthenticator{}
	if accessKey != "" {
		a.keyHash = HashToken(accessKey)
	}
	if bcryptHash != "" {
		if _, err := bcrypt.Cost([]byte(bcryptHash)); err != nil {
			return nil, fmt.Errorf("auth: invalid bcrypt hash: %w", err)
		}
		a.bcryptHash = []byte(bcryptHash)
	}
	return a, nil
}

// Authenticate returns the principal for key, or ErrMissingKey/ErrInvalidKey.
//
// The plain key comparison must stay constant-time over the SHA-256
// digests; == on either the key or its hash would leak timing.
func (a *KeyAuthenticator) Authenticate(key string) (*Principal, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	if a.keyHash != "" {
		if subtle.ConstantTimeCompare([]byte(HashToken(key)), []byte(a.keyHash)) == 1 {
			return &Principal{Name: "admin", Method: MethodAccessKey}, nil
		}
	}
	if a.bcryptHash != nil {
		if bcrypt.CompareHashAndPassword(a.bcryptHash, []byte(key)) == nil {
			return &Principal{Name: "admin", Method: MethodBcrypt}, nil
		}
	}
	return nil, ErrInvalidKey
}

// HashAccessKey returns a bcrypt hash of key suitable for ADMIN_KEY_BCRYPT.
func HashAccessKey(key string) (string, error) {
	if key == "" {
		return "", ErrMissingKey
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: failed to hash key: %w", err)
	}
	return string(hash), nil
}
