// Package operator guards administrative actions behind a bcrypt-hashed
// operator secret.
package operator

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotConfigured        = errors.New("operator secret not configured")
	ErrConfirmationRequired = errors.New("operator confirmation required")
	ErrInvalidConfirmation  = errors.New("invalid operator confirmation")
	ErrSecretTooShort       = errors.New("operator secret too short")
)

// MinSecretLength is the shortest accepted operator secret
const MinSecretLength = 8

// Confirmer checks an operator secret against a stored hash
type Confirmer struct {
	hash []byte
}

// NewConfirmer creates a confirmer for a bcrypt hash. An empty hash leaves
// administrative actions disabled.
func NewConfirmer(hash string) *Confirmer {
	return &Confirmer{hash: []byte(hash)}
}

// Configured reports whether a secret hash is present
func (c *Confirmer) Configured() bool {
	return len(c.hash) > 0
}

// Confirm returns nil only for the correct secret
func (c *Confirmer) Confirm(secret string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if secret == "" {
		return ErrConfirmationRequired
	}
	if err := bcrypt.CompareHashAndPassword(c.hash, []byte(secret)); err != nil {
		return ErrInvalidConfirmation
	}
	return nil
}

// HashSecret hashes a secret for storage in secrets.yaml
func HashSecret(secret string, cost int) (string, error) {
	if len(secret) < MinSecretLength {
		return "", fmt.Errorf("%w: need at least %d characters", ErrSecretTooShort, MinSecretLength)
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// GenerateSecret returns a random hex secret of length bytes
func GenerateSecret(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
