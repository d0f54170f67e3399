// Package idempotency stores the responses of retried moment creations so a
// client that resends a request with the same Idempotency-Key gets the
// original response instead of a duplicate moment.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to create a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for a client-supplied key.
const MaxKeyLength = 64

// DefaultExpiry is how long a stored response is replayed.
const DefaultExpiry = 24 * time.Hour

// Record is a stored response for one key.
type Record struct {
	// Key is the scoped key produced by ScopedKey.
	Key                string    `json:"key"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	CreatedAt          time.Time `json:"created_at"`
	ResponseHash       string    `json:"response_hash"`
	ResponseBody       string    `json:"response_body"`
	ResponseStatusCode int       `json:"response_status_code"`
}

// ValidateKey checks a client-supplied key.
// Returns ErrInvalidKey if the key is empty or contains control characters.
// Returns ErrKeyTooLong if the key exceeds MaxKeyLength.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return ErrInvalidKey
		}
	}
	return nil
}

// ScopedKey namespaces a client key by viewer, so two viewers choosing the
// same key never see each other's responses.
func ScopedKey(viewerID, key string) string {
	return viewerID + ":" + key
}

// ComputeResponseHash computes a SHA256 hash of the response body.
func ComputeResponseHash(responseBody string) string {
	hash := sha256.Sum256([]byte(responseBody))
	return hex.EncodeToString(hash[:])
}

// Repository defines methods for idempotency record persistence.
type Repository interface {
	// Get retrieves a record by its scoped key.
	// Returns ErrKeyNotFound if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) (*Record, error)

	// Store saves a new record.
	// Returns ErrKeyExists if the key already exists.
	Store(ctx context.Context, record *Record) error

	// DeleteOlderThan removes records older than the specified duration and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
