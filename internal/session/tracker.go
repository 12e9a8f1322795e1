// Package session tracks the single refresh-token fingerprint honored per user.
//
// Only a SHA-256 digest of the fingerprint is persisted. Rotation after a refresh is a
// compare-and-set on that digest, so of two concurrent refreshes presenting the same
// token exactly one can win.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"go-photoshare/internal/model"
)

const fingerprintBytes = 32

// FingerprintStore is the slice of the credential store the tracker needs. Implementations
// must apply SwapFingerprint as a single conditional write.
type FingerprintStore interface {
	GetFingerprint(ctx context.Context, userID string) (*string, error)
	SetFingerprint(ctx context.Context, userID string, digest *string) error
	SwapFingerprint(ctx context.Context, userID string, expected string, next *string) (bool, error)
}

type Tracker struct {
	store FingerprintStore
}

func NewTracker(store FingerprintStore) *Tracker {
	return &Tracker{store: store}
}

// Rotate replaces whatever fingerprint the user had with a fresh one. Used on login.
func (t *Tracker) Rotate(ctx context.Context, userID string) (string, error) {
	fingerprint, err := newFingerprint()
	if err != nil {
		return "", err
	}

	digest := Digest(fingerprint)
	if err := t.store.SetFingerprint(ctx, userID, &digest); err != nil {
		return "", err
	}
	return fingerprint, nil
}

// RotateFrom swaps presented for a fresh fingerprint only if presented is still the current
// one. Returns model.ErrSessionRevoked when it is not.
func (t *Tracker) RotateFrom(ctx context.Context, userID string, presented string) (string, error) {
	fingerprint, err := newFingerprint()
	if err != nil {
		return "", err
	}

	digest := Digest(fingerprint)
	swapped, err := t.store.SwapFingerprint(ctx, userID, Digest(presented), &digest)
	if err != nil {
		return "", err
	}
	if !swapped {
		return "", model.ErrSessionRevoked
	}
	return fingerprint, nil
}

// Validate reports whether presented matches the user's current fingerprint.
func (t *Tracker) Validate(ctx context.Context, userID string, presented string) (bool, error) {
	current, err := t.store.GetFingerprint(ctx, userID)
	if err != nil {
		return false, err
	}
	if current == nil || presented == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(*current), []byte(Digest(presented))) == 1, nil
}

// RevokeAll clears the stored fingerprint; every outstanding refresh token for the user
// stops validating. Idempotent.
func (t *Tracker) RevokeAll(ctx context.Context, userID string) error {
	return t.store.SetFingerprint(ctx, userID, nil)
}

// Digest is the persisted form of a fingerprint.
func Digest(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}

func newFingerprint() (string, error) {
	buf := make([]byte, fingerprintBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate fingerprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
