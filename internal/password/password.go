// Package password hashes and verifies account passwords.
//
// New hashes are argon2id, encoded in the PHC string format so the parameters travel with
// the hash:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
//
// bcrypt hashes written by earlier deployments are still accepted by Verify, and
// NeedsRehash reports them so callers can upgrade on the next successful login.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"go-photoshare/internal/model"
)

const (
	DefaultMemory      uint32 = 64 * 1024
	DefaultIterations  uint32 = 3
	DefaultParallelism uint8  = 2
	DefaultSaltLength  uint32 = 16
	DefaultKeyLength   uint32 = 32

	argon2idPrefix = "$argon2id$"
)

type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultParams() Params {
	return Params{
		Memory:      DefaultMemory,
		Iterations:  DefaultIterations,
		Parallelism: DefaultParallelism,
		SaltLength:  DefaultSaltLength,
		KeyLength:   DefaultKeyLength,
	}
}

func (p Params) Validate() error {
	if p.Memory < 8*uint32(p.Parallelism) {
		return fmt.Errorf("argon2 memory must be at least 8*parallelism KiB, got %d", p.Memory)
	}
	if p.Iterations == 0 {
		return errors.New("argon2 iterations must be positive")
	}
	if p.Parallelism == 0 {
		return errors.New("argon2 parallelism must be positive")
	}
	if p.SaltLength < 8 {
		return fmt.Errorf("salt length must be at least 8 bytes, got %d", p.SaltLength)
	}
	if p.KeyLength < 16 {
		return fmt.Errorf("key length must be at least 16 bytes, got %d", p.KeyLength)
	}
	return nil
}

type Hasher struct {
	params Params
}

func NewHasher(params Params) (*Hasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: params}, nil
}

func (h *Hasher) Params() Params {
	return h.params
}

// Hash derives a new argon2id hash with a fresh random salt.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("%w: password is empty", model.ErrInvalidInput)
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return encode(h.params, salt, key), nil
}

// Verify reports whether plaintext matches encoded. A mismatch is (false, nil); a hash that
// cannot be decoded returns model.ErrCredentialCorrupt.
func (h *Hasher) Verify(plaintext string, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plaintext))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", model.ErrCredentialCorrupt, err)
		}
	}

	params, salt, key, err := Decode(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(plaintext), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return subtle.ConstantTimeCompare(candidate, key) == 1, nil
}

// NeedsRehash reports whether encoded was produced by another algorithm or with parameters
// other than the hasher's current ones.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	params, salt, _, err := Decode(encoded)
	if err != nil {
		return true
	}
	return params.Memory != h.params.Memory ||
		params.Iterations != h.params.Iterations ||
		params.Parallelism != h.params.Parallelism ||
		params.KeyLength != h.params.KeyLength ||
		uint32(len(salt)) != h.params.SaltLength
}

// Decode parses an argon2id PHC string.
func Decode(encoded string) (Params, []byte, []byte, error) {
	if !strings.HasPrefix(encoded, argon2idPrefix) {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported hash format", model.ErrCredentialCorrupt)
	}

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return Params{}, nil, nil, fmt.Errorf("%w: malformed argon2id hash", model.ErrCredentialCorrupt)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: malformed version: %v", model.ErrCredentialCorrupt, err)
	}
	if version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported argon2 version %d", model.ErrCredentialCorrupt, version)
	}

	var params Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: malformed parameters: %v", model.ErrCredentialCorrupt, err)
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: malformed salt: %v", model.ErrCredentialCorrupt, err)
	}
	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: malformed key: %v", model.ErrCredentialCorrupt, err)
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	if params.Iterations == 0 || params.Parallelism == 0 || len(salt) == 0 || len(key) == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: zero argon2 parameter", model.ErrCredentialCorrupt)
	}

	return params, salt, key, nil
}

func encode(params Params, salt []byte, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.Memory,
		params.Iterations,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}
