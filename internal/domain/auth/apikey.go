package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned when an API key does not map to a known identity.
var ErrInvalidKey = errors.New("invalid api key")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Directory resolves API keys to identities. The OSS implementation is a
// read-only view over the configuration file; the directory is immutable
// after process start.
type Directory interface {
	// IdentityByKeyHash retrieves an identity by the SHA-256 hex hash of its key.
	// Returns ErrInvalidKey if no identity is bound to that hash.
	IdentityByKeyHash(ctx context.Context, keyHash string) (*Identity, error)

	// Entries returns all (storedHash, identity) pairs for iteration-based
	// verification of non-SHA-256 hashes.
	Entries(ctx context.Context) ([]DirectoryEntry, error)
}

// DirectoryEntry pairs a stored key hash with the identity it authenticates.
type DirectoryEntry struct {
	KeyHash  string
	Identity *Identity
}

// KeyService validates raw API keys against the identity directory.
type KeyService struct {
	dir Directory
}

// NewKeyService creates a KeyService backed by the given directory.
func NewKeyService(dir Directory) *KeyService {
	return &KeyService{dir: dir}
}

// Validate checks a raw API key and returns the associated identity.
// SHA-256 hashes are resolved by direct lookup; Argon2id hashes fall back
// to iterating the directory. Returns ErrInvalidKey on any failure.
func (s *KeyService) Validate(ctx context.Context, rawKey string) (*Identity, error) {
	if id, err := s.dir.IdentityByKeyHash(ctx, HashKey(rawKey)); err == nil {
		return id, nil
	}

	entries, err := s.dir.Entries(ctx)
	if err != nil {
		return nil, ErrInvalidKey
	}
	for _, e := range entries {
		match, verifyErr := VerifyKey(rawKey, e.KeyHash)
		if verifyErr != nil {
			continue
		}
		if match {
			return e.Identity, nil
		}
	}
	return nil, ErrInvalidKey
}

// HashKey returns the SHA-256 hex hash of the raw key.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// argon2idParams follows OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns an Argon2id hash of the raw key in PHC format.
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the hash algorithm of a stored hash.
// Returns "argon2id" for PHC format, "sha256" for prefixed or bare hex,
// "unknown" otherwise.
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyKey verifies a raw key against a stored hash. Supports Argon2id
// (PHC format), "sha256:"-prefixed hex, and bare SHA-256 hex.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case "argon2id":
		return safeArgon2idCompare(rawKey, storedHash)

	case "sha256":
		expected := strings.TrimPrefix(storedHash, "sha256:")
		computed := HashKey(rawKey)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil

	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery; the underlying library panics on malformed hash parameters.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
