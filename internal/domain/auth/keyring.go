// Package auth verifies the API keys that clients present to the HTTP API.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned when a presented key matches no configured key.
var ErrInvalidKey = errors.New("invalid api key")

// ErrUnknownHashType is returned for a configured hash in an unrecognized
// format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Hash formats accepted in configuration.
const (
	HashTypeArgon2id = "argon2id"
	HashTypeSHA256   = "sha256"
	HashTypeUnknown  = "unknown"
)

const sha256Prefix = "sha256:"

// APIKey is a configured client key. Hash is either an Argon2id PHC string
// or "sha256:<hex>".
type APIKey struct {
	Name string
	Hash string
}

// argonParams follows the OWASP minimum for Argon2id.
var argonParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashArgon2id hashes rawKey for use in configuration.
func HashArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argonParams)
}

// Digest returns the hex SHA-256 of rawKey.
func Digest(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// HashType reports the format of a configured hash.
func HashType(hash string) string {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return HashTypeArgon2id
	case strings.HasPrefix(hash, sha256Prefix):
		return HashTypeSHA256
	case len(hash) == 64 && isHex(hash):
		return HashTypeSHA256
	default:
		return HashTypeUnknown
	}
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

// Verify reports whether rawKey matches hash.
func Verify(rawKey, hash string) (bool, error) {
	switch HashType(hash) {
	case HashTypeArgon2id:
		return compareArgon2id(rawKey, hash)
	case HashTypeSHA256:
		want := strings.ToLower(strings.TrimPrefix(hash, sha256Prefix))
		return subtle.ConstantTimeCompare([]byte(Digest(rawKey)), []byte(want)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// compareArgon2id turns the panics argon2 raises on malformed parameters
// into errors.
func compareArgon2id(rawKey, hash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, hash)
}

// Keyring checks presented keys against the configured set. Argon2id is
// slow on purpose, so keys that matched once are remembered by digest.
type Keyring struct {
	keys []APIKey

	mu       sync.RWMutex
	verified map[string]string
}

// NewKeyring returns a Keyring over keys. It fails on a hash in an unknown
// format so misconfiguration is caught at startup.
func NewKeyring(keys []APIKey) (*Keyring, error) {
	for _, k := range keys {
		if HashType(k.Hash) == HashTypeUnknown {
			return nil, fmt.Errorf("api key %q: %w", k.Name, ErrUnknownHashType)
		}
	}
	return &Keyring{
		keys:     append([]APIKey(nil), keys...),
		verified: make(map[string]string),
	}, nil
}

// Enabled reports whether any key is configured. With no keys the API is
// open.
func (k *Keyring) Enabled() bool {
	return k != nil && len(k.keys) > 0
}

// Verify returns the name of the key rawKey matches, or ErrInvalidKey.
func (k *Keyring) Verify(rawKey string) (string, error) {
	if rawKey == "" {
		return "", ErrInvalidKey
	}
	digest := Digest(rawKey)

	k.mu.RLock()
	name, ok := k.verified[digest]
	k.mu.RUnlock()
	if ok {
		return name, nil
	}

	for _, key := range k.keys {
		match, err := Verify(rawKey, key.Hash)
		if err != nil || !match {
			continue
		}
		k.mu.Lock()
		k.verified[digest] = key.Name
		k.mu.Unlock()
		return key.Name, nil
	}
	return "", ErrInvalidKey
}
