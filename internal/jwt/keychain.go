package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// SigningKey is one keychain entry. Private is an ed25519.PrivateKey, or a
// byte slice when the symmetric fallback is active.
type SigningKey struct {
	KID       string
	Algorithm jose.SignatureAlgorithm
	Private   any
	Public    any
	CreatedAt time.Time
}

// Keychain holds the session signing keys. New tokens are signed with the
// active key; verification accepts any key still on the chain so rotation does
// not invalidate outstanding tokens.
type Keychain struct {
	mu     sync.RWMutex
	keys   map[string]*SigningKey
	active string
}

// NewKeychain generates a fresh Ed25519 signing key.
func NewKeychain() (*Keychain, error) {
	kc := &Keychain{keys: make(map[string]*SigningKey)}
	if _, err := kc.Rotate(); err != nil {
		return nil, err
	}
	return kc, nil
}

// NewSymmetricKeychain builds an HS256 keychain from a static secret. Only for
// non-production test configurations; config.Load refuses the secret otherwise.
func NewSymmetricKeychain(secret string) (*Keychain, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes")
	}
	key := &SigningKey{
		KID:       uuid.NewString(),
		Algorithm: jose.HS256,
		Private:   []byte(secret),
		Public:    []byte(secret),
		CreatedAt: time.Now().UTC(),
	}
	return &Keychain{keys: map[string]*SigningKey{key.KID: key}, active: key.KID}, nil
}

// Active returns the current signing key.
func (k *Keychain) Active() *SigningKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys[k.active]
}

// Rotate generates a new Ed25519 key and makes it active. Prior keys stay
// available for verification.
func (k *Keychain) Rotate() (*SigningKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	key := &SigningKey{
		KID:       uuid.NewString(),
		Algorithm: jose.EdDSA,
		Private:   private,
		Public:    public,
		CreatedAt: time.Now().UTC(),
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[key.KID] = key
	k.active = key.KID
	return key, nil
}

// VerificationKey resolves the public key material for a kid header.
func (k *Keychain) VerificationKey(kid string) (any, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[kid]
	if !ok {
		return nil, false
	}
	return key.Public, true
}

// JWKS renders the public JSON Web Key Set for the out-of-process HTTP layer
// to serve. Symmetric keys are never exposed.
func (k *Keychain) JWKS() jose.JSONWebKeySet {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var set jose.JSONWebKeySet
	for _, key := range k.keys {
		jwk := jose.JSONWebKey{
			KeyID:     key.KID,
			Use:       "sig",
			Algorithm: string(key.Algorithm),
			Key:       key.Public,
		}
		if jwk.IsPublic() {
			set.Keys = append(set.Keys, jwk)
		}
	}
	return set
}
