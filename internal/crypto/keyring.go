package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/smallbiznis/railzway-connect/internal/config"
	"github.com/smallbiznis/railzway-connect/internal/domain"
)

const (
	// DefaultKeyID names the mandatory keyring entry.
	DefaultKeyID = "default"

	kdfIterations = 600_000
	keyLength     = 32
)

// KeyMaterial is one keyring entry. The raw key bytes stay unexported and are
// zeroed on ClearKey.
type KeyMaterial struct {
	KeyID     string
	CreatedAt time.Time
	RotatedAt *time.Time

	key []byte
}

// RotationEvent records a completed key rotation. Rotation is lazy: no
// existing blob is re-encrypted.
type RotationEvent struct {
	OldKeyID  string
	NewKeyID  string
	RotatedAt time.Time
}

// Keyring derives and holds the envelope encryption keys.
type Keyring struct {
	mu      sync.RWMutex
	keys    map[string]*KeyMaterial
	kdfSalt []byte
}

// NewKeyring derives the default key from the configured master secret and
// any numbered extras. A missing master secret is a startup failure.
func NewKeyring(cfg config.Config) (*Keyring, error) {
	if cfg.EncryptionMasterKey == "" {
		return nil, fmt.Errorf("encryption master key missing: %w", domain.ErrConfiguration)
	}

	k := &Keyring{
		keys:    make(map[string]*KeyMaterial),
		kdfSalt: []byte(cfg.EncryptionKDFSalt),
	}
	k.register(DefaultKeyID, k.derive(cfg.EncryptionMasterKey))
	for id, secret := range cfg.EncryptionExtraKeys {
		if secret == "" {
			continue
		}
		k.register(id, k.derive(secret))
	}
	return k, nil
}

func (k *Keyring) derive(secret string) []byte {
	return pbkdf2.Key([]byte(secret), k.kdfSalt, kdfIterations, keyLength, sha256.New)
}

func (k *Keyring) register(keyID string, material []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[keyID] = &KeyMaterial{KeyID: keyID, CreatedAt: time.Now().UTC(), key: material}
}

func (k *Keyring) material(keyID string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	entry, ok := k.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", keyID, domain.ErrNotFound)
	}
	return entry.key, nil
}

// GenerateNewKey registers a random 256-bit key under a fresh id, immediately
// usable for Encrypt.
func (k *Keyring) GenerateNewKey() (string, error) {
	material := make([]byte, keyLength)
	if _, err := rand.Read(material); err != nil {
		return "", fmt.Errorf("generate key material: %w", err)
	}
	keyID := uuid.NewString()
	k.register(keyID, material)
	return keyID, nil
}

// RotateKey marks the old key rotated and returns the replacement id,
// generating one when none is supplied. Blobs encrypted under the old id keep
// decrypting; re-encryption happens opportunistically outside this service.
func (k *Keyring) RotateKey(oldKeyID, newKeyID string) (*RotationEvent, error) {
	k.mu.Lock()
	old, ok := k.keys[oldKeyID]
	k.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("key %q: %w", oldKeyID, domain.ErrNotFound)
	}

	if newKeyID == "" {
		generated, err := k.GenerateNewKey()
		if err != nil {
			return nil, err
		}
		newKeyID = generated
	} else {
		if _, err := k.material(newKeyID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	k.mu.Lock()
	old.RotatedAt = &now
	k.mu.Unlock()

	return &RotationEvent{OldKeyID: oldKeyID, NewKeyID: newKeyID, RotatedAt: now}, nil
}

// ClearKey zeroes the key bytes and removes the entry, reporting whether the
// key existed.
func (k *Keyring) ClearKey(keyID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry, ok := k.keys[keyID]
	if !ok {
		return false
	}
	for i := range entry.key {
		entry.key[i] = 0
	}
	delete(k.keys, keyID)
	return true
}

// KeyIDs lists the registered key ids in stable order.
func (k *Keyring) KeyIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
