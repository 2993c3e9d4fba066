// Package crypto implements the envelope encryption service: AES-256-GCM over
// per-operation subkeys derived from a PBKDF2 keyring, with lazy key rotation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/domain"
)

const (
	ivLength   = 12
	tagLength  = 16
	saltLength = 16

	// aadContext binds every ciphertext to this application's domain so a blob
	// lifted from another context cannot be substituted here.
	aadContext = "railzway-connect:credential:v2"
	// subkeyTag separates the per-operation subkey derivation from any other
	// HMAC use of the keyring key.
	subkeyTag = "railzway-connect:subkey"
)

// ErrDecryptFailed is the only error Decrypt surfaces. The underlying cause is
// never included: an attacker must not learn which check failed.
var ErrDecryptFailed = errors.New("crypto: decryption operation failed")

// Service performs authenticated encryption of opaque secrets.
type Service struct {
	keyring *Keyring
	logger  *zap.Logger
}

// NewService wires the encryption service.
func NewService(keyring *Keyring, logger *zap.Logger) *Service {
	return &Service{keyring: keyring, logger: logger}
}

// Encrypt seals the plaintext under the named keyring key. Every call draws a
// fresh IV and salt; the salt feeds an HMAC-SHA256 subkey so the keyring key
// itself never touches bulk data.
func (s *Service) Encrypt(plaintext, keyID string) (*domain.EncryptedBlob, error) {
	if plaintext == "" {
		return nil, fmt.Errorf("plaintext must not be empty: %w", domain.ErrValidation)
	}
	if keyID == "" {
		keyID = DefaultKeyID
	}
	master, err := s.keyring.material(keyID)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(subkey(master, salt))
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), []byte(aadContext))
	ciphertext, tag := sealed[:len(sealed)-tagLength], sealed[len(sealed)-tagLength:]

	return &domain.EncryptedBlob{
		Ciphertext: hex.EncodeToString(ciphertext),
		IV:         hex.EncodeToString(iv),
		AuthTag:    hex.EncodeToString(tag),
		Salt:       hex.EncodeToString(salt),
		KeyID:      keyID,
		Algorithm:  domain.BlobAlgorithmAESGCM,
		Version:    domain.BlobVersionCurrent,
	}, nil
}

// Decrypt opens a blob produced by Encrypt (or mapped by DecryptLegacy). It
// fails closed: any structural, key or authentication failure yields the same
// generic error and never partial plaintext.
func (s *Service) Decrypt(blob *domain.EncryptedBlob) (string, error) {
	plaintext, reason := s.decrypt(blob)
	if reason != "" {
		// Reason names the failed check only; no key or payload material.
		s.log().Debug("decrypt rejected", zap.String("reason", reason))
		return "", ErrDecryptFailed
	}
	return plaintext, nil
}

func (s *Service) decrypt(blob *domain.EncryptedBlob) (string, string) {
	if blob == nil {
		return "", "nil blob"
	}
	if blob.Ciphertext == "" || blob.IV == "" || blob.AuthTag == "" || blob.KeyID == "" || blob.Algorithm == "" || blob.Version == "" {
		return "", "missing field"
	}
	if blob.Algorithm != domain.BlobAlgorithmAESGCM {
		return "", "unsupported algorithm"
	}

	var legacy bool
	switch blob.Version {
	case domain.BlobVersionCurrent:
		if blob.Salt == "" {
			return "", "missing field"
		}
	case domain.BlobVersionLegacy:
		legacy = true
	default:
		return "", "unsupported version"
	}

	iv, err := hex.DecodeString(blob.IV)
	if err != nil || len(iv) != ivLength {
		return "", "bad iv"
	}
	tag, err := hex.DecodeString(blob.AuthTag)
	if err != nil || len(tag) != tagLength {
		return "", "bad auth tag"
	}
	ciphertext, err := hex.DecodeString(blob.Ciphertext)
	if err != nil {
		return "", "bad ciphertext"
	}

	master, err := s.keyring.material(blob.KeyID)
	if err != nil {
		return "", "unknown key"
	}

	key := master
	aad := []byte(aadContext)
	if legacy {
		// Version 1.0 predates per-operation subkeys and domain-bound AAD.
		aad = nil
	} else {
		salt, err := hex.DecodeString(blob.Salt)
		if err != nil || len(salt) < saltLength {
			return "", "bad salt"
		}
		key = subkey(master, salt)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", "cipher init"
	}
	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), aad)
	if err != nil {
		return "", "authentication failed"
	}
	return string(plaintext), ""
}

// DecryptLegacy parses the v1 colon-delimited iv:authTag:ciphertext format and
// decrypts it under the named key. Malformed input is rejected before any
// cryptographic work.
func (s *Service) DecryptLegacy(value, keyID string) (string, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("legacy value must have 3 parts: %w", domain.ErrValidation)
	}
	if keyID == "" {
		keyID = DefaultKeyID
	}
	return s.Decrypt(&domain.EncryptedBlob{
		IV:         parts[0],
		AuthTag:    parts[1],
		Ciphertext: parts[2],
		KeyID:      keyID,
		Algorithm:  domain.BlobAlgorithmAESGCM,
		Version:    domain.BlobVersionLegacy,
	})
}

// KeyStrengthReport lists every rule a candidate secret violates.
type KeyStrengthReport struct {
	Valid  bool
	Issues []string
}

// ValidateKeyStrength checks a candidate master secret. It never errors; all
// violated rules are reported, not just the first.
func (s *Service) ValidateKeyStrength(candidate string) KeyStrengthReport {
	var issues []string
	if len(candidate) < 64 {
		issues = append(issues, "must be at least 64 characters")
	}
	var upper, lower, digit, special bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	if !upper {
		issues = append(issues, "must contain an uppercase letter")
	}
	if !lower {
		issues = append(issues, "must contain a lowercase letter")
	}
	if !digit {
		issues = append(issues, "must contain a digit")
	}
	if !special {
		issues = append(issues, "must contain a special character")
	}
	return KeyStrengthReport{Valid: len(issues) == 0, Issues: issues}
}

// GenerateNewKey registers a fresh random key and returns its id.
func (s *Service) GenerateNewKey() (string, error) {
	keyID, err := s.keyring.GenerateNewKey()
	if err != nil {
		return "", err
	}
	s.log().Info("encryption key generated", zap.String("key_id", keyID))
	return keyID, nil
}

// RotateKey marks the old key rotated, generating a replacement if needed.
func (s *Service) RotateKey(oldKeyID, newKeyID string) (*RotationEvent, error) {
	event, err := s.keyring.RotateKey(oldKeyID, newKeyID)
	if err != nil {
		return nil, err
	}
	s.log().Info("encryption key rotated",
		zap.String("old_key_id", event.OldKeyID),
		zap.String("new_key_id", event.NewKeyID),
	)
	return event, nil
}

// ClearKey zeroes and removes a keyring entry.
func (s *Service) ClearKey(keyID string) bool {
	cleared := s.keyring.ClearKey(keyID)
	if cleared {
		s.log().Info("encryption key cleared", zap.String("key_id", keyID))
	}
	return cleared
}

func (s *Service) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func subkey(master, salt []byte) []byte {
	mac := hmac.New(sha256.New, master)
	mac.Write(salt)
	mac.Write([]byte(subkeyTag))
	return mac.Sum(nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
