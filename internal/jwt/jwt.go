// Package jwt signs and parses the platform's session tokens on go-jose.
// Policy checks beyond the signature (expiry, type, revocation, session
// liveness) belong to the token service.
package jwt

import (
	"fmt"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
)

// SessionClaims are the custom claims carried next to the registered set.
type SessionClaims struct {
	TokenType      string   `json:"type"`
	OrganizationID string   `json:"organizationId"`
	Permissions    []string `json:"permissions"`
	SessionID      string   `json:"sessionId"`
}

// Codec signs and verifies session tokens against a keychain.
type Codec struct {
	keys *Keychain
}

// NewCodec constructs a Codec.
func NewCodec(keys *Keychain) *Codec {
	return &Codec{keys: keys}
}

var allowedAlgorithms = []gojose.SignatureAlgorithm{gojose.EdDSA, gojose.HS256}

// Sign serializes the claim sets into a compact token signed by the active
// key, with its kid in the header.
func (c *Codec) Sign(std gojwt.Claims, custom SessionClaims) (string, error) {
	key := c.keys.Active()
	if key == nil {
		return "", fmt.Errorf("no active signing key")
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: key.Algorithm, Key: key.Private},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KID),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

// Verify checks the signature against the key named by the kid header and
// returns both claim sets. It performs no expiry or audience validation.
func (c *Codec) Verify(token string) (*gojwt.Claims, *SessionClaims, error) {
	parsed, err := gojwt.ParseSigned(token, allowedAlgorithms)
	if err != nil {
		return nil, nil, fmt.Errorf("parse token: %w", err)
	}
	if len(parsed.Headers) == 0 {
		return nil, nil, fmt.Errorf("missing token header")
	}

	key, ok := c.keys.VerificationKey(parsed.Headers[0].KeyID)
	if !ok {
		return nil, nil, fmt.Errorf("unknown signing key")
	}

	var std gojwt.Claims
	var custom SessionClaims
	if err := parsed.Claims(key, &std, &custom); err != nil {
		return nil, nil, fmt.Errorf("verify token: %w", err)
	}
	return &std, &custom, nil
}
