package jwt

import (
	"testing"
	"time"

	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

func sampleClaims(subject string) (gojwt.Claims, SessionClaims) {
	now := time.Now().UTC()
	std := gojwt.Claims{
		Subject:  subject,
		Issuer:   "railzway-connect",
		Audience: gojwt.Audience{"railzway-platform"},
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(15 * time.Minute)),
		ID:       "jti-1",
	}
	custom := SessionClaims{
		TokenType:      "access",
		OrganizationID: "org1",
		Permissions:    []string{"read"},
		SessionID:      "sess1",
	}
	return std, custom
}

func TestSignVerifyRoundTrip(t *testing.T) {
	keychain, err := NewKeychain()
	require.NoError(t, err)
	codec := NewCodec(keychain)

	std, custom := sampleClaims("u1")
	token, err := codec.Sign(std, custom)
	require.NoError(t, err)

	gotStd, gotCustom, err := codec.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "u1", gotStd.Subject)
	require.Equal(t, "jti-1", gotStd.ID)
	require.Equal(t, "access", gotCustom.TokenType)
	require.Equal(t, "org1", gotCustom.OrganizationID)
	require.Equal(t, []string{"read"}, gotCustom.Permissions)
	require.Equal(t, "sess1", gotCustom.SessionID)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	keychain, err := NewKeychain()
	require.NoError(t, err)
	codec := NewCodec(keychain)

	std, custom := sampleClaims("u1")
	token, err := codec.Sign(std, custom)
	require.NoError(t, err)

	_, _, err = codec.Verify(token[:len(token)-4] + "AAAA")
	require.Error(t, err)
	_, _, err = codec.Verify("not-a-jwt")
	require.Error(t, err)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	signingChain, err := NewKeychain()
	require.NoError(t, err)
	verifyingChain, err := NewKeychain()
	require.NoError(t, err)

	std, custom := sampleClaims("u1")
	token, err := NewCodec(signingChain).Sign(std, custom)
	require.NoError(t, err)

	_, _, err = NewCodec(verifyingChain).Verify(token)
	require.Error(t, err)
}

func TestRotationKeepsOldTokensVerifiable(t *testing.T) {
	keychain, err := NewKeychain()
	require.NoError(t, err)
	codec := NewCodec(keychain)
	firstKID := keychain.Active().KID

	std, custom := sampleClaims("u1")
	oldToken, err := codec.Sign(std, custom)
	require.NoError(t, err)

	rotated, err := keychain.Rotate()
	require.NoError(t, err)
	require.NotEqual(t, firstKID, rotated.KID)
	require.Equal(t, rotated.KID, keychain.Active().KID)

	// Tokens signed before the rotation still verify; new tokens use the new key.
	_, _, err = codec.Verify(oldToken)
	require.NoError(t, err)

	newToken, err := codec.Sign(std, custom)
	require.NoError(t, err)
	_, _, err = codec.Verify(newToken)
	require.NoError(t, err)
}

func TestSymmetricKeychain(t *testing.T) {
	_, err := NewSymmetricKeychain("too-short")
	require.Error(t, err)

	keychain, err := NewSymmetricKeychain("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	codec := NewCodec(keychain)

	std, custom := sampleClaims("u1")
	token, err := codec.Sign(std, custom)
	require.NoError(t, err)
	gotStd, _, err := codec.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "u1", gotStd.Subject)
}

func TestJWKSExposesOnlyPublicKeys(t *testing.T) {
	keychain, err := NewKeychain()
	require.NoError(t, err)
	_, err = keychain.Rotate()
	require.NoError(t, err)

	set := keychain.JWKS()
	require.Len(t, set.Keys, 2)
	for _, key := range set.Keys {
		require.True(t, key.IsPublic())
		require.Equal(t, "sig", key.Use)
		require.NotEmpty(t, key.KeyID)
	}

	// Symmetric keys never appear in the set.
	symmetric, err := NewSymmetricKeychain("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	require.Empty(t, symmetric.JWKS().Keys)
}
