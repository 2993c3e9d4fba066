package oauth

import "errors"

var (
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("oauth: invalid request")
	// ErrInvalidRedirectURI indicates a redirect URI outside the allowlist rules.
	ErrInvalidRedirectURI = errors.New("oauth: invalid redirect uri")
	// ErrStateNotFound covers unknown and already-consumed states alike, so a
	// replayed exchange is indistinguishable from a bogus one.
	ErrStateNotFound = errors.New("oauth: state not found")
	// ErrStateExpired indicates the authorization state outlived its TTL.
	ErrStateExpired = errors.New("oauth: state expired")
	// ErrTokenInvalid indicates a malformed or non-bearer provider response.
	ErrTokenInvalid = errors.New("oauth: token response invalid")
	// ErrRefreshTokenExpired indicates the provider rejected the refresh token.
	ErrRefreshTokenExpired = errors.New("oauth: refresh token expired or invalid")
	// ErrProviderDenied propagates an error returned on the callback.
	ErrProviderDenied = errors.New("oauth: provider returned error")
)
