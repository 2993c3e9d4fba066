package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/adapter/memory"
	provideradapter "github.com/smallbiznis/railzway-connect/internal/adapter/oauth"
	"github.com/smallbiznis/railzway-connect/internal/config"
	"github.com/smallbiznis/railzway-connect/internal/domain"
	domainoauth "github.com/smallbiznis/railzway-connect/internal/domain/oauth"
)

type fakeProviderClient struct {
	mu sync.Mutex

	exchangeResponse *domainoauth.TokenResponse
	exchangeErr      error
	refreshResponse  *domainoauth.TokenResponse
	refreshErr       error
	revokeErr        error

	exchangeCalls []string
	verifiers     []string
	revoked       []string
}

func (f *fakeProviderClient) Exchange(_ context.Context, _ domainoauth.ProviderConfig, code, codeVerifier string) (*domainoauth.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchangeCalls = append(f.exchangeCalls, code)
	f.verifiers = append(f.verifiers, codeVerifier)
	return f.exchangeResponse, f.exchangeErr
}

func (f *fakeProviderClient) Refresh(_ context.Context, _ domainoauth.ProviderConfig, _ string) (*domainoauth.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshResponse, f.refreshErr
}

func (f *fakeProviderClient) Revoke(_ context.Context, _ domainoauth.ProviderConfig, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	return f.revokeErr
}

var _ provideradapter.ProviderClient = (*fakeProviderClient)(nil)

func validTokenResponse() *domainoauth.TokenResponse {
	return &domainoauth.TokenResponse{
		AccessToken:  "provider-access",
		RefreshToken: "provider-refresh",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}
}

func testProvider() domainoauth.ProviderConfig {
	return domainoauth.ProviderConfig{
		ProviderName:     "shopify",
		ClientID:         "client-id",
		ClientSecret:     "client-secret",
		RedirectURI:      "https://connect.railzway.com/oauth/callback",
		AuthorizationURL: "https://shop.example.com/oauth/authorize",
		TokenURL:         "https://shop.example.com/oauth/token",
		RevokeURL:        "https://shop.example.com/oauth/revoke",
		Scopes:           []string{"read_orders", "read_products"},
	}
}

type flowTestHarness struct {
	flow   *FlowManager
	states *memory.StateStore
	client *fakeProviderClient
}

func newFlowTestHarness(t *testing.T, mutate func(*config.Config)) *flowTestHarness {
	t.Helper()

	cfg := config.Config{
		StateTTL:              10 * time.Minute,
		RedirectHostAllowlist: []string{"connect.railzway.com"},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	states := memory.NewStateStore()
	client := &fakeProviderClient{
		exchangeResponse: validTokenResponse(),
		refreshResponse:  validTokenResponse(),
	}
	return &flowTestHarness{
		flow:   NewFlowManager(states, client, cfg, zap.NewNop()),
		states: states,
		client: client,
	}
}

func TestGenerateAuthorizationURL(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()

	auth, err := h.flow.GenerateAuthorizationURL(ctx, testProvider(), "org1", "u1", "shopify")
	require.NoError(t, err)

	parsed, err := url.Parse(auth.URL)
	require.NoError(t, err)
	q := parsed.Query()
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "read_orders read_products", q.Get("scope"))
	require.Equal(t, auth.State, q.Get("state"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("nonce"))

	// The challenge in the URL must be the S256 digest of the returned
	// verifier, which is the RFC 7636 maximum length.
	require.Len(t, auth.CodeVerifier, 128)
	sum := sha256.Sum256([]byte(auth.CodeVerifier))
	require.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), q.Get("code_challenge"))

	require.True(t, stateFormat.MatchString(auth.State))
}

func TestGenerateAuthorizationURLExtraParams(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	provider := testProvider()
	provider.Extra = map[string]any{"access_type": "offline", "  ": "dropped", "prompt": ""}

	auth, err := h.flow.GenerateAuthorizationURL(context.Background(), provider, "org1", "u1", "google")
	require.NoError(t, err)

	parsed, err := url.Parse(auth.URL)
	require.NoError(t, err)
	q := parsed.Query()
	require.Equal(t, "offline", q.Get("access_type"))
	require.False(t, q.Has("prompt"))
}

func TestGenerateAuthorizationURLRejectsInvalidProvider(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()

	provider := testProvider()
	provider.TokenURL = ""
	_, err := h.flow.GenerateAuthorizationURL(ctx, provider, "org1", "u1", "shopify")
	require.ErrorIs(t, err, domain.ErrValidation)

	provider = testProvider()
	provider.AuthorizationURL = "not a url"
	_, err = h.flow.GenerateAuthorizationURL(ctx, provider, "org1", "u1", "shopify")
	require.Error(t, err)
}

func TestRedirectURIPolicy(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		redirect string
		wantErr  bool
	}{
		{"allowlisted https", "https://connect.railzway.com/oauth/callback", false},
		{"allowlisted host case-insensitive", "https://Connect.Railzway.COM/cb", false},
		{"loopback http", "http://localhost:3000/callback", false},
		{"loopback ip", "http://127.0.0.1:8080/cb", false},
		{"loopback subdomain", "http://app.localhost/cb", false},
		{"loopback must not be https", "https://localhost/cb", true},
		{"http on public host", "http://connect.railzway.com/cb", true},
		{"host not allowlisted", "https://evil.example.com/cb", true},
		{"custom scheme", "myapp://callback", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			provider := testProvider()
			provider.RedirectURI = tc.redirect
			_, err := h.flow.GenerateAuthorizationURL(ctx, provider, "org1", "u1", "shopify")
			if tc.wantErr {
				require.ErrorIs(t, err, domainoauth.ErrInvalidRedirectURI)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestExchangeCodeForTokens(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()

	auth, err := h.flow.GenerateAuthorizationURL(ctx, testProvider(), "org1", "u1", "shopify")
	require.NoError(t, err)

	exchange, err := h.flow.ExchangeCodeForTokens(ctx, testProvider(), "auth-code", auth.State, auth.State)
	require.NoError(t, err)
	require.Equal(t, "provider-access", exchange.Tokens.AccessToken)
	require.Equal(t, "org1", exchange.State.OrganizationID)
	require.Equal(t, "u1", exchange.State.UserID)

	// The stored verifier travels to the provider.
	require.Equal(t, []string{auth.CodeVerifier}, h.client.verifiers)
}

func TestExchangeCodeStateSingleUse(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()

	auth, err := h.flow.GenerateAuthorizationURL(ctx, testProvider(), "org1", "u1", "shopify")
	require.NoError(t, err)

	_, err = h.flow.ExchangeCodeForTokens(ctx, testProvider(), "auth-code", auth.State, "")
	require.NoError(t, err)

	_, err = h.flow.ExchangeCodeForTokens(ctx, testProvider(), "auth-code", auth.State, "")
	require.ErrorIs(t, err, domainoauth.ErrStateNotFound)
	require.Len(t, h.client.exchangeCalls, 1)
}

func TestExchangeCodeConcurrentSingleWinner(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()

	auth, err := h.flow.GenerateAuthorizationURL(ctx, testProvider(), "org1", "u1", "shopify")
	require.NoError(t, err)

	const attempts = 16
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.flow.ExchangeCodeForTokens(ctx, testProvider(), "auth-code", auth.State, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, losses int
	for err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, domainoauth.ErrStateNotFound)
			losses++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, attempts-1, losses)
	require.Len(t, h.client.exchangeCalls, 1)
}

func TestExchangeCodeConsumesStateBeforeProviderFailure(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()
	h.client.exchangeErr = &provideradapter.UpstreamError{Status: 502, Retryable: true}

	auth, err := h.flow.GenerateAuthorizationURL(ctx, testProvider(), "org1", "u1", "shopify")
	require.NoError(t, err)

	_, err = h.flow.ExchangeCodeForTokens(ctx, testProvider(), "auth-code", auth.State, "")
	require.Error(t, err)

	// The state was spent on the failed attempt; a retry cannot reuse it.
	_, err = h.flow.ExchangeCodeForTokens(ctx, testProvider(), "auth-code", auth.State, "")
	require.ErrorIs(t, err, domainoauth.ErrStateNotFound)
}

func TestExchangeCodeExpiredState(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()

	issued := time.Now().UTC()
	h.flow.now = func() time.Time { return issued }
	auth, err := h.flow.GenerateAuthorizationURL(ctx, testProvider(), "org1", "u1", "shopify")
	require.NoError(t, err)

	h.flow.now = func() time.Time { return issued.Add(11 * time.Minute) }
	_, err = h.flow.ExchangeCodeForTokens(ctx, testProvider(), "auth-code", auth.State, "")
	require.ErrorIs(t, err, domainoauth.ErrStateExpired)
	require.Empty(t, h.client.exchangeCalls)
}

func TestExchangeCodeStateMismatch(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()

	auth, err := h.flow.GenerateAuthorizationURL(ctx, testProvider(), "org1", "u1", "shopify")
	require.NoError(t, err)

	_, err = h.flow.ExchangeCodeForTokens(ctx, testProvider(), "auth-code", auth.State, "tampered-by-attacker-0123456789ab")
	require.ErrorIs(t, err, domainoauth.ErrStateNotFound)
	require.Empty(t, h.client.exchangeCalls)
}

func TestExchangeCodeInputValidation(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()

	_, err := h.flow.ExchangeCodeForTokens(ctx, testProvider(), "", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "")
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)

	_, err = h.flow.ExchangeCodeForTokens(ctx, testProvider(), "code", "short", "")
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)

	_, err = h.flow.ExchangeCodeForTokens(ctx, testProvider(), "code", "has spaces and $symbols! padded to 32+", "")
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)
}

func TestExchangeCodeRejectsBadTokenResponse(t *testing.T) {
	tests := []struct {
		name   string
		tokens *domainoauth.TokenResponse
	}{
		{"nil response", nil},
		{"wrong token type", &domainoauth.TokenResponse{AccessToken: "a", TokenType: "mac", ExpiresIn: 3600}},
		{"missing access token", &domainoauth.TokenResponse{TokenType: "Bearer", ExpiresIn: 3600}},
		{"non-positive expiry", &domainoauth.TokenResponse{AccessToken: "a", TokenType: "Bearer", ExpiresIn: 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newFlowTestHarness(t, nil)
			h.client.exchangeResponse = tc.tokens
			ctx := context.Background()

			auth, err := h.flow.GenerateAuthorizationURL(ctx, testProvider(), "org1", "u1", "shopify")
			require.NoError(t, err)

			_, err = h.flow.ExchangeCodeForTokens(ctx, testProvider(), "auth-code", auth.State, "")
			require.ErrorIs(t, err, domainoauth.ErrTokenInvalid)
		})
	}
}

func TestRefreshAccessTokenFlow(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()

	tokens, err := h.flow.RefreshAccessToken(ctx, testProvider(), "provider-refresh")
	require.NoError(t, err)
	require.Equal(t, "provider-access", tokens.AccessToken)

	_, err = h.flow.RefreshAccessToken(ctx, testProvider(), "  ")
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)
}

func TestRefreshAccessTokenTerminalRejection(t *testing.T) {
	for _, status := range []int{400, 401} {
		h := newFlowTestHarness(t, nil)
		h.client.refreshErr = &provideradapter.UpstreamError{Status: status, Code: "invalid_grant"}

		_, err := h.flow.RefreshAccessToken(context.Background(), testProvider(), "stale")
		require.ErrorIs(t, err, domainoauth.ErrRefreshTokenExpired)
	}

	// Transient provider failures surface as-is and must not be confused with
	// an expired grant.
	h := newFlowTestHarness(t, nil)
	h.client.refreshErr = &provideradapter.UpstreamError{Status: 503, Retryable: true}
	_, err := h.flow.RefreshAccessToken(context.Background(), testProvider(), "stale")
	require.Error(t, err)
	require.NotErrorIs(t, err, domainoauth.ErrRefreshTokenExpired)
}

func TestRevokeTokensBestEffort(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()

	h.flow.RevokeTokens(ctx, testProvider(), "access", "refresh")
	require.Equal(t, []string{"access", "refresh"}, h.client.revoked)

	// Failures never surface.
	h.client.revoked = nil
	h.client.revokeErr = &provideradapter.UpstreamError{Status: 500, Retryable: true}
	h.flow.RevokeTokens(ctx, testProvider(), "access", "")
	require.Equal(t, []string{"access"}, h.client.revoked)

	// No revoke endpoint, no calls.
	provider := testProvider()
	provider.RevokeURL = ""
	h.client.revoked = nil
	h.flow.RevokeTokens(ctx, provider, "access", "refresh")
	require.Empty(t, h.client.revoked)
}

func TestValidateOAuthCallback(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	goodState := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	code, state, err := h.flow.ValidateOAuthCallback(domainoauth.CallbackParams{Code: "c1", State: goodState})
	require.NoError(t, err)
	require.Equal(t, "c1", code)
	require.Equal(t, goodState, state)

	_, _, err = h.flow.ValidateOAuthCallback(domainoauth.CallbackParams{Error: "access_denied", ErrorDescription: "user cancelled"})
	require.ErrorIs(t, err, domainoauth.ErrProviderDenied)

	_, _, err = h.flow.ValidateOAuthCallback(domainoauth.CallbackParams{State: goodState})
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)

	_, _, err = h.flow.ValidateOAuthCallback(domainoauth.CallbackParams{Code: "c1"})
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)

	_, _, err = h.flow.ValidateOAuthCallback(domainoauth.CallbackParams{Code: "c1", State: "short"})
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)
}

func TestCleanupExpiredStates(t *testing.T) {
	h := newFlowTestHarness(t, nil)
	ctx := context.Background()

	issued := time.Now().UTC()
	h.flow.now = func() time.Time { return issued }
	stale, err := h.flow.GenerateAuthorizationURL(ctx, testProvider(), "org1", "u1", "shopify")
	require.NoError(t, err)

	h.flow.now = func() time.Time { return issued.Add(11 * time.Minute) }
	fresh, err := h.flow.GenerateAuthorizationURL(ctx, testProvider(), "org1", "u1", "shopify")
	require.NoError(t, err)

	removed, err := h.flow.CleanupExpiredStates(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = h.flow.ExchangeCodeForTokens(ctx, testProvider(), "auth-code", stale.State, "")
	require.ErrorIs(t, err, domainoauth.ErrStateNotFound)
	_, err = h.flow.ExchangeCodeForTokens(ctx, testProvider(), "auth-code", fresh.State, "")
	require.NoError(t, err)
}
