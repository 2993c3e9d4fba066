// Package oauth drives the authorization-code + PKCE exchange against
// third-party identity providers.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	provideradapter "github.com/smallbiznis/railzway-connect/internal/adapter/oauth"
	"github.com/smallbiznis/railzway-connect/internal/config"
	"github.com/smallbiznis/railzway-connect/internal/domain"
	domainoauth "github.com/smallbiznis/railzway-connect/internal/domain/oauth"
	"github.com/smallbiznis/railzway-connect/internal/repository"
)

// stateFormat is the accepted shape of state values: URL-safe base64 alphabet,
// at least 32 characters. Anything else is rejected before the store is asked.
var stateFormat = regexp.MustCompile(`^[A-Za-z0-9_-]{32,}$`)

// verifierBytes of randomness encode to 128 URL-safe characters, the RFC 7636
// maximum verifier length.
const verifierBytes = 96

// Authorization is the prepared authorization redirect.
type Authorization struct {
	URL          string
	State        string
	CodeVerifier string
}

// Exchange bundles the provider tokens with the original authorization
// context recovered from the consumed state.
type Exchange struct {
	Tokens *domainoauth.TokenResponse
	State  *domainoauth.AuthorizationState
}

// FlowManager executes the PKCE authorization-code state machine.
type FlowManager struct {
	states   repository.StateStore
	client   provideradapter.ProviderClient
	validate *validator.Validate
	cfg      config.Config
	logger   *zap.Logger
	tracer   trace.Tracer

	now func() time.Time
}

// NewFlowManager wires the flow manager.
func NewFlowManager(states repository.StateStore, client provideradapter.ProviderClient, cfg config.Config, logger *zap.Logger) *FlowManager {
	return &FlowManager{
		states:   states,
		client:   client,
		validate: validator.New(),
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/smallbiznis/railzway-connect/internal/oauth"),
		now:      time.Now,
	}
}

// GenerateAuthorizationURL prepares a PKCE authorization redirect and persists
// the single-use state entry.
func (m *FlowManager) GenerateAuthorizationURL(ctx context.Context, provider domainoauth.ProviderConfig, organizationID, userID, platform string) (*Authorization, error) {
	ctx, span := m.startSpan(ctx, "oauth.GenerateAuthorizationURL")
	defer span.End()

	if err := m.validate.Struct(provider); err != nil {
		return nil, fmt.Errorf("provider config: %w", domain.ErrValidation)
	}
	if err := validateRedirectURI(provider.RedirectURI, m.cfg.RedirectHostAllowlist); err != nil {
		return nil, err
	}

	verifier, err := randomURLSafe(verifierBytes)
	if err != nil {
		return nil, fmt.Errorf("generate pkce verifier: %w", err)
	}
	state, err := randomURLSafe(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomURLSafe(32)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	authURL, err := url.Parse(provider.AuthorizationURL)
	if err != nil {
		return nil, fmt.Errorf("parse authorization url: %w", domain.ErrValidation)
	}

	params := authURL.Query()
	params.Set("client_id", provider.ClientID)
	params.Set("redirect_uri", provider.RedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", strings.Join(provider.Scopes, " "))
	params.Set("state", state)
	params.Set("nonce", nonce)
	params.Set("code_challenge", pkceChallenge(verifier))
	params.Set("code_challenge_method", "S256")
	for k, v := range provider.Extra {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		if str := fmt.Sprint(v); strings.TrimSpace(str) != "" {
			params.Set(key, str)
		}
	}
	authURL.RawQuery = params.Encode()

	entry := domainoauth.AuthorizationState{
		State:          state,
		CodeVerifier:   verifier,
		Nonce:          nonce,
		OrganizationID: organizationID,
		UserID:         userID,
		Platform:       platform,
		CreatedAt:      m.now().UTC(),
	}
	if err := m.states.Save(ctx, state, entry, m.cfg.StateTTL); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist state: %w", err)
	}

	m.audit("oauth.authorization_started",
		"provider", provider.ProviderName,
		"organization_id", organizationID,
		"user_id", userID,
		"platform", platform,
	)

	return &Authorization{URL: authURL.String(), State: state, CodeVerifier: verifier}, nil
}

// ExchangeCodeForTokens consumes the state entry and trades the authorization
// code for provider tokens. The state is deleted on the first attempt whatever
// the outcome, so a given state/code pair can never be exchanged twice; a
// replay is indistinguishable from an unknown state.
func (m *FlowManager) ExchangeCodeForTokens(ctx context.Context, provider domainoauth.ProviderConfig, code, state, receivedState string) (*Exchange, error) {
	ctx, span := m.startSpan(ctx, "oauth.ExchangeCodeForTokens")
	defer span.End()

	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("code required: %w", domainoauth.ErrInvalidRequest)
	}
	if !stateFormat.MatchString(state) {
		return nil, fmt.Errorf("state format: %w", domainoauth.ErrInvalidRequest)
	}

	entry, err := m.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domainoauth.ErrStateNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("consume state: %w", err)
	}

	now := m.now().UTC()
	if now.Sub(entry.CreatedAt) > m.cfg.StateTTL {
		return nil, domainoauth.ErrStateExpired
	}
	if receivedState != "" && subtle.ConstantTimeCompare([]byte(receivedState), []byte(state)) != 1 {
		m.audit("oauth.state_mismatch", "organization_id", entry.OrganizationID)
		return nil, domainoauth.ErrStateNotFound
	}

	tokens, err := m.client.Exchange(ctx, provider, code, entry.CodeVerifier)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	if err := validateTokenResponse(tokens); err != nil {
		return nil, err
	}

	m.audit("oauth.code_exchanged",
		"provider", provider.ProviderName,
		"organization_id", entry.OrganizationID,
		"user_id", entry.UserID,
	)

	return &Exchange{Tokens: tokens, State: entry}, nil
}

// RefreshAccessToken forwards the refresh grant to the provider. A terminal
// 400/401 rejection maps to ErrRefreshTokenExpired.
func (m *FlowManager) RefreshAccessToken(ctx context.Context, provider domainoauth.ProviderConfig, refreshToken string) (*domainoauth.TokenResponse, error) {
	ctx, span := m.startSpan(ctx, "oauth.RefreshAccessToken")
	defer span.End()

	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("refresh token required: %w", domainoauth.ErrInvalidRequest)
	}

	tokens, err := m.client.Refresh(ctx, provider, refreshToken)
	if err != nil {
		var upstream *provideradapter.UpstreamError
		if errors.As(err, &upstream) && (upstream.Status == 400 || upstream.Status == 401) {
			return nil, domainoauth.ErrRefreshTokenExpired
		}
		span.RecordError(err)
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if err := validateTokenResponse(tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// RevokeTokens asks the provider to revoke each non-empty token. Best effort:
// failures are logged and swallowed, never surfaced to the caller.
func (m *FlowManager) RevokeTokens(ctx context.Context, provider domainoauth.ProviderConfig, accessToken, refreshToken string) {
	ctx, span := m.startSpan(ctx, "oauth.RevokeTokens")
	defer span.End()

	if strings.TrimSpace(provider.RevokeURL) == "" {
		return
	}
	for _, token := range []string{accessToken, refreshToken} {
		if strings.TrimSpace(token) == "" {
			continue
		}
		if err := m.client.Revoke(ctx, provider, token); err != nil {
			m.log().Warn("provider revocation failed",
				zap.String("provider", provider.ProviderName),
				zap.Error(err),
			)
		}
	}
}

// ValidateOAuthCallback checks the callback query parameters before any state
// is touched.
func (m *FlowManager) ValidateOAuthCallback(params domainoauth.CallbackParams) (code, state string, err error) {
	if params.Error != "" {
		desc := params.ErrorDescription
		if desc == "" {
			desc = params.Error
		}
		return "", "", fmt.Errorf("%s: %w", desc, domainoauth.ErrProviderDenied)
	}
	if strings.TrimSpace(params.Code) == "" || strings.TrimSpace(params.State) == "" {
		return "", "", fmt.Errorf("code and state required: %w", domainoauth.ErrInvalidRequest)
	}
	if !stateFormat.MatchString(params.State) {
		return "", "", fmt.Errorf("state format: %w", domainoauth.ErrInvalidRequest)
	}
	return params.Code, params.State, nil
}

// CleanupExpiredStates removes entries older than the state TTL. Idempotent
// and safe to run concurrently with exchanges.
func (m *FlowManager) CleanupExpiredStates(ctx context.Context) (int, error) {
	cutoff := m.now().UTC().Add(-m.cfg.StateTTL)
	removed, err := m.states.Sweep(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep states: %w", err)
	}
	if removed > 0 {
		m.log().Debug("expired oauth states removed", zap.Int("count", removed))
	}
	return removed, nil
}

func validateTokenResponse(tokens *domainoauth.TokenResponse) error {
	if tokens == nil {
		return domainoauth.ErrTokenInvalid
	}
	if !strings.EqualFold(strings.TrimSpace(tokens.TokenType), "bearer") {
		return fmt.Errorf("token_type %q: %w", tokens.TokenType, domainoauth.ErrTokenInvalid)
	}
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return fmt.Errorf("missing access_token: %w", domainoauth.ErrTokenInvalid)
	}
	if tokens.ExpiresIn <= 0 {
		return fmt.Errorf("expires_in %d: %w", tokens.ExpiresIn, domainoauth.ErrTokenInvalid)
	}
	return nil
}

func (m *FlowManager) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if m == nil || m.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, name)
}

func (m *FlowManager) audit(event string, attrs ...any) {
	logger := m.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (m *FlowManager) log() *zap.Logger {
	if m != nil && m.logger != nil {
		return m.logger
	}
	return zap.L()
}

func randomURLSafe(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
