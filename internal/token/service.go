// Package token implements session token issuance, validation, refresh and
// revocation over pluggable session and revocation stores.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/config"
	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/jwt"
	"github.com/smallbiznis/railzway-connect/internal/repository"
)

// Token types carried in the "type" claim. Access and refresh tokens are never
// interchangeable.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// PermissionAdmin grants every permission during authorization checks.
const PermissionAdmin = "admin"

// Service issues and validates the platform's own session tokens.
type Service struct {
	sessions repository.SessionStore
	revoked  repository.RevocationRegistry
	codec    *jwt.Codec
	node     *snowflake.Node
	cfg      config.Config
	logger   *zap.Logger
	tracer   trace.Tracer

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewService wires dependencies.
func NewService(sessions repository.SessionStore, revoked repository.RevocationRegistry, codec *jwt.Codec, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{
		sessions: sessions,
		revoked:  revoked,
		codec:    codec,
		node:     node,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/smallbiznis/railzway-connect/internal/token"),
		now:      time.Now,
	}
}

// GenerateTokens creates a fresh session and signs its access/refresh pair.
// The refresh token carries no permissions; they are re-applied from the
// session record on refresh.
func (s *Service) GenerateTokens(ctx context.Context, userID, organizationID string, permissions []string, ipAddress, userAgent string) (*domain.TokenPair, error) {
	ctx, span := s.startSpan(ctx, "token.GenerateTokens")
	defer span.End()

	if strings.TrimSpace(userID) == "" || strings.TrimSpace(organizationID) == "" {
		return nil, fmt.Errorf("user and organization are required: %w", domain.ErrValidation)
	}
	if permissions == nil {
		permissions = []string{}
	}

	now := s.now().UTC()
	sessionID := s.newSessionID(now)
	accessJTI := uuid.NewString()
	refreshJTI := uuid.NewString()

	accessToken, err := s.codec.Sign(
		s.registeredClaims(userID, accessJTI, now, s.cfg.AccessTokenTTL),
		jwt.SessionClaims{TokenType: TypeAccess, OrganizationID: organizationID, Permissions: permissions, SessionID: sessionID},
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, err := s.codec.Sign(
		s.registeredClaims(userID, refreshJTI, now, s.cfg.RefreshTokenTTL),
		jwt.SessionClaims{TokenType: TypeRefresh, OrganizationID: organizationID, Permissions: []string{}, SessionID: sessionID},
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	rec := domain.SessionRecord{
		SessionID:      sessionID,
		UserID:         userID,
		OrganizationID: organizationID,
		Permissions:    permissions,
		AccessJTI:      accessJTI,
		RefreshJTI:     refreshJTI,
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := s.sessions.Put(ctx, rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s.audit("session.issued", "user_id", userID, "organization_id", organizationID, "session_id", sessionID)

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

// ValidateToken verifies signature and claims, confirms the token type, the
// revocation registry and session liveness, and touches LastAccessedAt.
// Returned errors wrap the internal sentinel kinds; callers facing the outside
// world must translate them through Authenticate or an equivalent boundary.
func (s *Service) ValidateToken(ctx context.Context, token, expectedType string) (*gojwt.Claims, *jwt.SessionClaims, error) {
	ctx, span := s.startSpan(ctx, "token.ValidateToken")
	defer span.End()

	if strings.TrimSpace(token) == "" {
		return nil, nil, fmt.Errorf("empty token: %w", domain.ErrValidation)
	}

	std, custom, err := s.codec.Verify(token)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("signature: %w", domain.ErrIntegrity)
	}

	now := s.now().UTC()
	err = std.ValidateWithLeeway(gojwt.Expected{
		Issuer:      s.cfg.Issuer,
		AnyAudience: gojwt.Audience{s.cfg.Audience},
		Time:        now,
	}, s.cfg.ClockSkew)
	switch {
	case errors.Is(err, gojwt.ErrExpired):
		return nil, nil, fmt.Errorf("token expiry: %w", domain.ErrExpired)
	case err != nil:
		return nil, nil, fmt.Errorf("claims: %w", domain.ErrValidation)
	}

	// Hard age bound independent of exp, limiting damage from a manipulated
	// clock at issuance time.
	if std.IssuedAt == nil || now.Sub(std.IssuedAt.Time()) > s.cfg.MaxTokenAge {
		return nil, nil, fmt.Errorf("token age: %w", domain.ErrExpired)
	}

	if custom.TokenType != expectedType {
		return nil, nil, fmt.Errorf("token type: %w", domain.ErrValidation)
	}
	if std.ID == "" {
		return nil, nil, fmt.Errorf("missing jti: %w", domain.ErrValidation)
	}

	revoked, err := s.revoked.IsRevoked(ctx, std.ID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("revocation lookup: %w", err)
	}
	if revoked {
		return nil, nil, fmt.Errorf("token %s: %w", std.ID, domain.ErrRevoked)
	}

	if custom.SessionID == "" {
		return nil, nil, fmt.Errorf("missing session: %w", domain.ErrValidation)
	}
	if _, err := s.sessions.Get(ctx, custom.SessionID); err != nil {
		return nil, nil, fmt.Errorf("session: %w", domain.ErrNotFound)
	}
	if err := s.sessions.Touch(ctx, custom.SessionID, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log().Warn("touch session failed", zap.Error(err))
	}

	return std, custom, nil
}

// RefreshAccessToken validates the refresh token and issues an entirely new
// pair carrying the identity and permissions recorded on the session. With
// rotation enabled the prior session is revoked once the new pair exists.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken, ipAddress, userAgent string) (*domain.TokenPair, error) {
	ctx, span := s.startSpan(ctx, "token.RefreshAccessToken")
	defer span.End()

	_, custom, err := s.ValidateToken(ctx, refreshToken, TypeRefresh)
	if err != nil {
		return nil, err
	}

	rec, err := s.sessions.Get(ctx, custom.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session: %w", domain.ErrNotFound)
	}

	pair, err := s.GenerateTokens(ctx, rec.UserID, rec.OrganizationID, rec.Permissions, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	if s.cfg.RefreshRotation {
		s.RevokeSession(ctx, custom.SessionID)
	}
	return pair, nil
}

// RevokeToken adds the token id to the revocation registry. Idempotent.
func (s *Service) RevokeToken(ctx context.Context, jti string) bool {
	if strings.TrimSpace(jti) == "" {
		return false
	}
	// Without the token at hand the exact exp is unknown; the refresh TTL is
	// the upper bound on how long any token could still validate.
	expiresAt := s.now().UTC().Add(s.cfg.RefreshTokenTTL)
	if err := s.revoked.Revoke(ctx, jti, expiresAt); err != nil {
		s.log().Error("revoke token failed", zap.Error(err))
		return false
	}
	s.audit("token.revoked", "jti", jti)
	return true
}

// RevokeSession revokes both token ids of the session and deletes its record.
// Returns false when the session is already gone.
func (s *Service) RevokeSession(ctx context.Context, sessionID string) bool {
	rec, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return false
	}
	s.revokeRecord(ctx, rec)
	deleted, err := s.sessions.Delete(ctx, sessionID)
	if err != nil {
		s.log().Error("delete session failed", zap.Error(err))
		return false
	}
	if deleted {
		s.audit("session.revoked", "session_id", sessionID, "user_id", rec.UserID)
	}
	return deleted
}

// RevokeUserSessions removes every session belonging to the user, revoking
// each session's token ids, and returns the number of sessions removed.
func (s *Service) RevokeUserSessions(ctx context.Context, userID string) int {
	removed, err := s.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		s.log().Error("revoke user sessions failed", zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	for i := range removed {
		s.revokeRecord(ctx, &removed[i])
	}
	if len(removed) > 0 {
		s.audit("session.user_revoked", "user_id", userID, "count", len(removed))
	}
	return len(removed)
}

// GetUserSessions lists session metadata for the user. No token material.
func (s *Service) GetUserSessions(ctx context.Context, userID string) ([]domain.SessionMetadata, error) {
	records, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]domain.SessionMetadata, 0, len(records))
	for _, rec := range records {
		out = append(out, domain.SessionMetadata{
			SessionID:      rec.SessionID,
			UserID:         rec.UserID,
			OrganizationID: rec.OrganizationID,
			IPAddress:      rec.IPAddress,
			UserAgent:      rec.UserAgent,
			CreatedAt:      rec.CreatedAt,
			LastAccessedAt: rec.LastAccessedAt,
		})
	}
	return out, nil
}

// CleanupExpiredSessions removes sessions older than the refresh token TTL.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.cfg.RefreshTokenTTL)
	removed, err := s.sessions.Sweep(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return removed, nil
}

// CleanupRevokedTokens evicts registry entries whose token expiry has passed.
func (s *Service) CleanupRevokedTokens(ctx context.Context) (int, error) {
	removed, err := s.revoked.Sweep(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep revocations: %w", err)
	}
	return removed, nil
}

// Authenticate is the boundary contract for the platform HTTP layer. The
// returned error is always generic; which check failed stays internal.
func (s *Service) Authenticate(ctx context.Context, bearerToken string) (*domain.Identity, error) {
	token := strings.TrimSpace(bearerToken)
	if after, ok := strings.CutPrefix(token, "Bearer "); ok {
		token = after
	}

	std, custom, err := s.ValidateToken(ctx, token, TypeAccess)
	if err != nil {
		s.log().Debug("authentication rejected", zap.Error(err))
		return nil, domain.NewAuthError("invalid_token", "Invalid or expired token.", 401)
	}

	return &domain.Identity{
		UserID:         std.Subject,
		OrganizationID: custom.OrganizationID,
		Permissions:    custom.Permissions,
		SessionID:      custom.SessionID,
	}, nil
}

// Authorize allows the request when the identity carries every required
// permission, or the literal admin permission.
func (s *Service) Authorize(identity *domain.Identity, required ...string) bool {
	if identity == nil {
		return false
	}
	granted := make(map[string]struct{}, len(identity.Permissions))
	for _, p := range identity.Permissions {
		granted[p] = struct{}{}
	}
	if _, ok := granted[PermissionAdmin]; ok {
		return true
	}
	for _, p := range required {
		if _, ok := granted[p]; !ok {
			return false
		}
	}
	return true
}

func (s *Service) revokeRecord(ctx context.Context, rec *domain.SessionRecord) {
	expiresAt := rec.CreatedAt.Add(s.cfg.RefreshTokenTTL)
	for _, jti := range []string{rec.AccessJTI, rec.RefreshJTI} {
		if jti == "" {
			continue
		}
		if err := s.revoked.Revoke(ctx, jti, expiresAt); err != nil {
			s.log().Error("revoke jti failed", zap.String("jti", jti), zap.Error(err))
		}
	}
}

func (s *Service) registeredClaims(subject, jti string, now time.Time, ttl time.Duration) gojwt.Claims {
	return gojwt.Claims{
		Subject:   subject,
		Issuer:    s.cfg.Issuer,
		Audience:  gojwt.Audience{s.cfg.Audience},
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(ttl)),
		ID:        jti,
	}
}

func (s *Service) newSessionID(now time.Time) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	suffix := now.UnixMilli()
	if s.node != nil {
		suffix = s.node.Generate().Int64()
	}
	return fmt.Sprintf("%s-%d", hex.EncodeToString(b), suffix)
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *Service) audit(event string, attrs ...any) {
	logger := s.log()
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

func (s *Service) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
