package domain

import "time"

// SessionRecord tracks a live authenticated session. Both tokens issued
// together reference the same SessionID but carry distinct JTIs. Permissions
// are recorded so a refresh can re-issue an equivalent access token.
type SessionRecord struct {
	SessionID      string
	UserID         string
	OrganizationID string
	Permissions    []string
	AccessJTI      string
	RefreshJTI     string
	IPAddress      string
	UserAgent      string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// SessionMetadata is the read-only listing shape for session-management UIs.
// It never carries token material.
type SessionMetadata struct {
	SessionID      string    `json:"sessionId"`
	UserID         string    `json:"userId"`
	OrganizationID string    `json:"organizationId"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// TokenPair is the issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Identity is the authenticated principal attached to platform API requests.
type Identity struct {
	UserID         string
	OrganizationID string
	Permissions    []string
	SessionID      string
}
