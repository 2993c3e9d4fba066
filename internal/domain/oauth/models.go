package oauth

import "time"

// ProviderConfig stores the configuration for an external IdP the platform
// connects to on behalf of an organization.
type ProviderConfig struct {
	ProviderName     string         `validate:"required"`
	DisplayName      string         `validate:"-"`
	ClientID         string         `validate:"required"`
	ClientSecret     string         `validate:"required"`
	RedirectURI      string         `validate:"required,url"`
	AuthorizationURL string         `validate:"required,url"`
	TokenURL         string         `validate:"required,url"`
	RevokeURL        string         `validate:"omitempty,url"`
	Scopes           []string       `validate:"-"`
	Extra            map[string]any `validate:"-"`
}

// AuthorizationState captures the state/nonce/pkce tuple persisted while an
// authorization round-trip is in flight. Entries are single use: the first
// exchange attempt consumes them regardless of outcome.
type AuthorizationState struct {
	State          string    `json:"state"`
	CodeVerifier   string    `json:"codeVerifier"`
	Nonce          string    `json:"nonce"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId"`
	Platform       string    `json:"platform"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TokenResponse models the normalized response from an IdP token endpoint.
type TokenResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresIn    int64          `json:"expires_in"`
	TokenType    string         `json:"token_type"`
	IDToken      string         `json:"id_token,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	Raw          map[string]any `json:"-"`
}

// CallbackParams are the query parameters received on the OAuth callback.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}
