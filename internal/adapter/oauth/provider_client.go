package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	domainoauth "github.com/smallbiznis/railzway-connect/internal/domain/oauth"
)

// ProviderClient encapsulates outbound HTTP calls to external IdPs. Exchange
// and Refresh block on network I/O and honor context cancellation; Revoke is
// fire-and-forget from the caller's perspective but still reports its error so
// the flow manager can log it.
type ProviderClient interface {
	Exchange(ctx context.Context, provider domainoauth.ProviderConfig, code, codeVerifier string) (*domainoauth.TokenResponse, error)
	Refresh(ctx context.Context, provider domainoauth.ProviderConfig, refreshToken string) (*domainoauth.TokenResponse, error)
	Revoke(ctx context.Context, provider domainoauth.ProviderConfig, token string) error
}

// UpstreamError describes a failed provider call. Retryable distinguishes
// transport failures and 5xx responses from terminal 4xx rejections.
type UpstreamError struct {
	Status      int
	Code        string
	Description string
	Retryable   bool
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("provider error %d", e.Status)
}

// HTTPProviderClient is the default ProviderClient implementation. An optional
// rate limiter paces outbound calls so a burst of exchanges cannot hammer the
// provider's token endpoint.
type HTTPProviderClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ ProviderClient = (*HTTPProviderClient)(nil)

// NewHTTPProviderClient constructs the default client. A nil http.Client gets
// a 15 second timeout; requestsPerMinute <= 0 disables pacing.
func NewHTTPProviderClient(client *http.Client, requestsPerMinute int) *HTTPProviderClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		burst := requestsPerMinute / 10
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
	return &HTTPProviderClient{httpClient: client, limiter: limiter}
}

// Exchange performs the authorization-code grant.
func (c *HTTPProviderClient) Exchange(ctx context.Context, provider domainoauth.ProviderConfig, code, codeVerifier string) (*domainoauth.TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", provider.RedirectURI)
	data.Set("client_id", provider.ClientID)
	if provider.ClientSecret != "" {
		data.Set("client_secret", provider.ClientSecret)
	}
	if strings.TrimSpace(codeVerifier) != "" {
		data.Set("code_verifier", codeVerifier)
	}
	return c.postToken(ctx, provider.TokenURL, data)
}

// Refresh performs the refresh-token grant.
func (c *HTTPProviderClient) Refresh(ctx context.Context, provider domainoauth.ProviderConfig, refreshToken string) (*domainoauth.TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", provider.ClientID)
	if provider.ClientSecret != "" {
		data.Set("client_secret", provider.ClientSecret)
	}
	return c.postToken(ctx, provider.TokenURL, data)
}

// Revoke posts the token to the provider's revoke endpoint.
func (c *HTTPProviderClient) Revoke(ctx context.Context, provider domainoauth.ProviderConfig, token string) error {
	if strings.TrimSpace(provider.RevokeURL) == "" {
		return nil
	}
	data := url.Values{}
	data.Set("token", token)
	data.Set("client_id", provider.ClientID)
	if provider.ClientSecret != "" {
		data.Set("client_secret", provider.ClientSecret)
	}
	body, err := c.postForm(ctx, provider.RevokeURL, data)
	if err != nil {
		return err
	}
	_ = body
	return nil
}

func (c *HTTPProviderClient) postToken(ctx context.Context, endpoint string, data url.Values) (*domainoauth.TokenResponse, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("token url missing: %w", domainoauth.ErrInvalidRequest)
	}
	body, err := c.postForm(ctx, endpoint, data)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	token := &domainoauth.TokenResponse{
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		TokenType:    stringValue(raw["token_type"]),
		IDToken:      stringValue(raw["id_token"]),
		Scope:        stringValue(raw["scope"]),
		Raw:          raw,
	}
	if exp := raw["expires_in"]; exp != nil {
		token.ExpiresIn = int64Value(exp)
	}
	return token, nil
}

func (c *HTTPProviderClient) postForm(ctx context.Context, endpoint string, data url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Status: 0, Description: "provider unreachable", Retryable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, upstreamError(resp.StatusCode, body)
	}
	return body, nil
}

func upstreamError(status int, body []byte) *UpstreamError {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &payload)
	return &UpstreamError{
		Status:      status,
		Code:        payload.Error,
		Description: payload.ErrorDescription,
		Retryable:   status >= 500,
	}
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
