package oauth

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	domainoauth "github.com/smallbiznis/railzway-connect/internal/domain/oauth"
)

// validateRedirectURI enforces the callback allowlist rules: http/https only,
// loopback hosts over plain http, every other host explicitly allowlisted and
// served over https.
func validateRedirectURI(raw string, allowlist []string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse redirect uri: %w", domainoauth.ErrInvalidRedirectURI)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed: %w", parsed.Scheme, domainoauth.ErrInvalidRedirectURI)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("missing host: %w", domainoauth.ErrInvalidRedirectURI)
	}

	if isLoopback(host) {
		if parsed.Scheme != "http" {
			return fmt.Errorf("loopback redirect must use http: %w", domainoauth.ErrInvalidRedirectURI)
		}
		return nil
	}

	if parsed.Scheme != "https" {
		return fmt.Errorf("non-loopback redirect must use https: %w", domainoauth.ErrInvalidRedirectURI)
	}
	for _, allowed := range allowlist {
		if strings.EqualFold(strings.TrimSpace(allowed), host) {
			return nil
		}
	}
	return fmt.Errorf("host %q not in allowlist: %w", host, domainoauth.ErrInvalidRedirectURI)
}

func isLoopback(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
