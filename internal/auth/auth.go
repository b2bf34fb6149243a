package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/phishcheck/phishcheck/internal/config"
)

// Client is the runtime identity behind an API key. ID is safe to log.
type Client struct {
	ID string
}

// Auth holds mappings from API keys to clients.
type Auth struct {
	enabled     bool
	apiKeyToCli map[string]Client
}

// NewFromConfig builds an Auth instance from the loaded config.
func NewFromConfig(cfg *config.Config) (*Auth, error) {
	if cfg == nil {
		return &Auth{}, nil
	}
	m := make(map[string]Client)
	for i, key := range cfg.Auth.APIKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, exists := m[key]; exists {
			return nil, fmt.Errorf("auth.api_keys[%d] duplicates an earlier key", i)
		}
		m[key] = Client{ID: fmt.Sprintf("key-%d", i+1)}
	}
	if cfg.Auth.Enabled && len(m) == 0 {
		return nil, fmt.Errorf("auth enabled but no api keys configured")
	}
	return &Auth{
		enabled:     cfg.Auth.Enabled,
		apiKeyToCli: m,
	}, nil
}

// Enabled reports whether requests must carry an API key.
func (a *Auth) Enabled() bool {
	return a != nil && a.enabled
}

// Lookup returns the client for a given API key, if any.
func (a *Auth) Lookup(apiKey string) (Client, bool) {
	if a == nil {
		return Client{}, false
	}
	c, ok := a.apiKeyToCli[apiKey]
	return c, ok
}

// APIKeyFromRequest extracts a key from Authorization: Bearer or X-API-Key.
func APIKeyFromRequest(r *http.Request) (string, bool) {
	if token, ok := ParseBearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, true
	}
	return "", false
}

// ParseBearerToken extracts the token from an Authorization: Bearer header.
func ParseBearerToken(h string) (string, bool) {
	if h == "" {
		return "", false
	}
	parts := strings.Fields(h)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

type ctxKey struct{}

// Middleware rejects requests without a known API key when auth is enabled.
// onReject writes the rejection response.
func (a *Auth) Middleware(onReject func(w http.ResponseWriter, r *http.Request, msg string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			key, ok := APIKeyFromRequest(r)
			if !ok {
				onReject(w, r, "Invalid or missing API key")
				return
			}
			client, ok := a.Lookup(key)
			if !ok {
				onReject(w, r, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, client)))
		})
	}
}

// ClientFromContext returns the authenticated client, if any.
func ClientFromContext(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(ctxKey{}).(Client)
	return c, ok
}
