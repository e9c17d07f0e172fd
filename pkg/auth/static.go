package auth

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/inletio/inlet/pkg/errors"
)

// Static providers compute the same headers for the same configuration on
// every call and never contact a network endpoint. Their token state is
// empty; GetCredentials returns a far-future synthetic expiry so the
// freshness invariant holds trivially.

// staticExpiry is the synthetic expiry horizon for non-expiring schemes.
const staticExpiry = 100 * 365 * 24 * time.Hour

// APIKeyProvider injects a fixed API key under a configurable header.
type APIKeyProvider struct {
	HeaderName string
	Key        string
}

// NewAPIKeyProvider creates an API-key provider; headerName defaults to
// "X-API-Key".
func NewAPIKeyProvider(headerName, key string) (*APIKeyProvider, error) {
	if key == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "api key is required")
	}
	if headerName == "" {
		headerName = "X-API-Key"
	}
	return &APIKeyProvider{HeaderName: headerName, Key: key}, nil
}

// GetCredentials returns the key as a non-expiring credential.
func (p *APIKeyProvider) GetCredentials(context.Context) (*Credentials, error) {
	return &Credentials{AccessToken: p.Key, ExpiresAt: time.Now().Add(staticExpiry)}, nil
}

// ApplyToHeaders sets the API key header.
func (p *APIKeyProvider) ApplyToHeaders(_ context.Context, headers map[string]string) error {
	headers[p.HeaderName] = p.Key
	return nil
}

// GetTokenState returns nil; the provider is stateless.
func (p *APIKeyProvider) GetTokenState() ([]byte, error) { return nil, nil }

// SetTokenState is a no-op for stateless providers.
func (p *APIKeyProvider) SetTokenState([]byte) error { return nil }

// BearerProvider injects a fixed bearer token.
type BearerProvider struct {
	Token string
}

// NewBearerProvider creates a bearer-token provider.
func NewBearerProvider(token string) (*BearerProvider, error) {
	if token == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "bearer token is required")
	}
	return &BearerProvider{Token: token}, nil
}

// GetCredentials returns the token as a non-expiring credential.
func (p *BearerProvider) GetCredentials(context.Context) (*Credentials, error) {
	return &Credentials{AccessToken: p.Token, ExpiresAt: time.Now().Add(staticExpiry)}, nil
}

// ApplyToHeaders sets the Authorization bearer header.
func (p *BearerProvider) ApplyToHeaders(_ context.Context, headers map[string]string) error {
	headers["Authorization"] = "Bearer " + p.Token
	return nil
}

// GetTokenState returns nil; the provider is stateless.
func (p *BearerProvider) GetTokenState() ([]byte, error) { return nil, nil }

// SetTokenState is a no-op for stateless providers.
func (p *BearerProvider) SetTokenState([]byte) error { return nil }

// BasicProvider injects HTTP basic credentials.
type BasicProvider struct {
	Username string
	Password string
}

// NewBasicProvider creates a basic-auth provider.
func NewBasicProvider(username, password string) (*BasicProvider, error) {
	if username == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "basic auth username is required")
	}
	return &BasicProvider{Username: username, Password: password}, nil
}

func (p *BasicProvider) encoded() string {
	return base64.StdEncoding.EncodeToString([]byte(p.Username + ":" + p.Password))
}

// GetCredentials returns the encoded pair as a non-expiring credential.
func (p *BasicProvider) GetCredentials(context.Context) (*Credentials, error) {
	return &Credentials{AccessToken: p.encoded(), ExpiresAt: time.Now().Add(staticExpiry)}, nil
}

// ApplyToHeaders sets the Authorization basic header.
func (p *BasicProvider) ApplyToHeaders(_ context.Context, headers map[string]string) error {
	headers["Authorization"] = "Basic " + p.encoded()
	return nil
}

// GetTokenState returns nil; the provider is stateless.
func (p *BasicProvider) GetTokenState() ([]byte, error) { return nil, nil }

// SetTokenState is a no-op for stateless providers.
func (p *BasicProvider) SetTokenState([]byte) error { return nil }

// CustomProvider injects a fixed set of headers.
type CustomProvider struct {
	Headers map[string]string
}

// NewCustomProvider creates a custom-header provider.
func NewCustomProvider(headers map[string]string) (*CustomProvider, error) {
	if len(headers) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "custom auth headers are required")
	}
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return &CustomProvider{Headers: copied}, nil
}

// GetCredentials returns a non-expiring synthetic credential.
func (p *CustomProvider) GetCredentials(context.Context) (*Credentials, error) {
	return &Credentials{AccessToken: "custom", ExpiresAt: time.Now().Add(staticExpiry)}, nil
}

// ApplyToHeaders sets every configured header.
func (p *CustomProvider) ApplyToHeaders(_ context.Context, headers map[string]string) error {
	for k, v := range p.Headers {
		headers[k] = v
	}
	return nil
}

// GetTokenState returns nil; the provider is stateless.
func (p *CustomProvider) GetTokenState() ([]byte, error) { return nil, nil }

// SetTokenState is a no-op for stateless providers.
func (p *CustomProvider) SetTokenState([]byte) error { return nil }

// NoopProvider injects nothing, for unauthenticated sources.
type NoopProvider struct{}

// GetCredentials returns a non-expiring synthetic credential.
func (NoopProvider) GetCredentials(context.Context) (*Credentials, error) {
	return &Credentials{AccessToken: "anonymous", ExpiresAt: time.Now().Add(staticExpiry)}, nil
}

// ApplyToHeaders is a no-op.
func (NoopProvider) ApplyToHeaders(context.Context, map[string]string) error { return nil }

// GetTokenState returns nil.
func (NoopProvider) GetTokenState() ([]byte, error) { return nil, nil }

// SetTokenState is a no-op.
func (NoopProvider) SetTokenState([]byte) error { return nil }
