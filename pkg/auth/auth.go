// Package auth provides credential acquisition and header injection for
// outbound transport calls. Providers form a closed set: OAuth2 with
// automatic single-flight refresh, plus stateless API-key, bearer, basic,
// and custom-header providers.
//
// A Provider owns its credentials exclusively; they are mutated only
// through the provider's own refresh path. Token state can be exported and
// restored across process restarts via GetTokenState/SetTokenState.
package auth

import (
	"context"
	"time"
)

// Credentials carries an access token and its lifecycle metadata.
// GetCredentials never returns credentials whose ExpiresAt is not strictly
// after the time of the call.
type Credentials struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Valid reports whether the credentials are usable at now.
func (c *Credentials) Valid(now time.Time) bool {
	return c != nil && c.AccessToken != "" && c.ExpiresAt.After(now)
}

// Provider produces valid credentials and injects them into outbound
// headers.
type Provider interface {
	// GetCredentials returns credentials satisfying the freshness
	// invariant, transparently refreshing when needed.
	GetCredentials(ctx context.Context) (*Credentials, error)

	// ApplyToHeaders injects the scheme-appropriate authorization
	// header(s) into headers.
	ApplyToHeaders(ctx context.Context, headers map[string]string) error

	// GetTokenState exports an opaque serializable refresh state for
	// persistence across restarts. Stateless providers return nil.
	GetTokenState() ([]byte, error)

	// SetTokenState restores previously exported state.
	SetTokenState(state []byte) error
}

// Invalidator is implemented by providers whose credentials can be force
// expired, allowing a caller to perform a single refresh-and-retry after
// an authentication failure.
type Invalidator interface {
	Invalidate()
}
