package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/inletio/inlet/pkg/clients"
	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/jsonutil"
)

// OAuth2Config configures the OAuth2 provider.
type OAuth2Config struct {
	// TokenURL is the token endpoint for the grant.
	TokenURL string `json:"token_url"`
	// ClientID and ClientSecret are the client credentials.
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	// Scopes requested with the grant.
	Scopes []string `json:"scopes"`
	// GrantType defaults to client_credentials.
	GrantType string `json:"grant_type"`
	// RefreshBuffer triggers proactive refresh once expiry falls within it.
	RefreshBuffer time.Duration `json:"refresh_buffer"`
	// UseBasicAuth sends client credentials as a Basic authorization
	// header instead of form fields.
	UseBasicAuth bool `json:"use_basic_auth"`
	// CustomParams are added to every token request.
	CustomParams map[string]string `json:"custom_params,omitempty"`
	// CustomHeaders are added to every token request.
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
}

// OAuth2Provider implements Provider with a token-endpoint grant and
// automatic refresh. Concurrent callers during an in-flight refresh share
// one token request.
type OAuth2Provider struct {
	config     OAuth2Config
	logger     *zap.Logger
	httpClient *clients.HTTPClient

	creds *Credentials
	mu    sync.RWMutex

	group singleflight.Group

	// Stats
	tokenRequests int64
	authFailures  int64

	onRefresh func(*Credentials)

	// now is injectable for tests.
	now func() time.Time
}

// NewOAuth2Provider creates an OAuth2 provider.
func NewOAuth2Provider(config OAuth2Config, httpClient *clients.HTTPClient, logger *zap.Logger) (*OAuth2Provider, error) {
	if config.TokenURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "oauth2 token_url is required")
	}
	if config.ClientID == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "oauth2 client_id is required")
	}
	if config.GrantType == "" {
		config.GrantType = "client_credentials"
	}
	if config.RefreshBuffer <= 0 {
		config.RefreshBuffer = 5 * time.Minute
	}

	return &OAuth2Provider{
		config:     config,
		logger:     logger.With(zap.String("component", "oauth2_provider")),
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// OnRefresh registers a callback invoked after each successful token
// acquisition, outside the provider's lock.
func (p *OAuth2Provider) OnRefresh(fn func(*Credentials)) {
	p.onRefresh = fn
}

// GetCredentials returns valid credentials, refreshing when the current
// token is absent or expires within the refresh buffer. Refreshes are
// single-flighted: concurrent callers share one token request.
func (p *OAuth2Provider) GetCredentials(ctx context.Context) (*Credentials, error) {
	p.mu.RLock()
	creds := p.creds
	p.mu.RUnlock()

	if p.fresh(creds) {
		return creds, nil
	}

	v, err, _ := p.group.Do("refresh", func() (interface{}, error) {
		// Re-check under single-flight: a concurrent caller may have
		// already refreshed while we waited for the group slot.
		p.mu.RLock()
		current := p.creds
		p.mu.RUnlock()
		if p.fresh(current) {
			return current, nil
		}
		return p.requestToken(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credentials), nil
}

// fresh reports whether creds are valid and outside the refresh buffer.
func (p *OAuth2Provider) fresh(creds *Credentials) bool {
	if creds == nil || creds.AccessToken == "" {
		return false
	}
	return creds.ExpiresAt.Sub(p.now()) > p.config.RefreshBuffer
}

// ApplyToHeaders injects the Authorization bearer header.
func (p *OAuth2Provider) ApplyToHeaders(ctx context.Context, headers map[string]string) error {
	creds, err := p.GetCredentials(ctx)
	if err != nil {
		return err
	}
	headers["Authorization"] = "Bearer " + creds.AccessToken
	return nil
}

// Invalidate force-expires the current credentials so the next
// GetCredentials performs a refresh. Used for one forced refresh-and-retry
// after an authentication failure.
func (p *OAuth2Provider) Invalidate() {
	p.mu.Lock()
	p.creds = nil
	p.mu.Unlock()
}

// GetTokenState exports the current credentials for persistence.
func (p *OAuth2Provider) GetTokenState() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.creds == nil {
		return nil, nil
	}
	return jsonutil.Marshal(p.creds)
}

// SetTokenState restores previously exported credentials.
func (p *OAuth2Provider) SetTokenState(state []byte) error {
	if len(state) == 0 {
		return nil
	}
	var creds Credentials
	if err := jsonutil.Unmarshal(state, &creds); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "invalid token state")
	}
	p.mu.Lock()
	p.creds = &creds
	p.mu.Unlock()
	return nil
}

// tokenResponse is the token endpoint response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// oauth2ErrorResponse is the RFC 6749 error body.
type oauth2ErrorResponse struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// requestToken performs one token endpoint request and stores the result.
func (p *OAuth2Provider) requestToken(ctx context.Context) (*Credentials, error) {
	params := url.Values{
		"grant_type": {p.config.GrantType},
	}
	if !p.config.UseBasicAuth {
		params.Set("client_id", p.config.ClientID)
		params.Set("client_secret", p.config.ClientSecret)
	}
	if len(p.config.Scopes) > 0 {
		params.Set("scope", strings.Join(p.config.Scopes, " "))
	}
	if refresh := p.refreshTokenValue(); p.config.GrantType == "refresh_token" && refresh != "" {
		params.Set("refresh_token", refresh)
	}
	for key, value := range p.config.CustomParams {
		params.Set(key, value)
	}

	headers := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	}
	if p.config.UseBasicAuth {
		raw := p.config.ClientID + ":" + p.config.ClientSecret
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	}
	for key, value := range p.config.CustomHeaders {
		headers[key] = value
	}

	p.mu.Lock()
	p.tokenRequests++
	p.mu.Unlock()

	resp, err := p.httpClient.Post(ctx, p.config.TokenURL, strings.NewReader(params.Encode()), headers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Cancelled(ctx.Err(), "token request cancelled")
		}
		p.recordFailure()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "token request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		p.recordFailure()
		var errResp oauth2ErrorResponse
		if decErr := jsonutil.NewDecoder(resp.Body).Decode(&errResp); decErr == nil && errResp.Code != "" {
			return nil, errors.Newf(errors.ErrorTypeAuthentication, "token endpoint rejected request: %s", errResp.Code).
				WithDetail("description", errResp.Description)
		}
		return nil, errors.Newf(errors.ErrorTypeAuthentication, "token request failed with status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := jsonutil.NewDecoder(resp.Body).Decode(&tr); err != nil {
		p.recordFailure()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode token response")
	}
	if tr.AccessToken == "" {
		p.recordFailure()
		return nil, errors.New(errors.ErrorTypeAuthentication, "token response missing access_token")
	}

	creds := &Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		creds.ExpiresAt = p.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	} else {
		creds.ExpiresAt = p.now().Add(time.Hour)
	}
	if tr.Scope != "" {
		creds.Metadata = map[string]string{"scope": tr.Scope}
	}

	p.mu.Lock()
	p.creds = creds
	p.mu.Unlock()

	p.logger.Info("token acquired", zap.Time("expires_at", creds.ExpiresAt))

	if p.onRefresh != nil {
		p.onRefresh(creds)
	}

	return creds, nil
}

func (p *OAuth2Provider) refreshTokenValue() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.creds == nil {
		return ""
	}
	return p.creds.RefreshToken
}

func (p *OAuth2Provider) recordFailure() {
	p.mu.Lock()
	p.authFailures++
	p.mu.Unlock()
}

// Stats returns token request and failure counters.
func (p *OAuth2Provider) Stats() (requests, failures int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tokenRequests, p.authFailures
}
