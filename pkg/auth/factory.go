package auth

import (
	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/clients"
	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
)

// FromConfig builds a Provider from the auth section of a connector config.
func FromConfig(cfg config.AuthConfig, httpClient *clients.HTTPClient, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case "", "none":
		return NoopProvider{}, nil
	case "oauth2":
		return NewOAuth2Provider(OAuth2Config{
			TokenURL:      cfg.TokenURL,
			ClientID:      cfg.ClientID,
			ClientSecret:  cfg.ClientSecret,
			Scopes:        cfg.Scopes,
			RefreshBuffer: cfg.RefreshBuffer(),
			UseBasicAuth:  cfg.UseBasicAuth,
			CustomParams:  cfg.CustomParams,
		}, httpClient, logger)
	case "api_key":
		return NewAPIKeyProvider(cfg.HeaderName, cfg.APIKey)
	case "bearer":
		return NewBearerProvider(cfg.Token)
	case "basic":
		return NewBasicProvider(cfg.Username, cfg.Password)
	case "custom":
		return NewCustomProvider(cfg.Headers)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown auth type %q", cfg.Type)
	}
}
