package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig("orders", "rest")

	assert.Equal(t, "orders", cfg.Name)
	assert.Equal(t, "rest", cfg.Source)
	assert.Equal(t, 3, cfg.Reliability.MaxRetries)
	assert.Equal(t, time.Second, cfg.Reliability.Backoff)
	assert.Equal(t, "sha256", cfg.Transport.Webhook.Algorithm)
	assert.Equal(t, 5*time.Minute, cfg.Auth.RefreshBuffer())
}

func TestValidate(t *testing.T) {
	cfg := NewConfig("orders", "rest")
	cfg.Transport.REST.BaseURL = "https://api.example.com"
	require.NoError(t, cfg.Validate())

	cfg.Name = ""
	assert.Error(t, cfg.Validate())

	cfg = NewConfig("orders", "carrier-pigeon")
	assert.Error(t, cfg.Validate())

	cfg = NewConfig("orders", "rest")
	assert.Error(t, cfg.Validate(), "rest source requires base_url")

	cfg = NewConfig("drops", "webhook")
	assert.Error(t, cfg.Validate(), "webhook source requires secret")
	cfg.Transport.Webhook.Secret = "s3cret"
	require.NoError(t, cfg.Validate())

	cfg.Transport.Webhook.Algorithm = "md5"
	assert.Error(t, cfg.Validate())
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("INLET_TEST_SECRET", "from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
name: orders
source: rest
auth:
  type: oauth2
  client_secret: ${INLET_TEST_SECRET}
transport:
  rest:
    base_url: https://api.example.com
    pagination:
      style: cursor
      cursor_path: meta.next
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := NewConfig("", "")
	require.NoError(t, Load(path, cfg))

	assert.Equal(t, "orders", cfg.Name)
	assert.Equal(t, "from-env", cfg.Auth.ClientSecret)
	assert.Equal(t, "cursor", cfg.Transport.REST.Pagination.Style)
	assert.Equal(t, "meta.next", cfg.Transport.REST.Pagination.CursorPath)
	require.NoError(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")

	cfg := NewConfig("inventory", "ftp")
	cfg.Transport.FTP.Host = "ftp.example.com"
	cfg.Transport.FTP.Secure = true
	require.NoError(t, Save(path, cfg))

	loaded := &Config{}
	require.NoError(t, Load(path, loaded))
	assert.Equal(t, cfg.Name, loaded.Name)
	assert.True(t, loaded.Transport.FTP.Secure)
}
