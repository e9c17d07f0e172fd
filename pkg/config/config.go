// Package config provides the unified configuration system for inlet.
// It defines a single Config structure that describes one connector
// instance end to end: where data comes from, how requests authenticate,
// how raw payloads are transformed, where normalized records are uploaded,
// and when sync passes run.
//
// Example usage:
//
//	cfg := config.NewConfig("crm-accounts", "rest")
//	cfg.Transport.REST.BaseURL = "https://api.example.com"
//	cfg.Schedule.Cron = "0 * * * *"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// Config is the unified configuration for one connector instance.
type Config struct {
	// Name identifies the connector instance
	Name string `yaml:"name" json:"name"`
	// Source specifies the source kind (rest, ftp, file, webhook)
	Source string `yaml:"source" json:"source"`

	// Auth configures outbound request authentication
	Auth AuthConfig `yaml:"auth" json:"auth"`

	// Transport configures the data transport
	Transport TransportConfig `yaml:"transport" json:"transport"`

	// Transform configures payload normalization
	Transform TransformConfig `yaml:"transform" json:"transform"`

	// Ingest configures the downstream ingestion boundary
	Ingest IngestConfig `yaml:"ingest" json:"ingest"`

	// Schedule configures cron-driven sync passes
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	// Reliability settings for retry and rate limiting
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Timeouts define connection and operation timeouts
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Observability settings for logging and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// AuthConfig selects and configures an auth provider.
type AuthConfig struct {
	// Type selects the provider: oauth2, api_key, bearer, basic, custom, none
	Type string `yaml:"type" json:"type"`

	// OAuth2 settings (type: oauth2)
	TokenURL             string            `yaml:"token_url" json:"token_url"`
	ClientID             string            `yaml:"client_id" json:"client_id"`
	ClientSecret         string            `yaml:"client_secret" json:"client_secret"`
	Scopes               []string          `yaml:"scopes" json:"scopes"`
	RefreshBufferSeconds int               `yaml:"refresh_buffer_seconds" json:"refresh_buffer_seconds"`
	UseBasicAuth         bool              `yaml:"use_basic_auth" json:"use_basic_auth"`
	CustomParams         map[string]string `yaml:"custom_params" json:"custom_params"`

	// Static credential settings (type: api_key, bearer, basic, custom)
	HeaderName string            `yaml:"header_name" json:"header_name"`
	APIKey     string            `yaml:"api_key" json:"api_key"`
	Token      string            `yaml:"token" json:"token"`
	Username   string            `yaml:"username" json:"username"`
	Password   string            `yaml:"password" json:"password"`
	Headers    map[string]string `yaml:"headers" json:"headers"`
}

// TransportConfig holds transport-specific settings; only the section
// matching Config.Source is consulted.
type TransportConfig struct {
	REST    RESTConfig    `yaml:"rest" json:"rest"`
	FTP     FTPConfig     `yaml:"ftp" json:"ftp"`
	Watcher WatcherConfig `yaml:"watcher" json:"watcher"`
	Webhook WebhookConfig `yaml:"webhook" json:"webhook"`
}

// RESTConfig configures the REST transport.
type RESTConfig struct {
	BaseURL    string            `yaml:"base_url" json:"base_url"`
	Path       string            `yaml:"path" json:"path"`
	Headers    map[string]string `yaml:"headers" json:"headers"`
	Query      map[string]string `yaml:"query" json:"query"`
	Pagination PaginationConfig  `yaml:"pagination" json:"pagination"`
	// RateLimitPerSec limits outbound requests per second (0 = unlimited)
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// PaginationConfig configures the pagination driving loop.
type PaginationConfig struct {
	// Style is one of: cursor, offset, page, none
	Style string `yaml:"style" json:"style"`
	// PageSize is the requested page size
	PageSize int `yaml:"page_size" json:"page_size"`
	// ItemsPath is the dot path to the items array in the response
	ItemsPath string `yaml:"items_path" json:"items_path"`
	// CursorPath is the dot path to the next cursor (style: cursor)
	CursorPath string `yaml:"cursor_path" json:"cursor_path"`
	// CursorParam is the query parameter carrying the cursor
	CursorParam string `yaml:"cursor_param" json:"cursor_param"`
	// OffsetParam is the query parameter carrying the offset (style: offset)
	OffsetParam string `yaml:"offset_param" json:"offset_param"`
	// PageParam is the query parameter carrying the page number (style: page)
	PageParam string `yaml:"page_param" json:"page_param"`
	// SizeParam is the query parameter carrying the page size
	SizeParam string `yaml:"size_param" json:"size_param"`
	// TotalPagesPath is the dot path to the total page count (style: page)
	TotalPagesPath string `yaml:"total_pages_path" json:"total_pages_path"`
	// MaxPages bounds a single pass (0 = until exhaustion)
	MaxPages int `yaml:"max_pages" json:"max_pages"`
}

// FTPConfig configures the FTP/SFTP transport.
type FTPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	// Secure switches the underlying channel to SFTP
	Secure bool `yaml:"secure" json:"secure"`
	// Dir is the remote directory to list
	Dir string `yaml:"dir" json:"dir"`
	// Pattern is the glob matched against remote file names
	Pattern string `yaml:"pattern" json:"pattern"`
}

// WatcherConfig configures the polling directory watcher.
type WatcherConfig struct {
	Path      string        `yaml:"path" json:"path"`
	Interval  time.Duration `yaml:"interval" json:"interval"`
	Recursive bool          `yaml:"recursive" json:"recursive"`
	Pattern   string        `yaml:"pattern" json:"pattern"`
}

// WebhookConfig configures the inbound webhook receiver.
type WebhookConfig struct {
	// Path is the endpoint path the receiver mounts
	Path string `yaml:"path" json:"path"`
	// Secret is the HMAC secret shared with the provider
	Secret string `yaml:"secret" json:"secret"`
	// Algorithm selects the HMAC hash: sha1, sha256, sha512
	Algorithm string `yaml:"algorithm" json:"algorithm"`
	// SignatureHeader names the header carrying the signature
	SignatureHeader string `yaml:"signature_header" json:"signature_header"`
	// SignaturePrefix is stripped from the header value (e.g. "sha256=")
	SignaturePrefix string `yaml:"signature_prefix" json:"signature_prefix"`
	// Listen is the bind address for the standalone receiver
	Listen string `yaml:"listen" json:"listen"`
}

// TransformConfig selects and configures a transformer.
type TransformConfig struct {
	// Format is one of: csv, json, fixed_width, none
	Format string `yaml:"format" json:"format"`

	CSV        CSVTransformConfig        `yaml:"csv" json:"csv"`
	JSON       JSONTransformConfig       `yaml:"json" json:"json"`
	FixedWidth FixedWidthTransformConfig `yaml:"fixed_width" json:"fixed_width"`
}

// CSVTransformConfig configures the CSV transformer.
type CSVTransformConfig struct {
	Delimiter      string            `yaml:"delimiter" json:"delimiter"`
	HasHeader      bool              `yaml:"has_header" json:"has_header"`
	RenameColumns  map[string]string `yaml:"rename_columns" json:"rename_columns"`
	ExcludeColumns []string          `yaml:"exclude_columns" json:"exclude_columns"`
}

// JSONTransformConfig configures the JSON transformer.
type JSONTransformConfig struct {
	ItemsPath        string            `yaml:"items_path" json:"items_path"`
	RenameFields     map[string]string `yaml:"rename_fields" json:"rename_fields"`
	ExcludeFields    []string          `yaml:"exclude_fields" json:"exclude_fields"`
	Flatten          bool              `yaml:"flatten" json:"flatten"`
	FlattenSeparator string            `yaml:"flatten_separator" json:"flatten_separator"`
}

// FixedWidthTransformConfig configures the fixed-width transformer.
type FixedWidthTransformConfig struct {
	Fields     []FixedWidthField `yaml:"fields" json:"fields"`
	HeaderRows int               `yaml:"header_rows" json:"header_rows"`
	FooterRows int               `yaml:"footer_rows" json:"footer_rows"`
}

// FixedWidthField defines one column of a fixed-width flat file.
type FixedWidthField struct {
	Name       string `yaml:"name" json:"name"`
	Start      int    `yaml:"start" json:"start"`
	Length     int    `yaml:"length" json:"length"`
	Type       string `yaml:"type" json:"type"`
	Trim       bool   `yaml:"trim" json:"trim"`
	DateFormat string `yaml:"date_format" json:"date_format"`
}

// IngestConfig configures the downstream ingestion boundary client.
type IngestConfig struct {
	URL    string `yaml:"url" json:"url"`
	APIKey string `yaml:"api_key" json:"api_key"`
	// IDField names the transformed field used as the item identifier
	// when deriving idempotency keys
	IDField string `yaml:"id_field" json:"id_field"`
}

// ScheduleConfig configures the cron trigger loop.
type ScheduleConfig struct {
	// Cron is a standard 5-field cron expression
	Cron string `yaml:"cron" json:"cron"`
	// Enabled turns scheduled execution on
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ReliabilityConfig contains retry and backoff settings.
type ReliabilityConfig struct {
	// MaxRetries sets retry attempts beyond the first call
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// Backoff is the initial delay between retries
	Backoff time.Duration `yaml:"backoff" json:"backoff"`
	// MaxBackoff caps the exponential delay
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff"`
	// Jitter randomizes delays to avoid thundering herds
	Jitter bool `yaml:"jitter" json:"jitter"`
}

// TimeoutConfig contains timeout settings.
type TimeoutConfig struct {
	Request    time.Duration `yaml:"request" json:"request"`
	Connection time.Duration `yaml:"connection" json:"connection"`
	Idle       time.Duration `yaml:"idle" json:"idle"`
}

// ObservabilityConfig contains logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
	MetricsListen string `yaml:"metrics_listen" json:"metrics_listen"`
}

// NewConfig creates a Config with production-ready defaults.
func NewConfig(name, source string) *Config {
	return &Config{
		Name:   name,
		Source: source,
		Auth: AuthConfig{
			Type:                 "none",
			RefreshBufferSeconds: 300,
		},
		Transport: TransportConfig{
			REST: RESTConfig{
				Pagination: PaginationConfig{
					Style:    "none",
					PageSize: 100,
				},
			},
			Watcher: WatcherConfig{
				Interval: 30 * time.Second,
				Pattern:  "*",
			},
			Webhook: WebhookConfig{
				Algorithm:       "sha256",
				SignatureHeader: "X-Signature",
				Listen:          ":8088",
			},
		},
		Transform: TransformConfig{
			Format: "json",
			CSV: CSVTransformConfig{
				Delimiter: ",",
				HasHeader: true,
			},
			JSON: JSONTransformConfig{
				FlattenSeparator: ".",
			},
		},
		Schedule: ScheduleConfig{
			Cron: "0 * * * *",
		},
		Reliability: ReliabilityConfig{
			MaxRetries: 3,
			Backoff:    time.Second,
			MaxBackoff: 60 * time.Second,
			Jitter:     true,
		},
		Timeouts: TimeoutConfig{
			Request:    30 * time.Second,
			Connection: 10 * time.Second,
			Idle:       5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			EnableMetrics: true,
			MetricsListen: ":9090",
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch c.Source {
	case "rest", "ftp", "file", "webhook":
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	if c.Reliability.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.Reliability.Backoff < 0 || c.Reliability.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations cannot be negative")
	}
	if c.Source == "rest" && c.Transport.REST.BaseURL == "" {
		return fmt.Errorf("transport.rest.base_url is required for rest sources")
	}
	if c.Source == "ftp" && c.Transport.FTP.Host == "" {
		return fmt.Errorf("transport.ftp.host is required for ftp sources")
	}
	if c.Source == "webhook" && c.Transport.Webhook.Secret == "" {
		return fmt.Errorf("transport.webhook.secret is required for webhook sources")
	}
	switch c.Transport.Webhook.Algorithm {
	case "", "sha1", "sha256", "sha512":
	default:
		return fmt.Errorf("unknown webhook algorithm %q", c.Transport.Webhook.Algorithm)
	}
	switch c.Transport.REST.Pagination.Style {
	case "", "none", "cursor", "offset", "page":
	default:
		return fmt.Errorf("unknown pagination style %q", c.Transport.REST.Pagination.Style)
	}
	return nil
}

// RefreshBuffer returns the OAuth2 proactive refresh window as a duration.
func (a *AuthConfig) RefreshBuffer() time.Duration {
	if a.RefreshBufferSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(a.RefreshBufferSeconds) * time.Second
}
