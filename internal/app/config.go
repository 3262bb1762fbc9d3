package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/vebra-proxy/internal/credentials"
	"github.com/florianilch/vebra-proxy/internal/proxy"
	"github.com/florianilch/vebra-proxy/internal/vebra"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
	LogFormatOTel LogFormat = "otel"
)

// CredentialStorageType represents the storage types supported for upstream credentials.
type CredentialStorageType string

const (
	CredentialStorageTypeEnv     CredentialStorageType = "env"
	CredentialStorageTypeFile    CredentialStorageType = "file"
	CredentialStorageTypeKeyring CredentialStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat             = LogFormatText
	DefaultConfigServerHost            = "127.0.0.1"
	DefaultConfigServerPort            = 3000
	DefaultConfigShutdownTimeout       = 5 * time.Second
	DefaultConfigUpstreamBaseURL       = vebra.DefaultBaseURL
	DefaultConfigUpstreamTimeout       = vebra.DefaultTimeout
	DefaultConfigUpstreamTokenEncoding = vebra.TokenEncodingBasic
	DefaultConfigUpstreamTokenTTL      = vebra.DefaultTokenTTL
	DefaultConfigUpstreamCooldown      = vebra.DefaultCooldown
	DefaultConfigAuthStorage           = CredentialStorageTypeEnv
	DefaultConfigAuthUsernameEnv       = "VEBRA_USERNAME"
	DefaultConfigAuthPasswordEnv       = "VEBRA_PASSWORD"
	DefaultConfigAuthKeyringService    = "vebra-proxy"
	DefaultConfigCORSAllowOrigin       = "*"
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// UpstreamConfig holds feed API configuration.
type UpstreamConfig struct {
	BaseURL string        `json:"base_url" validate:"required,url"`
	Timeout time.Duration `json:"timeout" validate:"gt=0"`

	// TokenHeaders are searched in order for the session token.
	TokenHeaders  []string            `json:"token_headers" validate:"min=1,dive,required"`
	TokenEncoding vebra.TokenEncoding `json:"token_encoding" validate:"oneof=basic raw"`
	TokenTTL      time.Duration       `json:"token_ttl" validate:"gt=0"`

	// Cooldown after a rejected credential exchange. Zero selects the default;
	// the feed's hourly token limit makes disabling it pointless.
	Cooldown time.Duration `json:"cooldown" validate:"gt=0"`
}

// AuthConfig describes where the feed username and password come from.
type AuthConfig struct {
	Storage CredentialStorageType `json:"storage" validate:"required,oneof=env file keyring"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File           string `json:"file,omitempty"`            // For file storage: path to credentials file
	UsernameEnv    string `json:"username_env,omitempty"`    // For env storage: username variable
	PasswordEnv    string `json:"password_env,omitempty"`    // For env storage: password variable
	Username       string `json:"username,omitempty"`        // For keyring storage: feed username
	KeyringService string `json:"keyring_service,omitempty"` // For keyring storage: service name
}

// NewCredentialStore creates a credentials.Store from the authentication configuration.
func (a *AuthConfig) NewCredentialStore() (credentials.Store, error) {
	switch a.Storage {
	case CredentialStorageTypeEnv:
		return credentials.NewEnvStore(a.UsernameEnv, a.PasswordEnv)
	case CredentialStorageTypeFile:
		return credentials.NewFileStore(a.File)
	case CredentialStorageTypeKeyring:
		return credentials.NewKeyringStore(a.KeyringService, a.Username)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// BranchConfig maps a public branch ID to a feed client ID.
type BranchConfig struct {
	ClientID string `json:"client_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
}

// CORSConfig holds cross-origin settings for browser clients.
type CORSConfig struct {
	AllowOrigin string `json:"allow_origin" validate:"required"`
}

// DiagnosticsConfig gates the token diagnostic endpoints.
type DiagnosticsConfig struct {
	Enabled bool `json:"enabled"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level              `json:"log_level"`
	LogFormat   LogFormat               `json:"log_format" validate:"oneof=text json otel"`
	Server      ServerConfig            `json:"server"`
	Shutdown    ShutdownConfig          `json:"shutdown"`
	Upstream    UpstreamConfig          `json:"upstream"`
	Auth        AuthConfig              `json:"auth"`
	Branches    map[string]BranchConfig `json:"branches" validate:"dive"`
	CORS        CORSConfig              `json:"cors"`
	Diagnostics DiagnosticsConfig       `json:"diagnostics"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultConfigUpstreamBaseURL
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = DefaultConfigUpstreamTimeout
	}
	if len(c.Upstream.TokenHeaders) == 0 {
		c.Upstream.TokenHeaders = append([]string(nil), vebra.DefaultTokenHeaders...)
	}
	if c.Upstream.TokenEncoding == "" {
		c.Upstream.TokenEncoding = DefaultConfigUpstreamTokenEncoding
	}
	if c.Upstream.TokenTTL == 0 {
		c.Upstream.TokenTTL = DefaultConfigUpstreamTokenTTL
	}
	if c.Upstream.Cooldown == 0 {
		c.Upstream.Cooldown = DefaultConfigUpstreamCooldown
	}

	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case CredentialStorageTypeEnv:
		if c.Auth.UsernameEnv == "" {
			c.Auth.UsernameEnv = DefaultConfigAuthUsernameEnv
		}
		if c.Auth.PasswordEnv == "" {
			c.Auth.PasswordEnv = DefaultConfigAuthPasswordEnv
		}
	case CredentialStorageTypeFile:
		if c.Auth.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
			}
			c.Auth.File = filepath.Join(configDir, "vebra-proxy", "credentials")
		}
	case CredentialStorageTypeKeyring:
		if c.Auth.KeyringService == "" {
			c.Auth.KeyringService = DefaultConfigAuthKeyringService
		}
		// username must be explicitly configured (it is the feed account name)
	}

	if len(c.Branches) == 0 {
		c.Branches = make(map[string]BranchConfig, len(proxy.DefaultBranches))
		for id, b := range proxy.DefaultBranches {
			c.Branches[id] = BranchConfig{ClientID: b.ClientID, Name: b.Name}
		}
	}
	if c.CORS.AllowOrigin == "" {
		c.CORS.AllowOrigin = DefaultConfigCORSAllowOrigin
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Auth.Storage {
	case CredentialStorageTypeEnv:
		if c.Auth.UsernameEnv == "" || c.Auth.PasswordEnv == "" {
			return errors.New("username_env and password_env required for env storage")
		}
	case CredentialStorageTypeFile:
		if c.Auth.File == "" {
			return errors.New("file path required for file storage")
		}
	case CredentialStorageTypeKeyring:
		if c.Auth.Username == "" {
			return errors.New("username required for keyring storage")
		}
		if c.Auth.KeyringService == "" {
			return errors.New("keyring_service required for keyring storage")
		}
	}

	if len(c.Branches) == 0 {
		return errors.New("at least one branch is required")
	}

	return nil
}

// ProxyBranches returns the branch table in the form the router expects.
func (c *Config) ProxyBranches() proxy.Branches {
	branches := make(proxy.Branches, len(c.Branches))
	for id, b := range c.Branches {
		branches[id] = proxy.Branch{ClientID: b.ClientID, Name: b.Name}
	}
	return branches
}
