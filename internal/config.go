package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/markpad/internal/autosave"
	"github.com/starford/markpad/internal/history"
	"github.com/starford/markpad/internal/sharelink"
	"github.com/starford/markpad/internal/snapshot"
	"github.com/starford/markpad/internal/state"
	"github.com/starford/markpad/internal/tabs"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Storage  StorageConfig     `yaml:"storage"`
	History  HistoryConfig     `yaml:"history"`
	AutoSave AutoSaveConfig    `yaml:"autosave"`
	Share    ShareConfig       `yaml:"share"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.History.Validate(); err != nil {
		return err
	}
	if err := c.AutoSave.Validate(); err != nil {
		return err
	}
	if err := c.Share.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// TabSettings returns the per-tab settings derived from the configuration.
func (c *Config) TabSettings() tabs.Settings {
	return tabs.Settings{
		MaxEntries:       c.History.MaxEntries,
		RestorePolicy:    snapshot.RestorePolicy(c.History.RestorePolicy),
		AutoSaveInterval: c.AutoSave.Interval,
		DraftDebounce:    c.AutoSave.DraftDebounce,
	}
}

// Codec returns the share-link codec for the configured origin.
func (c *Config) Codec(logger *slog.Logger) sharelink.Codec {
	return sharelink.Codec{
		BaseURL:        c.Share.BaseURL,
		Marker:         sharelink.DefaultMarker,
		MaxTokenLength: c.Share.MaxTokenLength,
		Logger:         logger,
	}
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// CORSOrigins lists origins allowed to call the API from a browser,
	// typically the UI dev server.
	CORSOrigins []string `yaml:"cors_origins"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Host, is.Host),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig holds the locations of the durable store and exports.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	ExportDir  string `yaml:"export_dir"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SQLitePath, validation.Required),
		validation.Field(&c.ExportDir, validation.Required),
	)
}

// HistoryConfig holds snapshot retention settings.
type HistoryConfig struct {
	MaxEntries    int    `yaml:"max_entries"`
	RestorePolicy string `yaml:"restore_policy"`
}

// Validate validates the history configuration.
func (c *HistoryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxEntries, validation.Required, validation.Min(1), validation.Max(10000)),
		validation.Field(&c.RestorePolicy, validation.Required,
			validation.In(string(snapshot.RestoreContentOnly), string(snapshot.RestoreFullConfig))),
	)
}

// AutoSaveConfig holds the periodic snapshot and draft settings.
//
// A negative DraftDebounce disables draft summaries.
type AutoSaveConfig struct {
	Interval      time.Duration `yaml:"interval"`
	DraftDebounce time.Duration `yaml:"draft_debounce"`
}

// Validate validates the auto-save configuration.
func (c *AutoSaveConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Required, validation.Min(time.Second)),
	)
}

// ShareConfig holds share-link settings.
type ShareConfig struct {
	BaseURL        string `yaml:"base_url"`
	MaxTokenLength int    `yaml:"max_token_length"`
}

// Validate validates the share configuration.
func (c *ShareConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.MaxTokenLength, validation.Required, validation.Min(64)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Host: "127.0.0.1",
				Port: 8080,
			},
		},
		Storage: StorageConfig{
			SQLitePath: "./markpad.db",
			ExportDir:  "./exports",
		},
		History: HistoryConfig{
			MaxEntries:    history.DefaultMaxEntries,
			RestorePolicy: string(snapshot.RestoreContentOnly),
		},
		AutoSave: AutoSaveConfig{
			Interval:      autosave.DefaultInterval,
			DraftDebounce: state.DefaultDraftDebounce,
		},
		Share: ShareConfig{
			BaseURL:        sharelink.DefaultBaseURL,
			MaxTokenLength: sharelink.DefaultMaxTokenLength,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
