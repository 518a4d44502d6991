package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/magic/internal/magic"
	"github.com/starford/magic/internal/provider"
	"github.com/starford/magic/internal/template"
	pkgconfig "github.com/starford/magic/pkg/config"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Auth     AuthConfig        `yaml:"auth"`
	Provider ProviderConfig    `yaml:"provider"`
	Template TemplateConfig    `yaml:"template"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	return c.Template.Validate()
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
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds the block graph database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
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

// ProviderConfig holds the provider settings record plus transport options.
// The settings fields sit directly under the provider key.
type ProviderConfig struct {
	provider.Settings `yaml:",inline"`

	// Timeout bounds one provider request. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the provider configuration.
func (c *ProviderConfig) Validate() error {
	s := &c.Settings
	if err := validation.ValidateStruct(s,
		validation.Field(&s.Provider, validation.Required, validation.In(provider.OpenAI, provider.Ollama)),
		validation.Field(&s.Endpoint, validation.Required, validation.By(httpURL)),
		validation.Field(&s.Model, validation.Required),
		validation.Field(&s.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&s.MaxTokens, validation.Required, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if c.Timeout < 0 {
		return errors.New("provider: timeout must not be negative")
	}
	return nil
}

func httpURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

// TemplateConfig names the tag alias and the link property that mark templates.
type TemplateConfig struct {
	Alias        string `yaml:"alias"`
	LinkProperty string `yaml:"link_property"`
}

// Validate validates the template configuration.
func (c *TemplateConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Alias, validation.Required),
		validation.Field(&c.LinkProperty, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./magic.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Provider: ProviderConfig{
			Settings: provider.Settings{
				Provider:    provider.OpenAI,
				Endpoint:    "https://api.openai.com",
				Model:       "gpt-3.5-turbo",
				Temperature: 0.7,
				MaxTokens:   2000,
			},
			Timeout: 2 * time.Minute,
		},
		Template: TemplateConfig{
			Alias:        magic.DefaultTagAlias,
			LinkProperty: template.DefaultLinkProperty,
		},
	}
}

// DecodeSettings parses config file contents over the defaults and returns
// the provider settings. The settings manager calls it on every reload.
func DecodeSettings(data []byte) (provider.Settings, error) {
	cfg := NewDefaultConfig()
	if err := pkgconfig.Parse(data, cfg); err != nil {
		return provider.Settings{}, err
	}
	return cfg.Provider.Settings, nil
}
