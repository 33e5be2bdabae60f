package internal

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Backend kinds for a mount.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config represents the daemon configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Wire   WireConfig        `yaml:"wire"`
	Mounts []MountConfig     `yaml:"mounts"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Wire.Validate(); err != nil {
		return err
	}
	if len(c.Mounts) == 0 {
		return fmt.Errorf("config: at least one mount is required")
	}
	for i := range c.Mounts {
		if err := c.Mounts[i].Validate(); err != nil {
			return fmt.Errorf("config: mount %d: %w", i, err)
		}
	}
	return c.Auth.Validate()
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

// HTTPConfig holds the HTTP gateway configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns the HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// WireConfig holds the wire protocol listener configuration.
type WireConfig struct {
	Port int `yaml:"port"`
}

// Address returns the wire listener address.
func (c *WireConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the wire configuration.
func (c *WireConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// MountConfig describes one entry of the kernel mount table.
//
// Backend selects the storage variant. File backends need Root; sqlite
// backends need DSN. Encrypted or History wraps the backend in a
// versioned store, which the retention knobs then tune; the retention
// knobs alone do not wrap it.
type MountConfig struct {
	Path    string `yaml:"path"`
	Backend string `yaml:"backend"`
	Root    string `yaml:"root"`
	DSN     string `yaml:"dsn"`

	Encrypted bool   `yaml:"encrypted"`
	KeyHex    string `yaml:"key_hex"`

	History    bool `yaml:"history"`
	MaxPatches int  `yaml:"max_patches"`
	MaxAnchors int  `yaml:"max_anchors"`

	// Mirror enables the fsnotify watcher that surfaces externally
	// edited scroll files. File backends only.
	Mirror bool `yaml:"mirror"`
}

// Key decodes the hex-encoded encryption key.
func (c *MountConfig) Key() ([]byte, error) {
	key, err := hex.DecodeString(c.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("config: key_hex: %w", err)
	}
	return key, nil
}

// Validate validates the mount configuration.
func (c *MountConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Backend, validation.Required,
			validation.In(BackendMemory, BackendFile, BackendSQLite)),
	); err != nil {
		return err
	}
	if c.Backend == BackendFile && c.Root == "" {
		return fmt.Errorf("file backend at %q needs a root", c.Path)
	}
	if c.Backend == BackendSQLite && c.DSN == "" {
		return fmt.Errorf("sqlite backend at %q needs a dsn", c.Path)
	}
	if c.Encrypted {
		key, err := c.Key()
		if err != nil {
			return err
		}
		if len(key) != 32 {
			return fmt.Errorf("mount %q: encryption key must be 32 bytes, got %d", c.Path, len(key))
		}
	}
	if c.Mirror && c.Backend != BackendFile {
		return fmt.Errorf("mount %q: mirror requires the file backend", c.Path)
	}
	return nil
}

// AuthConfig holds gateway authentication configuration.
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
	// Normalise empty mode to "disabled" for backward compatibility.
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
				Port: 8080,
			},
		},
		Wire: WireConfig{
			Port: 9564,
		},
		Mounts: []MountConfig{
			{Path: "/", Backend: BackendMemory},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
