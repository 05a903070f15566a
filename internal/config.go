package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Target store modes.
const (
	TargetsModeGit = "git"
	TargetsModeAny = "any"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Payloads PayloadsConfig    `yaml:"payloads"`
	Targets  TargetsConfig     `yaml:"targets"`
	Auth     AuthConfig        `yaml:"auth"`
	Remotes  []RemoteConfig    `yaml:"remotes"`
	Import   ImportConfig      `yaml:"import"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Payloads.Validate(); err != nil {
		return err
	}
	if err := c.Targets.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Remotes))
	for i := range c.Remotes {
		if err := c.Remotes[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[c.Remotes[i].Name]; dup {
			return fmt.Errorf("remotes: duplicate name %q", c.Remotes[i].Name)
		}
		seen[c.Remotes[i].Name] = struct{}{}
	}
	return nil
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

// SQLiteConfig holds the path to the annotation state database.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// PayloadsConfig holds the directory of the content-addressed payload store.
type PayloadsConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the payloads configuration.
func (c *PayloadsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// TargetsConfig selects how target object ids are resolved.
//
// Mode controls the object store collaborator:
//   - "git": targets must be objects in the git repository at GitPath.
//   - "any": every well-formed target id is accepted; use when targets are
//     validated upstream.
type TargetsConfig struct {
	Mode    string `yaml:"mode"`
	GitPath string `yaml:"git_path"`
}

// Validate validates the targets configuration.
func (c *TargetsConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = TargetsModeGit
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(TargetsModeGit, TargetsModeAny)),
	); err != nil {
		return err
	}
	if c.Mode == TargetsModeGit && c.GitPath == "" {
		return fmt.Errorf("targets: mode is %q but git_path is empty", TargetsModeGit)
	}
	return nil
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

// RemoteConfig describes one peer replica to sync with.
type RemoteConfig struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Validate validates a remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.URL, validation.Required),
	)
}

// ImportConfig holds the optional comment drop directory. When WatchDir is
// empty the import watcher is not started.
type ImportConfig struct {
	WatchDir string `yaml:"watch_dir"`
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
			Path: "./ansuz.db",
		},
		Payloads: PayloadsConfig{
			Path: "./objects",
		},
		Targets: TargetsConfig{
			Mode: TargetsModeAny,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
