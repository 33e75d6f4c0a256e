package config

import "time"

// Config is the complete fiab service configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	State     StateConfig     `yaml:"state"`
	Catalogue CatalogueConfig `yaml:"catalogue"`
	API       APIConfig       `yaml:"api"`
	Builder   BuilderConfig   `yaml:"builder"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StateConfig defines where saved fables and jobs are stored.
type StateConfig struct {
	Path string `yaml:"path"`
}

// CatalogueConfig points at the block factory catalogue file.
type CatalogueConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen string        `yaml:"listen"`
	Auth   APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey grants every scope. Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// BuilderConfig tunes the editing session.
type BuilderConfig struct {
	URLStateMaxLength  int           `yaml:"url_state_max_length"`
	ValidationDebounce time.Duration `yaml:"validation_debounce"`
	LayoutDebounce     time.Duration `yaml:"layout_debounce"`
}

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "fiab",
			LogLevel: "info",
		},
		State: StateConfig{
			Path: "./data/fiab.db",
		},
		Catalogue: CatalogueConfig{
			Path: "./catalogue.yaml",
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
		Builder: BuilderConfig{
			URLStateMaxLength:  6000,
			ValidationDebounce: 300 * time.Millisecond,
			LayoutDebounce:     300 * time.Millisecond,
		},
	}
}
