package config

import "time"

// UserConfig holds all of the user-configurable options. The fields here are
// all in PascalCase but in your actual config.yml they'll be in camelCase.
// You can view the default config with `fieldline --config`. Be careful: if
// you set an `engine:` yaml key but give it no child values, it will scrap
// all of the defaults.
type UserConfig struct {
	// Engine holds the scheduling knobs for the memory execution runtime
	Engine EngineConfig `yaml:"engine,omitempty"`

	// Database configures the configuration store and the historian
	Database DatabaseConfig `yaml:"database,omitempty"`
}

// EngineConfig holds the scheduling knobs for the memory execution runtime
type EngineConfig struct {
	// BaseTick is the base cycle period of every processor. Per-block
	// intervals are gated on top of this, so it is the floor of the
	// engine's temporal resolution.
	BaseTick time.Duration `yaml:"baseTick,omitempty"`

	// ConfigRefresh is how often processors re-read their block
	// configuration from the database
	ConfigRefresh time.Duration `yaml:"configRefresh,omitempty"`

	// StoreWaitAttempts bounds the startup wait for the configuration
	// database. Each processor retries with back-off capped at
	// StoreWaitDelay before giving up.
	StoreWaitAttempts int           `yaml:"storeWaitAttempts,omitempty"`
	StoreWaitDelay    time.Duration `yaml:"storeWaitDelay,omitempty"`

	// CascadePropagationDelay is the pause between PID cascade levels so
	// that child setpoints read parent outputs from the same cycle
	CascadePropagationDelay time.Duration `yaml:"cascadePropagationDelay,omitempty"`
}

// DatabaseConfig configures the configuration store and the historian
type DatabaseConfig struct {
	// PostgresDSN is the connection string of the configuration database.
	// When empty the engine runs on its in-memory store, which is only
	// useful for development.
	PostgresDSN string `yaml:"postgresDsn,omitempty"`
}

// GetDefaultConfig returns the application default configuration
// NOTE (to contributors, not users): do not default a boolean to true, because false is the boolean zero value and this will be ignored when parsing the user's config
func GetDefaultConfig() UserConfig {
	return UserConfig{
		Engine: EngineConfig{
			BaseTick:                time.Second,
			ConfigRefresh:           60 * time.Second,
			StoreWaitAttempts:       30,
			StoreWaitDelay:          2 * time.Second,
			CascadePropagationDelay: 50 * time.Millisecond,
		},
		Database: DatabaseConfig{
			PostgresDSN: "",
		},
	}
}
