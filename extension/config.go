package extension

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/xraph/courier"
)

// ConfigKey is the section read by LoadConfig.
const ConfigKey = "courier"

// Config holds configuration for the courier Forge extension.
// Fields can be set programmatically via ExtOption functions or loaded from
// a "courier" section of the application config.
type Config struct {
	// Config embeds the core courier configuration.
	courier.Config `json:",inline" yaml:",inline" mapstructure:",squash"`

	// BasePath is the URL prefix for all courier routes (default: "/webhooks").
	BasePath string `json:"base_path" yaml:"base_path" mapstructure:"base_path"`

	// DisableRoutes disables route registration with the Forge router.
	DisableRoutes bool `json:"disable_routes" yaml:"disable_routes" mapstructure:"disable_routes"`

	// DisableMigrate disables store migration on Init.
	DisableMigrate bool `json:"disable_migrate" yaml:"disable_migrate" mapstructure:"disable_migrate"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Config:   courier.DefaultConfig(),
		BasePath: "/webhooks",
	}
}

// LoadConfig reads the "courier" section of v over DefaultConfig. A missing
// section yields the defaults.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	sub := v.Sub(ConfigKey)
	if sub == nil {
		return cfg, nil
	}
	if err := sub.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("extension: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// courierOptions converts the embedded Config into courier options.
func (c Config) courierOptions() []courier.Option {
	return []courier.Option{courier.WithConfig(c.Config)}
}
