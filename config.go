package courier

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/scheduler"
)

// Config holds the configuration for a Courier instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int `mapstructure:"concurrency"`

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxAttempts is the number of HTTP attempts a delivery series may make.
	MaxAttempts int `mapstructure:"max_attempts"`

	// BackoffBase is the delay after the first failed attempt. Later delays double.
	BackoffBase time.Duration `mapstructure:"backoff_base"`

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration `mapstructure:"backoff_max"`

	// MaxJobDeliveries fails a queue job handed out this many times without an ack.
	MaxJobDeliveries int `mapstructure:"max_job_deliveries"`

	// RetryInterval is the period of the retry sweep.
	RetryInterval time.Duration `mapstructure:"retry_interval"`

	// RetentionInterval is the period of the retention sweep.
	RetentionInterval time.Duration `mapstructure:"retention_interval"`

	// Retention is how long delivered and failed logs are kept.
	Retention time.Duration `mapstructure:"retention"`

	// SweepBatchSize bounds how many due logs one retry sweep query loads.
	SweepBatchSize int `mapstructure:"sweep_batch_size"`

	// DeferDelay is how long a log waits for the sweep when its job could not be enqueued.
	DeferDelay time.Duration `mapstructure:"defer_delay"`

	// StaleAfter is how long a log may stay pending without an update before
	// the retry sweep enqueues it again. It must exceed the queue visibility
	// timeout plus RequestTimeout.
	StaleAfter time.Duration `mapstructure:"stale_after"`

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		RequestTimeout:    30 * time.Second,
		MaxAttempts:       5,
		BackoffBase:       delivery.DefaultBaseDelay,
		BackoffMax:        delivery.DefaultMaxDelay,
		MaxJobDeliveries:  5,
		RetryInterval:     scheduler.DefaultRetryInterval,
		RetentionInterval: scheduler.DefaultRetentionInterval,
		Retention:         scheduler.DefaultRetention,
		SweepBatchSize:    scheduler.DefaultBatchSize,
		DeferDelay:        scheduler.DefaultDeferDelay,
		StaleAfter:        scheduler.DefaultStaleAfter,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return fmt.Errorf("courier: concurrency must be at least 1, got %d", c.Concurrency)
	case c.MaxAttempts < 1:
		return fmt.Errorf("courier: max_attempts must be at least 1, got %d", c.MaxAttempts)
	case c.RequestTimeout <= 0:
		return errors.New("courier: request_timeout must be positive")
	case c.BackoffMax < c.BackoffBase:
		return errors.New("courier: backoff_max must not be below backoff_base")
	case c.RetryInterval < time.Second:
		return errors.New("courier: retry_interval must be at least 1s")
	case c.StaleAfter > 0 && c.StaleAfter <= c.RequestTimeout:
		return errors.New("courier: stale_after must exceed request_timeout")
	}
	return nil
}

func (c Config) backoff() delivery.Backoff {
	return delivery.Backoff{Base: c.BackoffBase, Max: c.BackoffMax}
}

func (c Config) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		RetryInterval:     c.RetryInterval,
		RetentionInterval: c.RetentionInterval,
		Retention:         c.Retention,
		BatchSize:         c.SweepBatchSize,
		DeferDelay:        c.DeferDelay,
		StaleAfter:        c.StaleAfter,
	}
}

// EnvPrefix prefixes environment overrides, e.g. COURIER_MAX_ATTEMPTS.
const EnvPrefix = "COURIER"

// NewViper returns a viper instance seeded with DefaultConfig and reading
// path, or courier.yaml from the working directory when path is empty.
// A missing default file is not an error. Nested keys map to environment
// variables with dots replaced by underscores.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("concurrency", def.Concurrency)
	v.SetDefault("request_timeout", def.RequestTimeout)
	v.SetDefault("max_attempts", def.MaxAttempts)
	v.SetDefault("backoff_base", def.BackoffBase)
	v.SetDefault("backoff_max", def.BackoffMax)
	v.SetDefault("max_job_deliveries", def.MaxJobDeliveries)
	v.SetDefault("retry_interval", def.RetryInterval)
	v.SetDefault("retention_interval", def.RetentionInterval)
	v.SetDefault("retention", def.Retention)
	v.SetDefault("sweep_batch_size", def.SweepBatchSize)
	v.SetDefault("defer_delay", def.DeferDelay)
	v.SetDefault("stale_after", def.StaleAfter)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("courier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("courier: read config: %w", err)
		}
	}
	return v, nil
}

// ConfigFrom decodes the delivery settings held by v.
func ConfigFrom(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("courier: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a Config from path (see NewViper) and the environment.
func LoadConfig(path string) (Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return Config{}, err
	}
	return ConfigFrom(v)
}
