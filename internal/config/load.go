package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. REDACTION_DATABASE_URL for database.url.
const EnvPrefix = "REDACTION"

const minJWTSecretLength = 32

// Load configuration from environment variables and an optional config.yaml
// in the working directory. Environment variables take precedence over values
// from config files. Returns a populated Config struct or an error if
// loading/validation fails.
func Load() (*Config, error) {
	return load("")
}

// LoadFromFile behaves like Load but reads the given YAML file, which must
// exist.
func LoadFromFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate applies struct-tag rules plus the cross-field rules tags cannot
// express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Auth.Method == "preshared" && len(c.Auth.PresharedHashes) == 0 {
		return errors.New("config validation failed: auth.preshared_hashes is required for preshared auth")
	}
	if c.Auth.Method == "client_credentials" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("config validation failed: auth.jwt_secret must be at least %d characters", minJWTSecretLength)
	}
	longest := c.Task.LinkDownloadTimeout + 30*time.Second
	if redact := 300 * time.Second; redact > longest {
		longest = redact
	}
	if c.Queue.Backend == "nats" && c.Queue.AckWait <= longest {
		return fmt.Errorf("config validation failed: queue.ack_wait must exceed the longest stage limit (%s)", longest)
	}
	return nil
}

// setDefaults registers every key so environment overrides are picked up by
// Unmarshal, including keys without a meaningful default.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("queue.backend", "local")
	v.SetDefault("queue.nats_url", "nats://localhost:4222")
	v.SetDefault("queue.stream", "REDACTION")
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.size", 100)
	v.SetDefault("queue.ack_wait", 6*time.Minute)

	v.SetDefault("task.retention", 4*time.Hour)
	v.SetDefault("task.max_retries", 3)
	v.SetDefault("task.retry_interval", 60*time.Second)
	v.SetDefault("task.callback_timeout", 30*time.Second)
	v.SetDefault("task.link_download_timeout", 30*time.Second)

	v.SetDefault("case.ttl", 7*24*time.Hour)

	v.SetDefault("pipeline.mode", "chain")
	v.SetDefault("pipeline.default_renderer", "TEXT")
	v.SetDefault("pipeline.redactor", "placeholder")
	v.SetDefault("pipeline.redactor_url", "")

	v.SetDefault("processor.enabled", true)
	v.SetDefault("processor.poll_interval", 30*time.Second)
	v.SetDefault("processor.orphan_grace", 2*time.Minute)
	v.SetDefault("processor.stale_job_after", 10*time.Minute)
	v.SetDefault("processor.chain_timeout", 30*time.Minute)
	v.SetDefault("processor.reconcile_interval", time.Minute)

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", true)

	v.SetDefault("experiments.enabled", false)

	v.SetDefault("auth.method", "none")
	v.SetDefault("auth.preshared_hashes", []string{})
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime", 24*time.Hour)
}
