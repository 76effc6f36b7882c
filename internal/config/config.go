package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database" validate:"required"`
	Redis       RedisConfig       `mapstructure:"redis" validate:"required"`
	Queue       QueueConfig       `mapstructure:"queue" validate:"required"`
	Task        TaskConfig        `mapstructure:"task" validate:"required"`
	Case        CaseConfig        `mapstructure:"case" validate:"required"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline" validate:"required"`
	Processor   ProcessorConfig   `mapstructure:"processor" validate:"required"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Experiments ExperimentsConfig `mapstructure:"experiments"`
	Auth        AuthConfig        `mapstructure:"auth" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gt=0"`
}

// RedisConfig points at the key-value store holding case data, blobs and
// queue results.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// QueueConfig selects and tunes the stage queue backend.
type QueueConfig struct {
	Backend     string        `mapstructure:"backend" validate:"required,oneof=local nats"`
	NATSURL     string        `mapstructure:"nats_url" validate:"required_if=Backend nats"`
	Stream      string        `mapstructure:"stream" validate:"required"`
	Concurrency int           `mapstructure:"concurrency" validate:"gt=0"`
	Size        int           `mapstructure:"size" validate:"gt=0"`
	AckWait     time.Duration `mapstructure:"ack_wait" validate:"gt=0"`
}

// TaskConfig holds retry and timeout limits shared by the chain stages and
// the processors.
type TaskConfig struct {
	Retention           time.Duration `mapstructure:"retention" validate:"gt=0"`
	MaxRetries          int           `mapstructure:"max_retries" validate:"gt=0"`
	RetryInterval       time.Duration `mapstructure:"retry_interval" validate:"gt=0"`
	CallbackTimeout     time.Duration `mapstructure:"callback_timeout" validate:"gt=0"`
	LinkDownloadTimeout time.Duration `mapstructure:"link_download_timeout" validate:"gt=0"`
}

// CaseConfig controls case-scoped key-value data.
type CaseConfig struct {
	TTL time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// PipelineConfig chooses how new tasks are driven and which redaction engine
// runs the redact stage.
type PipelineConfig struct {
	Mode            string `mapstructure:"mode" validate:"required,oneof=chain processor"`
	DefaultRenderer string `mapstructure:"default_renderer" validate:"required,oneof=PDF TEXT HTML JSON"`
	Redactor        string `mapstructure:"redactor" validate:"required,oneof=placeholder http"`
	RedactorURL     string `mapstructure:"redactor_url" validate:"required_if=Redactor http"`
}

// ProcessorConfig tunes the claim/execute processors and the reconciler.
type ProcessorConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	OrphanGrace       time.Duration `mapstructure:"orphan_grace" validate:"gt=0"`
	StaleJobAfter     time.Duration `mapstructure:"stale_job_after" validate:"gt=0"`
	ChainTimeout      time.Duration `mapstructure:"chain_timeout" validate:"gt=0"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"gt=0"`
}

// StorageConfig holds credentials for s3:// target blob URLs.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ExperimentsConfig is the boolean decision consumed from the experiment
// service.
type ExperimentsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	Method          string        `mapstructure:"method" validate:"required,oneof=none preshared client_credentials"`
	PresharedHashes []string      `mapstructure:"preshared_hashes" validate:"required_if=Method preshared"`
	JWTSecret       string        `mapstructure:"jwt_secret" validate:"required_if=Method client_credentials"`
	TokenLifetime   time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}
