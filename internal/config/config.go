package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
)

// Config represents the relay configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Tarantool TarantoolConfig `yaml:"tarantool"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Vault     VaultConfig     `yaml:"vault"`
	Logger    LoggerConfig    `yaml:"logger"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig represents the client-facing listeners
type ServerConfig struct {
	Port          int           `yaml:"port" envconfig:"PORT" default:"5000"`
	GRPCPort      int           `yaml:"grpc_port" envconfig:"GRPC_PORT" default:"50051"`
	Path          string        `yaml:"path" envconfig:"SERVER_PATH" default:"/ws"`
	EventName     string        `yaml:"event_name" envconfig:"SERVER_EVENT_NAME" default:"AssetEvent"`
	QueueSize     int           `yaml:"queue_size" envconfig:"SERVER_QUEUE_SIZE" default:"64"`
	Overflow      string        `yaml:"overflow" envconfig:"SERVER_OVERFLOW" default:"drop_oldest"` // drop_oldest or disconnect
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"10s"`
	PingInterval  time.Duration `yaml:"ping_interval" envconfig:"SERVER_PING_INTERVAL" default:"25s"`
	ConnectRate   float64       `yaml:"connect_rate" envconfig:"SERVER_CONNECT_RATE" default:"50"`
	ConnectBurst  int           `yaml:"connect_burst" envconfig:"SERVER_CONNECT_BURST" default:"100"`
	AllowedOrigin string        `yaml:"allowed_origin" envconfig:"SERVER_ALLOWED_ORIGIN" default:"*"`
}

// UpstreamConfig represents the platform event source
type UpstreamConfig struct {
	Kind             string          `yaml:"kind" envconfig:"UPSTREAM_KIND" default:"cometd"` // cometd or nats
	LoginURL         string          `yaml:"login_url" envconfig:"LOGIN_URL" default:"https://login.salesforce.com"`
	Username         string          `yaml:"username" envconfig:"USERNAME"`
	Password         string          `yaml:"password" envconfig:"PASSWORD"`
	APIVersion       string          `yaml:"api_version" envconfig:"UPSTREAM_API_VERSION" default:"55.0"`
	Topic            string          `yaml:"topic" envconfig:"UPSTREAM_TOPIC" default:"/event/AssetCancelInitiatedEvent"`
	Replay           string          `yaml:"replay" envconfig:"UPSTREAM_REPLAY" default:"new_only"`
	RequestTimeout   time.Duration   `yaml:"request_timeout" envconfig:"UPSTREAM_REQUEST_TIMEOUT" default:"30s"`
	ResumeFromCursor bool            `yaml:"resume_from_cursor" envconfig:"UPSTREAM_RESUME_FROM_CURSOR" default:"false"`
	NATSURL          string          `yaml:"nats_url" envconfig:"UPSTREAM_NATS_URL" default:"nats://localhost:4222"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`

	// Vault path for username/password (optional)
	VaultPath string `yaml:"vault_path" envconfig:"UPSTREAM_VAULT_PATH"`
}

// ReconnectConfig governs the supervised re-subscription
type ReconnectConfig struct {
	Enabled         bool          `yaml:"enabled" envconfig:"RECONNECT_ENABLED" default:"true"`
	InitialInterval time.Duration `yaml:"initial_interval" envconfig:"RECONNECT_INITIAL_INTERVAL" default:"1s"`
	MaxInterval     time.Duration `yaml:"max_interval" envconfig:"RECONNECT_MAX_INTERVAL" default:"1m"`
	MaxElapsed      time.Duration `yaml:"max_elapsed" envconfig:"RECONNECT_MAX_ELAPSED" default:"0s"` // 0 retries forever
	Multiplier      float64       `yaml:"multiplier" envconfig:"RECONNECT_MULTIPLIER" default:"2"`
	Jitter          float64       `yaml:"jitter" envconfig:"RECONNECT_JITTER" default:"0.5"`
}

// TarantoolConfig represents the optional replay cursor store
type TarantoolConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"TARANTOOL_ENABLED" default:"false"`
	Address  string        `yaml:"address" envconfig:"TARANTOOL_ADDRESS" default:"localhost:3301"`
	User     string        `yaml:"user" envconfig:"TARANTOOL_USER" default:"assetrelay"`
	Password string        `yaml:"password" envconfig:"TARANTOOL_PASSWORD"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TARANTOOL_TIMEOUT" default:"5s"`

	// Vault path for credentials (optional)
	VaultPath string `yaml:"vault_path" envconfig:"TARANTOOL_VAULT_PATH"`
}

// MinIOConfig represents the optional event archive
type MinIOConfig struct {
	Enabled         bool   `yaml:"enabled" envconfig:"MINIO_ENABLED" default:"false"`
	Endpoint        string `yaml:"endpoint" envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" envconfig:"MINIO_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" envconfig:"MINIO_SECRET_ACCESS_KEY"`
	UseSSL          bool   `yaml:"use_ssl" envconfig:"MINIO_USE_SSL" default:"false"`
	BucketName      string `yaml:"bucket_name" envconfig:"MINIO_BUCKET_NAME" default:"asset-events"`
	QueueSize       int    `yaml:"queue_size" envconfig:"MINIO_QUEUE_SIZE" default:"256"`

	// Archived objects older than Retention are removed every
	// RetentionInterval. Zero keeps them forever.
	Retention         time.Duration `yaml:"retention" envconfig:"MINIO_RETENTION" default:"0s"`
	RetentionInterval time.Duration `yaml:"retention_interval" envconfig:"MINIO_RETENTION_INTERVAL" default:"1h"`

	// Vault path for credentials (optional)
	VaultPath string `yaml:"vault_path" envconfig:"MINIO_VAULT_PATH"`
}

// VaultConfig represents HashiCorp Vault configuration
type VaultConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"VAULT_ENABLED" default:"false"`
	Address   string `yaml:"address" envconfig:"VAULT_ADDR" default:"http://localhost:8200"`
	Token     string `yaml:"token" envconfig:"VAULT_TOKEN"`
	TokenPath string `yaml:"token_path" envconfig:"VAULT_TOKEN_PATH"`
	Namespace string `yaml:"namespace" envconfig:"VAULT_NAMESPACE"`
	Mount     string `yaml:"mount" envconfig:"VAULT_MOUNT" default:"secret"`
}

// LoggerConfig represents logger configuration
type LoggerConfig struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format     string `yaml:"format" envconfig:"LOG_FORMAT" default:"json"` // json or console
	OutputPath string `yaml:"output_path" envconfig:"LOG_OUTPUT_PATH" default:"stdout"`
}

// MetricsConfig represents the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"METRICS_ENABLED" default:"true"`
	Path    string `yaml:"path" envconfig:"METRICS_PATH" default:"/metrics"`
}

// Load loads configuration from file and environment variables.
// Precedence: struct tag defaults, then the file, then environment variables.
func Load(configPath string) (*Config, error) {
	envCfg := &Config{}
	if err := envconfig.Process("", envCfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	cfg := &Config{}
	*cfg = *envCfg

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		overlayEnv(reflect.ValueOf(cfg).Elem(), reflect.ValueOf(envCfg).Elem())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// overlayEnv copies every field whose environment variable is set from env into dst.
func overlayEnv(dst, env reflect.Value) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() == reflect.Struct {
			overlayEnv(dst.Field(i), env.Field(i))
			continue
		}
		name := field.Tag.Get("envconfig")
		if name == "" {
			continue
		}
		if _, ok := os.LookupEnv(name); ok {
			dst.Field(i).Set(env.Field(i))
		}
	}
}

// loadFromFile loads configuration from YAML file
func loadFromFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	return decoder.Decode(cfg)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.Server.GRPCPort)
	}

	if c.Server.EventName == "" {
		return fmt.Errorf("server event name is required")
	}

	if c.Server.QueueSize <= 0 {
		return fmt.Errorf("server queue size must be positive")
	}

	switch c.Server.Overflow {
	case "drop_oldest", "disconnect":
	default:
		return fmt.Errorf("invalid overflow policy: %q", c.Server.Overflow)
	}

	if c.Upstream.Topic == "" {
		return fmt.Errorf("upstream topic is required")
	}

	replay, err := entity.ParseReplayPolicy(c.Upstream.Replay)
	if err != nil {
		return err
	}

	switch c.Upstream.Kind {
	case "cometd":
		if c.Upstream.LoginURL == "" {
			return fmt.Errorf("upstream login url is required")
		}
		if c.Upstream.APIVersion == "" {
			return fmt.Errorf("upstream api version is required")
		}
	case "nats":
		if c.Upstream.NATSURL == "" {
			return fmt.Errorf("upstream nats url is required")
		}
		if replay != entity.ReplayNewOnly {
			return fmt.Errorf("nats upstream only supports replay policy new_only")
		}
		if c.Upstream.ResumeFromCursor {
			return fmt.Errorf("nats upstream cannot resume from a cursor")
		}
	default:
		return fmt.Errorf("unknown upstream kind: %q", c.Upstream.Kind)
	}

	if c.Upstream.Reconnect.Enabled && c.Upstream.Reconnect.InitialInterval <= 0 {
		return fmt.Errorf("reconnect initial interval must be positive")
	}

	if c.Tarantool.Enabled && c.Tarantool.Address == "" {
		return fmt.Errorf("tarantool address is required when tarantool is enabled")
	}

	if c.MinIO.Enabled {
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("minio endpoint is required when minio is enabled")
		}
		if c.MinIO.BucketName == "" {
			return fmt.Errorf("minio bucket name is required when minio is enabled")
		}
		if c.MinIO.Retention < 0 {
			return fmt.Errorf("minio retention cannot be negative")
		}
		if c.MinIO.Retention > 0 && c.MinIO.RetentionInterval <= 0 {
			return fmt.Errorf("minio retention interval must be positive")
		}
	}

	if c.Vault.Enabled && c.Vault.Address == "" {
		return fmt.Errorf("vault address is required when vault is enabled")
	}

	return nil
}

// ReplayPolicy returns the parsed upstream replay policy
func (c *UpstreamConfig) ReplayPolicy() entity.ReplayPolicy {
	p, err := entity.ParseReplayPolicy(c.Replay)
	if err != nil {
		return entity.ReplayNewOnly
	}
	return p
}

// GetVaultToken returns the Vault token from config or file
func (c *VaultConfig) GetVaultToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}

	if c.TokenPath != "" {
		token, err := os.ReadFile(c.TokenPath)
		if err != nil {
			return "", fmt.Errorf("failed to read vault token from file: %w", err)
		}
		return string(token), nil
	}

	return "", fmt.Errorf("vault token not configured")
}
