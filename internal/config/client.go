package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ClientConfig configures assetctl, the client side of the cancellation flow
type ClientConfig struct {
	InstanceURL    string        `envconfig:"INSTANCE_URL"`
	AccessToken    string        `envconfig:"ACCESS_TOKEN"`
	APIVersion     string        `envconfig:"API_VERSION" default:"55.0"`
	PricebookID    string        `envconfig:"PRICEBOOK_ID"`
	RelayURL       string        `envconfig:"RELAY_URL" default:"ws://localhost:5000/ws"`
	RelayTransport string        `envconfig:"RELAY_TRANSPORT" default:"ws"` // ws or grpc
	EventName      string        `envconfig:"EVENT_NAME" default:"AssetEvent"`
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	AwaitTimeout   time.Duration `envconfig:"AWAIT_TIMEOUT" default:"10m"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	BufferMaxAge   time.Duration `envconfig:"BUFFER_MAX_AGE" default:"30m"`
	Logger         LoggerConfig
}

// LoadClient reads ASSETCTL_* environment variables
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := envconfig.Process("assetctl", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	return cfg, nil
}

// Validate validates the client configuration
func (c *ClientConfig) Validate() error {
	if c.InstanceURL == "" {
		return fmt.Errorf("instance url is required")
	}
	if _, err := url.ParseRequestURI(c.InstanceURL); err != nil {
		return fmt.Errorf("invalid instance url: %w", err)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	if c.APIVersion == "" {
		return fmt.Errorf("api version is required")
	}
	switch c.RelayTransport {
	case "ws", "grpc":
	default:
		return fmt.Errorf("invalid relay transport: %q", c.RelayTransport)
	}
	if c.RelayURL == "" {
		return fmt.Errorf("relay url is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.AwaitTimeout < 0 {
		return fmt.Errorf("await timeout cannot be negative")
	}
	return nil
}
