package config

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// SecretReader reads a KV secret by path
type SecretReader interface {
	GetSecret(ctx context.Context, path string) (map[string]interface{}, error)
}

// VaultClient wraps HashiCorp Vault client
type VaultClient struct {
	client *vault.Client
	config *VaultConfig
}

// NewVaultClient creates a new Vault client, or nil when Vault is disabled
func NewVaultClient(cfg *VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	token, err := cfg.GetVaultToken()
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return &VaultClient{
		client: client,
		config: cfg,
	}, nil
}

// GetSecret retrieves a secret from Vault
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	if vc == nil {
		return nil, fmt.Errorf("vault client is not initialized")
	}

	mount := vc.config.Mount
	if mount == "" {
		mount = "secret"
	}

	secret, err := vc.client.KVv2(mount).Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret not found: %s", path)
	}

	return secret.Data, nil
}

// ApplyVaultSecrets overlays secrets from Vault onto the configuration.
// A nil reader leaves the configuration untouched.
func ApplyVaultSecrets(ctx context.Context, cfg *Config, secrets SecretReader) error {
	if secrets == nil {
		return nil
	}
	if vc, ok := secrets.(*VaultClient); ok && vc == nil {
		return nil
	}

	if cfg.Upstream.VaultPath != "" {
		secret, err := secrets.GetSecret(ctx, cfg.Upstream.VaultPath)
		if err != nil {
			return fmt.Errorf("failed to get upstream secrets: %w", err)
		}
		setString(secret, "username", &cfg.Upstream.Username)
		setString(secret, "password", &cfg.Upstream.Password)
		setString(secret, "login_url", &cfg.Upstream.LoginURL)
	}

	if cfg.Tarantool.VaultPath != "" {
		secret, err := secrets.GetSecret(ctx, cfg.Tarantool.VaultPath)
		if err != nil {
			return fmt.Errorf("failed to get tarantool secrets: %w", err)
		}
		setString(secret, "user", &cfg.Tarantool.User)
		setString(secret, "password", &cfg.Tarantool.Password)
	}

	if cfg.MinIO.VaultPath != "" {
		secret, err := secrets.GetSecret(ctx, cfg.MinIO.VaultPath)
		if err != nil {
			return fmt.Errorf("failed to get minio secrets: %w", err)
		}
		setString(secret, "access_key_id", &cfg.MinIO.AccessKeyID)
		setString(secret, "secret_access_key", &cfg.MinIO.SecretAccessKey)
	}

	return nil
}

func setString(secret map[string]interface{}, key string, dst *string) {
	if v, ok := secret[key].(string); ok && v != "" {
		*dst = v
	}
}
