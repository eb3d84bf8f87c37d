package config

import (
	"context"
	"errors"
	"testing"
)

type mockSecretReader struct {
	secrets map[string]map[string]interface{}
	err     error
}

func (m *mockSecretReader) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.secrets[path]
	if !ok {
		return nil, errors.New("secret not found: " + path)
	}
	return s, nil
}

func TestNewVaultClient_Disabled(t *testing.T) {
	client, err := NewVaultClient(&VaultConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != nil {
		t.Error("expected nil client when vault is disabled")
	}
}

func TestNewVaultClient_NoToken(t *testing.T) {
	_, err := NewVaultClient(&VaultConfig{Enabled: true, Address: "http://localhost:8200"})
	if err == nil {
		t.Fatal("expected error when token is not configured")
	}
}

func TestVaultClient_GetSecret_NilClient(t *testing.T) {
	var vc *VaultClient

	_, err := vc.GetSecret(context.Background(), "secret/path")
	if err == nil {
		t.Fatal("expected error for nil client")
	}
	if err.Error() != "vault client is not initialized" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestApplyVaultSecrets_NilClient(t *testing.T) {
	cfg := &Config{Upstream: UpstreamConfig{Username: "original_user", VaultPath: "relay/upstream"}}

	var vc *VaultClient
	if err := ApplyVaultSecrets(context.Background(), cfg, vc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Upstream.Username != "original_user" {
		t.Error("expected original user to remain unchanged")
	}
}

func TestApplyVaultSecrets_OverlaysAllSections(t *testing.T) {
	cfg := &Config{
		Upstream:  UpstreamConfig{Username: "env-user", Password: "env-pass", VaultPath: "relay/upstream"},
		Tarantool: TarantoolConfig{VaultPath: "relay/tarantool"},
		MinIO:     MinIOConfig{VaultPath: "relay/minio"},
	}
	reader := &mockSecretReader{secrets: map[string]map[string]interface{}{
		"relay/upstream":  {"username": "vault-user", "password": "vault-pass"},
		"relay/tarantool": {"user": "tt", "password": "tt-pass"},
		"relay/minio":     {"access_key_id": "AK", "secret_access_key": "SK"},
	}}

	if err := ApplyVaultSecrets(context.Background(), cfg, reader); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Upstream.Username != "vault-user" || cfg.Upstream.Password != "vault-pass" {
		t.Errorf("upstream credentials not applied: %+v", cfg.Upstream)
	}
	if cfg.Upstream.LoginURL != "" {
		t.Errorf("login url should stay empty when vault has none, got %q", cfg.Upstream.LoginURL)
	}
	if cfg.Tarantool.User != "tt" || cfg.Tarantool.Password != "tt-pass" {
		t.Errorf("tarantool credentials not applied: %+v", cfg.Tarantool)
	}
	if cfg.MinIO.AccessKeyID != "AK" || cfg.MinIO.SecretAccessKey != "SK" {
		t.Errorf("minio credentials not applied: %+v", cfg.MinIO)
	}
}

func TestApplyVaultSecrets_ReadError(t *testing.T) {
	cfg := &Config{Upstream: UpstreamConfig{VaultPath: "relay/upstream"}}
	reader := &mockSecretReader{err: errors.New("permission denied")}

	if err := ApplyVaultSecrets(context.Background(), cfg, reader); err == nil {
		t.Fatal("expected error when vault read fails")
	}
}
