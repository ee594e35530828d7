package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidatesAfterRequiredFields(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("defaults alone must not validate: DSN and signer URL are required")
	}
	cfg.Database.DSN = "postgres://localhost/voix"
	cfg.Signer.BaseURL = "https://signer.example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
chain:
  rpc_url: https://rpc.file.example.com
  confirm_retries: 9
signer:
  base_url: https://signer.file.example.com
database:
  dsn: postgres://file/voix
sweeper:
  schedule: "@every 5m"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SOLANA_RPC_URL", "https://rpc.env.example.com")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Environment wins over the file, the file wins over defaults.
	if cfg.Chain.RPCURL != "https://rpc.env.example.com" {
		t.Errorf("rpc url = %q", cfg.Chain.RPCURL)
	}
	if cfg.Database.DSN != "postgres://file/voix" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Chain.ConfirmRetries != 9 {
		t.Errorf("confirm retries = %d", cfg.Chain.ConfirmRetries)
	}
	if cfg.Sweeper.Schedule != "@every 5m" {
		t.Errorf("schedule = %q", cfg.Sweeper.Schedule)
	}
	// Untouched defaults survive.
	if cfg.Chain.ConfirmBackoff != 2*time.Second {
		t.Errorf("confirm backoff = %s", cfg.Chain.ConfirmBackoff)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/voix")
	t.Setenv("SIGNER_BASE_URL", "https://signer.env.example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.RPCURL != "https://api.devnet.solana.com" {
		t.Errorf("rpc url = %q", cfg.Chain.RPCURL)
	}
}
