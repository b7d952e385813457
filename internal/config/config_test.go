package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"CDPLedger/internal/config"
)

// ============================================================================
// Test: defaults and validation
// ============================================================================

func TestDefaults_Validate(t *testing.T) {
	cfg := config.Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestDefaults_SettlementToken(t *testing.T) {
	cfg := config.Defaults()
	settlement := cfg.SettlementToken()
	if settlement.Symbol != "DUSD" {
		t.Errorf("settlement token: got %q, want DUSD", settlement.Symbol)
	}
	if !settlement.MintableAgainst {
		t.Error("the settlement token must be mintable")
	}
}

func TestValidate_ExactlyOneSettlementToken(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tokens[1].Settlement = true
	if err := cfg.Validate(); err == nil {
		t.Error("two settlement tokens should be rejected")
	}

	cfg = config.Defaults()
	cfg.Tokens[0].Settlement = false
	if err := cfg.Validate(); err == nil {
		t.Error("zero settlement tokens should be rejected")
	}
}

func TestValidate_DuplicateSymbol(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tokens[2].Symbol = cfg.Tokens[1].Symbol
	if err := cfg.Validate(); err == nil {
		t.Error("duplicate token symbols should be rejected")
	}
}

func TestValidate_BurnRatioBounds(t *testing.T) {
	cfg := config.Defaults()
	cfg.Auction.BurnRatio = 1_000_001
	if err := cfg.Validate(); err == nil {
		t.Error("burn ratio above 100% should be rejected")
	}

	cfg = config.Defaults()
	cfg.Auction.BurnRatio = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative burn ratio should be rejected")
	}
}

func TestValidate_BadUUIDs(t *testing.T) {
	cfg := config.Defaults()
	cfg.Auction.FeeVault = "not-a-uuid"
	if err := cfg.Validate(); err == nil {
		t.Error("malformed fee_vault should be rejected")
	}

	cfg = config.Defaults()
	cfg.Engine.AdminRoot = "not-a-uuid"
	if err := cfg.Validate(); err == nil {
		t.Error("malformed admin_root should be rejected")
	}
}

func TestPersistFlushTimeout(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.PersistFlushMs = 25
	if got := cfg.PersistFlushTimeout(); got != 25*time.Millisecond {
		t.Errorf("got %v, want 25ms", got)
	}
}

// ============================================================================
// Test: loading
// ============================================================================

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("http addr: got %q, want default :8080", cfg.Server.HTTPAddr)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdpledger.toml")
	body := `
log_level = "debug"

[server]
http_addr = ":9999"

[auction]
burn_ratio = 900000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %q, want debug", cfg.LogLevel)
	}
	if cfg.Server.HTTPAddr != ":9999" {
		t.Errorf("http addr: got %q, want :9999", cfg.Server.HTTPAddr)
	}
	if cfg.Auction.BurnRatio != 900_000 {
		t.Errorf("burn ratio: got %d, want 900_000", cfg.Auction.BurnRatio)
	}
	// Untouched sections keep their defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("nats url: got %q, want default", cfg.NATS.URL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("CDP_HTTP_ADDR", ":7777")
	t.Setenv("CDP_AUCTION_BURN_RATIO", "800000")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":7777" {
		t.Errorf("http addr: got %q, want :7777", cfg.Server.HTTPAddr)
	}
	if cfg.Auction.BurnRatio != 800_000 {
		t.Errorf("burn ratio: got %d, want 800_000", cfg.Auction.BurnRatio)
	}
}
