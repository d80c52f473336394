package config

import (
	"strings"
	"testing"
	"time"
)

// clearGatewayEnv resets every variable the loader reads so tests are
// hermetic regardless of the developer's shell.
func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "READ_TIMEOUT", "READ_HEADER_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT",
		"REQUEST_TIMEOUT", "MAX_HEADER_BYTES", "GIN_MODE", "LOG_LEVEL", "LOG_PRETTY",
		"DB_PATH", "DEFAULT_PROVIDER", "DRY_RUN",
		"PORKBUN_API_KEY", "PORKBUN_SECRET_KEY",
		"NAMECHEAP_API_USER", "NAMECHEAP_API_KEY", "NAMECHEAP_USERNAME", "NAMECHEAP_CLIENT_IP",
		"ALLOWLIST_TLDS", "MAX_PER_TXN_USD", "MAX_DAILY_USD", "MAX_DOMAINS_PER_SEARCH",
		"RATE_LIMIT_RPM", "RATE_LIMIT_BURST", "IDEMPOTENCY_TTL", "SPEND_RETENTION_DAYS",
		"CORS_ALLOWED_ORIGINS", "OTEL_ENABLED", "OTEL_TRACES_SAMPLER_ARG",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearGatewayEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("default port: %q", cfg.Port)
	}
	if cfg.DefaultProvider != ProviderPorkbun {
		t.Fatalf("default provider: %q", cfg.DefaultProvider)
	}
	if cfg.MaxPerTxnUSD != 1000 || cfg.MaxDailyUSD != 5000 {
		t.Fatalf("default caps: %v / %v", cfg.MaxPerTxnUSD, cfg.MaxDailyUSD)
	}
	if cfg.RateLimitRPM != 60 || cfg.RateLimitBurst != 30 {
		t.Fatalf("default limiter params: %d / %d", cfg.RateLimitRPM, cfg.RateLimitBurst)
	}
	if cfg.MaxDomainsPerSearch != 20 {
		t.Fatalf("default search cap: %d", cfg.MaxDomainsPerSearch)
	}
	if cfg.IdempotencyTTL != time.Hour {
		t.Fatalf("default idempotency ttl: %v", cfg.IdempotencyTTL)
	}
	if len(cfg.AllowlistTLDs) != 0 {
		t.Fatalf("default allowlist must be empty: %v", cfg.AllowlistTLDs)
	}
}

func TestLoad_DryRunDefaultsOn(t *testing.T) {
	clearGatewayEnv(t)

	// Unset and arbitrary values keep the safety on.
	for _, v := range []string{"", "0", "no", "FALSE", "False", "off"} {
		t.Setenv("DRY_RUN", v)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !cfg.DryRun {
			t.Fatalf("DRY_RUN=%q must keep dry run on", v)
		}
	}

	// Only the exact string "false" disables it.
	t.Setenv("DRY_RUN", "false")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DryRun {
		t.Fatal("DRY_RUN=false must disable dry run")
	}
}

func TestLoad_DailyCapMustCoverTxnCap(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("MAX_PER_TXN_USD", "2000")
	t.Setenv("MAX_DAILY_USD", "1000")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error when daily cap < per-txn cap")
	}
}

func TestLoad_AllowlistNormalized(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("ALLOWLIST_TLDS", "COM, io ,net")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if strings.Join(cfg.AllowlistTLDs, ",") != "com,io,net" {
		t.Fatalf("allowlist: %v", cfg.AllowlistTLDs)
	}
	if !cfg.TLDAllowed("IO") || cfg.TLDAllowed("dev") {
		t.Fatalf("TLDAllowed mismatch: %v", cfg.AllowlistTLDs)
	}
}

func TestLoad_AllowlistRejectsNonAlpha(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("ALLOWLIST_TLDS", "com,c0m")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for numeric tld")
	}
}

func TestLoad_UnknownProviderRejected(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("DEFAULT_PROVIDER", "godaddy")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for unknown provider")
	}
}

func TestTLDAllowed_EmptyAllowlistPermitsAll(t *testing.T) {
	cfg := Config{}
	if !cfg.TLDAllowed("anything") {
		t.Fatal("empty allowlist must permit every tld")
	}
}
