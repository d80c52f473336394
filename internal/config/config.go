// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database paths, registrar credentials, spend caps, rate limiting,
// and observability settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider names accepted for DEFAULT_PROVIDER.
const (
	ProviderPorkbun   = "porkbun"
	ProviderNamecheap = "namecheap"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// PorkbunConfig holds credentials for the Porkbun JSON API.
type PorkbunConfig struct {
	APIKey    string // PORKBUN_API_KEY
	SecretKey string // PORKBUN_SECRET_KEY
}

// NamecheapConfig holds credentials for the Namecheap XML API.
type NamecheapConfig struct {
	APIUser  string // NAMECHEAP_API_USER
	APIKey   string // NAMECHEAP_API_KEY
	Username string // NAMECHEAP_USERNAME
	ClientIP string // NAMECHEAP_CLIENT_IP
}

// Contact is the registrant contact attached to registrations.
type Contact struct {
	FirstName string // WINSTON_CONTACT_FIRST_NAME
	LastName  string // WINSTON_CONTACT_LAST_NAME
	Email     string // WINSTON_CONTACT_EMAIL
	Phone     string // WINSTON_CONTACT_PHONE
	Address   string // WINSTON_CONTACT_ADDRESS
	City      string // WINSTON_CONTACT_CITY
	State     string // WINSTON_CONTACT_STATE
	Zip       string // WINSTON_CONTACT_ZIP
	Country   string // WINSTON_CONTACT_COUNTRY
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	RequestTimeout    time.Duration // loaded and validated; not applied to request handling
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Persistence
	DBPath string // SQLite path

	// Registrars
	DefaultProvider string // porkbun|namecheap
	DryRun          bool   // mutating registrar calls simulated when true
	Porkbun         PorkbunConfig
	Namecheap       NamecheapConfig
	Contact         Contact

	// Safety policy
	AllowlistTLDs       []string // empty = all TLDs permitted
	MaxPerTxnUSD        float64  // MAX_PER_TXN_USD
	MaxDailyUSD         float64  // MAX_DAILY_USD, must be >= MaxPerTxnUSD
	MaxDomainsPerSearch int      // MAX_DOMAINS_PER_SEARCH

	// Rate limiting
	RateLimitRPM   int // requests per minute per account/IP
	RateLimitBurst int // token bucket size

	// Ledgers
	IdempotencyTTL     time.Duration // lifetime of a committed idempotency slot
	SpendRetentionDays int           // DailySpend rows older than this may be swept

	// Web protection
	CORS CORSConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		RequestTimeout:    getdur("REQUEST_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Persistence
		DBPath: getenv("DB_PATH", "gateway.db"),

		// Registrars
		DefaultProvider: strings.ToLower(getenv("DEFAULT_PROVIDER", ProviderPorkbun)),
		// Dry run is ON unless DRY_RUN is exactly "false". A typo'd value must
		// never enable real purchases.
		DryRun: os.Getenv("DRY_RUN") != "false",
		Porkbun: PorkbunConfig{
			APIKey:    getenv("PORKBUN_API_KEY", ""),
			SecretKey: getenv("PORKBUN_SECRET_KEY", ""),
		},
		Namecheap: NamecheapConfig{
			APIUser:  getenv("NAMECHEAP_API_USER", ""),
			APIKey:   getenv("NAMECHEAP_API_KEY", ""),
			Username: getenv("NAMECHEAP_USERNAME", ""),
			ClientIP: getenv("NAMECHEAP_CLIENT_IP", ""),
		},
		Contact: Contact{
			FirstName: getenv("WINSTON_CONTACT_FIRST_NAME", ""),
			LastName:  getenv("WINSTON_CONTACT_LAST_NAME", ""),
			Email:     getenv("WINSTON_CONTACT_EMAIL", ""),
			Phone:     getenv("WINSTON_CONTACT_PHONE", ""),
			Address:   getenv("WINSTON_CONTACT_ADDRESS", ""),
			City:      getenv("WINSTON_CONTACT_CITY", ""),
			State:     getenv("WINSTON_CONTACT_STATE", ""),
			Zip:       getenv("WINSTON_CONTACT_ZIP", ""),
			Country:   getenv("WINSTON_CONTACT_COUNTRY", "US"),
		},

		// Safety policy
		AllowlistTLDs:       splitCSV(strings.ToLower(getenv("ALLOWLIST_TLDS", ""))),
		MaxPerTxnUSD:        getfloat("MAX_PER_TXN_USD", 1000),
		MaxDailyUSD:         getfloat("MAX_DAILY_USD", 5000),
		MaxDomainsPerSearch: getint("MAX_DOMAINS_PER_SEARCH", 20),

		// Rate limiting
		RateLimitRPM:   getint("RATE_LIMIT_RPM", 60),
		RateLimitBurst: getint("RATE_LIMIT_BURST", 30),

		// Ledgers
		IdempotencyTTL:     getdur("IDEMPOTENCY_TTL", time.Hour),
		SpendRetentionDays: getint("SPEND_RETENTION_DAYS", 90),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-domain-gateway"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.RequestTimeout <= 0 {
		return cfg, errors.New("REQUEST_TIMEOUT must be > 0")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	switch cfg.DefaultProvider {
	case ProviderPorkbun, ProviderNamecheap:
	default:
		return cfg, fmt.Errorf("DEFAULT_PROVIDER must be %q or %q", ProviderPorkbun, ProviderNamecheap)
	}
	if cfg.MaxPerTxnUSD <= 0 {
		return cfg, errors.New("MAX_PER_TXN_USD must be > 0")
	}
	if cfg.MaxDailyUSD < cfg.MaxPerTxnUSD {
		return cfg, errors.New("MAX_DAILY_USD must be >= MAX_PER_TXN_USD")
	}
	if cfg.MaxDomainsPerSearch < 1 {
		return cfg, errors.New("MAX_DOMAINS_PER_SEARCH must be >= 1")
	}
	if cfg.RateLimitRPM < 1 {
		return cfg, errors.New("RATE_LIMIT_RPM must be >= 1")
	}
	if cfg.RateLimitBurst < 1 {
		return cfg, errors.New("RATE_LIMIT_BURST must be >= 1")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.SpendRetentionDays < 1 {
		return cfg, errors.New("SPEND_RETENTION_DAYS must be >= 1")
	}
	for _, tld := range cfg.AllowlistTLDs {
		if !isAlpha(tld) {
			return cfg, fmt.Errorf("ALLOWLIST_TLDS entry %q must be letters only", tld)
		}
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// TLDAllowed reports whether tld passes the allowlist. An empty allowlist
// permits every TLD.
func (c Config) TLDAllowed(tld string) bool {
	if len(c.AllowlistTLDs) == 0 {
		return true
	}
	tld = strings.ToLower(tld)
	for _, t := range c.AllowlistTLDs {
		if t == tld {
			return true
		}
	}
	return false
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
