package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// Ledger adapters.
const (
	LedgerExplorer = "explorer"
	LedgerEVM      = "evm"
)

// Issuers.
const (
	IssuerPOAP   = "poap"
	IssuerDryRun = "dry-run"
)

// Config is the immutable process configuration, read once at startup.
type Config struct {
	HTTPAddr string `env:"DISPENSER_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"DISPENSER_GRPC_ADDR"` // empty disables the gRPC health listener

	Env      string `env:"DISPENSER_ENV" envDefault:"dev"` // "dev" | "prod"
	LogLevel string `env:"DISPENSER_LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"DISPENSER_LOG_FILE"`

	EventsFile string `env:"DISPENSER_EVENTS_FILE" envDefault:"./events.yaml"`

	// Storage
	Store       string `env:"DISPENSER_STORE" envDefault:"sqlite"`
	DBPath      string `env:"DISPENSER_DB_PATH" envDefault:"./data/dispenser.db"`
	BoltPath    string `env:"DISPENSER_BOLT_PATH" envDefault:"./data/dispenser.bolt"`
	PostgresDSN string `env:"DISPENSER_POSTGRES_DSN"`

	// Ledger
	Ledger         string `env:"DISPENSER_LEDGER" envDefault:"explorer"`
	ExplorerURL    string `env:"DISPENSER_EXPLORER_URL" envDefault:"https://api.etherscan.io/api"`
	ExplorerAPIKey string `env:"DISPENSER_EXPLORER_API_KEY"`
	RPCURL         string `env:"DISPENSER_RPC_URL"`

	// Issuer
	Issuer string `env:"DISPENSER_ISSUER" envDefault:"poap"`
	POAP   POAP

	// Retry bounds and timeouts. ProbeRetries=2 means three probe calls.
	ProbeRetries        int           `env:"DISPENSER_PROBE_RETRIES" envDefault:"2"`
	ProbeTimeout        time.Duration `env:"DISPENSER_PROBE_TIMEOUT" envDefault:"10s"`
	IssueRetries        int           `env:"DISPENSER_ISSUE_RETRIES" envDefault:"2"`
	IssueTimeout        time.Duration `env:"DISPENSER_ISSUE_TIMEOUT" envDefault:"15s"`
	BackoffMin          time.Duration `env:"DISPENSER_BACKOFF_MIN" envDefault:"250ms"`
	BackoffMax          time.Duration `env:"DISPENSER_BACKOFF_MAX" envDefault:"4s"`
	PendingWaitAttempts int           `env:"DISPENSER_PENDING_WAIT_ATTEMPTS" envDefault:"5"`
	StoreTimeout        time.Duration `env:"DISPENSER_STORE_TIMEOUT" envDefault:"5s"`

	// Opt-in waits. EligibilityWait bounds ?wait=true on verify-and-issue;
	// MintWait bounds GET /v1/mints/{uid}/wait. A zero wait checks once.
	EligibilityWait time.Duration `env:"DISPENSER_ELIGIBILITY_WAIT" envDefault:"90s"`
	EligibilityPoll time.Duration `env:"DISPENSER_ELIGIBILITY_POLL" envDefault:"10s"`
	MintWait        time.Duration `env:"DISPENSER_MINT_WAIT" envDefault:"60s"`
	MintPoll        time.Duration `env:"DISPENSER_MINT_POLL" envDefault:"2s"`

	// Reconciliation of stale PENDING records. StaleAfter=0 disables it.
	StaleAfter        time.Duration `env:"DISPENSER_STALE_AFTER" envDefault:"10m"`
	ReconcileInterval time.Duration `env:"DISPENSER_RECONCILE_INTERVAL" envDefault:"1m"`

	// HTTP surface
	RateLimitRPS   float64 `env:"DISPENSER_RATE_LIMIT_RPS" envDefault:"5"` // 0 disables
	RateLimitBurst int     `env:"DISPENSER_RATE_LIMIT_BURST" envDefault:"10"`
	AdminJWTSecret string  `env:"DISPENSER_ADMIN_JWT_SECRET"`

	// TrustProxyHeaders takes client addresses from X-Real-IP and
	// X-Forwarded-For. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool `env:"DISPENSER_TRUST_PROXY_HEADERS" envDefault:"false"`

	// Tracing
	OTLPEndpoint string `env:"DISPENSER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `env:"DISPENSER_OTLP_INSECURE"`
}

// POAP holds the issuance authority credentials.
type POAP struct {
	BaseURL      string `env:"POAP_API_URL" envDefault:"https://api.poap.tech/"`
	APIKey       string `env:"POAP_API_KEY"`
	ClientID     string `env:"POAP_CLIENT_ID"`
	ClientSecret string `env:"POAP_CLIENT_SECRET"`
	Audience     string `env:"POAP_AUDIENCE" envDefault:"poap-api"`
	TokenURL     string `env:"POAP_TOKEN_URL" envDefault:"https://poapauth.auth0.com/oauth/token"`
}

// FromEnv parses and validates the process environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.Ledger = strings.ToLower(strings.TrimSpace(c.Ledger))
	c.Issuer = strings.ToLower(strings.TrimSpace(c.Issuer))
}

// IssueBudget bounds how long one claimed attempt can take from claim to
// finalize.
func (c Config) IssueBudget() time.Duration {
	attempts := time.Duration(c.IssueRetries + 1)
	return attempts*c.IssueTimeout + time.Duration(c.IssueRetries)*c.BackoffMax + 4*c.StoreTimeout
}

func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreMemory, StoreSQLite, StoreBolt:
	case StorePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("DISPENSER_POSTGRES_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	switch c.Ledger {
	case LedgerExplorer:
		if strings.TrimSpace(c.ExplorerURL) == "" {
			errs = append(errs, errors.New("DISPENSER_EXPLORER_URL is required for the explorer ledger"))
		}
	case LedgerEVM:
		if strings.TrimSpace(c.RPCURL) == "" {
			errs = append(errs, errors.New("DISPENSER_RPC_URL is required for the evm ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger %q", c.Ledger))
	}

	switch c.Issuer {
	case IssuerDryRun:
		if c.Env == "prod" {
			errs = append(errs, errors.New("dry-run issuer is not allowed in prod"))
		}
	case IssuerPOAP:
		if strings.TrimSpace(c.POAP.APIKey) == "" {
			errs = append(errs, errors.New("POAP_API_KEY is required for the poap issuer"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown issuer %q", c.Issuer))
	}

	if c.ProbeRetries < 0 || c.IssueRetries < 0 {
		errs = append(errs, errors.New("retry counts cannot be negative"))
	}
	if c.PendingWaitAttempts < 1 {
		errs = append(errs, errors.New("DISPENSER_PENDING_WAIT_ATTEMPTS must be at least 1"))
	}
	if c.BackoffMax < c.BackoffMin {
		errs = append(errs, errors.New("DISPENSER_BACKOFF_MAX must not be below DISPENSER_BACKOFF_MIN"))
	}
	if c.StaleAfter > 0 && c.StaleAfter <= c.IssueBudget() {
		errs = append(errs, fmt.Errorf("DISPENSER_STALE_AFTER (%s) must exceed the issuance budget (%s)", c.StaleAfter, c.IssueBudget()))
	}
	if c.EligibilityWait < 0 || c.EligibilityPoll < 0 || c.MintWait < 0 || c.MintPoll < 0 {
		errs = append(errs, errors.New("wait and poll durations cannot be negative"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("DISPENSER_RATE_LIMIT_RPS cannot be negative"))
	}
	if c.Env == "prod" && strings.TrimSpace(c.AdminJWTSecret) == "" {
		errs = append(errs, errors.New("DISPENSER_ADMIN_JWT_SECRET is required in prod"))
	}

	return errors.Join(errs...)
}
