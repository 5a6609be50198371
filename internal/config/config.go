// Package config loads gateway configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/dapp_gateway/internal/wallet"
)

// Session store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Well known genesis ids.
const (
	MainGenesis = "0x00000000851caf3cfdb6e899cf5958bfb1ac3413d346d43539627e6be7ec1b4a"
	TestGenesis = "0x000000000b2bce3c70bc649a02749e8687721b09ed2e15997f466536b20bb127"
)

// Config is the full gateway configuration.
type Config struct {
	HTTP     HTTPConfig       `yaml:"http"`
	Log      LogConfig        `yaml:"log"`
	Networks []wallet.Network `yaml:"networks"`
	Accounts []wallet.Account `yaml:"accounts"`
	Active   ActiveConfig     `yaml:"active"`
	Sessions SessionsConfig   `yaml:"sessions"`
	Limits   LimitsConfig     `yaml:"limits"`
	Signer   SignerConfig     `yaml:"signer"`
	Gateway  GatewayConfig    `yaml:"gateway"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"GATEWAY_HTTP_ADDR"`
	BridgeURL       string        `yaml:"bridgeUrl" env:"GATEWAY_BRIDGE_URL"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"GATEWAY_SHUTDOWN_TIMEOUT"`
	// AdminSecret signs operator tokens for the admin routes.
	AdminSecret string `yaml:"adminSecret" env:"GATEWAY_ADMIN_SECRET"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"GATEWAY_LOG_LEVEL"`
	Format string `yaml:"format" env:"GATEWAY_LOG_FORMAT"`
}

// ActiveConfig selects the account and network active at start-up.
type ActiveConfig struct {
	Account string `yaml:"account" env:"GATEWAY_ACTIVE_ACCOUNT"`
	Network string `yaml:"network" env:"GATEWAY_ACTIVE_NETWORK"`
}

type SessionsConfig struct {
	Backend     string `yaml:"backend" env:"GATEWAY_SESSIONS_BACKEND"`
	DSN         string `yaml:"dsn" env:"GATEWAY_SESSIONS_DSN"`
	RedisAddr   string `yaml:"redisAddr" env:"GATEWAY_SESSIONS_REDIS_ADDR"`
	RedisPrefix string `yaml:"redisPrefix" env:"GATEWAY_SESSIONS_REDIS_PREFIX"`
}

// LimitsConfig controls per-origin rate limiting. A zero RequestsPerSecond
// disables it.
type LimitsConfig struct {
	RequestsPerSecond float64       `yaml:"requestsPerSecond" env:"GATEWAY_LIMITS_RPS"`
	Burst             int           `yaml:"burst" env:"GATEWAY_LIMITS_BURST"`
	PruneSchedule     string        `yaml:"pruneSchedule" env:"GATEWAY_LIMITS_PRUNE_SCHEDULE"`
	IdleAfter         time.Duration `yaml:"idleAfter" env:"GATEWAY_LIMITS_IDLE_AFTER"`
}

type SignerConfig struct {
	URL        string        `yaml:"url" env:"GATEWAY_SIGNER_URL"`
	Secret     string        `yaml:"secret" env:"GATEWAY_SIGNER_SECRET"`
	Timeout    time.Duration `yaml:"timeout" env:"GATEWAY_SIGNER_TIMEOUT"`
	MaxRetries int           `yaml:"maxRetries" env:"GATEWAY_SIGNER_MAX_RETRIES"`
}

type GatewayConfig struct {
	// RespondOnDecline answers a declined reconciliation with a rejection.
	RespondOnDecline bool `yaml:"respondOnDecline" env:"GATEWAY_RESPOND_ON_DECLINE"`
	// NotificationBuffer is the capacity of the local notification ring.
	NotificationBuffer int `yaml:"notificationBuffer" env:"GATEWAY_NOTIFICATION_BUFFER"`
}

// Default returns a configuration for mainnet and testnet with in-memory
// sessions.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Networks: []wallet.Network{
			{Name: "main", GenesisID: MainGenesis, Type: "mainnet"},
			{Name: "test", GenesisID: TestGenesis, Type: "testnet"},
		},
		Sessions: SessionsConfig{Backend: BackendMemory, RedisPrefix: "dapp_gateway"},
		Limits: LimitsConfig{
			RequestsPerSecond: 5,
			Burst:             10,
			PruneSchedule:     "@every 5m",
			IdleAfter:         10 * time.Minute,
		},
		Signer:  SignerConfig{Timeout: 30 * time.Second, MaxRetries: 2},
		Gateway: GatewayConfig{RespondOnDecline: true, NotificationBuffer: 256},
	}
}

// Load reads .env (if present), the YAML file at path (if non-empty) over
// the defaults, then GATEWAY_* environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("config: at least one network is required")
	}
	seen := make(map[string]bool, len(c.Networks))
	for _, n := range c.Networks {
		id := strings.ToLower(n.GenesisID)
		if id == "" {
			return fmt.Errorf("config: network %q has no genesis id", n.Name)
		}
		if seen[id] {
			return fmt.Errorf("config: duplicate genesis id %s", n.GenesisID)
		}
		seen[id] = true
	}
	if c.Active.Network != "" && !seen[strings.ToLower(c.Active.Network)] {
		return fmt.Errorf("config: active network %s is not configured", c.Active.Network)
	}

	for _, a := range c.Accounts {
		if !wallet.IsAddress(a.Address) {
			return fmt.Errorf("config: invalid account address %q", a.Address)
		}
	}
	if c.Active.Account != "" {
		found := false
		for _, a := range c.Accounts {
			if strings.EqualFold(a.Address, c.Active.Account) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("config: active account %s is not configured", c.Active.Account)
		}
	}

	switch c.Sessions.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Sessions.DSN == "" {
			return fmt.Errorf("config: postgres session backend requires a dsn")
		}
	case BackendRedis:
		if c.Sessions.RedisAddr == "" {
			return fmt.Errorf("config: redis session backend requires an address")
		}
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Sessions.Backend)
	}

	if c.Limits.RequestsPerSecond < 0 || c.Limits.Burst < 0 {
		return fmt.Errorf("config: rate limits must not be negative")
	}
	if c.Signer.URL != "" && c.Signer.Secret == "" {
		return fmt.Errorf("config: signer secret is required when a signer url is set")
	}
	return nil
}

// WalletState builds the wallet context described by the configuration.
func (c *Config) WalletState() (*wallet.State, error) {
	state, err := wallet.NewState(c.Networks, c.Accounts)
	if err != nil {
		return nil, err
	}
	if c.Active.Network != "" {
		if err := state.SelectNetwork(c.Active.Network); err != nil {
			return nil, err
		}
	}
	if c.Active.Account != "" {
		if err := state.SelectAccount(c.Active.Account); err != nil {
			return nil, err
		}
	}
	return state, nil
}
