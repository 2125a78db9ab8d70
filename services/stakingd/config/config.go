package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for stakingd.
type Config struct {
	ListenAddress  string          `yaml:"listen"`
	Environment    string          `yaml:"environment"`
	CustodyAccount string          `yaml:"custody_account"`
	PoolsManifest  string          `yaml:"pools_manifest"`
	PausedModules  []string        `yaml:"paused_modules"`
	Database       DatabaseConfig  `yaml:"database"`
	Auth           AuthConfig      `yaml:"auth"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret     string   `yaml:"jwt_secret"`
	AdminAccounts []string `yaml:"admin_accounts"`
	TokenTTL      Duration `yaml:"token_ttl"`
}

// RateLimitConfig throttles mutating API calls per client.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7091"
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "/var/data/stakingd.sqlite"
	}
	if cfg.Auth.TokenTTL.Duration == 0 {
		cfg.Auth.TokenTTL.Duration = 15 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth jwt secret must be configured")
	}
	if !common.IsHexAddress(cfg.CustodyAccount) {
		return fmt.Errorf("custody account %q is not a valid address", cfg.CustodyAccount)
	}
	for _, acct := range cfg.Auth.AdminAccounts {
		if !common.IsHexAddress(acct) {
			return fmt.Errorf("admin account %q is not a valid address", acct)
		}
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	return nil
}

// Custody returns the parsed custody account address.
func (c Config) Custody() common.Address {
	return common.HexToAddress(c.CustodyAccount)
}

// Admins returns the parsed admin allowlist.
func (c Config) Admins() []common.Address {
	out := make([]common.Address, 0, len(c.Auth.AdminAccounts))
	for _, acct := range c.Auth.AdminAccounts {
		out = append(out, common.HexToAddress(acct))
	}
	return out
}
