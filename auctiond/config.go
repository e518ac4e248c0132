package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/cloudx-io/openbidding/core"
	"github.com/cloudx-io/openbidding/identity"
	"github.com/cloudx-io/openbidding/internal/logger"
	"github.com/cloudx-io/openbidding/internal/transport"
	"github.com/cloudx-io/openbidding/store"
)

const (
	DefaultListen = "tcp://127.0.0.1:5000"
	DefaultEscrow = "escrow"
)

// Config holds the daemon configuration.
type Config struct {
	Listen      string
	MaxWorkers  int
	ReadTimeout time.Duration

	// HRP is the bech32 prefix identities must carry. Empty accepts any
	// lowercase identity without whitespace.
	HRP    string
	Escrow string

	// Attest produces a settlement attestation on close. Requires the
	// Nitro Secure Module.
	Attest bool

	MetricsAddr string
	RequestTTL  time.Duration

	Store         store.Config
	StoreLogLevel string
	Log           logger.Config

	// Genesis seeds bank balances at startup.
	Genesis map[string]uint64
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Listen:        DefaultListen,
		MaxWorkers:    16,
		ReadTimeout:   30 * time.Second,
		Escrow:        DefaultEscrow,
		RequestTTL:    10 * time.Minute,
		Store:         store.Config{Driver: "memory"},
		StoreLogLevel: "warn",
		Log:           logger.DefaultConfig(),
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if _, err := transport.ParseAddress(c.Listen); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.RequestTTL <= 0 {
		return fmt.Errorf("request ttl must be positive")
	}
	if c.Escrow == "" {
		c.Escrow = DefaultEscrow
	}
	switch c.Store.Driver {
	case "", "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if _, err := c.genesis(identity.New(c.HRP)); err != nil {
		return err
	}
	return nil
}

// genesis returns the genesis balances keyed by validated identity.
func (c *Config) genesis(ids identity.Validator) (map[core.Identity]core.Amount, error) {
	out := make(map[core.Identity]core.Amount, len(c.Genesis))
	for addr, amount := range c.Genesis {
		id, err := ids.Validate(addr)
		if err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
		out[id] = core.Amount(amount)
	}
	return out, nil
}

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Listen        string            `toml:"listen"`
	MaxWorkers    int               `toml:"max_workers"`
	ReadTimeout   string            `toml:"read_timeout"`
	HRP           string            `toml:"hrp"`
	Escrow        string            `toml:"escrow"`
	Attest        *bool             `toml:"attest"`
	MetricsAddr   string            `toml:"metrics_addr"`
	RequestTTL    string            `toml:"request_ttl"`
	Store         store.Config      `toml:"store"`
	StoreLogLevel string            `toml:"store_log_level"`
	Log           logger.Config     `toml:"log"`
	Genesis       map[string]uint64 `toml:"genesis"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.auctiond/config.toml, or "" without a home
// directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".auctiond", "config.toml")
	}
	return ""
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ApplyFileConfig applies fc to cfg, skipping values whose flag was set
// explicitly.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", fc.Listen, &cfg.Listen)
	s.setString("hrp", fc.HRP, &cfg.HRP)
	s.setString("escrow", fc.Escrow, &cfg.Escrow)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)
	s.setString("store-driver", fc.Store.Driver, &cfg.Store.Driver)
	s.setString("store-dsn", fc.Store.DSN, &cfg.Store.DSN)
	s.setString("store-log-level", fc.StoreLogLevel, &cfg.StoreLogLevel)
	s.setString("log-level", fc.Log.Level, &cfg.Log.Level)
	s.setString("log-format", fc.Log.Format, &cfg.Log.Format)
	s.setString("log-output", fc.Log.Output, &cfg.Log.Output)
	s.setInt("max-workers", fc.MaxWorkers, &cfg.MaxWorkers)
	s.setBool("attest", fc.Attest, &cfg.Attest)

	if err := s.setDuration("read-timeout", fc.ReadTimeout, &cfg.ReadTimeout); err != nil {
		return err
	}
	if err := s.setDuration("request-ttl", fc.RequestTTL, &cfg.RequestTTL); err != nil {
		return err
	}

	if len(fc.Genesis) > 0 {
		cfg.Genesis = fc.Genesis
	}
	return nil
}

// ApplyEnvConfig applies AUCTIOND_* environment variables. They override the
// file but not explicitly set flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", os.Getenv("AUCTIOND_LISTEN"), &cfg.Listen)
	s.setString("hrp", os.Getenv("AUCTIOND_HRP"), &cfg.HRP)
	s.setString("escrow", os.Getenv("AUCTIOND_ESCROW"), &cfg.Escrow)
	s.setString("metrics-addr", os.Getenv("AUCTIOND_METRICS_ADDR"), &cfg.MetricsAddr)
	s.setString("store-driver", os.Getenv("AUCTIOND_STORE_DRIVER"), &cfg.Store.Driver)
	s.setString("store-dsn", os.Getenv("AUCTIOND_STORE_DSN"), &cfg.Store.DSN)
	s.setString("store-log-level", os.Getenv("AUCTIOND_STORE_LOG_LEVEL"), &cfg.StoreLogLevel)
	s.setString("log-level", os.Getenv("AUCTIOND_LOG_LEVEL"), &cfg.Log.Level)
	s.setString("log-format", os.Getenv("AUCTIOND_LOG_FORMAT"), &cfg.Log.Format)
	s.setString("log-output", os.Getenv("AUCTIOND_LOG_OUTPUT"), &cfg.Log.Output)
	s.setBoolFromString("attest", os.Getenv("AUCTIOND_ATTEST"), &cfg.Attest)

	// ENCLAVE_MAX_WORKERS is still honoured for existing enclave images.
	workers := os.Getenv("AUCTIOND_MAX_WORKERS")
	if workers == "" {
		workers = os.Getenv("ENCLAVE_MAX_WORKERS")
	}
	if err := s.setIntFromString("max-workers", workers, &cfg.MaxWorkers); err != nil {
		return err
	}
	if err := s.setDuration("read-timeout", os.Getenv("AUCTIOND_READ_TIMEOUT"), &cfg.ReadTimeout); err != nil {
		return err
	}
	if err := s.setDuration("request-ttl", os.Getenv("AUCTIOND_REQUEST_TTL"), &cfg.RequestTTL); err != nil {
		return err
	}
	return nil
}

// configSetter applies values only when the matching flag was not set
// explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	value = strings.ToLower(value)
	*dst = value == "true" || value == "1"
}
