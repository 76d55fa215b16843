// Package daemon manages the Agora daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	API         APIConfig         `toml:"api"`
	Market      MarketConfig      `toml:"market"`
	Eligibility EligibilityConfig `toml:"eligibility"`
	Audit       AuditConfig       `toml:"audit"`
	Settlement  SettlementConfig  `toml:"settlement"`
	Services    ServicesConfig    `toml:"services"`
	Logging     LoggingConfig     `toml:"logging"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// MarketConfig controls auction behavior.
type MarketConfig struct {
	BiddingWindow string `toml:"bidding_window"`
	AssignmentSLA string `toml:"assignment_sla"`
}

// EligibilityConfig controls bid eligibility screening.
type EligibilityConfig struct {
	MaxOrgDisputes int `toml:"max_org_disputes"`
}

// AuditConfig controls Merkle anchoring of the audit chain.
type AuditConfig struct {
	AnchorInterval string `toml:"anchor_interval"`
}

// SettlementConfig controls the payment settlement worker.
type SettlementConfig struct {
	Interval  string `toml:"interval"`
	BatchSize int    `toml:"batch_size"`
}

// ServicesConfig holds base URLs for external dependencies.
type ServicesConfig struct {
	AnchorURL     string `toml:"anchor_url"`
	CredentialURL string `toml:"credential_url"`
	RailURL       string `toml:"rail_url"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := agoraHome()
	return Config{
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        7430,
			CORSOrigins: []string{"*"},
		},
		Market: MarketConfig{
			BiddingWindow: "24h",
			AssignmentSLA: "168h",
		},
		Eligibility: EligibilityConfig{
			MaxOrgDisputes: 2,
		},
		Audit: AuditConfig{
			AnchorInterval: "1h",
		},
		Settlement: SettlementConfig{
			Interval:  "15m",
			BatchSize: 500,
		},
		Services: ServicesConfig{
			AnchorURL:     "http://127.0.0.1:7431",
			CredentialURL: "http://127.0.0.1:7432",
			RailURL:       "http://127.0.0.1:7433",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, "agora.log"),
		},
	}
}

// LoadConfig reads config from ~/.agora/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(agoraHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the config to ~/.agora/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(agoraHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// parseDuration parses a config duration string, returning fallback on
// empty or malformed input.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// agoraHome returns the Agora data directory.
func agoraHome() string {
	if env := os.Getenv("AGORA_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agora")
}

// AgoraHome is exported for use by other packages.
func AgoraHome() string {
	return agoraHome()
}
