package daemon

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 7430 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 7430)
	}
	if cfg.Eligibility.MaxOrgDisputes != 2 {
		t.Errorf("Eligibility.MaxOrgDisputes = %d, want 2", cfg.Eligibility.MaxOrgDisputes)
	}
	if cfg.Settlement.BatchSize != 500 {
		t.Errorf("Settlement.BatchSize = %d, want 500", cfg.Settlement.BatchSize)
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("AGORA_HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("missing file should fall back to defaults")
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	t.Setenv("AGORA_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.API.Port = 9999
	cfg.Market.BiddingWindow = "6h"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if loaded.API.Port != 9999 {
		t.Errorf("API.Port = %d, want 9999", loaded.API.Port)
	}
	if loaded.Market.BiddingWindow != "6h" {
		t.Errorf("Market.BiddingWindow = %q, want 6h", loaded.Market.BiddingWindow)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"", time.Hour},        // Default
		{"garbage", time.Hour}, // Malformed falls back
		{"-5m", time.Hour},     // Non-positive falls back
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseDuration(tt.input, time.Hour)
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
