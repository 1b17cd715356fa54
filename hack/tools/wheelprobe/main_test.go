package main

import (
	"errors"
	"testing"

	"dlsched/pkg/wheel"
)

func TestParseConfigUsesDefaults(t *testing.T) {
	cfg, err := parseConfig(nil)
	if err != nil {
		t.Fatalf("parseConfig(nil): %v", err)
	}

	if cfg.levels != wheel.MaxLevels {
		t.Fatalf("levels = %d, want default %d", cfg.levels, wheel.MaxLevels)
	}
}

func TestParseConfigParsesFlags(t *testing.T) {
	cfg, err := parseConfig([]string{"-expiry", "1000", "-clk", "100", "-levels", "8"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}

	if cfg.expiry != 1000 || cfg.clk != 100 || cfg.levels != 8 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseConfigRejectsOutOfRangeLevels(t *testing.T) {
	_, err := parseConfig([]string{"-levels", "3"})
	if !errors.Is(err, errInvalidLevels) {
		t.Fatalf("parseConfig(levels=3) = %v, want errInvalidLevels", err)
	}

	_, err = parseConfig([]string{"-levels", "12"})
	if !errors.Is(err, errInvalidLevels) {
		t.Fatalf("parseConfig(levels=12) = %v, want errInvalidLevels", err)
	}
}

func TestParseConfigRejectsMalformedFlags(t *testing.T) {
	_, err := parseConfig([]string{"-expiry", "not-a-number"})
	if err == nil {
		t.Fatal("parseConfig(malformed expiry) = nil, want error")
	}
}
