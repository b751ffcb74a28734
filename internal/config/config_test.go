package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
server:
  addr: ":9999"
batch:
  deadline: 5m
  lock_ttl: 20m
reasoner:
  model: gpt-4o
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Batch.Deadline != 5*time.Minute || cfg.Batch.LockTTL != 20*time.Minute {
		t.Fatalf("batch durations: %+v", cfg.Batch)
	}
	// Untouched fields keep their defaults.
	if cfg.Batch.LockKey != "planner.batch" || cfg.Reasoner.Provider != "openai" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Reasoner.Model != "gpt-4o" {
		t.Fatalf("model = %s", cfg.Reasoner.Model)
	}
}

func TestValidateRejectsShortLockTTL(t *testing.T) {
	_, err := FromYAML([]byte(`
batch:
  deadline: 10m
  lock_ttl: 10m
`))
	if err == nil || !strings.Contains(err.Error(), "lock_ttl") {
		t.Fatalf("expected lock_ttl error, got %v", err)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	_, err := FromYAML([]byte(`
reasoner:
  provider: carrier-pigeon
`))
	if err == nil || !strings.Contains(err.Error(), "provider") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8787" {
		t.Fatalf("default addr = %s", cfg.Server.Addr)
	}
}
