package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clawlegion/internal/config"
)

func TestResolveDefaultsWithOverrides(t *testing.T) {
	workspace := t.TempDir()
	env, err := Resolve(context.Background(), workspace, Overrides{BackendURL: "http://backend:9000", ActorID: "alice"}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer env.Close()
	if env.Client.BaseURL != "http://backend:9000" || env.Client.ActorID != "alice" {
		t.Fatalf("overrides not applied: %+v", env.Client)
	}
	if env.Client.Timeout != 10*time.Second {
		t.Fatalf("expected configured timeout, got %s", env.Client.Timeout)
	}
	if _, ok := env.Agents.ByID("archon"); !ok {
		t.Fatalf("expected built-in roster")
	}
	if opts := env.ChatOptions(); opts.Interval != 3*time.Second || opts.SenderID != "user" {
		t.Fatalf("unexpected chat options: %+v", opts)
	}
	if _, err := os.Stat(filepath.Join(workspace, ".clawlegion", "state.db")); err != nil {
		t.Fatalf("expected state db: %v", err)
	}
}

func TestResolveRejectsBadOverride(t *testing.T) {
	_, err := Resolve(context.Background(), t.TempDir(), Overrides{BackendURL: "localhost"}, nil)
	if err == nil || !strings.Contains(err.Error(), "config.backend.url") {
		t.Fatalf("expected backend url error, got %v", err)
	}
}

func TestLoadAgentsRelativeRoster(t *testing.T) {
	workspace := t.TempDir()
	roster := "agents:\n  - id: solo\n    name: Solo\n    role: builder\n    tier: army\n"
	if err := os.WriteFile(filepath.Join(workspace, "roster.yml"), []byte(roster), 0o644); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	cfg := config.Default()
	cfg.Agents.Roster = "roster.yml"
	reg, err := LoadAgents(workspace, cfg)
	if err != nil {
		t.Fatalf("load agents: %v", err)
	}
	if _, ok := reg.ByID("solo"); !ok {
		t.Fatalf("expected solo in roster")
	}
	if _, ok := reg.ByID("archon"); ok {
		t.Fatalf("override roster should replace the built-in one")
	}

	cfg.Agents.Roster = "missing.yml"
	if _, err := LoadAgents(workspace, cfg); err == nil {
		t.Fatalf("expected missing roster error")
	}
}

func TestHealthCheckerFromConfig(t *testing.T) {
	cfg := config.Default()
	c := HealthChecker(cfg)
	if len(c.Targets) != 3 || c.Timeout != 3*time.Second || c.DegradedLatency != time.Second {
		t.Fatalf("unexpected checker: %+v", c)
	}
}
