package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"clawlegion/internal/agents"
	"clawlegion/internal/chatsync"
	"clawlegion/internal/config"
	"clawlegion/internal/db"
	"clawlegion/internal/health"
	"clawlegion/internal/localstate"
	clawsdk "clawlegion/sdk/go"
)

// Overrides carries flag/env values that take precedence over clawlegion.yml.
type Overrides struct {
	BackendURL string
	ActorID    string
	APIKey     string
}

// Env is everything a command needs: config, backend client, roster and
// local state, resolved for one workspace.
type Env struct {
	Workspace string
	Config    *config.Config
	Client    *clawsdk.Client
	Agents    *agents.Registry
	State     *localstate.Store
	Logger    *slog.Logger
}

// Resolve loads the workspace config (falling back to defaults when the file
// is absent), applies overrides, and opens the local state store.
func Resolve(ctx context.Context, workspace string, o Overrides, logger *slog.Logger) (*Env, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if err := ApplyOverrides(cfg, o); err != nil {
		return nil, err
	}
	reg, err := LoadAgents(workspace, cfg)
	if err != nil {
		return nil, err
	}
	store, err := localstate.Open(ctx, db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	store.Logger = logger
	return &Env{
		Workspace: workspace,
		Config:    cfg,
		Client:    NewClient(cfg),
		Agents:    reg,
		State:     store,
		Logger:    logger,
	}, nil
}

// ApplyOverrides mutates cfg and re-validates it.
func ApplyOverrides(cfg *config.Config, o Overrides) error {
	if v := strings.TrimSpace(o.BackendURL); v != "" {
		cfg.Backend.URL = v
	}
	if v := strings.TrimSpace(o.ActorID); v != "" {
		cfg.Backend.ActorID = v
	}
	if v := strings.TrimSpace(o.APIKey); v != "" {
		cfg.Backend.APIKey = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (e *Env) Close() error {
	if e.State == nil {
		return nil
	}
	return e.State.Close()
}

// NewClient builds the backend client from the config.
func NewClient(cfg *config.Config) *clawsdk.Client {
	c := clawsdk.New(cfg.Backend.URL)
	c.APIKey = cfg.Backend.APIKey
	c.JWTSecret = cfg.Backend.JWTSecret
	c.ActorID = cfg.Backend.ActorID
	if cfg.Backend.Timeout > 0 {
		c.Timeout = cfg.Backend.Timeout
	}
	return c
}

// LoadAgents reads the roster override, resolved against the workspace, or
// returns the built-in roster.
func LoadAgents(workspace string, cfg *config.Config) (*agents.Registry, error) {
	path := strings.TrimSpace(cfg.Agents.Roster)
	if path == "" {
		return agents.Default(), nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	reg, err := agents.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load agent roster %s: %w", path, err)
	}
	return reg, nil
}

// HealthChecker builds a checker for the configured targets.
func HealthChecker(cfg *config.Config) health.Checker {
	return health.Checker{
		Targets:         append([]health.Target(nil), cfg.Health.Targets...),
		Timeout:         cfg.Health.Timeout,
		DegradedLatency: cfg.Health.DegradedLatency,
	}
}

// ChatOptions maps the chat section onto sync options.
func (e *Env) ChatOptions() chatsync.Options {
	return chatsync.Options{
		Interval:          e.Config.Chat.PollInterval,
		ReplyRefetchDelay: e.Config.Chat.ReplyRefetchDelay,
		SenderID:          e.Config.Chat.SenderID,
		SenderName:        e.Config.Chat.SenderName,
		Logger:            e.Logger,
	}
}
