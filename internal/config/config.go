package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"clawlegion/internal/health"
)

const FileName = "clawlegion.yml"

// Config models clawlegion.yml.
type Config struct {
	Backend struct {
		URL       string        `yaml:"url"`
		APIKey    string        `yaml:"api_key,omitempty"`
		JWTSecret string        `yaml:"jwt_secret,omitempty"`
		ActorID   string        `yaml:"actor_id,omitempty"`
		Timeout   time.Duration `yaml:"timeout,omitempty"`
	} `yaml:"backend"`
	Chat struct {
		PollInterval      time.Duration `yaml:"poll_interval,omitempty"`
		ReplyRefetchDelay time.Duration `yaml:"reply_refetch_delay,omitempty"`
		SenderID          string        `yaml:"sender_id,omitempty"`
		SenderName        string        `yaml:"sender_name,omitempty"`
	} `yaml:"chat"`
	Health struct {
		Timeout         time.Duration   `yaml:"timeout,omitempty"`
		DegradedLatency time.Duration   `yaml:"degraded_latency,omitempty"`
		Interval        time.Duration   `yaml:"interval,omitempty"`
		Targets         []health.Target `yaml:"targets"`
	} `yaml:"health"`
	Agents struct {
		// Roster is an optional YAML roster replacing the built-in one.
		Roster string `yaml:"roster,omitempty"`
	} `yaml:"agents"`
	Server struct {
		Addr      string `yaml:"addr,omitempty"`
		BasePath  string `yaml:"base_path,omitempty"`
		JWTSecret string `yaml:"jwt_secret,omitempty"`
		APIKey    string `yaml:"api_key,omitempty"`
	} `yaml:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with clawctl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		return fmt.Errorf("config.backend.url is required")
	}
	if err := validURL(c.Backend.URL); err != nil {
		return fmt.Errorf("config.backend.url: %w", err)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("config.backend.timeout must not be negative")
	}
	if c.Chat.PollInterval != 0 && c.Chat.PollInterval < 500*time.Millisecond {
		return fmt.Errorf("config.chat.poll_interval must be at least 500ms")
	}
	if c.Chat.ReplyRefetchDelay < 0 {
		return fmt.Errorf("config.chat.reply_refetch_delay must not be negative")
	}
	if c.Health.Timeout < 0 || c.Health.DegradedLatency < 0 || c.Health.Interval < 0 {
		return fmt.Errorf("config.health durations must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Health.Targets))
	for i, t := range c.Health.Targets {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("config.health.targets[%d].name is required", i)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("config.health.targets has duplicate name %s", t.Name)
		}
		seen[t.Name] = struct{}{}
		if err := validURL(t.URL); err != nil {
			return fmt.Errorf("config.health.targets[%s].url: %w", t.Name, err)
		}
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

func validURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `backend:
  url: http://localhost:3001
  timeout: 10s

chat:
  poll_interval: 3s
  reply_refetch_delay: 1500ms
  sender_id: user
  sender_name: You

health:
  timeout: 3s
  degraded_latency: 1s
  interval: 30s
  targets:
    - name: web-server
      url: http://localhost:3000
      kind: http
    - name: api-server
      url: http://localhost:3001/api/health
      kind: http
    - name: database
      url: http://localhost:3001/api/health/db
      kind: database

server:
  addr: 127.0.0.1:8088
  base_path: /api
`
