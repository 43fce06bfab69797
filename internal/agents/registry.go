// Package agents holds the fixed roster of council members and worker bots.
//
// A Registry is built once and never mutated; callers share it by reference.
// Lookups of unknown ids degrade to a generic fallback agent instead of failing.
package agents

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"clawlegion/internal/domain"
)

//go:embed roster.yml
var defaultRoster []byte

const (
	FallbackColor  = "#9CA3AF"
	FallbackEmoji  = "🤖"
	FallbackAvatar = "/agents/default.png"
)

type Registry struct {
	ordered []domain.Agent
	byID    map[string]domain.Agent
	byName  map[string]domain.Agent
}

type rosterFile struct {
	Agents []domain.Agent `yaml:"agents"`
}

// New builds a registry from a roster. Ids must be unique and non-empty.
func New(roster []domain.Agent) (*Registry, error) {
	r := &Registry{
		byID:   make(map[string]domain.Agent, len(roster)),
		byName: make(map[string]domain.Agent, len(roster)),
	}
	for _, a := range roster {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return nil, fmt.Errorf("agent with empty id (name %q)", a.Name)
		}
		key := strings.ToLower(id)
		if _, dup := r.byID[key]; dup {
			return nil, fmt.Errorf("duplicate agent id %s", id)
		}
		if a.Name == "" {
			a.Name = id
		}
		if a.Tier == "" {
			a.Tier = domain.TierArmy
		}
		a.Capabilities = append([]string(nil), a.Capabilities...)
		r.ordered = append(r.ordered, a)
		r.byID[key] = a
		r.byName[strings.ToLower(a.Name)] = a
	}
	return r, nil
}

// Default returns the built-in roster.
func Default() *Registry {
	r, err := Parse(defaultRoster)
	if err != nil {
		panic(fmt.Sprintf("embedded roster: %v", err))
	}
	return r
}

// Parse builds a registry from roster YAML.
func Parse(data []byte) (*Registry, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid roster yaml: %w", err)
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("roster has no agents")
	}
	return New(f.Agents)
}

// Load reads a roster file; an empty path yields the built-in roster.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (r *Registry) ByID(id string) (domain.Agent, bool) {
	a, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	return clone(a), ok
}

// ByName matches the display name case-insensitively.
func (r *Registry) ByName(name string) (domain.Agent, bool) {
	a, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return clone(a), ok
}

// Resolve looks up by id, then by name, and falls back to a generic agent.
func (r *Registry) Resolve(idOrName string) domain.Agent {
	if a, ok := r.ByID(idOrName); ok {
		return a
	}
	if a, ok := r.ByName(idOrName); ok {
		return a
	}
	return Fallback(idOrName)
}

// Fallback is the placeholder used for ids the roster does not know.
func Fallback(id string) domain.Agent {
	name := strings.TrimSpace(id)
	if name == "" {
		name = "unknown"
	}
	return domain.Agent{
		ID:       name,
		Name:     name,
		Emoji:    FallbackEmoji,
		Color:    FallbackColor,
		Avatar:   FallbackAvatar,
		Tier:     domain.TierArmy,
		Fallback: true,
	}
}

func (r *Registry) All() []domain.Agent {
	out := make([]domain.Agent, 0, len(r.ordered))
	for _, a := range r.ordered {
		out = append(out, clone(a))
	}
	return out
}

func (r *Registry) Council() []domain.Agent { return r.byTier(domain.TierCouncil) }
func (r *Registry) Army() []domain.Agent    { return r.byTier(domain.TierArmy) }

func (r *Registry) byTier(tier domain.AgentTier) []domain.Agent {
	var out []domain.Agent
	for _, a := range r.ordered {
		if a.Tier == tier {
			out = append(out, clone(a))
		}
	}
	return out
}

// ByRole returns the first agent filling a pipeline role.
func (r *Registry) ByRole(role domain.AgentRole) (domain.Agent, bool) {
	for _, a := range r.ordered {
		if a.Role == role {
			return clone(a), true
		}
	}
	return domain.Agent{}, false
}

// Roles lists the distinct roles present in the roster, sorted.
func (r *Registry) Roles() []domain.AgentRole {
	seen := map[domain.AgentRole]bool{}
	var roles []domain.AgentRole
	for _, a := range r.ordered {
		if a.Role == "" || seen[a.Role] {
			continue
		}
		seen[a.Role] = true
		roles = append(roles, a.Role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

func clone(a domain.Agent) domain.Agent {
	a.Capabilities = append([]string(nil), a.Capabilities...)
	return a
}
