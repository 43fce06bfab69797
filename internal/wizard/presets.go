package wizard

import (
	"fmt"

	"clawlegion/internal/domain"
)

type Preset struct {
	ID          string
	Name        string
	Description string
	Roles       []domain.AgentRole
}

const DefaultPreset = "standard"

var presets = []Preset{
	{
		ID:          "standard",
		Name:        "Standard",
		Description: "Research, plan, build and verify.",
		Roles:       []domain.AgentRole{domain.RoleResearcher, domain.RolePlanner, domain.RoleBuilder, domain.RoleVerifier},
	},
	{
		ID:          "quick-fix",
		Name:        "Quick fix",
		Description: "Straight to building, then verify.",
		Roles:       []domain.AgentRole{domain.RoleBuilder, domain.RoleVerifier},
	},
	{
		ID:          "research-only",
		Name:        "Research only",
		Description: "Investigate and produce a plan, no code changes.",
		Roles:       []domain.AgentRole{domain.RoleResearcher, domain.RolePlanner},
	},
}

func Presets() []Preset {
	out := make([]Preset, len(presets))
	for i, p := range presets {
		p.Roles = append([]domain.AgentRole(nil), p.Roles...)
		out[i] = p
	}
	return out
}

func PresetByID(id string) (Preset, bool) {
	for _, p := range Presets() {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}

// FlowFromPreset builds a configuration with every preset role enabled at medium.
func FlowFromPreset(id string) (domain.FlowConfiguration, error) {
	p, ok := PresetByID(id)
	if !ok {
		return domain.FlowConfiguration{}, fmt.Errorf("unknown flow preset %q", id)
	}
	steps := make([]domain.FlowStep, 0, len(p.Roles))
	for _, role := range p.Roles {
		steps = append(steps, domain.FlowStep{Role: role, Enabled: true, ResourceLevel: domain.ResourceMedium})
	}
	return domain.FlowConfiguration{Preset: p.ID, Steps: steps}, nil
}

var resourceCycle = []domain.ResourceLevel{
	domain.ResourceLow,
	domain.ResourceMedium,
	domain.ResourceHigh,
	domain.ResourceLocal,
}

func nextResourceLevel(l domain.ResourceLevel) domain.ResourceLevel {
	for i, candidate := range resourceCycle {
		if candidate == l {
			return resourceCycle[(i+1)%len(resourceCycle)]
		}
	}
	return domain.ResourceMedium
}

func validResourceLevel(l domain.ResourceLevel) bool {
	for _, candidate := range resourceCycle {
		if candidate == l {
			return true
		}
	}
	return false
}
