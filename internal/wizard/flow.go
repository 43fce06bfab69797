package wizard

import (
	"fmt"

	"clawlegion/internal/domain"
)

func (w *Wizard) stepIndex(role domain.AgentRole) int {
	for i, s := range w.draft.Flow.Steps {
		if s.Role == role {
			return i
		}
	}
	return -1
}

// ToggleAgent adds a missing role as enabled at medium, or flips an existing
// one. Like every manual flow edit it marks the configuration custom.
func (w *Wizard) ToggleAgent(role domain.AgentRole) {
	if i := w.stepIndex(role); i >= 0 {
		w.draft.Flow.Steps[i].Enabled = !w.draft.Flow.Steps[i].Enabled
	} else {
		w.draft.Flow.Steps = append(w.draft.Flow.Steps, domain.FlowStep{
			Role:          role,
			Enabled:       true,
			ResourceLevel: domain.ResourceMedium,
		})
	}
	w.draft.Flow.Preset = ""
}

func (w *Wizard) SetResourceLevel(role domain.AgentRole, level domain.ResourceLevel) error {
	if !validResourceLevel(level) {
		return fmt.Errorf("unknown resource level %q", level)
	}
	i := w.stepIndex(role)
	if i < 0 {
		return fmt.Errorf("role %q is not in the flow", role)
	}
	w.draft.Flow.Steps[i].ResourceLevel = level
	w.draft.Flow.Preset = ""
	return nil
}

// CycleResourceLevel advances low, medium, high, local and wraps around.
func (w *Wizard) CycleResourceLevel(role domain.AgentRole) (domain.ResourceLevel, error) {
	i := w.stepIndex(role)
	if i < 0 {
		return "", fmt.Errorf("role %q is not in the flow", role)
	}
	next := nextResourceLevel(w.draft.Flow.Steps[i].ResourceLevel)
	w.draft.Flow.Steps[i].ResourceLevel = next
	w.draft.Flow.Preset = ""
	return next, nil
}

// Reorder sets the order of the enabled roles. order must name each enabled
// role exactly once; disabled roles follow in their current order.
func (w *Wizard) Reorder(order []domain.AgentRole) error {
	enabled := map[domain.AgentRole]domain.FlowStep{}
	var disabled []domain.FlowStep
	for _, s := range w.draft.Flow.Steps {
		if s.Enabled {
			enabled[s.Role] = s
		} else {
			disabled = append(disabled, s)
		}
	}
	if len(order) != len(enabled) {
		return fmt.Errorf("reorder: expected %d enabled roles, got %d", len(enabled), len(order))
	}
	steps := make([]domain.FlowStep, 0, len(w.draft.Flow.Steps))
	seen := map[domain.AgentRole]bool{}
	for _, role := range order {
		s, ok := enabled[role]
		if !ok || seen[role] {
			return fmt.Errorf("reorder: role %q is not an enabled step", role)
		}
		seen[role] = true
		steps = append(steps, s)
	}
	w.draft.Flow.Steps = append(steps, disabled...)
	w.draft.Flow.Preset = ""
	return nil
}

// ApplyPreset replaces the flow with the preset's roles.
func (w *Wizard) ApplyPreset(id string) error {
	flow, err := FlowFromPreset(id)
	if err != nil {
		return err
	}
	w.draft.Flow = flow
	return nil
}
