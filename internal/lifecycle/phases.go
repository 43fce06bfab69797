package lifecycle

import (
	"sort"
	"time"

	"clawlegion/internal/domain"
)

type PhaseState string

const (
	StateCompleted PhaseState = "completed"
	StateCurrent   PhaseState = "current"
	StateUpcoming  PhaseState = "upcoming"
)

var defaultAgents = map[Phase]string{
	PhaseBacklog:     "archon",
	PhaseTodo:        "archon",
	PhaseResearching: "scout",
	PhasePlanning:    "sage",
	PhaseBuilding:    "forge",
	PhaseVerifying:   "sentinel",
	PhaseDone:        "sentinel",
}

// DefaultAgent is the agent shown for a phase when the log names nobody.
func DefaultAgent(p Phase) string {
	return defaultAgents[p]
}

type PhaseInfo struct {
	Phase     Phase         `json:"phase"`
	Label     string        `json:"label"`
	State     PhaseState    `json:"state"`
	EnteredAt *time.Time    `json:"enteredAt,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	// HasDuration is false for upcoming phases and phases with no usable entry time.
	HasDuration bool   `json:"hasDuration"`
	Agent       string `json:"agent"`
}

type timeline struct {
	// entered holds every entry into a phase, oldest first.
	entered map[Phase][]time.Time
	actors  map[Phase]string
}

func replay(task domain.Task, activities []domain.TaskActivity) timeline {
	sorted := append([]domain.TaskActivity(nil), activities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	tl := timeline{entered: map[Phase][]time.Time{}, actors: map[Phase]string{}}
	var created time.Time
	for _, a := range sorted {
		switch a.EventType {
		case domain.EventCreated:
			if created.IsZero() {
				created = a.Timestamp
			}
		case domain.EventStatusChange:
			to := a.Details.ToValue()
			if to == "" {
				continue
			}
			p := NormalizeStatus(to)
			tl.entered[p] = append(tl.entered[p], a.Timestamp)
			if a.ActorType != domain.ActorSystem && a.Actor != "" {
				tl.actors[p] = a.Actor
			}
		}
	}
	if _, ok := tl.entered[PhaseBacklog]; !ok {
		switch {
		case !task.CreatedAt.IsZero():
			tl.entered[PhaseBacklog] = []time.Time{task.CreatedAt}
		case !created.IsZero():
			tl.entered[PhaseBacklog] = []time.Time{created}
		}
	}
	return tl
}

// Compute builds the phase strip for a task. A completed phase lasts from its
// first entry until a later phase was first entered after it; the current
// phase runs from its latest entry until now. An empty log yields default
// agents and only the backlog entry from CreatedAt.
func Compute(task domain.Task, activities []domain.TaskActivity, now time.Time) []PhaseInfo {
	current := PhaseIndex(task.Status)
	tl := replay(task, activities)
	out := make([]PhaseInfo, len(phases))
	for i, p := range phases {
		info := PhaseInfo{Phase: p, Label: meta[p].Label, Agent: agentFor(p, task, tl)}
		switch {
		case i < current:
			info.State = StateCompleted
		case i == current:
			info.State = StateCurrent
		default:
			info.State = StateUpcoming
		}
		if entries := tl.entered[p]; len(entries) > 0 && i <= current {
			switch info.State {
			case StateCompleted:
				at := entries[0]
				info.EnteredAt = &at
				if next, ok := nextEntry(tl, i, current, at); ok {
					info.Duration = next.Sub(at)
					info.HasDuration = true
				}
			case StateCurrent:
				at := entries[len(entries)-1]
				info.EnteredAt = &at
				info.Duration = max(now.Sub(at), 0)
				info.HasDuration = true
			}
		}
		out[i] = info
	}
	return out
}

// CurrentDuration is the time spent in the task's current phase so far.
func CurrentDuration(task domain.Task, activities []domain.TaskActivity, now time.Time) (time.Duration, bool) {
	idx := PhaseIndex(task.Status)
	info := Compute(task, activities, now)[idx]
	return info.Duration, info.HasDuration
}

// nextEntry is the earliest entry into any phase after from (up to current)
// at or after the given time.
func nextEntry(tl timeline, from, current int, after time.Time) (time.Time, bool) {
	var next time.Time
	found := false
	for j := from + 1; j <= current; j++ {
		for _, at := range tl.entered[phases[j]] {
			if at.Before(after) {
				continue
			}
			if !found || at.Before(next) {
				next, found = at, true
			}
			break
		}
	}
	return next, found
}

func agentFor(p Phase, task domain.Task, tl timeline) string {
	if (p == PhaseBacklog || p == PhaseTodo) && task.CreatedBy != "" {
		return task.CreatedBy
	}
	if actor, ok := tl.actors[p]; ok {
		return actor
	}
	return defaultAgents[p]
}
