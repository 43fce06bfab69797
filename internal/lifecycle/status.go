// Package lifecycle maps raw task statuses onto the canonical phase strip and
// reconstructs per-phase timing and ownership from a task's activity log.
package lifecycle

import (
	"strings"
)

type Phase string

const (
	PhaseBacklog     Phase = "backlog"
	PhaseTodo        Phase = "todo"
	PhaseResearching Phase = "researching"
	PhasePlanning    Phase = "planning"
	PhaseBuilding    Phase = "building"
	PhaseVerifying   Phase = "verifying"
	PhaseDone        Phase = "done"
)

var phases = []Phase{
	PhaseBacklog,
	PhaseTodo,
	PhaseResearching,
	PhasePlanning,
	PhaseBuilding,
	PhaseVerifying,
	PhaseDone,
}

// Phases returns the canonical order.
func Phases() []Phase {
	return append([]Phase(nil), phases...)
}

func (p Phase) Valid() bool {
	for _, c := range phases {
		if c == p {
			return true
		}
	}
	return false
}

// legacy statuses still stored by older backends. The canonical strip has no
// failed or cancelled phase: failures go back to building, cancelled work to
// backlog. Banner reports those states separately.
var aliases = map[string]Phase{
	"new":                  PhaseBacklog,
	"open":                 PhaseBacklog,
	"draft":                PhaseBacklog,
	"cancelled":            PhaseBacklog,
	"canceled":             PhaseBacklog,
	"queued":               PhaseTodo,
	"assigned":             PhaseTodo,
	"pending":              PhaseTodo,
	"ready":                PhaseTodo,
	"blocked":              PhaseTodo,
	"research":             PhaseResearching,
	"investigating":        PhaseResearching,
	"planned":              PhasePlanning,
	"plan":                 PhasePlanning,
	"design":               PhasePlanning,
	"in_progress":          PhaseBuilding,
	"inprogress":           PhaseBuilding,
	"active":               PhaseBuilding,
	"working":              PhaseBuilding,
	"build":                PhaseBuilding,
	"failed":               PhaseBuilding,
	"rejected":             PhaseBuilding,
	"changes_requested":    PhaseBuilding,
	"review":               PhaseVerifying,
	"in_review":            PhaseVerifying,
	"verification":         PhaseVerifying,
	"pending_verification": PhaseVerifying,
	"submitted":            PhaseVerifying,
	"testing":              PhaseVerifying,
	"verify":               PhaseVerifying,
	"completed":            PhaseDone,
	"complete":             PhaseDone,
	"verified":             PhaseDone,
	"approved":             PhaseDone,
	"closed":               PhaseDone,
	"merged":               PhaseDone,
	"shipped":              PhaseDone,
}

// NormalizeStatus maps any raw status onto a canonical phase. Unknown or empty
// values are backlog. Canonical values map to themselves.
func NormalizeStatus(raw string) Phase {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	for _, p := range phases {
		if key == string(p) {
			return p
		}
	}
	if p, ok := aliases[key]; ok {
		return p
	}
	return PhaseBacklog
}

// PhaseIndex is the position of the normalized status in the strip.
func PhaseIndex(status string) int {
	p := NormalizeStatus(status)
	for i, candidate := range phases {
		if candidate == p {
			return i
		}
	}
	return -1
}

type Meta struct {
	Label string
	Emoji string
	Color string
}

var meta = map[Phase]Meta{
	PhaseBacklog:     {Label: "Backlog", Emoji: "📥", Color: "#6B7280"},
	PhaseTodo:        {Label: "To Do", Emoji: "📋", Color: "#3B82F6"},
	PhaseResearching: {Label: "Researching", Emoji: "🔍", Color: "#06B6D4"},
	PhasePlanning:    {Label: "Planning", Emoji: "🧭", Color: "#8B5CF6"},
	PhaseBuilding:    {Label: "Building", Emoji: "🔨", Color: "#F97316"},
	PhaseVerifying:   {Label: "Verifying", Emoji: "🛡️", Color: "#EAB308"},
	PhaseDone:        {Label: "Done", Emoji: "✅", Color: "#10B981"},
}

// StatusMeta returns display attributes for a raw or canonical status.
func StatusMeta(status string) Meta {
	return meta[NormalizeStatus(status)]
}

// BannerKind marks raw statuses the phase strip cannot express.
type BannerKind string

const (
	BannerCancelled BannerKind = "cancelled"
	BannerBlocked   BannerKind = "blocked"
	BannerFailed    BannerKind = "failed"
)

type Notice struct {
	Kind    BannerKind `json:"kind"`
	Label   string     `json:"label"`
	Message string     `json:"message"`
}

// Banner reports whether the raw status needs a notice next to the strip.
func Banner(status string) (Notice, bool) {
	key := strings.ToLower(strings.TrimSpace(status))
	switch key {
	case "cancelled", "canceled":
		return Notice{Kind: BannerCancelled, Label: "Cancelled", Message: "This task was cancelled."}, true
	case "blocked":
		return Notice{Kind: BannerBlocked, Label: "Blocked", Message: "This task is blocked and waiting on input."}, true
	case "failed", "rejected":
		return Notice{Kind: BannerFailed, Label: "Failed", Message: "The last attempt failed and the task is back in building."}, true
	}
	return Notice{}, false
}
