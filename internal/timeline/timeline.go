// Package timeline turns a task's flat activity log into day groups, display
// entries and per-agent handoff segments. Every function here is pure.
package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"clawlegion/internal/domain"
	"clawlegion/internal/lifecycle"
)

var critical = map[string]bool{
	domain.EventVerificationFailed: true,
	domain.EventAgentFailed:        true,
	domain.EventBlocked:            true,
	domain.EventRoutingFailed:      true,
}

// IsCritical reports event types rendered with emphasis.
func IsCritical(eventType string) bool {
	return critical[eventType]
}

// detailKeys are surfaced inline for critical events, first non-empty wins.
var detailKeys = []string{"reason", "notes", "error", "verdict"}

type Entry struct {
	Activity domain.TaskActivity `json:"activity"`
	Icon     string              `json:"icon"`
	Text     string              `json:"text"`
	Critical bool                `json:"critical"`
	// FromStatus and ToStatus are set for status changes, rendered as badges.
	FromStatus string `json:"fromStatus,omitempty"`
	ToStatus   string `json:"toStatus,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

type Group struct {
	Label   string    `json:"label"`
	Day     time.Time `json:"day"`
	Entries []Entry   `json:"entries"`
}

var icons = map[string]string{
	domain.EventCreated:            "✨",
	domain.EventStatusChange:       "🔄",
	domain.EventPriorityChange:     "⚡",
	domain.EventAssigned:           "👤",
	domain.EventHandoff:            "🤝",
	domain.EventSubmitted:          "📤",
	domain.EventVerificationPassed: "✅",
	domain.EventVerificationFailed: "❌",
	domain.EventAgentCompleted:     "🏁",
	domain.EventAgentFailed:        "💥",
	domain.EventComment:            "💬",
	domain.EventBlocked:            "🚧",
	domain.EventRoutingFailed:      "🧭",
	domain.EventApproved:           "👍",
}

// Describe renders one activity.
func Describe(a domain.TaskActivity) Entry {
	e := Entry{Activity: a, Icon: icons[a.EventType], Critical: IsCritical(a.EventType)}
	if e.Icon == "" {
		e.Icon = "•"
	}
	actor := a.Actor
	if actor == "" {
		actor = "system"
	}
	from, to := a.Details.FromValue(), a.Details.ToValue()
	switch a.EventType {
	case domain.EventCreated:
		e.Text = actor + " created the task"
	case domain.EventStatusChange:
		e.Text = actor + " moved the task"
		e.FromStatus = statusLabel(from)
		e.ToStatus = statusLabel(to)
	case domain.EventPriorityChange:
		e.Text = fmt.Sprintf("%s changed priority %s → %s", actor, orDash(from), orDash(to))
	case domain.EventAssigned:
		e.Text = fmt.Sprintf("%s assigned the task to %s", actor, orDash(firstNonEmpty(to, a.Details.String("assignee"))))
	case domain.EventHandoff:
		e.Text = fmt.Sprintf("%s handed off to %s", actor, orDash(firstNonEmpty(to, a.Details.String("to"))))
	case domain.EventSubmitted:
		e.Text = actor + " submitted for verification"
	case domain.EventVerificationPassed:
		e.Text = actor + " passed verification"
	case domain.EventVerificationFailed:
		e.Text = actor + " failed verification"
	case domain.EventAgentCompleted:
		e.Text = actor + " completed its work"
	case domain.EventAgentFailed:
		e.Text = actor + " failed"
	case domain.EventComment:
		e.Text = actor + " commented"
		e.Detail = firstNonEmpty(a.Details.String("content"), a.Details.String("comment"))
	case domain.EventBlocked:
		e.Text = actor + " marked the task blocked"
	case domain.EventRoutingFailed:
		e.Text = "routing failed for " + actor
	case domain.EventApproved:
		e.Text = actor + " approved the task"
	default:
		e.Text = actor + " " + strings.ReplaceAll(a.EventType, "_", " ")
	}
	if e.Critical {
		for _, key := range detailKeys {
			if v := strings.TrimSpace(a.Details.String(key)); v != "" {
				e.Detail = v
				break
			}
		}
	}
	return e
}

func statusLabel(raw string) string {
	if raw == "" {
		return "—"
	}
	return lifecycle.StatusMeta(raw).Label
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GroupByDay buckets activities by calendar day in loc, oldest day first.
// Entries keep chronological order within their day.
func GroupByDay(activities []domain.TaskActivity, now time.Time, loc *time.Location) []Group {
	if loc == nil {
		loc = time.Local
	}
	sorted := append([]domain.TaskActivity(nil), activities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	var groups []Group
	for _, a := range sorted {
		day := startOfDay(a.Timestamp.In(loc))
		if n := len(groups); n == 0 || !groups[n-1].Day.Equal(day) {
			groups = append(groups, Group{Label: DayLabel(day, now.In(loc)), Day: day})
		}
		g := &groups[len(groups)-1]
		g.Entries = append(g.Entries, Describe(a))
	}
	return groups
}

// DayLabel is "Today", "Yesterday", or a short month/day label.
func DayLabel(day, now time.Time) string {
	today := startOfDay(now)
	d := startOfDay(day.In(now.Location()))
	switch {
	case d.Equal(today):
		return "Today"
	case d.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	case d.Year() != today.Year():
		return d.Format("Jan 2, 2006")
	default:
		return d.Format("Jan 2")
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
