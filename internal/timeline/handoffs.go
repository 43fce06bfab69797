package timeline

import (
	"sort"
	"time"

	"clawlegion/internal/domain"
)

// Segment is a contiguous stretch of the log owned by one actor.
type Segment struct {
	Actor     string           `json:"actor"`
	ActorType domain.ActorType `json:"actorType"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	Duration  time.Duration    `json:"duration"`
	Events    int              `json:"events"`
	// Current marks the last segment, which is still running at now.
	Current bool `json:"current"`
}

// Handoffs splits the log into per-actor segments. System events never start
// a segment; a segment ends where the next one starts.
func Handoffs(activities []domain.TaskActivity, now time.Time) []Segment {
	sorted := append([]domain.TaskActivity(nil), activities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	var segs []Segment
	for _, a := range sorted {
		if a.ActorType == domain.ActorSystem || a.Actor == "" {
			if n := len(segs); n > 0 {
				segs[n-1].Events++
			}
			continue
		}
		if n := len(segs); n > 0 && segs[n-1].Actor == a.Actor {
			segs[n-1].Events++
			continue
		}
		segs = append(segs, Segment{Actor: a.Actor, ActorType: a.ActorType, Start: a.Timestamp, Events: 1})
	}
	for i := range segs {
		if i+1 < len(segs) {
			segs[i].End = segs[i+1].Start
		} else {
			segs[i].End = now
			segs[i].Current = true
		}
		segs[i].Duration = max(segs[i].End.Sub(segs[i].Start), 0)
	}
	return segs
}

// FormatDuration renders a compact duration such as "2h 5m" or "45s".
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return (d.Round(time.Second)).String()
	}
	d = d.Round(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute
	switch {
	case days > 0:
		return itoa(int(days)) + "d " + itoa(int(hours)) + "h"
	case hours > 0:
		return itoa(int(hours)) + "h " + itoa(int(mins)) + "m"
	default:
		return itoa(int(mins)) + "m"
	}
}
