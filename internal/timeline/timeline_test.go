package timeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawlegion/internal/domain"
)

func act(event, actor string, actorType domain.ActorType, at time.Time, details domain.ActivityDetails) domain.TaskActivity {
	return domain.TaskActivity{EventType: event, Actor: actor, ActorType: actorType, Timestamp: at, Details: details}
}

func TestGroupByDayLabels(t *testing.T) {
	loc := time.UTC
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, loc)
	acts := []domain.TaskActivity{
		act(domain.EventComment, "alice", domain.ActorHuman, now.Add(-time.Hour), nil),
		act(domain.EventCreated, "alice", domain.ActorHuman, time.Date(2025, 3, 1, 9, 0, 0, 0, loc), nil),
		act(domain.EventAssigned, "archon", domain.ActorAgent, now.Add(-20*time.Hour), domain.ActivityDetails{"toValue": "forge"}),
		act(domain.EventHandoff, "forge", domain.ActorAgent, now.Add(-2*time.Hour), domain.ActivityDetails{"toValue": "sentinel"}),
	}
	groups := GroupByDay(acts, now, loc)
	require.Len(t, groups, 3)
	assert.Equal(t, "Mar 1", groups[0].Label)
	assert.Equal(t, "Yesterday", groups[1].Label)
	assert.Equal(t, "Today", groups[2].Label)

	today := groups[2].Entries
	require.Len(t, today, 2)
	assert.Equal(t, domain.EventHandoff, today[0].Activity.EventType)
	assert.Equal(t, domain.EventComment, today[1].Activity.EventType)
	assert.Equal(t, "forge handed off to sentinel", today[0].Text)
}

func TestDayLabelOtherYear(t *testing.T) {
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "Dec 24, 2024", DayLabel(time.Date(2024, 12, 24, 8, 0, 0, 0, time.UTC), now))
}

func TestDescribeStatusChangeBadges(t *testing.T) {
	e := Describe(act(domain.EventStatusChange, "forge", domain.ActorAgent, time.Now(),
		domain.ActivityDetails{"fromValue": "in_progress", "toValue": "review"}))
	assert.Equal(t, "Building", e.FromStatus)
	assert.Equal(t, "Verifying", e.ToStatus)
	assert.False(t, e.Critical)
}

func TestDescribeCriticalSurfacesDetail(t *testing.T) {
	for _, event := range []string{domain.EventVerificationFailed, domain.EventAgentFailed, domain.EventBlocked, domain.EventRoutingFailed} {
		assert.True(t, IsCritical(event), event)
	}
	assert.False(t, IsCritical(domain.EventComment))

	e := Describe(act(domain.EventVerificationFailed, "sentinel", domain.ActorAgent, time.Now(),
		domain.ActivityDetails{"notes": "screenshot missing", "verdict": "fail"}))
	assert.True(t, e.Critical)
	assert.Equal(t, "screenshot missing", e.Detail)

	e = Describe(act(domain.EventAgentFailed, "forge", domain.ActorAgent, time.Now(),
		domain.ActivityDetails{"error": "exit status 1"}))
	assert.Equal(t, "exit status 1", e.Detail)
}

func TestHandoffsSegments(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	acts := []domain.TaskActivity{
		act(domain.EventCreated, "alice", domain.ActorHuman, t0, nil),
		act(domain.EventAssigned, "archon", domain.ActorAgent, t0.Add(10*time.Minute), nil),
		act(domain.EventStatusChange, "scheduler", domain.ActorSystem, t0.Add(15*time.Minute), nil),
		act(domain.EventComment, "archon", domain.ActorAgent, t0.Add(20*time.Minute), nil),
		act(domain.EventHandoff, "forge", domain.ActorAgent, t0.Add(time.Hour), nil),
	}
	segs := Handoffs(acts, t0.Add(3*time.Hour))
	require.Len(t, segs, 3)
	assert.Equal(t, "alice", segs[0].Actor)
	assert.Equal(t, 10*time.Minute, segs[0].Duration)
	assert.Equal(t, "archon", segs[1].Actor)
	assert.Equal(t, 3, segs[1].Events)
	assert.Equal(t, 50*time.Minute, segs[1].Duration)
	assert.True(t, segs[2].Current)
	assert.Equal(t, 2*time.Hour, segs[2].Duration)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "5m", FormatDuration(5*time.Minute))
	assert.Equal(t, "2h 5m", FormatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "1d 3h", FormatDuration(27*time.Hour))
}

func TestRenderPlain(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	groups := GroupByDay([]domain.TaskActivity{
		act(domain.EventStatusChange, "forge", domain.ActorAgent, now.Add(-time.Hour),
			domain.ActivityDetails{"fromValue": "todo", "toValue": "building"}),
		act(domain.EventBlocked, "ghost", domain.ActorAgent, now.Add(-30*time.Minute),
			domain.ActivityDetails{"reason": "waiting on credentials"}),
	}, now, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, groups, RenderOptions{Plain: true}))
	out := buf.String()
	assert.Contains(t, out, "Today")
	assert.Contains(t, out, "Forge moved the task")
	assert.Contains(t, out, "To Do → Building")
	assert.Contains(t, out, "ghost marked the task blocked")
	assert.Contains(t, out, "waiting on credentials")
}
