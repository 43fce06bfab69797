package timeline

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"clawlegion/internal/agents"
)

type RenderOptions struct {
	// Agents resolves actor ids to names and colors; nil uses the default roster.
	Agents *agents.Registry
	// Plain disables all styling.
	Plain bool
}

type styles struct {
	day      lipgloss.Style
	critical lipgloss.Style
	detail   lipgloss.Style
	badge    lipgloss.Style
	muted    lipgloss.Style
	r        *lipgloss.Renderer
	plain    bool
}

func newStyles(w io.Writer, plain bool) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		day:      r.NewStyle().Bold(true).Underline(true),
		critical: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444")),
		detail:   r.NewStyle().Italic(true).Foreground(lipgloss.Color("#9CA3AF")),
		badge:    r.NewStyle().Padding(0, 1).Background(lipgloss.Color("#374151")).Foreground(lipgloss.Color("#F9FAFB")),
		muted:    r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		r:        r,
		plain:    plain,
	}
}

func (s styles) render(st lipgloss.Style, text string) string {
	if s.plain {
		return text
	}
	return st.Render(text)
}

// Render writes day groups as a terminal timeline.
func Render(w io.Writer, groups []Group, opts RenderOptions) error {
	reg := opts.Agents
	if reg == nil {
		reg = agents.Default()
	}
	st := newStyles(w, opts.Plain)
	var b strings.Builder
	for gi, g := range groups {
		if gi > 0 {
			b.WriteString("\n")
		}
		b.WriteString(st.render(st.day, g.Label))
		b.WriteString("\n")
		for _, e := range g.Entries {
			ts := st.render(st.muted, e.Activity.Timestamp.In(g.Day.Location()).Format("15:04"))
			text := e.Text
			if a := e.Activity.Actor; a != "" {
				agent := reg.Resolve(a)
				if !agent.Fallback {
					name := agent.Emoji + " " + agent.Name
					if !st.plain {
						name = st.r.NewStyle().Foreground(lipgloss.Color(agent.Color)).Render(name)
					}
					text = strings.Replace(text, a, name, 1)
				}
			}
			if e.Critical {
				text = st.render(st.critical, text)
			}
			fmt.Fprintf(&b, "  %s %s %s", ts, e.Icon, text)
			if e.FromStatus != "" || e.ToStatus != "" {
				fmt.Fprintf(&b, " %s → %s", st.render(st.badge, e.FromStatus), st.render(st.badge, e.ToStatus))
			}
			b.WriteString("\n")
			if e.Detail != "" {
				fmt.Fprintf(&b, "        %s\n", st.render(st.detail, e.Detail))
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// RenderHandoffs writes the handoff strip, one line per segment.
func RenderHandoffs(w io.Writer, segs []Segment, opts RenderOptions) error {
	reg := opts.Agents
	if reg == nil {
		reg = agents.Default()
	}
	st := newStyles(w, opts.Plain)
	var b strings.Builder
	for _, s := range segs {
		agent := reg.Resolve(s.Actor)
		label := agent.Emoji + " " + agent.Name
		if agent.Fallback {
			label = agent.Emoji + " " + s.Actor
		}
		if !st.plain {
			label = st.r.NewStyle().Bold(true).Foreground(lipgloss.Color(agent.Color)).Render(label)
		}
		suffix := ""
		if s.Current {
			suffix = " " + st.render(st.muted, "(now)")
		}
		fmt.Fprintf(&b, "%s  %s  %s%s\n", label, FormatDuration(s.Duration), st.render(st.muted, itoa(s.Events)+" events"), suffix)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func itoa(n int) string { return strconv.Itoa(n) }
