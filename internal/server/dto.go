package server

import (
	"time"

	"clawlegion/internal/domain"
	"clawlegion/internal/lifecycle"
	"clawlegion/internal/timeline"
	"clawlegion/internal/wizard"
)

// Request payloads

type SaveTemplateRequest struct {
	Name     string   `json:"name" minLength:"1"`
	Criteria []string `json:"criteria" minItems:"1"`
}

type SelectionRequest struct {
	Agents []string `json:"agents"`
}

// Response payloads

type AgentListResponse struct {
	Council []domain.Agent `json:"council"`
	Army    []domain.Agent `json:"army"`
}

type PhasesResponse struct {
	TaskID          string                `json:"taskId"`
	Status          string                `json:"status"`
	Phase           lifecycle.Phase       `json:"phase"`
	Phases          []lifecycle.PhaseInfo `json:"phases"`
	CurrentDuration time.Duration         `json:"currentDuration,omitempty"`
	Banner          *lifecycle.Notice     `json:"banner,omitempty"`
}

type TimelineResponse struct {
	TaskID   string             `json:"taskId"`
	Groups   []timeline.Group   `json:"groups"`
	Handoffs []timeline.Segment `json:"handoffs"`
	Critical int                `json:"critical"`
}

type TemplateListResponse struct {
	Templates []wizard.Template `json:"templates"`
}

type SelectionResponse struct {
	Scope  string   `json:"scope"`
	Agents []string `json:"agents"`
}

func phasesResponse(task domain.Task, acts []domain.TaskActivity, now time.Time) PhasesResponse {
	res := PhasesResponse{
		TaskID: task.ID,
		Status: task.Status,
		Phase:  lifecycle.NormalizeStatus(task.Status),
		Phases: lifecycle.Compute(task, acts, now),
	}
	if d, ok := lifecycle.CurrentDuration(task, acts, now); ok {
		res.CurrentDuration = d
	}
	if n, ok := lifecycle.Banner(task.Status); ok {
		res.Banner = &n
	}
	return res
}

func timelineResponse(taskID string, acts []domain.TaskActivity, now time.Time, loc *time.Location) TimelineResponse {
	res := TimelineResponse{
		TaskID:   taskID,
		Groups:   timeline.GroupByDay(acts, now, loc),
		Handoffs: timeline.Handoffs(acts, now),
	}
	for _, g := range res.Groups {
		for _, e := range g.Entries {
			if e.Critical {
				res.Critical++
			}
		}
	}
	return res
}
