package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/sync/errgroup"

	"clawlegion/internal/agents"
	"clawlegion/internal/domain"
	"clawlegion/internal/health"
	"clawlegion/internal/localstate"
	"clawlegion/internal/wizard"
)

func registerHealth(api huma.API, m *Monitor) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Aggregated dependency health",
		Description: "Probes every configured dependency. Responds 503 when any of them is down.",
	}, func(ctx context.Context, input *struct {
		Cached bool `query:"cached" doc:"Serve the last background check instead of probing now"`
	}) (*struct {
		Status int
		Body   health.Report `json:"body"`
	}, error) {
		var report health.Report
		if last, ok := m.Latest(); input.Cached && ok {
			report = last
		} else {
			report = m.Check(ctx)
		}
		status := http.StatusOK
		if report.Status == health.StatusDown {
			status = http.StatusServiceUnavailable
		}
		return &struct {
			Status int
			Body   health.Report `json:"body"`
		}{Status: status, Body: report}, nil
	})
}

func registerAgents(api huma.API, reg *agents.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents by tier",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AgentListResponse `json:"body"`
	}, error) {
		return &struct {
			Body AgentListResponse `json:"body"`
		}{Body: AgentListResponse{Council: reg.Council(), Army: reg.Army()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}",
		Summary:     "Get agent by id or name",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		a, ok := reg.ByID(input.AgentID)
		if !ok {
			a, ok = reg.ByName(input.AgentID)
		}
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "agent not found", map[string]any{"agent_id": input.AgentID})
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})
}

type taskPath struct {
	TaskID string `path:"task_id"`
}

func loadTask(ctx context.Context, src TaskSource, id string) (domain.Task, []domain.TaskActivity, error) {
	var (
		task domain.Task
		acts []domain.TaskActivity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		task, err = src.GetTask(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		acts, err = src.Activities(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Task{}, nil, err
	}
	return task, acts, nil
}

func registerTasks(api huma.API, src TaskSource) {
	unavailable := func() error {
		return newAPIError(http.StatusServiceUnavailable, "backend_unconfigured", "task backend not configured", nil)
	}

	huma.Register(api, huma.Operation{
		OperationID: "task-phases",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/phases",
		Summary:     "Lifecycle phases of a task",
		Errors:      []int{http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body PhasesResponse `json:"body"`
	}, error) {
		if src == nil {
			return nil, unavailable()
		}
		task, acts, err := loadTask(ctx, src, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PhasesResponse `json:"body"`
		}{Body: phasesResponse(task, acts, time.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-timeline",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/timeline",
		Summary:     "Activity timeline of a task grouped by day",
		Errors:      []int{http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		TZ     string `query:"tz" doc:"IANA time zone used for day grouping" default:"UTC"`
	}) (*struct {
		Body TimelineResponse `json:"body"`
	}, error) {
		if src == nil {
			return nil, unavailable()
		}
		loc, err := time.LoadLocation(strings.TrimSpace(input.TZ))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid tz", map[string]any{"tz": input.TZ})
		}
		acts, err := src.Activities(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TimelineResponse `json:"body"`
		}{Body: timelineResponse(input.TaskID, acts, time.Now(), loc)}, nil
	})
}

func registerTemplates(api huma.API, store *localstate.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "Built-in and saved criteria templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TemplateListResponse `json:"body"`
	}, error) {
		list := wizard.BuiltinTemplates()
		if store != nil {
			list = append(list, store.SavedTemplates(ctx)...)
		}
		return &struct {
			Body TemplateListResponse `json:"body"`
		}{Body: TemplateListResponse{Templates: list}}, nil
	})

	if store == nil {
		return
	}

	huma.Register(api, huma.Operation{
		OperationID:   "save-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Save a criteria template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SaveTemplateRequest `json:"body"`
	}) (*struct {
		Body wizard.Template `json:"body"`
	}, error) {
		id, err := store.SaveTemplate(ctx, input.Body.Name, input.Body.Criteria)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body wizard.Template `json:"body"`
		}{Body: wizard.Template{ID: id, Name: strings.TrimSpace(input.Body.Name), Criteria: input.Body.Criteria, Saved: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-template",
		Method:        http.MethodDelete,
		Path:          "/templates/{template_id}",
		Summary:       "Delete a saved criteria template",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct{}, error) {
		if err := store.DeleteTemplate(ctx, input.TemplateID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSelections(api huma.API, store *localstate.Store, reg *agents.Registry) {
	if store == nil {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-selection",
		Method:      http.MethodGet,
		Path:        "/selections/{scope}",
		Summary:     "Agents last selected for a scope",
	}, func(ctx context.Context, input *struct {
		Scope string `path:"scope"`
	}) (*struct {
		Body SelectionResponse `json:"body"`
	}, error) {
		ids := store.SelectedAgents(ctx, input.Scope)
		if ids == nil {
			ids = []string{}
		}
		return &struct {
			Body SelectionResponse `json:"body"`
		}{Body: SelectionResponse{Scope: input.Scope, Agents: ids}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-selection",
		Method:      http.MethodPut,
		Path:        "/selections/{scope}",
		Summary:     "Remember the agents selected for a scope",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Scope string           `path:"scope"`
		Body  SelectionRequest `json:"body"`
	}) (*struct {
		Body SelectionResponse `json:"body"`
	}, error) {
		ids := make([]string, 0, len(input.Body.Agents))
		for _, id := range input.Body.Agents {
			a, ok := reg.ByID(id)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "unknown_agent", "unknown agent "+id, map[string]any{"agent_id": id})
			}
			ids = append(ids, a.ID)
		}
		if err := store.SetSelectedAgents(ctx, input.Scope, ids); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SelectionResponse `json:"body"`
		}{Body: SelectionResponse{Scope: input.Scope, Agents: ids}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		p, ok := PrincipalFromContext(ctx)
		if !ok {
			p = Principal{ActorID: "anonymous", Source: "none"}
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"actor_id": p.ActorID, "source": p.Source}}, nil
	})
}
