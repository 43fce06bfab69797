package clawsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"clawlegion/internal/domain"
)

// unmarshalList decodes a bare array or an object holding the array under key.
func unmarshalList[T any](data []byte, key string) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var items []T
		err := json.Unmarshal(data, &items)
		return items, err
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	raw, ok := env[key]
	if !ok {
		return nil, nil
	}
	var items []T
	err := json.Unmarshal(raw, &items)
	return items, err
}

// unmarshalOne decodes {"<key>": {...}} or a bare object.
func unmarshalOne[T any](data []byte, key string) (T, error) {
	var zero T
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err == nil {
		if raw, ok := env[key]; ok && len(raw) > 0 && raw[0] == '{' {
			var v T
			err := json.Unmarshal(raw, &v)
			return v, err
		}
	}
	if err := json.Unmarshal(data, &zero); err != nil {
		return zero, err
	}
	return zero, nil
}

// TaskFilters narrows a task listing.
type TaskFilters struct {
	Status   string
	Assignee string
	ParentID string
	Priority string
}

func (f TaskFilters) query() string {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Assignee != "" {
		q.Set("assignee", f.Assignee)
	}
	if f.ParentID != "" {
		q.Set("parentId", f.ParentID)
	}
	if f.Priority != "" {
		q.Set("priority", f.Priority)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListTasks returns tasks matching the filters.
func (c *Client) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, apiPath("tasks")+f.query(), nil, &raw); err != nil {
		return nil, err
	}
	return unmarshalList[domain.Task](raw, "tasks")
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, apiPath("tasks/%s", id), nil, &raw); err != nil {
		return domain.Task{}, err
	}
	return unmarshalOne[domain.Task](raw, "task")
}

// CreateTaskRequest is the payload assembled by the creation wizard.
type CreateTaskRequest struct {
	Title           string                    `json:"title"`
	Description     string                    `json:"description"`
	Priority        domain.Priority           `json:"priority"`
	RepositoryID    string                    `json:"repositoryId,omitempty"`
	ParentID        string                    `json:"parentId,omitempty"`
	Specs           string                    `json:"specs,omitempty"`
	Approach        string                    `json:"approach,omitempty"`
	SuccessCriteria []string                  `json:"successCriteria"`
	FlowConfig      *domain.FlowConfiguration `json:"flowConfig,omitempty"`
	CreatedBy       string                    `json:"createdBy,omitempty"`
	Assignee        string                    `json:"assignee,omitempty"`
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (domain.Task, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, apiPath("tasks"), req, &raw); err != nil {
		return domain.Task{}, err
	}
	return unmarshalOne[domain.Task](raw, "task")
}

// TaskUpdate is a PATCH body; nil fields are left untouched.
type TaskUpdate struct {
	Title                *string          `json:"title,omitempty"`
	Description          *string          `json:"description,omitempty"`
	Priority             *domain.Priority `json:"priority,omitempty"`
	Status               *string          `json:"status,omitempty"`
	Assignee             *string          `json:"assignee,omitempty"`
	Specs                *string          `json:"specs,omitempty"`
	Approach             *string          `json:"approach,omitempty"`
	LastVerificationNote *string          `json:"lastVerificationNote,omitempty"`
}

// UpdateTask patches task fields.
func (c *Client) UpdateTask(ctx context.Context, id string, upd TaskUpdate) (domain.Task, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPatch, apiPath("tasks/%s", id), upd, &raw); err != nil {
		return domain.Task{}, err
	}
	return unmarshalOne[domain.Task](raw, "task")
}

// SetStatus moves a task through the dedicated status endpoint, which records
// the status_change activity.
func (c *Client) SetStatus(ctx context.Context, id, status, actor, note string) (domain.Task, error) {
	body := map[string]any{"status": status}
	if actor != "" {
		body["actor"] = actor
	}
	if note != "" {
		body["note"] = note
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPatch, apiPath("tasks/%s/status", id), body, &raw); err != nil {
		return domain.Task{}, err
	}
	return unmarshalOne[domain.Task](raw, "task")
}

// DeleteTask removes a task permanently.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, apiPath("tasks/%s", id), nil, nil)
}

// CreateSubtask creates a child task under parentID.
func (c *Client) CreateSubtask(ctx context.Context, parentID string, req CreateTaskRequest) (domain.Task, error) {
	req.ParentID = parentID
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, apiPath("tasks/%s/subtasks", parentID), req, &raw); err != nil {
		return domain.Task{}, err
	}
	return unmarshalOne[domain.Task](raw, "task")
}

// ExpandTask asks the backend to turn a free-text prompt into a structured draft.
func (c *Client) ExpandTask(ctx context.Context, prompt, contextID string) (domain.ExpandResult, error) {
	body := map[string]any{"prompt": prompt}
	if contextID != "" {
		body["context"] = contextID
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, apiPath("tasks/expand"), body, &raw); err != nil {
		return domain.ExpandResult{}, err
	}
	return unmarshalOne[domain.ExpandResult](raw, "expanded")
}

// Activities returns the task's activity log.
func (c *Client) Activities(ctx context.Context, taskID string) ([]domain.TaskActivity, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, apiPath("tasks/%s/activities", taskID), nil, &raw); err != nil {
		return nil, err
	}
	return unmarshalList[domain.TaskActivity](raw, "activities")
}

// Comments returns the discussion on a task.
func (c *Client) Comments(ctx context.Context, taskID string) ([]domain.TaskComment, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, apiPath("tasks/%s/comments", taskID), nil, &raw); err != nil {
		return nil, err
	}
	return unmarshalList[domain.TaskComment](raw, "comments")
}

// AddComment posts a comment on a task.
func (c *Client) AddComment(ctx context.Context, taskID, author, content string) (domain.TaskComment, error) {
	body := map[string]any{"author": author, "content": content, "authorType": domain.ActorHuman}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, apiPath("tasks/%s/comments", taskID), body, &raw); err != nil {
		return domain.TaskComment{}, err
	}
	return unmarshalOne[domain.TaskComment](raw, "comment")
}

// Repositories lists the repositories tasks can target.
func (c *Client) Repositories(ctx context.Context) ([]domain.Repository, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, apiPath("repositories"), nil, &raw); err != nil {
		return nil, err
	}
	return unmarshalList[domain.Repository](raw, "repositories")
}
