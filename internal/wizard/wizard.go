// Package wizard holds the state of the two-step task creation flow: a free
// text prompt, then a fully editable review form that becomes a single
// create call.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"clawlegion/internal/domain"
	clawsdk "clawlegion/sdk/go"
)

type Step string

const (
	StepPrompt Step = "prompt"
	StepReview Step = "review"
)

var (
	ErrWrongStep = errors.New("wizard: not available on this step")
	ErrBusy      = errors.New("wizard: request already in progress")
	ErrSubmitted = errors.New("wizard: task already created")
)

// ValidationError names the first field that blocks submission.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type Expander interface {
	ExpandTask(ctx context.Context, prompt, contextID string) (domain.ExpandResult, error)
}

type Creator interface {
	CreateTask(ctx context.Context, req clawsdk.CreateTaskRequest) (domain.Task, error)
}

// TemplateSaver persists a criteria list under a name and returns its id.
type TemplateSaver interface {
	SaveTemplate(ctx context.Context, name string, criteria []string) (string, error)
}

// Draft is the review form.
type Draft struct {
	Title        string
	Description  string
	Priority     domain.Priority
	RepositoryID string
	ParentID     string
	Specs        string
	Approach     string
	Flow         domain.FlowConfiguration
	Criteria     []domain.SuccessCriterion
	// CriteriaTemplate is the template the criteria still match; empty is custom.
	CriteriaTemplate string
}

type Options struct {
	// CreatedBy is recorded on the created task.
	CreatedBy string
	// Templates are saved templates offered next to the built-in ones.
	Templates []Template
	NewID     func() string
	Logger    *slog.Logger
}

type Wizard struct {
	opts      Options
	log       *slog.Logger
	step      Step
	prompt    string
	contextID string
	draft     Draft
	templates []Template
	err       error

	expanding  bool
	submitting bool
	created    *domain.Task
}

func New(opts Options) *Wizard {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Wizard{
		opts:      opts,
		log:       logger.With("component", "wizard"),
		step:      StepPrompt,
		templates: BuiltinTemplates(),
	}
	for _, t := range opts.Templates {
		w.addTemplate(t)
	}
	w.draft = w.freshDraft()
	return w
}

func (w *Wizard) freshDraft() Draft {
	flow, _ := FlowFromPreset(DefaultPreset)
	d := Draft{Priority: domain.PriorityP2, Flow: flow}
	if t, ok := w.Template(DefaultTemplate); ok {
		d.Criteria = w.criteriaFrom(t.Criteria)
		d.CriteriaTemplate = t.ID
	}
	return d
}

func (w *Wizard) Step() Step     { return w.step }
func (w *Wizard) Err() error     { return w.err }
func (w *Wizard) Prompt() string { return w.prompt }

// Draft returns a copy of the review form.
func (w *Wizard) Draft() Draft {
	d := w.draft
	d.Flow.Steps = append([]domain.FlowStep(nil), w.draft.Flow.Steps...)
	d.Criteria = append([]domain.SuccessCriterion(nil), w.draft.Criteria...)
	return d
}

// Created is the task returned by a successful Submit.
func (w *Wizard) Created() (domain.Task, bool) {
	if w.created == nil {
		return domain.Task{}, false
	}
	return *w.created, true
}

// SetPrompt records the free text and the optional context (repository) id.
func (w *Wizard) SetPrompt(prompt, contextID string) {
	w.prompt = prompt
	w.contextID = contextID
}

// Expand asks the backend to structure the prompt. On failure nothing in the
// draft changes and the wizard stays on the prompt step.
func (w *Wizard) Expand(ctx context.Context, e Expander) error {
	if w.step != StepPrompt {
		return ErrWrongStep
	}
	if w.expanding {
		return ErrBusy
	}
	prompt := strings.TrimSpace(w.prompt)
	if prompt == "" {
		w.err = &ValidationError{Field: "prompt", Message: "Describe the task first"}
		return w.err
	}
	w.expanding = true
	res, err := e.ExpandTask(ctx, prompt, w.contextID)
	w.expanding = false
	if err != nil {
		w.err = fmt.Errorf("expand task: %w", err)
		w.log.Warn("task expansion failed", "err", err)
		return w.err
	}

	d := w.draft
	d.Title = strings.TrimSpace(res.Title)
	d.Description = strings.TrimSpace(res.Description)
	if d.Description == "" {
		d.Description = prompt
	}
	if res.Priority.Valid() {
		d.Priority = res.Priority
	}
	if len(res.SuccessCriteria) > 0 {
		d.Criteria = w.criteriaFrom(res.SuccessCriteria)
		d.CriteriaTemplate = ""
	}
	d.Specs = res.Specs
	d.Approach = res.Approach
	if w.contextID != "" {
		d.RepositoryID = w.contextID
	}
	w.draft = d
	w.err = nil
	w.step = StepReview
	return nil
}

// SkipExpansion goes straight to manual entry; the prompt seeds the description.
func (w *Wizard) SkipExpansion() {
	if w.step != StepPrompt {
		return
	}
	if w.draft.Description == "" {
		w.draft.Description = strings.TrimSpace(w.prompt)
	}
	if w.contextID != "" && w.draft.RepositoryID == "" {
		w.draft.RepositoryID = w.contextID
	}
	w.err = nil
	w.step = StepReview
}

// Back returns to the prompt step, keeping the draft.
func (w *Wizard) Back() {
	w.step = StepPrompt
	w.err = nil
}

func (w *Wizard) SetTitle(title string)       { w.draft.Title = title }
func (w *Wizard) SetDescription(desc string)  { w.draft.Description = desc }
func (w *Wizard) SetRepository(id string)     { w.draft.RepositoryID = id }
func (w *Wizard) SetParent(id string)         { w.draft.ParentID = id }
func (w *Wizard) SetSpecs(specs string)       { w.draft.Specs = specs }
func (w *Wizard) SetApproach(approach string) { w.draft.Approach = approach }

func (w *Wizard) SetPriority(p domain.Priority) error {
	if !p.Valid() {
		return &ValidationError{Field: "priority", Message: fmt.Sprintf("Unknown priority %q", p)}
	}
	w.draft.Priority = p
	return nil
}

// Validate checks the required fields in form order and reports the first failure.
func (w *Wizard) Validate() error {
	d := w.draft
	switch {
	case strings.TrimSpace(d.Title) == "":
		return &ValidationError{Field: "title", Message: "Title is required"}
	case strings.TrimSpace(d.Description) == "":
		return &ValidationError{Field: "description", Message: "Description is required"}
	case strings.TrimSpace(d.RepositoryID) == "":
		return &ValidationError{Field: "repository", Message: "Select a repository"}
	case d.Flow.EnabledCount() == 0:
		return &ValidationError{Field: "flow", Message: "Enable at least one agent"}
	}
	return nil
}

// Payload is the create request the current draft would send.
func (w *Wizard) Payload() clawsdk.CreateTaskRequest {
	d := w.Draft()
	criteria := make([]string, 0, len(d.Criteria))
	for _, c := range d.Criteria {
		if text := strings.TrimSpace(c.Text); text != "" {
			criteria = append(criteria, text)
		}
	}
	flow := d.Flow
	return clawsdk.CreateTaskRequest{
		Title:           strings.TrimSpace(d.Title),
		Description:     strings.TrimSpace(d.Description),
		Priority:        d.Priority,
		RepositoryID:    d.RepositoryID,
		ParentID:        d.ParentID,
		Specs:           d.Specs,
		Approach:        d.Approach,
		SuccessCriteria: criteria,
		FlowConfig:      &flow,
		CreatedBy:       w.opts.CreatedBy,
	}
}

// Submit validates and issues exactly one create call.
func (w *Wizard) Submit(ctx context.Context, c Creator) (domain.Task, error) {
	if w.step != StepReview {
		return domain.Task{}, ErrWrongStep
	}
	if w.created != nil {
		return domain.Task{}, ErrSubmitted
	}
	if w.submitting {
		return domain.Task{}, ErrBusy
	}
	if err := w.Validate(); err != nil {
		w.err = err
		return domain.Task{}, err
	}
	w.submitting = true
	task, err := c.CreateTask(ctx, w.Payload())
	w.submitting = false
	if err != nil {
		w.err = fmt.Errorf("create task: %w", err)
		return domain.Task{}, w.err
	}
	w.err = nil
	w.created = &task
	w.log.Info("task created", "task_id", task.ID, "title", task.Title)
	return task, nil
}

// Reset starts over with a fresh draft.
func (w *Wizard) Reset() {
	w.step = StepPrompt
	w.prompt = ""
	w.contextID = ""
	w.err = nil
	w.created = nil
	w.draft = w.freshDraft()
}
