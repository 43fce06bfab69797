package wizard

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawlegion/internal/domain"
	clawsdk "clawlegion/sdk/go"
)

type recordingCreator struct {
	calls []clawsdk.CreateTaskRequest
	err   error
}

func (c *recordingCreator) CreateTask(ctx context.Context, req clawsdk.CreateTaskRequest) (domain.Task, error) {
	c.calls = append(c.calls, req)
	if c.err != nil {
		return domain.Task{}, c.err
	}
	return domain.Task{ID: "t-" + strconv.Itoa(len(c.calls)), Title: req.Title, Priority: req.Priority}, nil
}

type stubExpander struct {
	res domain.ExpandResult
	err error
}

func (e stubExpander) ExpandTask(ctx context.Context, prompt, contextID string) (domain.ExpandResult, error) {
	return e.res, e.err
}

type memorySaver struct{ saved map[string][]string }

func (m *memorySaver) SaveTemplate(ctx context.Context, name string, criteria []string) (string, error) {
	if m.saved == nil {
		m.saved = map[string][]string{}
	}
	id := "saved-" + name
	m.saved[id] = criteria
	return id, nil
}

func newTestWizard() *Wizard {
	n := 0
	return New(Options{
		CreatedBy: "alice",
		NewID: func() string {
			n++
			return "c" + strconv.Itoa(n)
		},
	})
}

func texts(cs []domain.SuccessCriterion) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Text)
	}
	return out
}

func TestSkipExpansionSubmitsOnce(t *testing.T) {
	w := newTestWizard()
	w.SetPrompt("Fix mobile CSS on login page", "")
	w.SkipExpansion()
	require.Equal(t, StepReview, w.Step())

	w.SetTitle("Fix login CSS")
	w.SetDescription("The login form overflows on small screens.")
	w.SetRepository("repo-web")

	creator := &recordingCreator{}
	task, err := w.Submit(context.Background(), creator)
	require.NoError(t, err)
	assert.Equal(t, "t-1", task.ID)

	require.Len(t, creator.calls, 1)
	req := creator.calls[0]
	assert.Equal(t, domain.PriorityP2, req.Priority)
	assert.Equal(t, []string{"Feature works as described", "Screenshot proof captured"}, req.SuccessCriteria)
	assert.Equal(t, "Fix login CSS", req.Title)
	assert.Equal(t, "repo-web", req.RepositoryID)
	assert.Equal(t, "alice", req.CreatedBy)
	require.NotNil(t, req.FlowConfig)
	assert.Equal(t, "standard", req.FlowConfig.Preset)
	assert.Equal(t, 4, req.FlowConfig.EnabledCount())

	_, err = w.Submit(context.Background(), creator)
	assert.ErrorIs(t, err, ErrSubmitted)
	assert.Len(t, creator.calls, 1)
}

func TestValidateReportsFirstMissingField(t *testing.T) {
	w := newTestWizard()
	w.SkipExpansion()
	for _, role := range []domain.AgentRole{domain.RoleResearcher, domain.RolePlanner, domain.RoleBuilder, domain.RoleVerifier} {
		w.ToggleAgent(role)
	}

	steps := []struct {
		field string
		fix   func()
	}{
		{"title", func() { w.SetTitle("t") }},
		{"description", func() { w.SetDescription("d") }},
		{"repository", func() { w.SetRepository("r") }},
		{"flow", func() { w.ToggleAgent(domain.RoleBuilder) }},
	}
	for _, s := range steps {
		var verr *ValidationError
		require.ErrorAs(t, w.Validate(), &verr)
		assert.Equal(t, s.field, verr.Field)
		s.fix()
	}
	assert.NoError(t, w.Validate())
}

func TestSubmitBlockedByValidationNeverCallsBackend(t *testing.T) {
	w := newTestWizard()
	w.SkipExpansion()
	creator := &recordingCreator{}
	_, err := w.Submit(context.Background(), creator)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)
	assert.Empty(t, creator.calls)
}

func TestExpandPopulatesDraft(t *testing.T) {
	w := newTestWizard()
	w.SetPrompt("Add CSV export", "repo-api")
	err := w.Expand(context.Background(), stubExpander{res: domain.ExpandResult{
		Title:           "CSV export for reports",
		Description:     "Users can download reports as CSV.",
		Priority:        domain.PriorityP1,
		SuccessCriteria: []string{"Export button downloads a CSV", "Columns match the table"},
		Specs:           "RFC 4180",
	}})
	require.NoError(t, err)
	assert.Equal(t, StepReview, w.Step())
	d := w.Draft()
	assert.Equal(t, "CSV export for reports", d.Title)
	assert.Equal(t, domain.PriorityP1, d.Priority)
	assert.Equal(t, "repo-api", d.RepositoryID)
	assert.Equal(t, []string{"Export button downloads a CSV", "Columns match the table"}, texts(d.Criteria))
	assert.True(t, w.CanSaveTemplate())
}

func TestExpandFailureKeepsPromptStep(t *testing.T) {
	w := newTestWizard()
	w.SetPrompt("Add CSV export", "")
	before := w.Draft()
	err := w.Expand(context.Background(), stubExpander{err: errors.New("model overloaded")})
	require.Error(t, err)
	assert.Equal(t, StepPrompt, w.Step())
	assert.Equal(t, before, w.Draft())
	assert.ErrorContains(t, w.Err(), "model overloaded")
}

func TestToggleAgentInsertsThenDisables(t *testing.T) {
	w := newTestWizard()
	require.NoError(t, w.ApplyPreset("quick-fix"))

	w.ToggleAgent(domain.RoleDesigner)
	d := w.Draft()
	require.Len(t, d.Flow.Steps, 3)
	assert.Equal(t, domain.FlowStep{Role: domain.RoleDesigner, Enabled: true, ResourceLevel: domain.ResourceMedium}, d.Flow.Steps[2])
	assert.Empty(t, d.Flow.Preset)

	w.ToggleAgent(domain.RoleDesigner)
	d = w.Draft()
	assert.Equal(t, []domain.AgentRole{domain.RoleBuilder, domain.RoleVerifier, domain.RoleDesigner}, roles(d.Flow.Steps))
	assert.False(t, d.Flow.Steps[2].Enabled)
	assert.Equal(t, 2, d.Flow.EnabledCount())
}

func roles(steps []domain.FlowStep) []domain.AgentRole {
	out := make([]domain.AgentRole, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Role)
	}
	return out
}

func TestReorderOnlyEnabledSubset(t *testing.T) {
	w := newTestWizard()
	w.ToggleAgent(domain.RolePlanner) // disable
	err := w.Reorder([]domain.AgentRole{domain.RoleVerifier, domain.RoleBuilder, domain.RoleResearcher})
	require.NoError(t, err)
	assert.Equal(t,
		[]domain.AgentRole{domain.RoleVerifier, domain.RoleBuilder, domain.RoleResearcher, domain.RolePlanner},
		roles(w.Draft().Flow.Steps))

	assert.Error(t, w.Reorder([]domain.AgentRole{domain.RolePlanner, domain.RoleBuilder, domain.RoleResearcher}))
}

func TestCycleResourceLevel(t *testing.T) {
	w := newTestWizard()
	var seen []domain.ResourceLevel
	for i := 0; i < 4; i++ {
		l, err := w.CycleResourceLevel(domain.RoleBuilder)
		require.NoError(t, err)
		seen = append(seen, l)
	}
	assert.Equal(t, []domain.ResourceLevel{domain.ResourceHigh, domain.ResourceLocal, domain.ResourceLow, domain.ResourceMedium}, seen)
	_, err := w.CycleResourceLevel(domain.RoleWriter)
	assert.Error(t, err)
}

func TestApplyTemplateReplacesWithFreshIDs(t *testing.T) {
	w := newTestWizard()
	oldIDs := map[string]bool{}
	for _, c := range w.Draft().Criteria {
		oldIDs[c.ID] = true
	}
	require.NoError(t, w.ApplyTemplate("bugfix"))
	d := w.Draft()
	tmpl, _ := w.Template("bugfix")
	assert.Equal(t, tmpl.Criteria, texts(d.Criteria))
	assert.Equal(t, "bugfix", d.CriteriaTemplate)
	seen := map[string]bool{}
	for _, c := range d.Criteria {
		assert.False(t, oldIDs[c.ID], "id %s reused", c.ID)
		assert.False(t, seen[c.ID], "id %s duplicated", c.ID)
		seen[c.ID] = true
	}
	assert.False(t, w.CanSaveTemplate())
}

func TestAddFromTemplateMergesByText(t *testing.T) {
	w := newTestWizard()
	added, err := w.AddFromTemplate("feature")
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.Equal(t, []string{
		"Feature works as described",
		"Screenshot proof captured",
		"Happy path covered by tests",
		"Edge cases and errors handled",
		"Documentation updated",
	}, texts(w.Draft().Criteria))
}

func TestEditingCriteriaEnablesSaveAsTemplate(t *testing.T) {
	w := newTestWizard()
	assert.False(t, w.CanSaveTemplate())
	first := w.Draft().Criteria[0]
	require.NoError(t, w.EditCriterion(first.ID, "Login form fits a 320px screen"))
	assert.True(t, w.CanSaveTemplate())

	store := &memorySaver{}
	tmpl, err := w.SaveAsTemplate(context.Background(), store, "mobile css")
	require.NoError(t, err)
	assert.Equal(t, "saved-mobile css", tmpl.ID)
	assert.Equal(t, []string{"Login form fits a 320px screen", "Screenshot proof captured"}, store.saved[tmpl.ID])
	assert.False(t, w.CanSaveTemplate())

	require.NoError(t, w.RemoveCriterion(first.ID))
	assert.True(t, w.CanSaveTemplate())
	require.NoError(t, w.ApplyTemplate(tmpl.ID))
	assert.Len(t, w.Draft().Criteria, 2)
}

func TestValidateChecksRequiresEvidence(t *testing.T) {
	checks := SelfCheck([]domain.SuccessCriterion{{ID: "1", Text: "Feature works as described"}})
	require.Len(t, checks, 1)
	assert.Error(t, ValidateChecks(checks))

	checks[0].Checked = true
	var verr *ValidationError
	require.ErrorAs(t, ValidateChecks(checks), &verr)
	assert.Contains(t, verr.Message, "evidence")

	checks[0].Evidence = "screenshot.png"
	assert.NoError(t, ValidateChecks(checks))
}
