package wizard

type Template struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Criteria []string `json:"criteria"`
	// Saved marks user-saved templates, as opposed to the built-in ones.
	Saved bool `json:"saved,omitempty"`
}

const DefaultTemplate = "default"

var builtinTemplates = []Template{
	{
		ID:   "default",
		Name: "Default",
		Criteria: []string{
			"Feature works as described",
			"Screenshot proof captured",
		},
	},
	{
		ID:   "feature",
		Name: "New feature",
		Criteria: []string{
			"Feature works as described",
			"Happy path covered by tests",
			"Edge cases and errors handled",
			"Screenshot proof captured",
			"Documentation updated",
		},
	},
	{
		ID:   "bugfix",
		Name: "Bug fix",
		Criteria: []string{
			"Bug is reproducible before the fix",
			"Bug no longer reproduces after the fix",
			"Regression test added",
			"No related functionality broken",
		},
	},
	{
		ID:   "ui",
		Name: "UI change",
		Criteria: []string{
			"Matches the design on desktop",
			"Responsive on mobile viewports",
			"Keyboard accessible with visible focus",
			"Screenshot proof captured",
		},
	},
	{
		ID:   "refactor",
		Name: "Refactor",
		Criteria: []string{
			"Behavior unchanged",
			"Existing tests pass",
			"No new lint warnings",
			"Code is simpler than before",
		},
	},
	{
		ID:   "api",
		Name: "API endpoint",
		Criteria: []string{
			"Endpoint returns the documented response",
			"Input validation rejects bad requests",
			"Errors use the standard envelope",
			"Endpoint covered by tests",
			"API docs updated",
		},
	},
}

// BuiltinTemplates returns copies of the shipped criteria templates.
func BuiltinTemplates() []Template {
	out := make([]Template, len(builtinTemplates))
	for i, t := range builtinTemplates {
		t.Criteria = append([]string(nil), t.Criteria...)
		out[i] = t
	}
	return out
}
