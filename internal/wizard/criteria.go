package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clawlegion/internal/domain"
)

func (w *Wizard) criteriaFrom(texts []string) []domain.SuccessCriterion {
	out := make([]domain.SuccessCriterion, 0, len(texts))
	for _, text := range texts {
		if text = strings.TrimSpace(text); text != "" {
			out = append(out, domain.SuccessCriterion{ID: w.opts.NewID(), Text: text})
		}
	}
	return out
}

func (w *Wizard) addTemplate(t Template) {
	t.Criteria = append([]string(nil), t.Criteria...)
	for i := range w.templates {
		if w.templates[i].ID == t.ID {
			w.templates[i] = t
			return
		}
	}
	w.templates = append(w.templates, t)
}

// Templates lists built-in templates followed by saved ones.
func (w *Wizard) Templates() []Template {
	out := make([]Template, len(w.templates))
	for i, t := range w.templates {
		t.Criteria = append([]string(nil), t.Criteria...)
		out[i] = t
	}
	return out
}

func (w *Wizard) Template(id string) (Template, bool) {
	for _, t := range w.templates {
		if t.ID == id {
			t.Criteria = append([]string(nil), t.Criteria...)
			return t, true
		}
	}
	return Template{}, false
}

// ApplyTemplate replaces the criteria with the template's, each with a new id.
func (w *Wizard) ApplyTemplate(id string) error {
	t, ok := w.Template(id)
	if !ok {
		return fmt.Errorf("unknown criteria template %q", id)
	}
	w.draft.Criteria = w.criteriaFrom(t.Criteria)
	w.draft.CriteriaTemplate = t.ID
	return nil
}

// AddFromTemplate appends the template criteria whose text is not already present.
func (w *Wizard) AddFromTemplate(id string) (int, error) {
	t, ok := w.Template(id)
	if !ok {
		return 0, fmt.Errorf("unknown criteria template %q", id)
	}
	present := map[string]bool{}
	for _, c := range w.draft.Criteria {
		present[c.Text] = true
	}
	var missing []string
	for _, text := range t.Criteria {
		if !present[text] {
			missing = append(missing, text)
			present[text] = true
		}
	}
	w.draft.Criteria = append(w.draft.Criteria, w.criteriaFrom(missing)...)
	w.draft.CriteriaTemplate = w.matchingTemplate()
	return len(missing), nil
}

func (w *Wizard) AddCriterion(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ValidationError{Field: "criteria", Message: "Criterion text is required"}
	}
	c := domain.SuccessCriterion{ID: w.opts.NewID(), Text: text}
	w.draft.Criteria = append(w.draft.Criteria, c)
	w.draft.CriteriaTemplate = ""
	return c.ID, nil
}

func (w *Wizard) EditCriterion(id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return &ValidationError{Field: "criteria", Message: "Criterion text is required"}
	}
	for i := range w.draft.Criteria {
		if w.draft.Criteria[i].ID == id {
			w.draft.Criteria[i].Text = text
			w.draft.CriteriaTemplate = ""
			return nil
		}
	}
	return fmt.Errorf("criterion %q not found", id)
}

func (w *Wizard) RemoveCriterion(id string) error {
	for i := range w.draft.Criteria {
		if w.draft.Criteria[i].ID == id {
			w.draft.Criteria = append(w.draft.Criteria[:i:i], w.draft.Criteria[i+1:]...)
			w.draft.CriteriaTemplate = ""
			return nil
		}
	}
	return fmt.Errorf("criterion %q not found", id)
}

// CanSaveTemplate is true once the criteria no longer match a template.
func (w *Wizard) CanSaveTemplate() bool {
	return w.draft.CriteriaTemplate == "" && len(w.draft.Criteria) > 0
}

// SaveAsTemplate stores the current custom criteria and tags the list with the new template.
func (w *Wizard) SaveAsTemplate(ctx context.Context, store TemplateSaver, name string) (Template, error) {
	if !w.CanSaveTemplate() {
		return Template{}, errors.New("criteria already match a template")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Template{}, &ValidationError{Field: "templateName", Message: "Template name is required"}
	}
	texts := make([]string, 0, len(w.draft.Criteria))
	for _, c := range w.draft.Criteria {
		texts = append(texts, c.Text)
	}
	id, err := store.SaveTemplate(ctx, name, texts)
	if err != nil {
		return Template{}, fmt.Errorf("save template: %w", err)
	}
	t := Template{ID: id, Name: name, Criteria: texts, Saved: true}
	w.addTemplate(t)
	w.draft.CriteriaTemplate = id
	return t, nil
}

func (w *Wizard) matchingTemplate() string {
	for _, t := range w.templates {
		if len(t.Criteria) != len(w.draft.Criteria) {
			continue
		}
		same := true
		for i, text := range t.Criteria {
			if w.draft.Criteria[i].Text != text {
				same = false
				break
			}
		}
		if same {
			return t.ID
		}
	}
	return ""
}

// SelfCheck starts a self-verification checklist for the given criteria.
func SelfCheck(criteria []domain.SuccessCriterion) []domain.CriterionCheck {
	out := make([]domain.CriterionCheck, 0, len(criteria))
	for _, c := range criteria {
		out = append(out, domain.CriterionCheck{Criterion: c.Text})
	}
	return out
}

// ValidateChecks blocks a submission until every criterion is checked with evidence.
func ValidateChecks(checks []domain.CriterionCheck) error {
	for i, c := range checks {
		field := fmt.Sprintf("checks[%d]", i)
		if !c.Checked {
			return &ValidationError{Field: field, Message: fmt.Sprintf("Confirm %q before submitting", c.Criterion)}
		}
		if strings.TrimSpace(c.Evidence) == "" {
			return &ValidationError{Field: field, Message: fmt.Sprintf("Add evidence for %q", c.Criterion)}
		}
	}
	return nil
}
