package template

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/boxpress/boxpress/pkg/domain"
)

// Template is a registered email template. Variables appear in the HTML as
// {key} placeholders; Required lists the keys that must be supplied at
// render time.
type Template struct {
	ID       string
	HTML     string
	Required []string
}

// Registry holds the known email templates and renders them with a closed
// string-to-string variable mapping
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry creates an empty template registry
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]Template)}
}

// Register adds or replaces a template
func (r *Registry) Register(t Template) error {
	if t.ID == "" {
		return domain.NewValidationError("template id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

// Has reports whether a template id is registered
func (r *Registry) Has(templateID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[templateID]
	return ok
}

// Render produces the HTML for a template id and variable set. Missing
// required keys are an error; unknown keys are ignored.
func (r *Registry) Render(templateID string, vars map[string]string) (string, error) {
	r.mu.RLock()
	t, ok := r.templates[templateID]
	r.mu.RUnlock()
	if !ok {
		return "", domain.NewNotFoundError(fmt.Sprintf("template %q", templateID))
	}

	var missing []string
	for _, key := range t.Required {
		if _, ok := vars[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", domain.NewValidationError(
			fmt.Sprintf("template %q missing required variables: %s", templateID, strings.Join(missing, ", ")))
	}

	html := t.HTML
	for key, value := range vars {
		html = strings.ReplaceAll(html, "{"+key+"}", value)
	}
	return html, nil
}

var _ domain.TemplateRenderer = (*Registry)(nil)
