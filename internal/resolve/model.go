package resolve

import (
	"fmt"
	"log"
)

// ModelSpec describes one known model and the reasoning efforts it
// supports.
type ModelSpec struct {
	Name          string
	Efforts       []string
	DefaultEffort string
}

// ModelRegistry validates model and effort choices against the set of
// known models.
type ModelRegistry struct {
	specs         map[string]ModelSpec
	defaultModel  string
	defaultEffort string
}

// NewModelRegistry creates a ModelRegistry. The system default model must
// be one of the listed specs.
func NewModelRegistry(specs []ModelSpec, defaultModel, defaultEffort string) (*ModelRegistry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("resolve: model registry: at least one model is required")
	}
	byName := make(map[string]ModelSpec, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("resolve: model registry: model name is required")
		}
		byName[spec.Name] = spec
	}
	if _, ok := byName[defaultModel]; !ok {
		return nil, fmt.Errorf("resolve: model registry: default model %q is not in the registry", defaultModel)
	}
	return &ModelRegistry{specs: byName, defaultModel: defaultModel, defaultEffort: defaultEffort}, nil
}

// Known reports whether the model is in the registry.
func (r *ModelRegistry) Known(model string) bool {
	_, ok := r.specs[model]
	return ok
}

// SupportsEffort reports whether the model supports the reasoning effort.
func (r *ModelRegistry) SupportsEffort(model, effort string) bool {
	spec, ok := r.specs[model]
	if !ok {
		return false
	}
	for _, e := range spec.Efforts {
		if e == effort {
			return true
		}
	}
	return false
}

// DefaultEffortFor returns the model's default effort, falling back to the
// registry-wide default.
func (r *ModelRegistry) DefaultEffortFor(model string) string {
	if spec, ok := r.specs[model]; ok && spec.DefaultEffort != "" {
		return spec.DefaultEffort
	}
	return r.defaultEffort
}

// RepoPolicy is the repository-level model configuration: its defaults and
// whether user or label overrides are honored.
type RepoPolicy struct {
	Model              string
	Effort             string
	AllowUserOverride  bool
	AllowLabelOverride bool
}

// Override is a (model, effort) pair from one precedence level. Either
// field may be empty.
type Override struct {
	Model  string
	Effort string
}

// ModelChoice is the resolved model and reasoning effort.
type ModelChoice struct {
	Model  string
	Effort string
}

// ResolveModel picks the model and effort for a session. Model precedence,
// highest wins: label override (if allowed) > user preference (if allowed)
// > repo default > system default; an unknown model at one level falls
// through to the next. The effort is the highest-precedence allowed value,
// validated against the chosen model: an incompatible effort is replaced
// with that model's default effort.
func (r *ModelRegistry) ResolveModel(repo RepoPolicy, user, label Override) ModelChoice {
	model := r.defaultModel
	modelCandidates := []struct {
		value   string
		allowed bool
	}{
		{label.Model, repo.AllowLabelOverride},
		{user.Model, repo.AllowUserOverride},
		{repo.Model, true},
	}
	for _, mc := range modelCandidates {
		if mc.value == "" || !mc.allowed {
			continue
		}
		if !r.Known(mc.value) {
			log.Printf("resolve: unknown model %q, falling through", mc.value)
			continue
		}
		model = mc.value
		break
	}

	effort := ""
	effortCandidates := []struct {
		value   string
		allowed bool
	}{
		{label.Effort, repo.AllowLabelOverride},
		{user.Effort, repo.AllowUserOverride},
		{repo.Effort, true},
		{r.defaultEffort, true},
	}
	for _, ec := range effortCandidates {
		if ec.value != "" && ec.allowed {
			effort = ec.value
			break
		}
	}
	if !r.SupportsEffort(model, effort) {
		effort = r.DefaultEffortFor(model)
	}

	return ModelChoice{Model: model, Effort: effort}
}
