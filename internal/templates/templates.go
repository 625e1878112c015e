// Package templates provides named agent definitions that createAgent can
// start from. Built-in templates are embedded; a YAML file can add to or
// override them. ${VAR} and $VAR references in the file are expanded from the
// environment before parsing.
package templates

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/models"
)

//go:embed defaults.yaml
var defaultTemplates []byte

// Template is a named agent definition.
type Template struct {
	Name        string             `yaml:"name" json:"name"`
	Description string             `yaml:"description" json:"description"`
	Config      models.AgentConfig `yaml:"config" json:"config"`
}

type file struct {
	Templates []Template `yaml:"templates"`
}

// Registry holds templates by name.
type Registry struct {
	byName map[string]Template
}

// Default returns a registry of the built-in templates.
func Default() (*Registry, error) {
	r := &Registry{byName: map[string]Template{}}
	if err := r.add(defaultTemplates); err != nil {
		return nil, fmt.Errorf("templates: built-in: %w", err)
	}
	return r, nil
}

// Load returns the built-in templates overlaid with those in path. An empty
// path yields the built-ins only.
func Load(path string) (*Registry, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return r, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("templates: read %s: %w", path, err)
	}
	if err := r.add([]byte(expandEnvVars(string(raw)))); err != nil {
		return nil, fmt.Errorf("templates: parse %s: %w", path, err)
	}
	return r, nil
}

// Get returns the named template.
func (r *Registry) Get(name string) (Template, error) {
	t, ok := r.byName[name]
	if !ok {
		return Template{}, fmt.Errorf("template %q: %w", name, perrors.ErrNotFound)
	}
	return t, nil
}

// List returns all templates ordered by name.
func (r *Registry) List() []Template {
	out := make([]Template, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) add(data []byte) error {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	for _, t := range f.Templates {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("template without name: %w", perrors.ErrInvalidInput)
		}
		if t.Config.Schedule.Frequency == "" {
			t.Config.Schedule.Frequency = models.FrequencyDaily
		}
		if !t.Config.Schedule.Frequency.Valid() {
			return fmt.Errorf("template %q: unknown frequency %q: %w", t.Name, t.Config.Schedule.Frequency, perrors.ErrInvalidInput)
		}
		r.byName[t.Name] = t
	}
	return nil
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the environment value; unset
// variables expand to "".
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
