package zhipu

import (
	_ "embed"
	"fmt"
	"maps"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

const pageSize = 5

// Prompt is a rendered prompt plus the body overrides for its call.
type Prompt struct {
	Text   string
	Params map[string]any
}

type promptSpec struct {
	Params   map[string]any `yaml:"params"`
	Template string         `yaml:"template"`
}

type promptFile struct {
	List     promptSpec `yaml:"list"`
	Featured promptSpec `yaml:"featured"`
	Detail   promptSpec `yaml:"detail"`
}

type promptTemplate struct {
	tmpl   *template.Template
	params map[string]any
}

// Prompts renders the list, featured and detail prompts.
type Prompts struct {
	list     promptTemplate
	featured promptTemplate
	detail   promptTemplate
}

// LoadPrompts parses the embedded prompt set.
func LoadPrompts() (*Prompts, error) {
	return ParsePrompts(defaultPrompts)
}

// ParsePrompts parses a YAML prompt set with list, featured and detail
// entries.
func ParsePrompts(data []byte) (*Prompts, error) {
	var f promptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("prompts: %w", err)
	}

	var p Prompts
	for _, e := range []struct {
		name string
		spec promptSpec
		dst  *promptTemplate
	}{
		{"list", f.List, &p.list},
		{"featured", f.Featured, &p.featured},
		{"detail", f.Detail, &p.detail},
	} {
		if strings.TrimSpace(e.spec.Template) == "" {
			return nil, fmt.Errorf("prompts: %s template is empty", e.name)
		}
		t, err := template.New(e.name).Option("missingkey=error").Parse(e.spec.Template)
		if err != nil {
			return nil, fmt.Errorf("prompts: %s: %w", e.name, err)
		}
		*e.dst = promptTemplate{tmpl: t, params: e.spec.Params}
	}
	return &p, nil
}

// List renders the list prompt for the page starting at offset. seen is the
// ledger hint of names already returned.
func (p *Prompts) List(offset int, seen string) (Prompt, error) {
	return p.list.render(map[string]any{
		"FirstID": offset + 1,
		"Page":    offset/pageSize + 1,
		"Seen":    seen,
	})
}

func (p *Prompts) Featured(seen string) (Prompt, error) {
	return p.featured.render(map[string]any{"Seen": seen})
}

func (p *Prompts) Detail(name string) (Prompt, error) {
	return p.detail.render(map[string]any{"Name": name})
}

func (t promptTemplate) render(data map[string]any) (Prompt, error) {
	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, data); err != nil {
		return Prompt{}, fmt.Errorf("prompts: rendering %s: %w", t.tmpl.Name(), err)
	}
	return Prompt{Text: sb.String(), Params: maps.Clone(t.params)}, nil
}
