package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_schema.yaml
var defaultSchema []byte

type fileFormat struct {
	Labels           map[string][]string `yaml:"labels"`
	Relationships    []Relationship      `yaml:"relationships"`
	Entities         []Entity            `yaml:"entities"`
	AmbiguousAliases []string            `yaml:"ambiguous_aliases"`
	DomainKeywords   []string            `yaml:"domain_keywords"`
	Sectors          []string            `yaml:"sectors"`
}

// Default returns the descriptor built into the binary.
func Default() (*Descriptor, error) {
	return Parse(defaultSchema)
}

// Load reads a schema file. An empty path selects the built-in schema.
func Load(path string) (*Descriptor, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return d, nil
}

// Parse builds a descriptor from YAML, rejecting relationships that point
// at undeclared labels and aliases that map to more than one entity.
func Parse(data []byte) (*Descriptor, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	if len(f.Labels) == 0 {
		return nil, fmt.Errorf("schema declares no labels")
	}

	d := &Descriptor{
		labels:         make(map[string][]string, len(f.Labels)),
		relationships:  make(map[string]Relationship, len(f.Relationships)),
		entityByID:     make(map[string]Entity, len(f.Entities)),
		aliases:        make(map[string]string),
		ambiguous:      make(map[string]bool),
		domainKeywords: make(map[string]bool, len(f.DomainKeywords)),
		sectors:        append([]string(nil), f.Sectors...),
	}

	for label, props := range f.Labels {
		if strings.TrimSpace(label) == "" {
			return nil, fmt.Errorf("empty label name")
		}
		d.labels[label] = append([]string(nil), props...)
	}

	for _, r := range f.Relationships {
		if r.Type == "" {
			return nil, fmt.Errorf("relationship with empty type")
		}
		if _, dup := d.relationships[r.Type]; dup {
			return nil, fmt.Errorf("relationship %s declared twice", r.Type)
		}
		if !d.HasLabel(r.From) {
			return nil, fmt.Errorf("relationship %s: unknown source label %q", r.Type, r.From)
		}
		if !d.HasLabel(r.To) {
			return nil, fmt.Errorf("relationship %s: unknown target label %q", r.Type, r.To)
		}
		r.Properties = append([]string(nil), r.Properties...)
		d.relationships[r.Type] = r
		d.relOrder = append(d.relOrder, r.Type)
	}

	for _, e := range f.Entities {
		id := strings.ToUpper(strings.TrimSpace(e.ID))
		if id == "" {
			return nil, fmt.Errorf("entity with empty id")
		}
		if _, dup := d.entityByID[id]; dup {
			return nil, fmt.Errorf("entity %s declared twice", id)
		}
		e.ID = id
		aliases := make([]string, 0, len(e.Aliases))
		for _, a := range e.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if prev, ok := d.aliases[a]; ok && prev != id {
				return nil, fmt.Errorf("alias %q maps to both %s and %s", a, prev, id)
			}
			d.aliases[a] = id
			aliases = append(aliases, a)
		}
		e.Aliases = aliases
		d.entities = append(d.entities, e)
		d.entityByID[id] = e
	}

	for _, a := range f.AmbiguousAliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if _, ok := d.aliases[a]; !ok {
			return nil, fmt.Errorf("ambiguous alias %q is not an alias of any entity", a)
		}
		d.ambiguous[a] = true
	}

	for _, k := range f.DomainKeywords {
		d.domainKeywords[strings.ToLower(strings.TrimSpace(k))] = true
	}

	return d, nil
}
