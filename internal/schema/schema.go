// Package schema holds the static description of the financial knowledge
// graph: node labels, relationship types, their properties, and the set of
// entities (companies) known when the process starts.
//
// A Descriptor is built once and never mutated. Every accessor returns a
// copy, so it is safe to share between goroutines without locking.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Relationship describes one relationship type and its endpoints.
type Relationship struct {
	Type       string   `yaml:"type"`
	From       string   `yaml:"from"`
	To         string   `yaml:"to"`
	Properties []string `yaml:"properties"`
}

// Entity is a company that questions can refer to.
type Entity struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
}

// Descriptor is the immutable schema shared by generation and validation.
type Descriptor struct {
	labels         map[string][]string
	relationships  map[string]Relationship
	relOrder       []string
	entities       []Entity
	entityByID     map[string]Entity
	aliases        map[string]string
	ambiguous      map[string]bool
	domainKeywords map[string]bool
	sectors        []string
}

// EntityTypes returns the node labels in sorted order.
func (d *Descriptor) EntityTypes() []string {
	out := make([]string, 0, len(d.labels))
	for l := range d.labels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// RelationshipTypes returns the relationship types in declaration order.
func (d *Descriptor) RelationshipTypes() []string {
	return append([]string(nil), d.relOrder...)
}

// Relationship returns the declaration of a relationship type.
func (d *Descriptor) Relationship(typ string) (Relationship, bool) {
	r, ok := d.relationships[typ]
	if !ok {
		return Relationship{}, false
	}
	r.Properties = append([]string(nil), r.Properties...)
	return r, true
}

// HasLabel reports whether label is a declared node label. Labels are
// case-sensitive, as they are in the store.
func (d *Descriptor) HasLabel(label string) bool {
	_, ok := d.labels[label]
	return ok
}

// HasRelationship reports whether typ is a declared relationship type.
func (d *Descriptor) HasRelationship(typ string) bool {
	_, ok := d.relationships[typ]
	return ok
}

// Properties returns the property keys of a label or relationship type.
func (d *Descriptor) Properties(typ string) []string {
	if props, ok := d.labels[typ]; ok {
		return append([]string(nil), props...)
	}
	if r, ok := d.relationships[typ]; ok {
		return append([]string(nil), r.Properties...)
	}
	return nil
}

// PropertiesByType returns every label and relationship type mapped to its
// property keys.
func (d *Descriptor) PropertiesByType() map[string][]string {
	out := make(map[string][]string, len(d.labels)+len(d.relationships))
	for l, props := range d.labels {
		out[l] = append([]string(nil), props...)
	}
	for t, r := range d.relationships {
		out[t] = append([]string(nil), r.Properties...)
	}
	return out
}

// HasProperty reports whether typ (a label or relationship type) declares prop.
func (d *Descriptor) HasProperty(typ, prop string) bool {
	if props, ok := d.labels[typ]; ok {
		return contains(props, prop)
	}
	if r, ok := d.relationships[typ]; ok {
		return contains(r.Properties, prop)
	}
	return false
}

// HasPropertyAnywhere reports whether any label or relationship declares prop.
func (d *Descriptor) HasPropertyAnywhere(prop string) bool {
	for _, props := range d.labels {
		if contains(props, prop) {
			return true
		}
	}
	for _, r := range d.relationships {
		if contains(r.Properties, prop) {
			return true
		}
	}
	return false
}

// Entities returns the known entities in declaration order.
func (d *Descriptor) Entities() []Entity {
	out := make([]Entity, len(d.entities))
	for i, e := range d.entities {
		e.Aliases = append([]string(nil), e.Aliases...)
		out[i] = e
	}
	return out
}

// Entity looks up a canonical identifier, ignoring case.
func (d *Descriptor) Entity(id string) (Entity, bool) {
	e, ok := d.entityByID[strings.ToUpper(id)]
	if !ok {
		return Entity{}, false
	}
	e.Aliases = append([]string(nil), e.Aliases...)
	return e, true
}

// AliasTarget maps a lower-case alias to its canonical identifier. The
// second result reports whether the alias is also an ordinary word.
func (d *Descriptor) AliasTarget(alias string) (id string, ambiguous bool, ok bool) {
	alias = strings.ToLower(alias)
	id, ok = d.aliases[alias]
	return id, d.ambiguous[alias], ok
}

// Aliases returns all aliases, longest first so multi-word names win over
// their prefixes.
func (d *Descriptor) Aliases() []string {
	out := make([]string, 0, len(d.aliases))
	for a := range d.aliases {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// IsDomainKeyword reports whether word marks a question as being about
// markets rather than everyday things.
func (d *Descriptor) IsDomainKeyword(word string) bool {
	return d.domainKeywords[strings.ToLower(word)]
}

// Sectors returns the sector names present in the graph.
func (d *Descriptor) Sectors() []string {
	return append([]string(nil), d.sectors...)
}

// Describe renders the schema as the listing embedded in generation prompts.
func (d *Descriptor) Describe() string {
	var b strings.Builder
	b.WriteString("NODE LABELS:\n")
	for _, l := range d.EntityTypes() {
		fmt.Fprintf(&b, "- %s {%s}\n", l, strings.Join(d.labels[l], ", "))
	}
	b.WriteString("\nRELATIONSHIP TYPES:\n")
	for _, t := range d.relOrder {
		r := d.relationships[t]
		props := ""
		if len(r.Properties) > 0 {
			props = " {" + strings.Join(r.Properties, ", ") + "}"
		}
		fmt.Fprintf(&b, "- (:%s)-[:%s%s]->(:%s)\n", r.From, r.Type, props, r.To)
	}
	if len(d.sectors) > 0 {
		fmt.Fprintf(&b, "\nSECTOR NAMES: %s\n", strings.Join(d.sectors, ", "))
	}
	return b.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
