// Package mapper infers a mapping from arbitrary CSV headers to canonical
// CRM record fields using weighted pattern, synonym, and keyword matching.
package mapper

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/sells-group/crm-import/internal/model"
	"github.com/sells-group/crm-import/internal/normalize"
)

// FieldType drives per-field coercion in the record transformer.
type FieldType string

const (
	TypeText    FieldType = "text"
	TypeEmail   FieldType = "email"
	TypePhone   FieldType = "phone"
	TypeNumeric FieldType = "numeric"
	TypeMulti   FieldType = "multi"
	TypeURL     FieldType = "url"
	TypeDomain  FieldType = "domain"
)

// Field describes one canonical target attribute and its matching signals.
type Field struct {
	Name     string    `yaml:"name"`
	Type     FieldType `yaml:"type"`
	Weight   float64   `yaml:"weight"`
	Group    string    `yaml:"group"`
	Patterns []string  `yaml:"patterns"`
	Synonyms []string  `yaml:"synonyms"`
	Keywords []string  `yaml:"keywords"`

	compiled []*regexp.Regexp
}

// Catalog is the immutable canonical field set for one entity kind.
type Catalog struct {
	kind    model.EntityKind
	fields  []Field
	byName  map[string]*Field
	byGroup map[string][]string
}

//go:embed catalog.yaml
var catalogYAML []byte

var catalogs = mustLoadCatalogs()

// ForKind returns the field catalog for the given entity kind.
func ForKind(kind model.EntityKind) *Catalog {
	return catalogs[kind]
}

// Fields returns the catalog's fields in declaration order.
func (c *Catalog) Fields() []Field {
	return c.fields
}

// Lookup returns the catalog field by canonical name, or nil.
func (c *Catalog) Lookup(name string) *Field {
	return c.byName[name]
}

// FieldType returns the coercion type for a canonical field, defaulting to
// text for unknown names.
func (c *Catalog) FieldType(name string) FieldType {
	if f := c.byName[name]; f != nil {
		return f.Type
	}
	return TypeText
}

// related reports whether two distinct canonical fields belong to the same
// context group.
func (c *Catalog) related(a, b string) bool {
	fa, fb := c.byName[a], c.byName[b]
	return fa != nil && fb != nil && a != b && fa.Group != "" && fa.Group == fb.Group
}

func mustLoadCatalogs() map[model.EntityKind]*Catalog {
	var raw map[string][]Field
	if err := yaml.Unmarshal(catalogYAML, &raw); err != nil {
		panic(fmt.Sprintf("mapper: parse embedded catalog: %v", err))
	}

	out := make(map[model.EntityKind]*Catalog, len(raw))
	for kindName, fields := range raw {
		kind := model.EntityKind(kindName)
		if !kind.Valid() {
			panic(fmt.Sprintf("mapper: unknown catalog kind %q", kindName))
		}

		c := &Catalog{
			kind:    kind,
			fields:  fields,
			byName:  make(map[string]*Field, len(fields)),
			byGroup: make(map[string][]string),
		}
		for i := range c.fields {
			f := &c.fields[i]
			if f.Weight <= 0 {
				panic(fmt.Sprintf("mapper: field %s/%s has non-positive weight", kindName, f.Name))
			}
			for _, p := range f.Patterns {
				f.compiled = append(f.compiled, regexp.MustCompile(p))
			}
			// Synonyms are matched against normalized headers, so store
			// them pre-normalized.
			for j, s := range f.Synonyms {
				f.Synonyms[j] = normalize.Header(s)
			}
			for j, k := range f.Keywords {
				f.Keywords[j] = normalize.Header(k)
			}
			c.byName[f.Name] = f
			if f.Group != "" {
				c.byGroup[f.Group] = append(c.byGroup[f.Group], f.Name)
			}
		}
		out[kind] = c
	}

	if out[model.KindContact] == nil || out[model.KindCompany] == nil {
		panic("mapper: embedded catalog must define both contact and company field sets")
	}
	return out
}
