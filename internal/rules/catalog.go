package rules

import (
	"path/filepath"
	"slices"
	"strings"
)

// Catalog is the validated, immutable set of rules and languages. All methods
// are safe for concurrent use because nothing mutates a Catalog after load.
type Catalog struct {
	source    string
	languages []Language
	rules     []Rule
	byID      map[string]int
	byExt     map[string]string
	resolved  map[string][]Rule
}

// Source names where the catalog was loaded from.
func (c *Catalog) Source() string { return c.source }

// Len returns the number of rules in the catalog.
func (c *Catalog) Len() int { return len(c.rules) }

// Rules returns every rule in declaration order.
func (c *Catalog) Rules() []Rule { return slices.Clone(c.rules) }

// Rule looks up a rule by identifier.
func (c *Catalog) Rule(id string) (Rule, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	return c.rules[i], true
}

// Languages returns the declared language names in declaration order.
func (c *Catalog) Languages() []string {
	names := make([]string, len(c.languages))
	for i, l := range c.languages {
		names[i] = l.Name
	}
	return names
}

// Language returns the definition for a language name.
func (c *Catalog) Language(name string) (Language, bool) {
	for _, l := range c.languages {
		if l.Name == name {
			return l, true
		}
	}
	return Language{}, false
}

// LanguageFor maps a file path to its language by extension. Unknown
// extensions return the empty string.
func (c *Catalog) LanguageFor(path string) string {
	return c.byExt[strings.ToLower(filepath.Ext(path))]
}

// RulesFor returns the ordered rules applying to a language: its own rules in
// declaration order, then the rules of each included language. The returned
// slice is a copy.
func (c *Catalog) RulesFor(language string) []Rule {
	return slices.Clone(c.resolved[language])
}

// resolve computes the ordered rule list of every language, following
// includes depth-first. Rules reachable through more than one include path
// appear once, at their first position.
func (c *Catalog) resolve() error {
	own := make(map[string][]Rule, len(c.languages))
	for _, r := range c.rules {
		own[r.Language] = append(own[r.Language], r)
	}
	defs := make(map[string]Language, len(c.languages))
	for _, l := range c.languages {
		defs[l.Name] = l
	}

	c.resolved = make(map[string][]Rule, len(c.languages))
	for _, l := range c.languages {
		var (
			out   []Rule
			seen  = make(map[string]bool)
			stack = make(map[string]bool)
		)
		var visit func(name string) error
		visit = func(name string) error {
			if stack[name] {
				return &LoadError{Source: c.source, Subject: "language " + l.Name, Err: ErrIncludeCycle}
			}
			stack[name] = true
			defer delete(stack, name)
			for _, r := range own[name] {
				if !seen[r.ID] {
					seen[r.ID] = true
					out = append(out, r)
				}
			}
			for _, inc := range defs[name].Includes {
				if err := visit(inc); err != nil {
					return err
				}
			}
			return nil
		}
		if err := visit(l.Name); err != nil {
			return err
		}
		c.resolved[l.Name] = out
	}
	return nil
}
