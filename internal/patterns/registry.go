package patterns

import (
	"fmt"
	"regexp"
	"sort"
)

// CriticalPattern is a named syntax marker that must survive every reduction stage.
type CriticalPattern struct {
	Name string
	Re   *regexp.Regexp
}

// Registry is an immutable, ordered set of critical patterns.
type Registry struct {
	patterns []CriticalPattern
	byName   map[string]int
}

// Def is a pattern definition used to build a Registry.
type Def struct {
	Expr string
	Name string
}

// NewRegistry compiles defs case-insensitively. Names must be unique.
func NewRegistry(defs []Def) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("pattern %q: empty name", d.Expr)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate pattern name %q", d.Name)
		}
		re, err := regexp.Compile("(?i)" + d.Expr)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", d.Name, err)
		}
		r.byName[d.Name] = len(r.patterns)
		r.patterns = append(r.patterns, CriticalPattern{Name: d.Name, Re: re})
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(defs []Def) *Registry {
	r, err := NewRegistry(defs)
	if err != nil {
		panic(err)
	}
	return r
}

// Len returns the number of patterns in the registry.
func (r *Registry) Len() int { return len(r.patterns) }

// Names returns pattern names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.patterns))
	for i, p := range r.patterns {
		names[i] = p.Name
	}
	return names
}

// Has reports whether a pattern with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Lookup returns the pattern registered under name.
func (r *Registry) Lookup(name string) (CriticalPattern, bool) {
	i, ok := r.byName[name]
	if !ok {
		return CriticalPattern{}, false
	}
	return r.patterns[i], true
}

// Find returns the names of all patterns that match text, in registration order.
func (r *Registry) Find(text string) []string {
	var found []string
	for _, p := range r.patterns {
		if p.Re.MatchString(text) {
			found = append(found, p.Name)
		}
	}
	return found
}

// FindSet returns the matched pattern names as a set.
func (r *Registry) FindSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, name := range r.Find(text) {
		set[name] = true
	}
	return set
}

// Missing returns the names in want that do not appear in have, sorted.
func Missing(want, have map[string]bool) []string {
	var out []string
	for name := range want {
		if !have[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
