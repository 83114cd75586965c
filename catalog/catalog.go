// Package catalog holds the build-time list of types the registry compiler
// and the event map inspect. A catalog is usually produced by
// `eventbus gen` as a generated Go file.
package catalog

import (
	"reflect"
	"strings"
)

// Entry is one named type in the catalog.
type Entry struct {
	// Name is the fully-qualified type name: import path, dot, type name.
	Name string
	// Source is the file the type is declared in, for diagnostics.
	Source string
	Type   reflect.Type
}

// Catalog is an ordered, name-indexed set of entries. Discovery visits
// entries in insertion order.
type Catalog struct {
	entries []Entry
	index   map[string]int
}

// New returns a catalog holding entries. Later duplicates of a name are ignored.
func New(entries ...Entry) *Catalog {
	c := &Catalog{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		c.Add(e)
	}
	return c
}

// Of builds an entry for the type of v. Pass a typed nil pointer such as
// (*OrderPlaced)(nil).
func Of(v any, source string) Entry {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return Entry{Name: TypeName(t), Source: source, Type: t}
}

// TypeName returns the fully-qualified name of t.
func TypeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// Add appends e unless an entry with the same name exists.
func (c *Catalog) Add(e Entry) {
	if e.Type == nil || e.Name == "" {
		return
	}
	if _, ok := c.index[e.Name]; ok {
		return
	}
	c.index[e.Name] = len(c.entries)
	c.entries = append(c.entries, e)
}

// Entries returns the entries in insertion order.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup returns the entry registered under name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	i, ok := c.index[name]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Policy filters catalog entries by name. Matching is a case-insensitive
// prefix match on the fully-qualified name.
type Policy struct {
	WhiteList []string
	BlackList []string
}

// Includes reports whether name passes the policy: it must match a
// white-list entry and no black-list entry. An empty white-list includes
// everything not black-listed.
func (p Policy) Includes(name string) bool {
	if matchesAny(name, p.BlackList) {
		return false
	}
	return len(p.WhiteList) == 0 || matchesAny(name, p.WhiteList)
}

// Empty reports whether neither list has entries.
func (p Policy) Empty() bool {
	return len(p.WhiteList) == 0 && len(p.BlackList) == 0
}

func matchesAny(name string, prefixes []string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}
