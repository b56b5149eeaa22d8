package store

import (
	"errors"
	"fmt"
	"sort"
)

// Index declares a secondary index over one top-level record field.
type Index struct {
	Name   string
	Field  string
	Unique bool
}

// Collection declares a named collection and its indexes.
type Collection struct {
	Name    string
	Indexes []Index
}

// Index returns the declared index with the given name.
func (c Collection) Index(name string) (Index, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

// Cascade declares that deleting a Parent record deletes every Child record
// whose ChildIndex value equals the parent's ParentField (or its id when
// ParentField is empty).
type Cascade struct {
	Parent      string
	ParentField string
	Child       string
	ChildIndex  string
}

// Schema is the declared logical layout of the store. Version must be bumped
// whenever collections or indexes change.
type Schema struct {
	Version     int
	Collections []Collection
	Cascades    []Cascade
}

var reservedCollections = map[string]struct{}{
	"outbox":   {},
	"metadata": {},
}

// Validate checks names, index references and cascade targets.
func (s Schema) Validate() error {
	if s.Version < 1 {
		return errors.New("schema version must be >= 1")
	}
	if len(s.Collections) == 0 {
		return errors.New("schema declares no collections")
	}

	seen := make(map[string]Collection, len(s.Collections))
	for _, c := range s.Collections {
		if c.Name == "" {
			return errors.New("collection name is empty")
		}
		if _, ok := reservedCollections[c.Name]; ok {
			return fmt.Errorf("collection name %q is reserved", c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate collection %q", c.Name)
		}
		idx := make(map[string]struct{}, len(c.Indexes))
		for _, i := range c.Indexes {
			if i.Name == "" || i.Field == "" {
				return fmt.Errorf("collection %q: index needs a name and a field", c.Name)
			}
			if _, dup := idx[i.Name]; dup {
				return fmt.Errorf("collection %q: duplicate index %q", c.Name, i.Name)
			}
			idx[i.Name] = struct{}{}
		}
		seen[c.Name] = c
	}

	for _, r := range s.Cascades {
		if _, ok := seen[r.Parent]; !ok {
			return fmt.Errorf("cascade: unknown parent collection %q", r.Parent)
		}
		child, ok := seen[r.Child]
		if !ok {
			return fmt.Errorf("cascade: unknown child collection %q", r.Child)
		}
		if _, ok := child.Index(r.ChildIndex); !ok {
			return fmt.Errorf("cascade: collection %q has no index %q", r.Child, r.ChildIndex)
		}
	}
	return nil
}

// Collection returns the declared collection with the given name.
func (s Schema) Collection(name string) (Collection, bool) {
	for _, c := range s.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// Names returns the declared collection names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Collections))
	for _, c := range s.Collections {
		names = append(names, c.Name)
	}
	return names
}

func (s Schema) cascadesFrom(parent string) []Cascade {
	var out []Cascade
	for _, r := range s.Cascades {
		if r.Parent == parent {
			out = append(out, r)
		}
	}
	return out
}

// lockSet expands collections with their cascade closure and returns the
// result sorted, which is also the lock acquisition order.
func (s Schema) lockSet(collections []string) ([]string, error) {
	set := make(map[string]struct{})
	queue := append([]string(nil), collections...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, ok := set[name]; ok {
			continue
		}
		if _, ok := s.Collection(name); !ok {
			return nil, fmt.Errorf("unknown collection %q", name)
		}
		set[name] = struct{}{}
		for _, r := range s.cascadesFrom(name) {
			queue = append(queue, r.Child)
		}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
