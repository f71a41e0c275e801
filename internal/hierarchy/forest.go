package hierarchy

import (
	"fmt"
	"sort"
	"sync"
)

// Forest is an immutable snapshot of the entity hierarchy with O(1) parent
// lookup, a children index and a lazily filled descendant memo. Writers never
// mutate a Forest; Insert and Replace return a new one, which also discards
// the memo.
type Forest struct {
	entities map[string]Entity
	children map[string][]string
	primary  []string
	depth    map[string]int
	maxDepth int

	descendants sync.Map // id -> IDSet
}

// NewForest builds and validates a forest. Every parent must be present and
// the parent relation must be acyclic.
func NewForest(entities []Entity) (*Forest, error) {
	f := &Forest{
		entities: make(map[string]Entity, len(entities)),
		children: make(map[string][]string),
		depth:    make(map[string]int, len(entities)),
	}

	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, exists := f.entities[e.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
		}
		f.entities[e.ID] = e
	}

	for _, e := range entities {
		if e.ParentID == nil {
			continue
		}
		if _, ok := f.entities[*e.ParentID]; !ok {
			return nil, fmt.Errorf("%w: parent %s of %s", ErrNotFound, *e.ParentID, e.ID)
		}
		f.children[*e.ParentID] = append(f.children[*e.ParentID], e.ID)
	}
	for _, ids := range f.children {
		sort.Strings(ids)
	}

	if err := f.computeDepths(); err != nil {
		return nil, err
	}

	for id, e := range f.entities {
		if e.Primary {
			f.primary = append(f.primary, id)
		}
	}
	sort.Strings(f.primary)

	return f, nil
}

func (f *Forest) computeDepths() error {
	for id := range f.entities {
		if _, done := f.depth[id]; done {
			continue
		}

		var path []string
		onPath := make(map[string]struct{})
		base := -1
		cur := id
		for {
			if d, done := f.depth[cur]; done {
				base = d
				break
			}
			if _, seen := onPath[cur]; seen {
				return fmt.Errorf("%w: %s", ErrCycle, cur)
			}
			onPath[cur] = struct{}{}
			path = append(path, cur)

			e := f.entities[cur]
			if e.ParentID == nil {
				break
			}
			cur = *e.ParentID
		}

		for i := len(path) - 1; i >= 0; i-- {
			base++
			f.depth[path[i]] = base
			if base > f.maxDepth {
				f.maxDepth = base
			}
		}
	}
	return nil
}

func (f *Forest) Len() int {
	return len(f.entities)
}

// MaxDepth is the number of parent links on the longest root path.
func (f *Forest) MaxDepth() int {
	return f.maxDepth
}

func (f *Forest) Get(id string) (Entity, bool) {
	e, ok := f.entities[id]
	return e, ok
}

func (f *Forest) Has(id string) bool {
	_, ok := f.entities[id]
	return ok
}

// Entities returns every entity ordered by id.
func (f *Forest) Entities() []Entity {
	out := make([]Entity, 0, len(f.entities))
	for _, e := range f.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Forest) Children(id string) []string {
	return append([]string(nil), f.children[id]...)
}

// Primary returns the ids of always-visible entities, sorted.
func (f *Forest) Primary() []string {
	return append([]string(nil), f.primary...)
}

// WalkAncestors calls fn with the entity itself and then each ancestor up to
// its root, stopping early when fn returns false. The walk is bounded by
// MaxDepth()+1 steps; exceeding it or meeting a dangling parent means the
// snapshot is corrupt and yields ErrInvariantViolation.
func (f *Forest) WalkAncestors(id string, fn func(Entity) bool) error {
	e, ok := f.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	limit := f.maxDepth + 1
	for steps := 1; ; steps++ {
		if steps > limit {
			return fmt.Errorf("%w: ancestor walk from %s exceeded %d steps", ErrInvariantViolation, id, limit)
		}
		if !fn(e) || e.ParentID == nil {
			return nil
		}
		parent, ok := f.entities[*e.ParentID]
		if !ok {
			return fmt.Errorf("%w: %s references missing parent %s", ErrInvariantViolation, e.ID, *e.ParentID)
		}
		e = parent
	}
}

// Ancestors returns id followed by its ancestors, nearest first.
func (f *Forest) Ancestors(id string) ([]string, error) {
	var out []string
	err := f.WalkAncestors(id, func(e Entity) bool {
		out = append(out, e.ID)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Descendants returns every direct or transitive child of id, excluding id.
// Unknown ids yield nil and are not memoised. The returned set is shared and
// must not be modified.
func (f *Forest) Descendants(id string) IDSet {
	if cached, ok := f.descendants.Load(id); ok {
		return cached.(IDSet)
	}
	if _, ok := f.entities[id]; !ok {
		return nil
	}

	out := make(IDSet)
	queue := append([]string(nil), f.children[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == id || out.Has(cur) {
			continue
		}
		out.Add(cur)
		queue = append(queue, f.children[cur]...)
	}

	actual, _ := f.descendants.LoadOrStore(id, out)
	return actual.(IDSet)
}

// Insert returns a new forest with e added.
func (f *Forest) Insert(e Entity) (*Forest, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if f.Has(e.ID) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
	}
	if e.ParentID != nil && !f.Has(*e.ParentID) {
		return nil, fmt.Errorf("%w: parent %s", ErrNotFound, *e.ParentID)
	}
	return NewForest(append(f.Entities(), e))
}

// Replace returns a new forest with the entity of the same id swapped for e.
// Reparenting under one of its own descendants is rejected with ErrCycle.
func (f *Forest) Replace(e Entity) (*Forest, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if !f.Has(e.ID) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, e.ID)
	}
	if e.ParentID != nil {
		if !f.Has(*e.ParentID) {
			return nil, fmt.Errorf("%w: parent %s", ErrNotFound, *e.ParentID)
		}
		cycle := false
		err := f.WalkAncestors(*e.ParentID, func(a Entity) bool {
			cycle = a.ID == e.ID
			return !cycle
		})
		if err != nil {
			return nil, err
		}
		if cycle {
			return nil, fmt.Errorf("%w: %s under %s", ErrCycle, e.ID, *e.ParentID)
		}
	}

	entities := f.Entities()
	for i := range entities {
		if entities[i].ID == e.ID {
			entities[i] = e
		}
	}
	return NewForest(entities)
}
