package hierarchy

import "sort"

// Unchecked builds a Forest from entities as given, skipping the parent and
// cycle checks of NewForest and taking maxDepth on trust. Walks over the
// result still stop at maxDepth+1 steps and report ErrInvariantViolation,
// which is what it is for: exercising corrupt-snapshot handling in the
// packages that resolve against a Forest.
func Unchecked(entities []Entity, maxDepth int) *Forest {
	f := &Forest{
		entities: make(map[string]Entity, len(entities)),
		children: make(map[string][]string),
		depth:    make(map[string]int),
		maxDepth: maxDepth,
	}
	for _, e := range entities {
		f.entities[e.ID] = e
		if e.Primary {
			f.primary = append(f.primary, e.ID)
		}
	}
	for _, e := range entities {
		if e.ParentID != nil {
			f.children[*e.ParentID] = append(f.children[*e.ParentID], e.ID)
		}
	}
	sort.Strings(f.primary)
	return f
}
