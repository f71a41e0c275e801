package hierarchy

import "sort"

// IDSet is a set of entity ids.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Len() int {
	return len(s)
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SubsetOf reports whether every member of s is in other.
func (s IDSet) SubsetOf(other IDSet) bool {
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}
