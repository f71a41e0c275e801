package hierarchy

// ResolveVisible returns the entities to render: every primary entity plus
// every descendant of each expanded id. Unknown ids contribute nothing. Any
// expanded ancestor reveals its whole subtree; intermediate nodes do not need
// to be expanded themselves.
func ResolveVisible(f *Forest, expanded []string) IDSet {
	out := make(IDSet, len(f.primary))
	for _, id := range f.primary {
		out.Add(id)
	}
	for _, id := range expanded {
		for d := range f.Descendants(id) {
			out.Add(d)
		}
	}
	return out
}
