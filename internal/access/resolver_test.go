package access

import (
	"testing"

	"github.com/stretchr/testify/require"

	"carbonmap/core-go/internal/hierarchy"
)

const (
	alice = "8f0d4f8e-5f4b-4a39-9d1c-6a4c6a0e0001"
	bob   = "8f0d4f8e-5f4b-4a39-9d1c-6a4c6a0e0002"
)

func strPtr(v string) *string { return &v }

func chain(t *testing.T) *hierarchy.Forest {
	t.Helper()
	f, err := hierarchy.NewForest([]hierarchy.Entity{
		{ID: "root", Primary: true, Name: "Root"},
		{ID: "root.mid", ParentID: strPtr("root"), Name: "Mid"},
		{ID: "root.mid.leaf", ParentID: strPtr("root.mid"), Name: "Leaf"},
		{ID: "root.other", ParentID: strPtr("root"), Name: "Other"},
	})
	require.NoError(t, err)
	return f
}

func grantSet(t *testing.T, grants ...Grant) *GrantSet {
	t.Helper()
	s, err := NewGrantSet(grants)
	require.NoError(t, err)
	return s
}

type recordingObserver struct {
	resolutions map[string]int
	violations  int
}

func (o *recordingObserver) ObservePermissionResolution(p string) {
	if o.resolutions == nil {
		o.resolutions = map[string]int{}
	}
	o.resolutions[p]++
}

func (o *recordingObserver) IncInvariantViolation() { o.violations++ }

func TestResolve_NearestAncestorWins(t *testing.T) {
	f := chain(t)
	g := grantSet(t,
		Grant{UserID: alice, EntityID: "root", Permission: Metadata},
		Grant{UserID: alice, EntityID: "root.mid", Permission: Emissions},
	)
	r := NewResolver(ResolverOptions{})
	caller := Caller{UserID: alice, Confirmed: true}

	res, err := r.Resolve(f, g, caller, "root.mid.leaf")
	require.NoError(t, err)
	require.Equal(t, Emissions, res.Permission)
	require.Equal(t, "root.mid", res.Source)

	// Siblings of the override still inherit the farther grant.
	p, err := r.ResolvePermission(f, g, caller, "root.other")
	require.NoError(t, err)
	require.Equal(t, Metadata, p)
}

func TestResolve_InheritsFromAncestorWithoutOverride(t *testing.T) {
	f, err := hierarchy.NewForest([]hierarchy.Entity{
		{ID: "uk.ac.cam.kings", Primary: true, Name: "King's College"},
		{ID: "uk.ac.cam.kings.chapel", ParentID: strPtr("uk.ac.cam.kings"), Name: "Chapel"},
	})
	require.NoError(t, err)
	g := grantSet(t, Grant{UserID: alice, EntityID: "uk.ac.cam.kings", Permission: Metadata})

	p, err := NewResolver(ResolverOptions{}).ResolvePermission(f, g, Caller{UserID: alice}, "uk.ac.cam.kings.chapel")
	require.NoError(t, err)
	require.Equal(t, Metadata, p)
}

func TestResolve_ExplicitNoneNarrowsSubtree(t *testing.T) {
	f := chain(t)
	g := grantSet(t,
		Grant{UserID: alice, EntityID: "root", Permission: Metadata},
		Grant{UserID: alice, EntityID: "root.mid", Permission: None},
	)

	res, err := NewResolver(ResolverOptions{}).Resolve(f, g, Caller{UserID: alice}, "root.mid.leaf")
	require.NoError(t, err)
	require.Equal(t, None, res.Permission)
	require.Equal(t, "root.mid", res.Source)
}

func TestResolve_NoGrantDefaultsToNone(t *testing.T) {
	f := chain(t)
	g := grantSet(t, Grant{UserID: bob, EntityID: "root", Permission: Metadata})

	res, err := NewResolver(ResolverOptions{}).Resolve(f, g, Caller{UserID: alice}, "root.mid.leaf")
	require.NoError(t, err)
	require.Equal(t, Resolution{Permission: None}, res)
}

func TestResolve_AnonymousNeverConsultsGrants(t *testing.T) {
	f := chain(t)
	// A grant keyed by the empty user id must not leak to anonymous callers.
	g := &GrantSet{byUser: map[string]map[string]Permission{"": {"root": Metadata}}, size: 1}

	p, err := NewResolver(ResolverOptions{}).ResolvePermission(f, g, Anonymous(), "root.mid")
	require.NoError(t, err)
	require.Equal(t, None, p)

	_, err = NewResolver(ResolverOptions{}).ResolvePermission(f, g, Anonymous(), "does.not.exist")
	require.ErrorIs(t, err, hierarchy.ErrNotFound)
}

func TestResolve_UnknownEntity(t *testing.T) {
	_, err := NewResolver(ResolverOptions{}).Resolve(chain(t), grantSet(t), Caller{UserID: alice}, "does.not.exist")
	require.ErrorIs(t, err, hierarchy.ErrNotFound)
}

func TestResolve_UnconfirmedPolicy(t *testing.T) {
	f := chain(t)
	g := grantSet(t, Grant{UserID: alice, EntityID: "root", Permission: Emissions})
	unconfirmed := Caller{UserID: alice, Confirmed: false}

	p, err := NewResolver(ResolverOptions{}).ResolvePermission(f, g, unconfirmed, "root.mid")
	require.NoError(t, err)
	require.Equal(t, Emissions, p)

	p, err = NewResolver(ResolverOptions{DenyUnconfirmed: true}).ResolvePermission(f, g, unconfirmed, "root.mid")
	require.NoError(t, err)
	require.Equal(t, None, p)
}

func TestResolve_ObserverCountsOutcomes(t *testing.T) {
	f := chain(t)
	g := grantSet(t, Grant{UserID: alice, EntityID: "root", Permission: Metadata})
	obs := &recordingObserver{}
	r := NewResolver(ResolverOptions{Observer: obs})

	_, err := r.Resolve(f, g, Caller{UserID: alice}, "root.mid")
	require.NoError(t, err)
	_, err = r.Resolve(f, g, Anonymous(), "root.mid")
	require.NoError(t, err)

	require.Equal(t, map[string]int{"metadata": 1, "none": 1}, obs.resolutions)
	require.Zero(t, obs.violations)
}

func TestEffective_ListsCoveredSubtree(t *testing.T) {
	f := chain(t)
	g := grantSet(t,
		Grant{UserID: alice, EntityID: "root", Permission: Metadata},
		Grant{UserID: alice, EntityID: "root.mid", Permission: None},
		Grant{UserID: alice, EntityID: "gone.entity", Permission: Metadata},
	)

	got, err := NewResolver(ResolverOptions{}).Effective(f, g, Caller{UserID: alice})
	require.NoError(t, err)
	require.Equal(t, []EffectiveEntity{
		{EntityID: "root", Resolution: Resolution{Permission: Metadata, Source: "root"}},
		{EntityID: "root.other", Resolution: Resolution{Permission: Metadata, Source: "root"}},
	}, got)

	anon, err := NewResolver(ResolverOptions{}).Effective(f, g, Anonymous())
	require.NoError(t, err)
	require.Empty(t, anon)
}

func corruptForest() *hierarchy.Forest {
	return hierarchy.Unchecked([]hierarchy.Entity{
		{ID: "a", ParentID: strPtr("b"), Primary: true, Name: "A"},
		{ID: "b", ParentID: strPtr("a"), Name: "B"},
	}, 1)
}

func TestResolve_CorruptForestIsInvariantViolation(t *testing.T) {
	obs := &recordingObserver{}
	r := NewResolver(ResolverOptions{Observer: obs})

	_, err := r.Resolve(corruptForest(), grantSet(t), Caller{UserID: alice, Confirmed: true}, "a")
	require.ErrorIs(t, err, hierarchy.ErrInvariantViolation)
	require.Equal(t, 1, obs.violations)
	require.Empty(t, obs.resolutions)

	// Anonymous callers never walk, so they cannot trip over the cycle.
	p, err := r.ResolvePermission(corruptForest(), grantSet(t), Anonymous(), "a")
	require.NoError(t, err)
	require.Equal(t, None, p)
	require.Equal(t, 1, obs.violations)
}

func TestEffective_CorruptForestIsInvariantViolation(t *testing.T) {
	obs := &recordingObserver{}
	r := NewResolver(ResolverOptions{Observer: obs})

	// "c" hangs off the a/b loop; its walk runs out of steps before it
	// reaches the grant on "b".
	f := hierarchy.Unchecked([]hierarchy.Entity{
		{ID: "a", ParentID: strPtr("b"), Name: "A"},
		{ID: "b", ParentID: strPtr("a"), Name: "B"},
		{ID: "c", ParentID: strPtr("a"), Name: "C"},
	}, 1)
	g := grantSet(t, Grant{UserID: alice, EntityID: "b", Permission: Metadata})
	_, err := r.Effective(f, g, Caller{UserID: alice, Confirmed: true})
	require.ErrorIs(t, err, hierarchy.ErrInvariantViolation)
	require.Equal(t, 1, obs.violations)
}
