package access

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPermission_OrderAndParsing(t *testing.T) {
	require.True(t, None < Emissions && Emissions < Metadata)
	require.True(t, Metadata.AtLeast(Emissions))
	require.False(t, Emissions.AtLeast(Metadata))

	for _, name := range []string{"none", "emissions", "metadata"} {
		p, err := ParsePermission(name)
		require.NoError(t, err)
		require.Equal(t, name, p.String())
	}

	p, err := ParsePermission(" Metadata ")
	require.NoError(t, err)
	require.Equal(t, Metadata, p)

	_, err = ParsePermission("owner")
	require.ErrorIs(t, err, ErrInvalidPermission)
}

func TestPermission_JSON(t *testing.T) {
	b, err := json.Marshal(Grant{UserID: alice, EntityID: "root", Permission: Emissions})
	require.NoError(t, err)
	require.JSONEq(t, `{"user_id":"`+alice+`","entity_id":"root","permission":"emissions"}`, string(b))

	var g Grant
	require.NoError(t, json.Unmarshal([]byte(`{"user_id":"u","entity_id":"e","permission":"metadata"}`), &g))
	require.Equal(t, Metadata, g.Permission)

	require.Error(t, json.Unmarshal([]byte(`{"permission":"root"}`), &g))
}

func TestNewGrantSet_RejectsDuplicatesAndInvalid(t *testing.T) {
	_, err := NewGrantSet([]Grant{
		{UserID: alice, EntityID: "root", Permission: Metadata},
		{UserID: alice, EntityID: "root", Permission: None},
	})
	require.ErrorIs(t, err, ErrDuplicateGrant)

	_, err = NewGrantSet([]Grant{{UserID: "", EntityID: "root"}})
	require.ErrorIs(t, err, ErrInvalidGrant)

	_, err = NewGrantSet([]Grant{{UserID: alice, EntityID: "root", Permission: Permission(7)}})
	require.ErrorIs(t, err, ErrInvalidPermission)
}

func TestGrantSet_CopyOnWrite(t *testing.T) {
	base := grantSet(t,
		Grant{UserID: alice, EntityID: "root", Permission: Emissions},
		Grant{UserID: bob, EntityID: "root.mid", Permission: Metadata},
	)

	upgraded, err := base.With(Grant{UserID: alice, EntityID: "root", Permission: Metadata})
	require.NoError(t, err)
	require.Equal(t, 2, upgraded.Len())

	p, _ := base.Lookup(alice, "root")
	require.Equal(t, Emissions, p)
	p, _ = upgraded.Lookup(alice, "root")
	require.Equal(t, Metadata, p)

	added, err := upgraded.With(Grant{UserID: alice, EntityID: "root.other", Permission: None})
	require.NoError(t, err)
	require.Equal(t, 3, added.Len())
	require.Len(t, added.ForUser(alice), 2)

	removed, err := added.Without(bob, "root.mid")
	require.NoError(t, err)
	require.Equal(t, 2, removed.Len())
	require.Empty(t, removed.ForUser(bob))
	_, ok := added.Lookup(bob, "root.mid")
	require.True(t, ok)

	_, err = removed.Without(bob, "root.mid")
	require.ErrorIs(t, err, ErrGrantNotFound)

	require.Equal(t, []Grant{
		{UserID: alice, EntityID: "root", Permission: Metadata},
		{UserID: alice, EntityID: "root.other", Permission: None},
	}, removed.All())
}

func TestGrantSet_NilIsEmpty(t *testing.T) {
	var s *GrantSet
	_, ok := s.Lookup(alice, "root")
	require.False(t, ok)
	require.Zero(t, s.Len())

	next, err := s.With(Grant{UserID: alice, EntityID: "root", Permission: Emissions})
	require.NoError(t, err)
	require.Equal(t, 1, next.Len())
}
