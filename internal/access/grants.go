package access

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidGrant   = errors.New("invalid grant")
	ErrGrantNotFound  = errors.New("grant not found")
	ErrDuplicateGrant = errors.New("duplicate grant")
)

// Grant records the permission a user holds over one entity. A grant on an
// entity applies to its whole subtree unless a descendant carries its own.
type Grant struct {
	UserID     string     `json:"user_id" yaml:"user_id"`
	EntityID   string     `json:"entity_id" yaml:"entity_id"`
	Permission Permission `json:"permission" yaml:"permission"`
}

func (g Grant) Validate() error {
	if strings.TrimSpace(g.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidGrant)
	}
	if strings.TrimSpace(g.EntityID) == "" {
		return fmt.Errorf("%w: entity_id is required", ErrInvalidGrant)
	}
	if !g.Permission.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidPermission, g.Permission)
	}
	return nil
}

// GrantSet is an immutable snapshot of grants keyed by user, then entity.
type GrantSet struct {
	byUser map[string]map[string]Permission
	size   int
}

func NewGrantSet(grants []Grant) (*GrantSet, error) {
	s := &GrantSet{byUser: make(map[string]map[string]Permission)}
	for _, g := range grants {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		perms := s.byUser[g.UserID]
		if perms == nil {
			perms = make(map[string]Permission)
			s.byUser[g.UserID] = perms
		}
		if _, exists := perms[g.EntityID]; exists {
			return nil, fmt.Errorf("%w: %s on %s", ErrDuplicateGrant, g.UserID, g.EntityID)
		}
		perms[g.EntityID] = g.Permission
		s.size++
	}
	return s, nil
}

func (s *GrantSet) Len() int {
	if s == nil {
		return 0
	}
	return s.size
}

// Lookup returns the grant recorded for exactly (userID, entityID).
func (s *GrantSet) Lookup(userID, entityID string) (Permission, bool) {
	if s == nil {
		return None, false
	}
	p, ok := s.byUser[userID][entityID]
	return p, ok
}

// ForUser returns the user's explicit grants ordered by entity id.
func (s *GrantSet) ForUser(userID string) []Grant {
	if s == nil {
		return nil
	}
	perms := s.byUser[userID]
	out := make([]Grant, 0, len(perms))
	for entityID, p := range perms {
		out = append(out, Grant{UserID: userID, EntityID: entityID, Permission: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// All returns every grant ordered by user, then entity.
func (s *GrantSet) All() []Grant {
	if s == nil {
		return nil
	}
	users := make([]string, 0, len(s.byUser))
	for u := range s.byUser {
		users = append(users, u)
	}
	sort.Strings(users)

	out := make([]Grant, 0, s.size)
	for _, u := range users {
		out = append(out, s.ForUser(u)...)
	}
	return out
}

// With returns a copy holding g, replacing any grant on the same key.
func (s *GrantSet) With(g Grant) (*GrantSet, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	next := s.cloneExcept(g.UserID)
	perms := make(map[string]Permission, len(s.userGrants(g.UserID))+1)
	for k, v := range s.userGrants(g.UserID) {
		perms[k] = v
	}
	if _, exists := perms[g.EntityID]; !exists {
		next.size++
	}
	perms[g.EntityID] = g.Permission
	next.byUser[g.UserID] = perms
	return next, nil
}

// Without returns a copy lacking the grant on (userID, entityID).
func (s *GrantSet) Without(userID, entityID string) (*GrantSet, error) {
	if _, ok := s.Lookup(userID, entityID); !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrGrantNotFound, userID, entityID)
	}
	next := s.cloneExcept(userID)
	perms := make(map[string]Permission, len(s.userGrants(userID)))
	for k, v := range s.userGrants(userID) {
		if k != entityID {
			perms[k] = v
		}
	}
	next.size--
	if len(perms) > 0 {
		next.byUser[userID] = perms
	}
	return next, nil
}

func (s *GrantSet) userGrants(userID string) map[string]Permission {
	if s == nil {
		return nil
	}
	return s.byUser[userID]
}

// cloneExcept shallow-copies the outer map; inner maps are shared except for
// userID, which the caller replaces.
func (s *GrantSet) cloneExcept(userID string) *GrantSet {
	next := &GrantSet{byUser: make(map[string]map[string]Permission)}
	if s == nil {
		return next
	}
	for u, perms := range s.byUser {
		if u != userID {
			next.byUser[u] = perms
		}
	}
	next.size = s.size
	return next
}
