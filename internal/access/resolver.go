package access

import (
	"errors"
	"fmt"

	"carbonmap/core-go/internal/hierarchy"
)

// Observer receives resolution outcomes; *metrics.Metrics satisfies it.
type Observer interface {
	ObservePermissionResolution(permission string)
	IncInvariantViolation()
}

type ResolverOptions struct {
	// DenyUnconfirmed resolves callers whose account is not yet confirmed to
	// None, as if they were anonymous.
	DenyUnconfirmed bool
	Observer        Observer
}

// Resolution is an effective permission and the entity whose grant produced
// it. Source is empty when no grant applies.
type Resolution struct {
	Permission Permission `json:"permission"`
	Source     string     `json:"source_entity_id,omitempty"`
}

// Resolver computes effective permissions with nearest-ancestor-wins
// semantics: the grant on the entity itself, or failing that on the closest
// ancestor, decides. Farther grants are never merged in.
type Resolver struct {
	denyUnconfirmed bool
	observer        Observer
}

func NewResolver(opts ResolverOptions) *Resolver {
	return &Resolver{denyUnconfirmed: opts.DenyUnconfirmed, observer: opts.Observer}
}

// Resolve returns the caller's effective permission on entityID. It fails
// with hierarchy.ErrNotFound for unknown entities and
// hierarchy.ErrInvariantViolation for a corrupt ancestor chain.
func (r *Resolver) Resolve(f *hierarchy.Forest, grants *GrantSet, caller Caller, entityID string) (Resolution, error) {
	res, err := r.walk(f, grants, caller, entityID)
	if err != nil {
		return Resolution{}, err
	}
	r.observe(res.Permission)
	return res, nil
}

func (r *Resolver) walk(f *hierarchy.Forest, grants *GrantSet, caller Caller, entityID string) (Resolution, error) {
	if !r.eligible(caller) {
		if !f.Has(entityID) {
			return Resolution{}, fmt.Errorf("%w: %s", hierarchy.ErrNotFound, entityID)
		}
		return Resolution{Permission: None}, nil
	}

	var res Resolution
	err := f.WalkAncestors(entityID, func(e hierarchy.Entity) bool {
		p, ok := grants.Lookup(caller.UserID, e.ID)
		if !ok {
			return true
		}
		res = Resolution{Permission: p, Source: e.ID}
		return false
	})
	if err != nil {
		if errors.Is(err, hierarchy.ErrInvariantViolation) && r.observer != nil {
			r.observer.IncInvariantViolation()
		}
		return Resolution{}, err
	}
	return res, nil
}

func (r *Resolver) ResolvePermission(f *hierarchy.Forest, grants *GrantSet, caller Caller, entityID string) (Permission, error) {
	res, err := r.Resolve(f, grants, caller, entityID)
	if err != nil {
		return None, err
	}
	return res.Permission, nil
}

// EffectiveEntity is one row of a caller's effective access listing.
type EffectiveEntity struct {
	EntityID string `json:"entity_id"`
	Resolution
}

// Effective lists every entity on which the caller ends up with more than
// None: the entities they hold grants on plus the subtrees those grants cover,
// minus anything narrowed back to None by a closer grant.
func (r *Resolver) Effective(f *hierarchy.Forest, grants *GrantSet, caller Caller) ([]EffectiveEntity, error) {
	if !r.eligible(caller) {
		return []EffectiveEntity{}, nil
	}

	candidates := make(hierarchy.IDSet)
	for _, g := range grants.ForUser(caller.UserID) {
		if !f.Has(g.EntityID) {
			continue
		}
		candidates.Add(g.EntityID)
		for d := range f.Descendants(g.EntityID) {
			candidates.Add(d)
		}
	}

	out := make([]EffectiveEntity, 0, candidates.Len())
	for _, id := range candidates.Sorted() {
		res, err := r.walk(f, grants, caller, id)
		if err != nil {
			return nil, err
		}
		if res.Permission == None {
			continue
		}
		out = append(out, EffectiveEntity{EntityID: id, Resolution: res})
	}
	return out, nil
}

func (r *Resolver) eligible(caller Caller) bool {
	if caller.IsAnonymous() {
		return false
	}
	if r.denyUnconfirmed && !caller.Confirmed {
		return false
	}
	return true
}

func (r *Resolver) observe(p Permission) {
	if r.observer != nil {
		r.observer.ObservePermissionResolution(p.String())
	}
}

