package popup

import (
	"context"
	"fmt"

	"carbonmap/core-go/internal/access"
	"carbonmap/core-go/internal/catalog"
	"carbonmap/core-go/internal/hierarchy"
)

// View is the payload behind an entity popup.
type View struct {
	EntityName     string            `json:"entity_name"`
	EntityMetadata map[string]any    `json:"entity_metadata"`
	UserPermission access.Permission `json:"user_permission"`
}

// Aggregator assembles popups from a single catalog snapshot so the entity,
// its ancestors and the grants all come from the same version.
type Aggregator struct {
	catalog  catalog.Reader
	resolver *access.Resolver
}

func NewAggregator(c catalog.Reader, r *access.Resolver) *Aggregator {
	return &Aggregator{catalog: c, resolver: r}
}

func (a *Aggregator) Build(ctx context.Context, caller access.Caller, entityID string) (View, error) {
	state, err := a.catalog.Snapshot(ctx)
	if err != nil {
		return View{}, err
	}
	return build(state, a.resolver, caller, entityID)
}

func build(state *catalog.State, r *access.Resolver, caller access.Caller, entityID string) (View, error) {
	e, ok := state.Forest.Get(entityID)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", hierarchy.ErrNotFound, entityID)
	}

	perm, err := r.ResolvePermission(state.Forest, state.Grants, caller, entityID)
	if err != nil {
		return View{}, err
	}

	md := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		md[k] = v
	}
	return View{EntityName: e.Name, EntityMetadata: md, UserPermission: perm}, nil
}
