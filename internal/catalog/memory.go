package catalog

import (
	"context"
	"fmt"
	"sync"

	"carbonmap/core-go/internal/access"
	"carbonmap/core-go/internal/hierarchy"
)

// Memory is an in-process catalog. Reads load the current State without
// locking; writes are serialised, build a new State off to the side and swap
// it in, so readers never observe a half-applied change.
type Memory struct {
	writeMu sync.Mutex
	holder  Holder
}

func NewMemory(entities []hierarchy.Entity, grants []access.Grant) (*Memory, error) {
	f, err := hierarchy.NewForest(entities)
	if err != nil {
		return nil, fmt.Errorf("build forest: %w", err)
	}
	for _, g := range grants {
		if !f.Has(g.EntityID) {
			return nil, fmt.Errorf("grant for %s: %w: %s", g.UserID, hierarchy.ErrNotFound, g.EntityID)
		}
	}
	gs, err := access.NewGrantSet(grants)
	if err != nil {
		return nil, fmt.Errorf("build grants: %w", err)
	}

	m := &Memory{}
	m.holder.Publish(&State{Forest: f, Grants: gs})
	return m, nil
}

func (m *Memory) Snapshot(context.Context) (*State, error) {
	return m.holder.Current(), nil
}

func (m *Memory) CreateEntity(_ context.Context, e hierarchy.Entity) error {
	return m.update(func(cur *State) (*State, error) {
		f, err := cur.Forest.Insert(e)
		if err != nil {
			return nil, err
		}
		return &State{Forest: f, Grants: cur.Grants}, nil
	})
}

func (m *Memory) UpdateEntity(_ context.Context, e hierarchy.Entity) error {
	return m.update(func(cur *State) (*State, error) {
		f, err := cur.Forest.Replace(e)
		if err != nil {
			return nil, err
		}
		return &State{Forest: f, Grants: cur.Grants}, nil
	})
}

func (m *Memory) PutGrant(_ context.Context, g access.Grant) error {
	return m.update(func(cur *State) (*State, error) {
		if !cur.Forest.Has(g.EntityID) {
			return nil, fmt.Errorf("%w: %s", hierarchy.ErrNotFound, g.EntityID)
		}
		gs, err := cur.Grants.With(g)
		if err != nil {
			return nil, err
		}
		return &State{Forest: cur.Forest, Grants: gs}, nil
	})
}

func (m *Memory) RevokeGrant(_ context.Context, userID, entityID string) error {
	return m.update(func(cur *State) (*State, error) {
		gs, err := cur.Grants.Without(userID, entityID)
		if err != nil {
			return nil, err
		}
		return &State{Forest: cur.Forest, Grants: gs}, nil
	})
}

func (m *Memory) update(fn func(cur *State) (*State, error)) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	next, err := fn(m.holder.Current())
	if err != nil {
		return err
	}
	m.holder.Publish(next)
	return nil
}
