package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"carbonmap/core-go/internal/access"
	"carbonmap/core-go/internal/accounts"
	"carbonmap/core-go/internal/catalog"
	"carbonmap/core-go/internal/hierarchy"
	"carbonmap/core-go/internal/identity"
	"carbonmap/core-go/internal/seed"
	"carbonmap/core-go/internal/sqlcgen"
)

// RefreshObserver receives snapshot reload outcomes; *metrics.Metrics
// satisfies it.
type RefreshObserver interface {
	ObserveCatalogRefresh(duration time.Duration, entities int, err error)
}

// Catalog serves snapshots of the entities and grants tables. Reads come
// from the last published snapshot; writes go to Postgres first and are
// followed by a reload.
type Catalog struct {
	log      zerolog.Logger
	pool     *Pool
	observer RefreshObserver
	holder   catalog.Holder
	group    singleflight.Group

	// afterSnapshot runs inside a load once its transaction snapshot is
	// taken; tests use it to hold a load open across a write.
	afterSnapshot func()
}

func NewCatalog(log zerolog.Logger, pool *Pool, observer RefreshObserver) *Catalog {
	return &Catalog{log: log, pool: pool, observer: observer}
}

const (
	refreshKey     = "refresh"
	refreshTimeout = 30 * time.Second
)

// Snapshot returns the current snapshot, loading one if nothing has been
// published yet.
func (c *Catalog) Snapshot(ctx context.Context) (*catalog.State, error) {
	if s := c.holder.Current(); s != nil {
		return s, nil
	}
	s, err := c.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrUnavailable, err)
	}
	return s, nil
}

// Refresh reloads the snapshot from Postgres. Concurrent calls share one
// load, which is detached from the first caller's cancellation. A failed load
// leaves the previous snapshot in place, and a load overtaken by one that
// started later is dropped.
func (c *Catalog) Refresh(ctx context.Context) (*catalog.State, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		ticket := c.holder.BeginLoad()
		start := time.Now()
		s, err := c.load(loadCtx)
		n := 0
		if s != nil {
			n = s.Forest.Len()
		}
		if c.observer != nil {
			c.observer.ObserveCatalogRefresh(time.Since(start), n, err)
		}
		if err != nil {
			return nil, err
		}
		published, ok := c.holder.PublishLoad(ticket, s)
		if !ok {
			c.log.Debug().Uint64("version", published.Version).Msg("dropped catalog load overtaken by a newer one")
		}
		return published, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*catalog.State), nil
	}
}

// Run reloads the snapshot every interval until ctx is cancelled, picking up
// writes made by other replicas.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.log.Error().Err(err).Msg("catalog refresh failed")
			}
		}
	}
}

func (c *Catalog) load(ctx context.Context) (*catalog.State, error) {
	var state *catalog.State
	err := c.pool.InTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(q *sqlcgen.Queries) error {
		f, err := loadForest(ctx, q)
		if err != nil {
			return err
		}
		if c.afterSnapshot != nil {
			c.afterSnapshot()
		}
		rows, err := q.ListGrants(ctx)
		if err != nil {
			return fmt.Errorf("list grants: %w", err)
		}
		grants := make([]access.Grant, 0, len(rows))
		for _, row := range rows {
			p, err := access.ParsePermission(row.Permission)
			if err != nil {
				return fmt.Errorf("grant %s/%s: %w", row.UserID, row.EntityID, err)
			}
			grants = append(grants, access.Grant{UserID: row.UserID, EntityID: row.EntityID, Permission: p})
		}
		gs, err := access.NewGrantSet(grants)
		if err != nil {
			return err
		}
		state = &catalog.State{Forest: f, Grants: gs, LoadedAt: time.Now().UTC()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func loadForest(ctx context.Context, q *sqlcgen.Queries) (*hierarchy.Forest, error) {
	rows, err := q.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	entities := make([]hierarchy.Entity, 0, len(rows))
	for _, row := range rows {
		entities = append(entities, toEntity(row))
	}
	f, err := hierarchy.NewForest(entities)
	if err != nil {
		// The schema cannot express "no cycles"; a forest that fails to
		// build here was corrupted outside this service.
		return nil, fmt.Errorf("%w: %v", hierarchy.ErrInvariantViolation, err)
	}
	return f, nil
}

func (c *Catalog) CreateEntity(ctx context.Context, e hierarchy.Entity) error {
	return c.write(ctx, func(q *sqlcgen.Queries, f *hierarchy.Forest) error {
		if _, err := f.Insert(e); err != nil {
			return err
		}
		if err := q.InsertEntity(ctx, entityParams(e)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", hierarchy.ErrDuplicate, e.ID)
			}
			return fmt.Errorf("insert entity: %w", err)
		}
		return audit(ctx, q, "entity.create", "entity", e.ID, map[string]any{"parent_id": e.Parent()})
	})
}

func (c *Catalog) UpdateEntity(ctx context.Context, e hierarchy.Entity) error {
	return c.write(ctx, func(q *sqlcgen.Queries, f *hierarchy.Forest) error {
		if _, err := f.Replace(e); err != nil {
			return err
		}
		n, err := q.UpdateEntity(ctx, sqlcgen.UpdateEntityParams(entityParams(e)))
		if err != nil {
			return fmt.Errorf("update entity: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", hierarchy.ErrNotFound, e.ID)
		}
		return audit(ctx, q, "entity.update", "entity", e.ID, map[string]any{"parent_id": e.Parent()})
	})
}

func (c *Catalog) PutGrant(ctx context.Context, g access.Grant) error {
	if err := g.Validate(); err != nil {
		return err
	}
	return c.write(ctx, func(q *sqlcgen.Queries, f *hierarchy.Forest) error {
		if !f.Has(g.EntityID) {
			return fmt.Errorf("%w: %s", hierarchy.ErrNotFound, g.EntityID)
		}
		err := q.UpsertGrant(ctx, sqlcgen.UpsertGrantParams{
			UserID:     g.UserID,
			EntityID:   g.EntityID,
			Permission: g.Permission.String(),
		})
		if err != nil {
			return grantError(err, g.UserID, g.EntityID)
		}
		return audit(ctx, q, "grant.put", "grant", g.UserID+"/"+g.EntityID, map[string]any{"permission": g.Permission.String()})
	})
}

func (c *Catalog) RevokeGrant(ctx context.Context, userID, entityID string) error {
	return c.write(ctx, func(q *sqlcgen.Queries, _ *hierarchy.Forest) error {
		n, err := q.DeleteGrant(ctx, userID, entityID)
		if err != nil {
			if isInvalidUUID(err) {
				return fmt.Errorf("%w: %s/%s", access.ErrGrantNotFound, userID, entityID)
			}
			return fmt.Errorf("delete grant: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s/%s", access.ErrGrantNotFound, userID, entityID)
		}
		return audit(ctx, q, "grant.revoke", "grant", userID+"/"+entityID, nil)
	})
}

// write runs fn with the entities table locked against other writers and the
// current forest loaded inside the same transaction, then reloads the
// snapshot. fn validates against that forest before touching any rows.
func (c *Catalog) write(ctx context.Context, fn func(q *sqlcgen.Queries, f *hierarchy.Forest) error) error {
	err := c.pool.InTx(ctx, pgx.TxOptions{}, func(q *sqlcgen.Queries) error {
		if err := q.LockEntities(ctx); err != nil {
			return fmt.Errorf("lock entities: %w", err)
		}
		f, err := loadForest(ctx, q)
		if err != nil {
			return err
		}
		return fn(q, f)
	})
	if err != nil {
		return err
	}

	// A refresh already in flight may have started before the commit; its
	// ticket is older than the one taken below, so it cannot be published
	// over this one.
	c.group.Forget(refreshKey)
	if _, err := c.Refresh(ctx); err != nil {
		c.log.Warn().Err(err).Msg("catalog refresh after write failed; background refresh will retry")
	}
	return nil
}

// Import writes a seed fixture in one transaction. Existing rows make it fail.
func (c *Catalog) Import(ctx context.Context, fx seed.Fixture) error {
	// Validate the whole fixture before writing any of it.
	f, err := hierarchy.NewForest(fx.Entities)
	if err != nil {
		return err
	}

	err = c.pool.InTx(ctx, pgx.TxOptions{}, func(q *sqlcgen.Queries) error {
		if err := q.LockEntities(ctx); err != nil {
			return fmt.Errorf("lock entities: %w", err)
		}
		// Parents before children so the self-reference FK holds.
		for _, id := range importOrder(f) {
			e, _ := f.Get(id)
			if err := q.InsertEntity(ctx, entityParams(e)); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s", hierarchy.ErrDuplicate, e.ID)
				}
				return fmt.Errorf("insert entity %s: %w", e.ID, err)
			}
		}
		store := &AccountStore{queries: q}
		for _, a := range fx.Accounts {
			if err := store.Insert(ctx, a); err != nil {
				return err
			}
		}
		for _, g := range fx.Grants {
			err := q.UpsertGrant(ctx, sqlcgen.UpsertGrantParams{
				UserID:     g.UserID,
				EntityID:   g.EntityID,
				Permission: g.Permission.String(),
			})
			if err != nil {
				return grantError(err, g.UserID, g.EntityID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.group.Forget(refreshKey)
	_, err = c.Refresh(ctx)
	return err
}

func importOrder(f *hierarchy.Forest) []string {
	var order []string
	var visit func(id string)
	visit = func(id string) {
		order = append(order, id)
		for _, child := range f.Children(id) {
			visit(child)
		}
	}
	for _, e := range f.Entities() {
		if e.IsRoot() {
			visit(e.ID)
		}
	}
	return order
}

func audit(ctx context.Context, q *sqlcgen.Queries, action, targetType, targetID string, details map[string]any) error {
	actor := identity.CallerFrom(ctx).UserID
	if actor == "" {
		actor = "system"
	}
	err := q.InsertAuditEvent(ctx, sqlcgen.InsertAuditEventParams{
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
	})
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func grantError(err error, userID, entityID string) error {
	if constraint, ok := foreignKeyViolation(err); ok {
		if constraint == "grants_entity_id_fkey" {
			return fmt.Errorf("%w: %s", hierarchy.ErrNotFound, entityID)
		}
		return fmt.Errorf("%w: %s", accounts.ErrAccountNotFound, userID)
	}
	if isInvalidUUID(err) {
		return fmt.Errorf("%w: %s", accounts.ErrAccountNotFound, userID)
	}
	return fmt.Errorf("upsert grant: %w", err)
}

func entityParams(e hierarchy.Entity) sqlcgen.InsertEntityParams {
	md := e.Metadata
	if md == nil {
		md = map[string]any{}
	}
	var geom []byte
	if len(e.Geometry) > 0 {
		geom = []byte(e.Geometry)
	}
	return sqlcgen.InsertEntityParams{
		ID:        e.ID,
		ParentID:  e.ParentID,
		IsPrimary: e.Primary,
		Name:      e.Name,
		Metadata:  md,
		Geometry:  geom,
	}
}

func toEntity(row sqlcgen.Entity) hierarchy.Entity {
	e := hierarchy.Entity{
		ID:       row.ID,
		ParentID: row.ParentID,
		Primary:  row.IsPrimary,
		Name:     row.Name,
		Metadata: row.Metadata,
	}
	if len(row.Geometry) > 0 {
		e.Geometry = json.RawMessage(row.Geometry)
	}
	return e
}

var (
	_ catalog.Catalog = (*Catalog)(nil)
	_ accounts.Store  = (*AccountStore)(nil)
)
