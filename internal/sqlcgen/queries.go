package sqlcgen

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const insertAuditEvent = `-- name: InsertAuditEvent :exec
INSERT INTO audit_events (
  actor,
  action,
  target_type,
  target_id,
  details
)
VALUES ($1, $2, $3, $4, COALESCE($5, '{}'::jsonb))
`

type InsertAuditEventParams struct {
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	Details    map[string]any
}

func (q *Queries) InsertAuditEvent(ctx context.Context, arg InsertAuditEventParams) error {
	_, err := q.db.Exec(ctx, insertAuditEvent, arg.Actor, arg.Action, arg.TargetType, arg.TargetID, arg.Details)
	return err
}

const lockEntities = `-- name: LockEntities :exec
LOCK TABLE entities IN SHARE ROW EXCLUSIVE MODE
`

// LockEntities serialises catalog writers for the rest of the transaction.
// Plain MVCC readers are not blocked.
func (q *Queries) LockEntities(ctx context.Context) error {
	_, err := q.db.Exec(ctx, lockEntities)
	return err
}

const listEntities = `-- name: ListEntities :many
SELECT id,
       parent_id,
       is_primary,
       name,
       metadata,
       geometry,
       created_at,
       updated_at
FROM entities
ORDER BY id ASC
`

func (q *Queries) ListEntities(ctx context.Context) ([]Entity, error) {
	rows, err := q.db.Query(ctx, listEntities)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Entity
	for rows.Next() {
		var i Entity
		if err := rows.Scan(&i.ID, &i.ParentID, &i.IsPrimary, &i.Name, &i.Metadata, &i.Geometry, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertEntity = `-- name: InsertEntity :exec
INSERT INTO entities (id, parent_id, is_primary, name, metadata, geometry)
VALUES ($1, $2, $3, $4, COALESCE($5, '{}'::jsonb), $6)
`

type InsertEntityParams struct {
	ID        string
	ParentID  *string
	IsPrimary bool
	Name      string
	Metadata  map[string]any
	Geometry  []byte
}

func (q *Queries) InsertEntity(ctx context.Context, arg InsertEntityParams) error {
	_, err := q.db.Exec(ctx, insertEntity, arg.ID, arg.ParentID, arg.IsPrimary, arg.Name, arg.Metadata, arg.Geometry)
	return err
}

const updateEntity = `-- name: UpdateEntity :execrows
UPDATE entities
SET parent_id = $2,
    is_primary = $3,
    name = $4,
    metadata = COALESCE($5, '{}'::jsonb),
    geometry = $6,
    updated_at = now()
WHERE id = $1
`

type UpdateEntityParams InsertEntityParams

func (q *Queries) UpdateEntity(ctx context.Context, arg UpdateEntityParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateEntity, arg.ID, arg.ParentID, arg.IsPrimary, arg.Name, arg.Metadata, arg.Geometry)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listGrants = `-- name: ListGrants :many
SELECT user_id::text,
       entity_id,
       permission,
       updated_at
FROM grants
ORDER BY user_id ASC, entity_id ASC
`

func (q *Queries) ListGrants(ctx context.Context) ([]Grant, error) {
	rows, err := q.db.Query(ctx, listGrants)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Grant
	for rows.Next() {
		var i Grant
		if err := rows.Scan(&i.UserID, &i.EntityID, &i.Permission, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertGrant = `-- name: UpsertGrant :exec
INSERT INTO grants (user_id, entity_id, permission)
VALUES ($1::uuid, $2, $3)
ON CONFLICT (user_id, entity_id) DO UPDATE
SET permission = EXCLUDED.permission,
    updated_at = now()
`

type UpsertGrantParams struct {
	UserID     string
	EntityID   string
	Permission string
}

func (q *Queries) UpsertGrant(ctx context.Context, arg UpsertGrantParams) error {
	_, err := q.db.Exec(ctx, upsertGrant, arg.UserID, arg.EntityID, arg.Permission)
	return err
}

const deleteGrant = `-- name: DeleteGrant :execrows
DELETE FROM grants
WHERE user_id = $1::uuid
  AND entity_id = $2
`

func (q *Queries) DeleteGrant(ctx context.Context, userID, entityID string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteGrant, userID, entityID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getAccount = `-- name: GetAccount :one
SELECT id::text,
       email,
       name,
       org,
       user_type,
       admin,
       confirmed,
       confirmed_on,
       registered_on
FROM accounts
WHERE id = $1::uuid
`

func (q *Queries) GetAccount(ctx context.Context, id string) (Account, error) {
	row := q.db.QueryRow(ctx, getAccount, id)
	var i Account
	err := row.Scan(&i.ID, &i.Email, &i.Name, &i.Org, &i.UserType, &i.Admin, &i.Confirmed, &i.ConfirmedOn, &i.RegisteredOn)
	return i, err
}

const getAccountByEmail = `-- name: GetAccountByEmail :one
SELECT id::text,
       email,
       name,
       org,
       user_type,
       admin,
       confirmed,
       confirmed_on,
       registered_on
FROM accounts
WHERE lower(email) = lower($1)
`

func (q *Queries) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	row := q.db.QueryRow(ctx, getAccountByEmail, email)
	var i Account
	err := row.Scan(&i.ID, &i.Email, &i.Name, &i.Org, &i.UserType, &i.Admin, &i.Confirmed, &i.ConfirmedOn, &i.RegisteredOn)
	return i, err
}

const insertAccount = `-- name: InsertAccount :exec
INSERT INTO accounts (id, email, name, org, user_type, admin, confirmed, confirmed_on, registered_on)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
`

type InsertAccountParams struct {
	ID           string
	Email        string
	Name         string
	Org          string
	UserType     string
	Admin        bool
	Confirmed    bool
	ConfirmedOn  *time.Time
	RegisteredOn *time.Time
}

func (q *Queries) InsertAccount(ctx context.Context, arg InsertAccountParams) error {
	_, err := q.db.Exec(ctx, insertAccount, arg.ID, arg.Email, arg.Name, arg.Org, arg.UserType, arg.Admin, arg.Confirmed, arg.ConfirmedOn, arg.RegisteredOn)
	return err
}

const confirmAccount = `-- name: ConfirmAccount :one
UPDATE accounts
SET confirmed = true,
    confirmed_on = $2
WHERE id = $1::uuid
  AND NOT confirmed
RETURNING id::text, email, name, org, user_type, admin, confirmed, confirmed_on, registered_on
`

func (q *Queries) ConfirmAccount(ctx context.Context, id string, confirmedOn time.Time) (Account, error) {
	row := q.db.QueryRow(ctx, confirmAccount, id, confirmedOn)
	var i Account
	err := row.Scan(&i.ID, &i.Email, &i.Name, &i.Org, &i.UserType, &i.Admin, &i.Confirmed, &i.ConfirmedOn, &i.RegisteredOn)
	return i, err
}

const setAccountAdmin = `-- name: SetAccountAdmin :one
UPDATE accounts
SET admin = $2
WHERE id = $1::uuid
RETURNING id::text, email, name, org, user_type, admin, confirmed, confirmed_on, registered_on
`

func (q *Queries) SetAccountAdmin(ctx context.Context, id string, admin bool) (Account, error) {
	row := q.db.QueryRow(ctx, setAccountAdmin, id, admin)
	var i Account
	err := row.Scan(&i.ID, &i.Email, &i.Name, &i.Org, &i.UserType, &i.Admin, &i.Confirmed, &i.ConfirmedOn, &i.RegisteredOn)
	return i, err
}
