package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"carbonmap/core-go/internal/accounts"
	"carbonmap/core-go/internal/sqlcgen"
)

// AccountStore is the Postgres implementation of accounts.Store. Rows are
// written by the registration flow; this service only flips the confirmed
// and admin flags, each with its own single-column update.
type AccountStore struct {
	queries *sqlcgen.Queries
}

func NewAccountStore(pool *Pool) *AccountStore {
	return &AccountStore{queries: pool.Queries()}
}

func (s *AccountStore) Get(ctx context.Context, id string) (accounts.Account, error) {
	row, err := s.queries.GetAccount(ctx, id)
	if err != nil {
		return accounts.Account{}, accountError(err, id)
	}
	return toAccount(row), nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (accounts.Account, error) {
	row, err := s.queries.GetAccountByEmail(ctx, email)
	if err != nil {
		return accounts.Account{}, accountError(err, email)
	}
	return toAccount(row), nil
}

// MarkConfirmed flips confirmed in one conditional update, leaving admin
// untouched.
func (s *AccountStore) MarkConfirmed(ctx context.Context, id string, at time.Time) (accounts.Account, error) {
	row, err := s.queries.ConfirmAccount(ctx, id, at.UTC())
	if err == nil {
		return toAccount(row), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return accounts.Account{}, accountError(err, id)
	}
	// No row matched: either the account is gone or it was already confirmed.
	cur, err := s.Get(ctx, id)
	if err != nil {
		return accounts.Account{}, err
	}
	return cur, accounts.ErrAlreadyConfirmed
}

// SetAdmin writes only the admin flag.
func (s *AccountStore) SetAdmin(ctx context.Context, id string, admin bool) (accounts.Account, error) {
	row, err := s.queries.SetAccountAdmin(ctx, id, admin)
	if err != nil {
		return accounts.Account{}, accountError(err, id)
	}
	return toAccount(row), nil
}

// Insert adds a. Used when importing seed fixtures.
func (s *AccountStore) Insert(ctx context.Context, a accounts.Account) error {
	var registered *time.Time
	if !a.RegisteredAt.IsZero() {
		registered = &a.RegisteredAt
	}
	err := s.queries.InsertAccount(ctx, sqlcgen.InsertAccountParams{
		ID:           a.ID,
		Email:        a.Email,
		Name:         a.Name,
		Org:          a.Org,
		UserType:     a.UserType,
		Admin:        a.Admin,
		Confirmed:    a.Confirmed,
		ConfirmedOn:  a.ConfirmedAt,
		RegisteredOn: registered,
	})
	if err != nil {
		return fmt.Errorf("insert account %s: %w", a.Email, err)
	}
	return nil
}

func accountError(err error, key string) error {
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return fmt.Errorf("%w: %s", accounts.ErrAccountNotFound, key)
	}
	return err
}

func toAccount(row sqlcgen.Account) accounts.Account {
	return accounts.Account{
		ID:           row.ID,
		Email:        row.Email,
		Name:         row.Name,
		Org:          row.Org,
		UserType:     row.UserType,
		Admin:        row.Admin,
		Confirmed:    row.Confirmed,
		ConfirmedAt:  row.ConfirmedOn,
		RegisteredAt: row.RegisteredOn,
	}
}
