package accounts

import (
	"errors"
	"time"

	"carbonmap/core-go/internal/access"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrAlreadyConfirmed = errors.New("account already confirmed")
	ErrInvalidToken     = errors.New("confirmation token is invalid or has expired")
	ErrTokenConsumed    = errors.New("confirmation token already used")
	ErrEmailMismatch    = errors.New("confirmation token does not match account email")
	ErrUnauthenticated  = errors.New("authentication required")
	ErrForbidden        = errors.New("administrator privileges required")
	ErrSelfDemotion     = errors.New("administrators cannot revoke their own privileges")
)

// Account is the identity subsystem's view of a user. Confirmation is a
// one-way unconfirmed → confirmed transition; Admin is an orthogonal flag.
type Account struct {
	ID           string
	Email        string
	Name         string
	Org          string
	UserType     string
	Admin        bool
	Confirmed    bool
	ConfirmedAt  *time.Time
	RegisteredAt time.Time
}

// Confirm returns the confirmed copy of a.
func (a Account) Confirm(at time.Time) (Account, error) {
	if a.Confirmed {
		return a, ErrAlreadyConfirmed
	}
	at = at.UTC()
	a.Confirmed = true
	a.ConfirmedAt = &at
	return a, nil
}

func (a Account) WithAdmin(admin bool) Account {
	a.Admin = admin
	return a
}

// Caller is the access-layer identity for a.
func (a Account) Caller() access.Caller {
	return access.Caller{
		UserID:    a.ID,
		Email:     a.Email,
		Confirmed: a.Confirmed,
		Admin:     a.Admin,
	}
}
