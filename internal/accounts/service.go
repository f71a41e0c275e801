package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"carbonmap/core-go/internal/access"
)

// Service owns the account transitions the core relies on: confirm and
// set_admin. Every transition re-reads the actor from the store instead of
// trusting token claims.
type Service struct {
	log    zerolog.Logger
	store  Store
	tokens *Tokens
	ledger TokenLedger
	now    func() time.Time
}

func NewService(log zerolog.Logger, store Store, tokens *Tokens, ledger TokenLedger) *Service {
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Service{log: log, store: store, tokens: tokens, ledger: ledger, now: time.Now}
}

func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.store.Get(ctx, id)
}

// IssueConfirmation mints a confirmation token for the account id. Delivery
// of the token is left to the caller.
func (s *Service) IssueConfirmation(ctx context.Context, id string) (ConfirmationToken, error) {
	acct, err := s.store.Get(ctx, id)
	if err != nil {
		return ConfirmationToken{}, err
	}
	return s.tokens.IssueConfirmation(acct.Email)
}

// Confirm moves the caller's account from unconfirmed to confirmed. The token
// must verify, name the caller's e-mail and not have been used before.
func (s *Service) Confirm(ctx context.Context, caller access.Caller, token string) (Account, error) {
	if caller.IsAnonymous() {
		return Account{}, ErrUnauthenticated
	}

	ct, err := s.tokens.ParseConfirmation(strings.TrimSpace(token))
	if err != nil {
		return Account{}, err
	}

	acct, err := s.store.Get(ctx, caller.UserID)
	if err != nil {
		return Account{}, err
	}
	if !strings.EqualFold(ct.Email, acct.Email) {
		return Account{}, ErrEmailMismatch
	}
	if acct.Confirmed {
		return acct, ErrAlreadyConfirmed
	}

	first, err := s.ledger.Consume(ctx, ct.ID, ct.ExpiresAt)
	if err != nil {
		return Account{}, err
	}
	if !first {
		return Account{}, ErrTokenConsumed
	}

	confirmed, err := s.store.MarkConfirmed(ctx, acct.ID, s.now())
	if errors.Is(err, ErrAlreadyConfirmed) {
		return confirmed, err
	}
	if err != nil {
		return Account{}, fmt.Errorf("confirm account: %w", err)
	}

	s.log.Info().Str("account_id", acct.ID).Msg("account confirmed")
	return confirmed, nil
}

// SetAdmin sets the admin flag of the account registered under email. Only
// confirmed administrators may call it, and they cannot demote themselves.
func (s *Service) SetAdmin(ctx context.Context, actor access.Caller, email string, admin bool) (Account, error) {
	if actor.IsAnonymous() {
		return Account{}, ErrUnauthenticated
	}

	actorAcct, err := s.store.Get(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, ErrUnauthenticated
		}
		return Account{}, err
	}
	if !actorAcct.Admin || !actorAcct.Confirmed {
		return Account{}, ErrForbidden
	}

	target, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return Account{}, err
	}
	if target.ID == actorAcct.ID && !admin {
		return Account{}, ErrSelfDemotion
	}
	if target.Admin == admin {
		return target, nil
	}

	updated, err := s.store.SetAdmin(ctx, target.ID, admin)
	if err != nil {
		return Account{}, fmt.Errorf("set admin flag: %w", err)
	}

	s.log.Info().
		Str("actor_id", actorAcct.ID).
		Str("account_id", target.ID).
		Bool("admin", admin).
		Msg("admin privileges changed")
	return updated, nil
}
