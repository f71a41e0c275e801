package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"carbonmap/core-go/internal/access"
	"carbonmap/core-go/internal/accounts"
)

var ErrUnknownAccount = errors.New("token subject has no account")

// AccountLookup is the slice of accounts.Store the authenticator needs.
type AccountLookup interface {
	Get(ctx context.Context, id string) (accounts.Account, error)
}

// Authenticator turns an Authorization header into an access.Caller. A
// request without the header is anonymous; a header that is present but does
// not resolve to an account is an error, never a downgrade to anonymous.
type Authenticator struct {
	signer   *Signer
	accounts AccountLookup
}

func NewAuthenticator(signer *Signer, accounts AccountLookup) *Authenticator {
	return &Authenticator{signer: signer, accounts: accounts}
}

func (a *Authenticator) Authenticate(r *http.Request) (access.Caller, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return access.Anonymous(), nil
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return access.Caller{}, fmt.Errorf("%w: expected bearer token", ErrInvalidToken)
	}

	claims, err := a.signer.Verify(strings.TrimSpace(token))
	if err != nil {
		return access.Caller{}, err
	}

	acct, err := a.accounts.Get(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return access.Caller{}, fmt.Errorf("%w: %s", ErrUnknownAccount, claims.Subject)
		}
		return access.Caller{}, err
	}
	return acct.Caller(), nil
}

type callerKey struct{}

func WithCaller(ctx context.Context, c access.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored by WithCaller, or the anonymous caller.
func CallerFrom(ctx context.Context) access.Caller {
	if c, ok := ctx.Value(callerKey{}).(access.Caller); ok {
		return c
	}
	return access.Anonymous()
}
