package accounts

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const purposeConfirm = "confirm"

type confirmClaims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// ConfirmationToken is a signed, expiring, single-use proof of e-mail
// ownership. ID is the jti consumed through the TokenLedger.
type ConfirmationToken struct {
	Token     string
	ID        string
	Email     string
	ExpiresAt time.Time
}

// Tokens issues and verifies HS256 confirmation tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *Tokens) IssueConfirmation(email string) (ConfirmationToken, error) {
	email = normalizeEmail(email)
	if email == "" {
		return ConfirmationToken{}, fmt.Errorf("email is required")
	}

	now := t.now()
	exp := now.Add(t.ttl)
	claims := confirmClaims{
		Email:   email,
		Purpose: purposeConfirm,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return ConfirmationToken{}, fmt.Errorf("failed to sign confirmation token: %w", err)
	}
	return ConfirmationToken{Token: signed, ID: claims.ID, Email: email, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (t *Tokens) ParseConfirmation(token string) (ConfirmationToken, error) {
	var claims confirmClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return ConfirmationToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Purpose != purposeConfirm || claims.ID == "" || claims.Email == "" {
		return ConfirmationToken{}, fmt.Errorf("%w: not a confirmation token", ErrInvalidToken)
	}
	return ConfirmationToken{Token: token, ID: claims.ID, Email: claims.Email, ExpiresAt: claims.ExpiresAt.Time}, nil
}
