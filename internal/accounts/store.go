package accounts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store persists accounts. *db.AccountStore and *MemoryStore satisfy it.
// Each transition writes only its own flag so concurrent confirm and
// set_admin calls cannot undo each other.
type Store interface {
	Get(ctx context.Context, id string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	// MarkConfirmed confirms the account at at. An account that is already
	// confirmed is returned unchanged with ErrAlreadyConfirmed.
	MarkConfirmed(ctx context.Context, id string, at time.Time) (Account, error)
	SetAdmin(ctx context.Context, id string, admin bool) (Account, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Account
	byEmail map[string]string
}

func NewMemoryStore(accounts ...Account) (*MemoryStore, error) {
	s := &MemoryStore{
		byID:    make(map[string]Account, len(accounts)),
		byEmail: make(map[string]string, len(accounts)),
	}
	for _, a := range accounts {
		if err := s.Add(a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers a new account; registration itself lives outside this
// service, so this is only used for seeding.
func (s *MemoryStore) Add(a Account) error {
	email := normalizeEmail(a.Email)
	if a.ID == "" || email == "" {
		return fmt.Errorf("account id and email are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[a.ID]; exists {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	if _, exists := s.byEmail[email]; exists {
		return fmt.Errorf("email %s already registered", email)
	}
	s.byID[a.ID] = a
	s.byEmail[email] = a.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return a, nil
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, email)
	}
	return s.byID[id], nil
}

func (s *MemoryStore) MarkConfirmed(_ context.Context, id string, at time.Time) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	confirmed, err := a.Confirm(at)
	if err != nil {
		return a, err
	}
	s.byID[id] = confirmed
	return confirmed, nil
}

func (s *MemoryStore) SetAdmin(_ context.Context, id string, admin bool) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	a = a.WithAdmin(admin)
	s.byID[id] = a
	return a, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
