package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"signalo.org/internal/ids"
)

// InMemory implements UserStore for tests and the smoke binary.
type InMemory struct {
	mu    sync.Mutex
	users map[string]*User
}

// NewInMemory creates an empty in-memory user store.
func NewInMemory() *InMemory {
	return &InMemory{users: make(map[string]*User)}
}

var _ UserStore = (*InMemory)(nil)

func (s *InMemory) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.TrimSpace(strings.ToLower(u.Email))
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	for _, existing := range s.users {
		if existing.Email == email && existing.Kept() {
			return fmt.Errorf("%w: email already taken", ErrInvalidInput)
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = email
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || !u.Kept() {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.TrimSpace(strings.ToLower(email))
	for _, u := range s.users {
		if u.Email == email && u.Kept() {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) ListByOrganization(ctx context.Context, orgID string) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*User
	for _, u := range s.users {
		if u.OrganizationID == orgID && u.Kept() {
			res = append(res, cloneUser(u))
		}
	}
	return res, nil
}

func (s *InMemory) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || !u.Kept() {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneUser(u *User) *User {
	cp := *u
	cp.OfficeIDs = append([]string(nil), u.OfficeIDs...)
	if u.DiscardedAt != nil {
		t := *u.DiscardedAt
		cp.DiscardedAt = &t
	}
	return &cp
}
