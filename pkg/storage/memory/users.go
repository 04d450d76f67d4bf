package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// UserStore is an in-memory auth.UserStore
type UserStore struct {
	mu      sync.RWMutex
	byID    map[string]*auth.User
	byEmail map[string]string
}

// NewUserStore creates an empty store
func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[string]*auth.User),
		byEmail: make(map[string]string),
	}
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *UserStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(user), nil
}

// Create rejects duplicate ids and emails
func (s *UserStore) Create(ctx context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := auth.NormalizeEmail(user.Email)
	if _, exists := s.byEmail[email]; exists {
		return fmt.Errorf("user with email %s: %w", auth.MaskEmail(email), auth.ErrAlreadyExists)
	}
	if _, exists := s.byID[user.ID]; exists {
		return fmt.Errorf("user %s: %w", user.ID, auth.ErrAlreadyExists)
	}

	stored := cloneUser(user)
	stored.Email = email
	s.byID[user.ID] = stored
	s.byEmail[email] = user.ID
	return nil
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return auth.ErrNotFound
	}
	user.PasswordHash = &hash
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *UserStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.byEmail, user.Email)
	delete(s.byID, userID)
	return nil
}

// Count returns the number of stored users
func (s *UserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func cloneUser(u *auth.User) *auth.User {
	clone := *u
	if u.PasswordHash != nil {
		hash := *u.PasswordHash
		clone.PasswordHash = &hash
	}
	return &clone
}
