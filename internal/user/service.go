package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Profile carries the verified claims the identity provider hands us.
type Profile struct {
	UID     string
	Email   string
	Name    string
	Picture string
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Provision returns the local user for p.UID, creating it on first sight.
func (s *Service) Provision(ctx context.Context, p Profile) (*User, error) {
	uid := strings.TrimSpace(p.UID)
	if uid == "" {
		return nil, errors.New("user: subject is required")
	}

	u, err := s.repo.GetByID(ctx, uid)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("user: lookup %s: %w", uid, err)
	}

	first, last := SplitName(p.Name, p.Email)
	u, err = s.repo.CreateIfAbsent(ctx, &User{
		ID:        uid,
		Email:     strings.TrimSpace(p.Email),
		FirstName: first,
		LastName:  last,
		Avatar:    strings.TrimSpace(p.Picture),
		Role:      RoleCustomer,
	})
	if err != nil {
		return nil, fmt.Errorf("user: provision %s: %w", uid, err)
	}
	return u, nil
}

// Get returns the stored user.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// SplitName splits a display name into first and remaining names. Without a
// name, the local part of the email becomes the first name.
func SplitName(displayName, email string) (string, string) {
	fields := strings.Fields(displayName)
	if len(fields) > 0 {
		return fields[0], strings.Join(fields[1:], " ")
	}
	if local, _, ok := strings.Cut(strings.TrimSpace(email), "@"); ok || local != "" {
		return local, ""
	}
	return "", ""
}
