package store

import (
	"context"
	"fmt"

	"example.com/twissandra/internal/models"
)

// GetUser returns the user record for username, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, username string) (models.User, error) {
	var password string
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		return s.Session.Query(
			`SELECT password FROM users WHERE username = ?`,
			username,
		).WithContext(ctx).Scan(&password)
	})
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return models.User{Username: username, Password: password}, nil
}

// SaveUser upserts the user record, overwriting any stored password.
func (s *Store) SaveUser(ctx context.Context, username, password string) error {
	if username == models.PublicOwnerKey {
		return fmt.Errorf("save user %q: %w", username, ErrReservedOwner)
	}
	if err := s.exec(ctx,
		`INSERT INTO users (username, password) VALUES (?, ?)`,
		username, password,
	); err != nil {
		logg.Error("store", "Failed to save user", err)
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}
