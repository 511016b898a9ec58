package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// User is one known identity. A preference model and a song list belong to
// exactly one user.
type User struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name string `gorm:"uniqueIndex;not null"`
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var v User
	if err := s.db.First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get user %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) GetUserByName(ctx context.Context, name string) (*User, error) {
	var v User
	if err := s.db.First(&v, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get user %q: %w", name, err)
	}
	return &v, nil
}

func (s *Store) SetUser(ctx context.Context, v *User) error {
	if err := s.db.Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set user %s: %w", v.ID, err)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if err := s.db.Delete(&User{ID: id}, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("storage: failed to delete user %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	vs := []*User{}
	if err := s.db.Order("name").Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list users: %w", err)
	}
	return vs, nil
}
