package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ModelParams holds one user's serialized preference model parameters.
type ModelParams struct {
	UserID    string `gorm:"primarykey"`
	UpdatedAt time.Time
	Params    string
}

func (s *Store) GetModelParams(ctx context.Context, userID string) (*ModelParams, error) {
	var v ModelParams
	if err := s.db.First(&v, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get model params for %s: %w", userID, err)
	}
	return &v, nil
}

func (s *Store) SetModelParams(ctx context.Context, v *ModelParams) error {
	if err := s.db.Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set model params for %s: %w", v.UserID, err)
	}
	return nil
}

func (s *Store) DeleteModelParams(ctx context.Context, userID string) error {
	if err := s.db.Delete(&ModelParams{UserID: userID}, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("storage: failed to delete model params for %s: %w", userID, err)
	}
	return nil
}

// ParamsStore adapts the store to the preference model's persistence
// contract: Load returns (nil, nil) when no parameters exist.
type ParamsStore struct {
	store *Store
}

func (s *Store) Params() *ParamsStore {
	return &ParamsStore{store: s}
}

func (p *ParamsStore) LoadParams(ctx context.Context, userID string) ([]byte, error) {
	v, err := p.store.GetModelParams(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(v.Params), nil
}

func (p *ParamsStore) SaveParams(ctx context.Context, userID string, params []byte) error {
	return p.store.SetModelParams(ctx, &ModelParams{
		UserID: userID,
		Params: string(params),
	})
}
