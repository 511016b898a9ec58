package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mbenito/stemtune/pkg/mix"
)

// SavedSong is a persisted mix: title, per-stem gains and, when feature
// extraction succeeded, the model input vector captured at save time.
type SavedSong struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	UserID  string `gorm:"index;not null"`
	Title   string `gorm:"not null;default:''"`
	Artist  string `gorm:"not null;default:''"`
	Summary string `gorm:"not null;default:''"`

	Vocals int `gorm:"not null;default:0"`
	Drums  int `gorm:"not null;default:0"`
	Bass   int `gorm:"not null;default:0"`
	Other  int `gorm:"not null;default:0"`

	// Features is a JSON-encoded model input vector, empty when extraction
	// failed for the source file.
	Features string `gorm:"not null;default:''"`
}

// Gains returns the stored per-stem gains.
func (v *SavedSong) Gains() mix.Gains {
	return mix.Gains{
		Vocals: v.Vocals,
		Drums:  v.Drums,
		Bass:   v.Bass,
		Other:  v.Other,
	}
}

// SetGains stores the per-stem gains and their summary.
func (v *SavedSong) SetGains(g mix.Gains) {
	v.Vocals = g.Vocals
	v.Drums = g.Drums
	v.Bass = g.Bass
	v.Other = g.Other
	v.Summary = g.Summary()
}

// ModelInput decodes the stored feature vector, nil when absent.
func (v *SavedSong) ModelInput() []float64 {
	if v.Features == "" {
		return nil
	}
	var input []float64
	if err := json.Unmarshal([]byte(v.Features), &input); err != nil {
		return nil
	}
	return input
}

// SetModelInput stores the feature vector, nil clears it.
func (v *SavedSong) SetModelInput(input []float64) error {
	if input == nil {
		v.Features = ""
		return nil
	}
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("storage: failed to marshal features: %w", err)
	}
	v.Features = string(b)
	return nil
}

func (s *Store) GetSavedSong(ctx context.Context, id string) (*SavedSong, error) {
	var v SavedSong
	if err := s.db.First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get saved song %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) SetSavedSong(ctx context.Context, v *SavedSong) error {
	if err := s.db.Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set saved song %s: %w", v.ID, err)
	}
	return nil
}

func (s *Store) DeleteSavedSong(ctx context.Context, id string) error {
	if err := s.db.Delete(&SavedSong{ID: id}, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("storage: failed to delete saved song %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListSavedSongs(ctx context.Context, userID string, filter ...Filter) ([]*SavedSong, error) {
	vs := []*SavedSong{}
	q := s.db.Where("user_id = ?", userID)
	for _, f := range filter {
		q = q.Where(f.Query, f.Args...)
	}
	if err := q.Order("created_at").Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list saved songs: %w", err)
	}
	return vs, nil
}

// FindSavedSong looks up a song by the duplicate key (user, title, summary).
func (s *Store) FindSavedSong(ctx context.Context, userID, title, summary string) (*SavedSong, error) {
	var v SavedSong
	err := s.db.First(&v, "user_id = ? AND title = ? AND summary = ?", userID, title, summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to find saved song: %w", err)
	}
	return &v, nil
}
