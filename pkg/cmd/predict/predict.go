package predict

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/mbenito/stemtune/pkg/feature"
	"github.com/mbenito/stemtune/pkg/model"
	"github.com/mbenito/stemtune/pkg/storage"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string

	User  string
	Input string
}

// Run predicts stem gains for a track using the user's trained model.
func Run(ctx context.Context, cfg *Config) error {
	if cfg.User == "" {
		return errors.New("predict: user is required")
	}
	if cfg.Input == "" {
		return errors.New("predict: input is required")
	}

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("predict: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("predict: couldn't start orm store: %w", err)
	}

	user, err := store.GetUserByName(ctx, cfg.User)
	if err != nil {
		return fmt.Errorf("predict: couldn't get user %s: %w", cfg.User, err)
	}

	b, err := os.ReadFile(cfg.Input)
	if err != nil {
		return fmt.Errorf("predict: couldn't read %s: %w", cfg.Input, err)
	}
	v, err := feature.Extract(b)
	if err != nil {
		return fmt.Errorf("predict: couldn't extract features: %w", err)
	}
	input := feature.ModelInput(v, feature.ClassifyGenre(v))

	m := model.New(user.ID, store.Params())
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("predict: couldn't initialize model: %w", err)
	}
	stats := m.Stats()
	if !stats.Persisted {
		log.Printf("predict: no trained model for %s, using defaults\n", cfg.User)
	}
	gains, err := m.Predict(ctx, input)
	if err != nil {
		return fmt.Errorf("predict: couldn't predict: %w", err)
	}
	fmt.Println(gains.Summary())
	return nil
}
