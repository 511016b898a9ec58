package setting

import (
	"context"
	"fmt"

	"github.com/mbenito/stemtune/pkg/storage"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string

	Key   string
	Value string
}

func Run(ctx context.Context, cfg *Config) error {
	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("setting: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("setting: couldn't start orm store: %w", err)
	}

	if cfg.Key == "" {
		return fmt.Errorf("setting: key is empty")
	}

	switch cfg.Key {
	case "theme", "separation-host", "mixer-host":
	default:
		return fmt.Errorf("setting: unknown key: %s", cfg.Key)
	}

	if cfg.Value == "" {
		s, err := store.GetSetting(ctx, cfg.Key)
		if err != nil {
			return fmt.Errorf("setting: couldn't get value: %w", err)
		}
		fmt.Printf("%s=%s\n", s.ID, s.Value)
		return nil
	}

	s := storage.Setting{
		ID:    cfg.Key,
		Value: cfg.Value,
	}
	if err := store.SetSetting(ctx, &s); err != nil {
		return fmt.Errorf("setting: couldn't save value: %w", err)
	}
	return nil
}
