package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/mbenito/stemtune/pkg/storage"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string

	User   string
	Output string
}

type row struct {
	ID      string `csv:"id"`
	User    string `csv:"user"`
	Title   string `csv:"title"`
	Artist  string `csv:"artist"`
	Summary string `csv:"summary"`
	Vocals  int    `csv:"vocals"`
	Drums   int    `csv:"drums"`
	Bass    int    `csv:"bass"`
	Other   int    `csv:"other"`
}

// Run exports saved remixes to a CSV file.
func Run(ctx context.Context, cfg *Config) error {
	if cfg.Output == "" {
		return errors.New("export: output is required")
	}

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("export: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("export: couldn't start orm store: %w", err)
	}

	var users []*storage.User
	if cfg.User != "" {
		user, err := store.GetUserByName(ctx, cfg.User)
		if err != nil {
			return fmt.Errorf("export: couldn't get user %s: %w", cfg.User, err)
		}
		users = append(users, user)
	} else {
		users, err = store.ListUsers(ctx)
		if err != nil {
			return fmt.Errorf("export: couldn't list users: %w", err)
		}
	}

	var rows []*row
	for _, user := range users {
		songs, err := store.ListSavedSongs(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("export: couldn't list songs for %s: %w", user.Name, err)
		}
		for _, song := range songs {
			g := song.Gains()
			rows = append(rows, &row{
				ID:      song.ID,
				User:    user.Name,
				Title:   song.Title,
				Artist:  song.Artist,
				Summary: song.Summary,
				Vocals:  g.Vocals,
				Drums:   g.Drums,
				Bass:    g.Bass,
				Other:   g.Other,
			})
		}
	}

	b, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return fmt.Errorf("export: couldn't marshal csv: %w", err)
	}
	if err := os.WriteFile(cfg.Output, b, 0644); err != nil {
		return fmt.Errorf("export: couldn't write %s: %w", cfg.Output, err)
	}
	log.Printf("export: wrote %d remixes to %s\n", len(rows), cfg.Output)
	return nil
}
