package remix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mbenito/stemtune/pkg/filestore"
	"github.com/mbenito/stemtune/pkg/mix"
	"github.com/mbenito/stemtune/pkg/mixer"
	"github.com/mbenito/stemtune/pkg/player"
	"github.com/mbenito/stemtune/pkg/separation"
	"github.com/mbenito/stemtune/pkg/session"
	"github.com/mbenito/stemtune/pkg/storage"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string
	FSType string
	FSConn string

	SeparationHost string
	MixerHost      string
	FFPlayBin      string
	Timeout        time.Duration

	User   string
	Input  string
	Gains  string
	Title  string
	Artist string
	Save   bool
	Play   bool
	Output string
}

// Run launches a one-shot remix: separate, predict, render and optionally
// play or save the result.
func Run(ctx context.Context, cfg *Config) error {
	log.Println("remix: started")
	defer log.Println("remix: ended")

	if cfg.User == "" {
		return errors.New("remix: user is required")
	}
	if cfg.Input == "" {
		return errors.New("remix: input is required")
	}
	if cfg.SeparationHost == "" {
		return errors.New("remix: separation host is required")
	}
	if cfg.MixerHost == "" {
		return errors.New("remix: mixer host is required")
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("remix: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("remix: couldn't start orm store: %w", err)
	}

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	tracker := separation.NewTracker(separation.New(&separation.Config{
		Host:   cfg.SeparationHost,
		Client: httpClient,
		Debug:  cfg.Debug,
	}), separation.DefaultInterval)
	renderer := mixer.New(&mixer.Config{
		Host:   cfg.MixerHost,
		Client: httpClient,
		Debug:  cfg.Debug,
	})
	controller := player.NewController(&player.Config{
		Device:   player.NewFFPlay(cfg.FFPlayBin),
		Renderer: renderer,
		Debug:    cfg.Debug,
	})

	s := session.New(&session.Config{
		Store:      store,
		Tracker:    tracker,
		Controller: controller,
		Debug:      cfg.Debug,
	})
	defer s.Close()

	if err := s.SwitchUser(ctx, cfg.User); err != nil {
		return fmt.Errorf("remix: couldn't switch user: %w", err)
	}

	fs, err := filestore.New(cfg.FSType, cfg.FSConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("remix: couldn't create file storage: %w", err)
	}
	runID := storage.NewID()

	b, err := os.ReadFile(cfg.Input)
	if err != nil {
		return fmt.Errorf("remix: couldn't read %s: %w", cfg.Input, err)
	}
	if err := s.Select(ctx, cfg.Input, b); err != nil {
		return fmt.Errorf("remix: couldn't select track: %w", err)
	}
	if err := fs.SetOriginal(ctx, cfg.Input, runID); err != nil {
		return fmt.Errorf("remix: couldn't archive original: %w", err)
	}
	if err := s.Upload(ctx); err != nil {
		return fmt.Errorf("remix: couldn't upload track: %w", err)
	}
	log.Println("remix: separating stems")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-s.TrackerDone():
		if res.State != separation.Completed {
			return fmt.Errorf("remix: separation failed: %w", res.Err)
		}
	}

	if cfg.Gains != "" {
		g, err := mix.Parse(cfg.Gains)
		if err != nil {
			return fmt.Errorf("remix: %w", err)
		}
		s.SetGains(g)
	}
	log.Printf("remix: gains %s\n", s.Gains().Summary())

	if cfg.Output != "" {
		path, err := renderer.Render(ctx, s.Gains())
		if err != nil {
			return fmt.Errorf("remix: couldn't render mix: %w", err)
		}
		if err := copyOutput(ctx, fs, runID, cfg.Output, path); err != nil {
			return err
		}
		log.Printf("remix: wrote %s\n", cfg.Output)
	}

	if cfg.Save {
		title := cfg.Title
		if title == "" {
			title = cfg.Input
		}
		song, err := s.Save(ctx, title, cfg.Artist)
		if err != nil {
			return fmt.Errorf("remix: couldn't save: %w", err)
		}
		log.Printf("remix: saved %s (%s)\n", song.Title, song.ID)
	}

	if cfg.Play {
		if err := s.Play(ctx); err != nil {
			return fmt.Errorf("remix: couldn't play: %w", err)
		}
		<-ctx.Done()
		s.StopPlayback()
	}
	return nil
}

func copyOutput(ctx context.Context, fs *filestore.Store, id, output, path string) error {
	// Remote mixers return URLs, local ones filesystem paths.
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		local, err := download(ctx, path)
		if err != nil {
			return fmt.Errorf("remix: couldn't download mix: %w", err)
		}
		defer os.Remove(local)
		path = local
	}
	if err := fs.SetMix(ctx, path, id); err != nil {
		return fmt.Errorf("remix: couldn't store mix: %w", err)
	}
	if err := fs.GetMix(ctx, output, id); err != nil {
		return fmt.Errorf("remix: couldn't copy mix to %s: %w", output, err)
	}
	return nil
}

func download(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status code %d", resp.StatusCode)
	}
	f, err := os.CreateTemp("", "stemtune-mix-*.wav")
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", err
	}
	return f.Name(), nil
}
