package stemtune

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/mbenito/stemtune/pkg/mix"
	"github.com/mbenito/stemtune/pkg/mixer"
	"github.com/mbenito/stemtune/pkg/separation"
)

type Config struct {
	SeparationHost string
	MixerHost      string
	Proxy          string
	Debug          bool
}

// Remix separates the given track, renders a mix with the given gains and
// returns the location of the rendered stream. It is a convenience wrapper
// for quick one-off mixes without a database or a player.
func Remix(ctx context.Context, cfg *Config, input string, gains mix.Gains) (string, error) {
	httpClient := &http.Client{
		Timeout: 2 * time.Minute,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return "", fmt.Errorf("invalid proxy URL: %w", err)
		}
		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyURL(u),
		}
	}

	b, err := os.ReadFile(input)
	if err != nil {
		return "", fmt.Errorf("couldn't read %s: %w", input, err)
	}

	tracker := separation.NewTracker(separation.New(&separation.Config{
		Host:   cfg.SeparationHost,
		Client: httpClient,
		Debug:  cfg.Debug,
	}), separation.DefaultInterval)
	if err := tracker.Start(ctx, input, b); err != nil {
		return "", fmt.Errorf("couldn't start separation: %w", err)
	}
	defer tracker.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-tracker.Done():
		if res.State != separation.Completed {
			return "", fmt.Errorf("separation failed: %w", res.Err)
		}
	}

	renderer := mixer.New(&mixer.Config{
		Host:   cfg.MixerHost,
		Client: httpClient,
		Debug:  cfg.Debug,
	})
	path, err := renderer.Render(ctx, gains)
	if err != nil {
		return "", fmt.Errorf("couldn't render mix: %w", err)
	}
	return path, nil
}
