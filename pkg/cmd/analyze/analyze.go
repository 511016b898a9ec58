package analyze

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mbenito/stemtune/pkg/feature"
)

type Config struct {
	Debug  bool
	Input  string
	Output string
	Plot   bool
}

// Run extracts audio features from the input files and prints them.
func Run(ctx context.Context, cfg *Config) error {
	log.Println("analyze: started")
	defer log.Println("analyze: ended")

	if cfg.Input == "" {
		return errors.New("analyze: input is required")
	}
	files, err := expand(cfg.Input)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("analyze: no files matched %s", cfg.Input)
	}
	if cfg.Plot {
		if cfg.Output == "" {
			return errors.New("analyze: output folder is required to plot")
		}
		if err := os.MkdirAll(cfg.Output, 0755); err != nil {
			return fmt.Errorf("analyze: couldn't create output folder: %w", err)
		}
	}

	for _, file := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := analyzeFile(cfg, file); err != nil {
			log.Printf("analyze: %v\n", err)
		}
	}
	return nil
}

func analyzeFile(cfg *Config, file string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("analyze: couldn't read %s: %w", file, err)
	}
	v, err := feature.Extract(b)
	if err != nil {
		return fmt.Errorf("analyze: couldn't extract %s: %w", file, err)
	}
	g := feature.ClassifyGenre(v)

	fmt.Printf("%s\n", file)
	fmt.Printf("  duration: %s\n", v.DurationSeconds())
	fmt.Printf("  rms: %.3f zcr: %.3f centroid: %.3f rolloff: %.3f flux: %.3f tempo: %.3f\n",
		v.RMS, v.ZeroCrossingRate, v.SpectralCentroid, v.SpectralRolloff, v.SpectralFlux, v.Tempo)
	var genres []string
	for i, name := range feature.GenreNames {
		if g[i] == 0 {
			continue
		}
		genres = append(genres, fmt.Sprintf("%s=%.1f", name, g[i]))
	}
	fmt.Printf("  genre: %s\n", strings.Join(genres, " "))

	if !cfg.Plot {
		return nil
	}
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	wave, err := feature.PlotWave(base, b)
	if err != nil {
		return fmt.Errorf("analyze: couldn't plot wave for %s: %w", file, err)
	}
	waveOut := filepath.Join(cfg.Output, base+"_wave.png")
	if err := os.WriteFile(waveOut, wave, 0644); err != nil {
		return fmt.Errorf("analyze: couldn't write %s: %w", waveOut, err)
	}
	rms, err := feature.PlotRMS(base, b)
	if err != nil {
		return fmt.Errorf("analyze: couldn't plot rms for %s: %w", file, err)
	}
	rmsOut := filepath.Join(cfg.Output, base+"_rms.png")
	if err := os.WriteFile(rmsOut, rms, 0644); err != nil {
		return fmt.Errorf("analyze: couldn't write %s: %w", rmsOut, err)
	}
	return nil
}

func expand(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err == nil && info.IsDir() {
		input = filepath.Join(input, "*.mp3")
	}
	files, err := filepath.Glob(input)
	if err != nil {
		return nil, fmt.Errorf("analyze: invalid pattern %s: %w", input, err)
	}
	return files, nil
}
