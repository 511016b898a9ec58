package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/mbenito/stemtune/pkg/feature"
	"github.com/mbenito/stemtune/pkg/mix"
	"github.com/mbenito/stemtune/pkg/model"
	"github.com/mbenito/stemtune/pkg/player"
	"github.com/mbenito/stemtune/pkg/separation"
	"github.com/mbenito/stemtune/pkg/storage"
)

var (
	// ErrNoUser reports that no user has been selected yet.
	ErrNoUser = errors.New("session: no user selected")
	// ErrNoUpload reports that the current file has not been uploaded for
	// separation.
	ErrNoUpload = errors.New("session: no uploaded file")
	// ErrNoFile reports that no file has been selected.
	ErrNoFile = errors.New("session: no file selected")
)

type Config struct {
	Store      *storage.Store
	Tracker    *separation.Tracker
	Controller *player.Controller
	// Extract overrides the feature extractor, for tests.
	Extract func(b []byte) (*feature.Vector, error)
	Debug   bool
}

// Session wires the feature extractor, preference model, separation tracker
// and live mix controller together for one user at a time. All state that
// the original kept in ambient UI globals lives here explicitly.
type Session struct {
	store      *storage.Store
	tracker    *separation.Tracker
	controller *player.Controller
	extract    func(b []byte) (*feature.Vector, error)
	debug      bool

	mu       sync.Mutex
	user     *storage.User
	model    *model.Model
	gains    mix.Gains
	input    []float64
	fileName string
	fileData []byte
	uploaded bool
}

func New(cfg *Config) *Session {
	extract := cfg.Extract
	if extract == nil {
		extract = feature.Extract
	}
	return &Session{
		store:      cfg.Store,
		tracker:    cfg.Tracker,
		controller: cfg.Controller,
		extract:    extract,
		debug:      cfg.Debug,
	}
}

func (s *Session) logf(format string, args ...interface{}) {
	if !s.debug {
		return
	}
	format += "\n"
	log.Printf(format, args...)
}

// SwitchUser tears down any playback and polling, then loads or creates the
// named user and their preference model. The previous user's model reference
// is discarded.
func (s *Session) SwitchUser(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("session: user name is empty")
	}
	s.controller.Stop()
	s.tracker.Stop()

	user, err := s.store.GetUserByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		user = &storage.User{ID: storage.NewID(), Name: name}
		if err := s.store.SetUser(ctx, user); err != nil {
			return err
		}
		s.logf("session: created user %q", name)
	} else if err != nil {
		return err
	}

	m := model.New(user.ID, s.store.Params())
	if err := m.Initialize(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.user = user
	s.model = m
	s.gains = mix.Default()
	s.input = nil
	s.fileName = ""
	s.fileData = nil
	s.uploaded = false
	s.mu.Unlock()
	return nil
}

// User returns the current user name, empty when none is selected.
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.Name
}

// ModelStats exposes the preference model's state.
func (s *Session) ModelStats() (model.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return model.Stats{}, ErrNoUser
	}
	return s.model.Stats(), nil
}

// Select registers a new source file: features are extracted and, when a
// model is available, predicted gains pre-seed the sliders. A file that
// cannot be decoded keeps the current gains and simply skips prediction.
func (s *Session) Select(ctx context.Context, filename string, b []byte) error {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return ErrNoUser
	}
	m := s.model
	s.mu.Unlock()

	var input []float64
	v, err := s.extract(b)
	if err != nil {
		if !errors.Is(err, feature.ErrDecode) {
			return err
		}
		log.Printf("session: couldn't extract features from %q, proceeding without prediction: %v\n", filename, err)
	} else {
		input = feature.ModelInput(v, feature.ClassifyGenre(v))
	}

	gains := mix.Default()
	var predicted bool
	if input != nil && m != nil {
		g, err := m.Predict(ctx, input)
		if err != nil {
			log.Printf("session: prediction failed, keeping default gains: %v\n", err)
		} else {
			gains = g
			predicted = true
		}
	}

	s.mu.Lock()
	s.fileName = filename
	s.fileData = b
	s.input = input
	s.uploaded = false
	if predicted {
		s.gains = gains
	}
	s.mu.Unlock()
	if predicted {
		s.logf("session: pre-seeded gains %s for %q", gains.Summary(), filename)
	}
	return nil
}

// Upload submits the selected file to the separation service. Progress is
// observable through Progress and the terminal state through TrackerDone.
func (s *Session) Upload(ctx context.Context) error {
	s.mu.Lock()
	name, data := s.fileName, s.fileData
	s.mu.Unlock()
	if data == nil {
		return ErrNoFile
	}
	if err := s.tracker.Start(ctx, name, data); err != nil {
		return err
	}
	s.mu.Lock()
	s.uploaded = true
	s.mu.Unlock()
	return nil
}

// Progress returns the separation job's monotonic progress fraction.
func (s *Session) Progress() float64 {
	return s.tracker.Progress()
}

// TrackerState returns the separation job's state.
func (s *Session) TrackerState() separation.State {
	return s.tracker.State()
}

// TrackerDone delivers the separation job's terminal result exactly once.
func (s *Session) TrackerDone() <-chan separation.Result {
	return s.tracker.Done()
}

// Gains returns the current slider values.
func (s *Session) Gains() mix.Gains {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gains
}

// SetGain applies one slider edit. While audio plays, the edit is forwarded
// to the live controller, which debounces and re-renders.
func (s *Session) SetGain(stem mix.Stem, db int) error {
	s.mu.Lock()
	g, err := s.gains.WithStem(stem, db)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.gains = g
	s.mu.Unlock()
	if s.controller.Playing() {
		s.controller.UpdateLive(g)
	}
	return nil
}

// SetGains replaces all slider values at once.
func (s *Session) SetGains(g mix.Gains) {
	g = g.Clamped()
	s.mu.Lock()
	s.gains = g
	s.mu.Unlock()
	if s.controller.Playing() {
		s.controller.UpdateLive(g)
	}
}

// Play starts playback of the current gains from position 0.
func (s *Session) Play(ctx context.Context) error {
	return s.controller.Play(ctx, s.Gains())
}

func (s *Session) Pause() error  { return s.controller.Pause() }
func (s *Session) Resume() error { return s.controller.Resume() }
func (s *Session) StopPlayback() { s.controller.Stop() }

// Playing reports whether audio is currently audible.
func (s *Session) Playing() bool { return s.controller.Playing() }

// Save persists the current mix. An existing song with the same title and
// gain summary for this user makes the call a no-op. On accept, captured
// features feed one online training step.
func (s *Session) Save(ctx context.Context, title, artist string) (*storage.SavedSong, error) {
	s.mu.Lock()
	user := s.user
	m := s.model
	gains := s.gains
	input := s.input
	uploaded := s.uploaded
	s.mu.Unlock()

	if user == nil {
		return nil, ErrNoUser
	}
	if !uploaded {
		return nil, ErrNoUpload
	}

	summary := gains.Summary()
	existing, err := s.store.FindSavedSong(ctx, user.ID, title, summary)
	if err == nil {
		log.Printf("session: %q / %q already saved for %q, skipping\n", title, summary, user.Name)
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	song := &storage.SavedSong{
		ID:     storage.NewID(),
		UserID: user.ID,
		Title:  title,
		Artist: artist,
	}
	song.SetGains(gains)
	if err := song.SetModelInput(input); err != nil {
		return nil, err
	}
	if err := s.store.SetSavedSong(ctx, song); err != nil {
		return nil, err
	}

	if input != nil {
		if err := m.Train(ctx, input, gains); err != nil {
			log.Printf("session: training after save failed: %v\n", err)
		}
	}
	return song, nil
}

// Delete removes a saved song. When other songs remain for the user, the
// model is batch-retrained over them so it stops preferring the removed mix;
// when none remain, the model is left as-is.
func (s *Session) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	user := s.user
	m := s.model
	s.mu.Unlock()
	if user == nil {
		return ErrNoUser
	}

	if err := s.store.DeleteSavedSong(ctx, id); err != nil {
		return err
	}
	songs, err := s.store.ListSavedSongs(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(songs) == 0 {
		s.logf("session: no songs left for %q, keeping model as-is", user.Name)
		return nil
	}
	examples := make([]model.Example, 0, len(songs))
	for _, song := range songs {
		input := song.ModelInput()
		if input == nil {
			continue
		}
		examples = append(examples, model.Example{Input: input, Gains: song.Gains()})
	}
	return m.BatchTrain(ctx, examples)
}

// Songs lists the current user's saved mixes.
func (s *Session) Songs(ctx context.Context) ([]*storage.SavedSong, error) {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	if user == nil {
		return nil, ErrNoUser
	}
	return s.store.ListSavedSongs(ctx, user.ID)
}

// Theme setting key.
const themeKey = "theme"

// Theme returns the stored UI theme flag, empty when unset.
func (s *Session) Theme(ctx context.Context) (string, error) {
	v, err := s.store.GetSetting(ctx, themeKey)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v.Value, nil
}

// SetTheme stores the UI theme flag.
func (s *Session) SetTheme(ctx context.Context, theme string) error {
	return s.store.SetSetting(ctx, &storage.Setting{ID: themeKey, Value: theme})
}

// Close stops playback, cancels polling and releases audio resources.
func (s *Session) Close() {
	s.controller.Close()
	s.tracker.Stop()
}
