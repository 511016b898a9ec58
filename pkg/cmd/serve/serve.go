package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mbenito/stemtune/pkg/feature"
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

	SeparationHost string
	MixerHost      string
	FFPlayBin      string

	Addr        string
	Credentials map[string]string
}

const maxUploadSize = 64 << 20

// Serve starts the remix API service.
func Serve(ctx context.Context, cfg *Config) error {
	log.Println("serve: server started")
	defer log.Println("serve: server ended")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("serve: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("serve: couldn't start orm store: %w", err)
	}

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	tracker := separation.NewTracker(separation.New(&separation.Config{
		Host:   cfg.SeparationHost,
		Client: httpClient,
		Debug:  cfg.Debug,
	}), separation.DefaultInterval)
	controller := player.NewController(&player.Config{
		Device: player.NewFFPlay(cfg.FFPlayBin),
		Renderer: mixer.New(&mixer.Config{
			Host:   cfg.MixerHost,
			Client: httpClient,
			Debug:  cfg.Debug,
		}),
		Debug: cfg.Debug,
	})
	s := session.New(&session.Config{
		Store:      store,
		Tracker:    tracker,
		Controller: controller,
		Debug:      cfg.Debug,
	})
	defer s.Close()

	// Create router
	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.Timeout(60 * time.Second))
	if len(cfg.Credentials) > 0 {
		mux.Use(middleware.BasicAuth("private", cfg.Credentials))
	}
	r := mux.Group(func(r chi.Router) {
		if cfg.Debug {
			r.Use(middleware.Logger)
		}
	})

	r.Post("/api/user", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil || in.Name == "" {
			httpError(w, http.StatusBadRequest, errors.New("name is required"))
			return
		}
		if err := s.SwitchUser(req.Context(), in.Name); err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		writeState(w, s)
	})

	r.Get("/api/state", func(w http.ResponseWriter, req *http.Request) {
		writeState(w, s)
	})

	r.Post("/api/select", func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		file, header, err := req.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		defer func() { _ = file.Close() }()
		b, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		if err := s.Select(req.Context(), header.Filename, b); err != nil {
			httpStatus(w, err)
			return
		}
		writeState(w, s)
	})

	r.Post("/api/upload", func(w http.ResponseWriter, req *http.Request) {
		if err := s.Upload(ctx); err != nil {
			httpStatus(w, err)
			return
		}
		writeState(w, s)
	})

	r.Get("/api/progress", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"state":    s.TrackerState().String(),
			"progress": s.Progress(),
		})
	})

	r.Get("/api/gains", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, s.Gains())
	})

	r.Post("/api/gains", func(w http.ResponseWriter, req *http.Request) {
		var g mix.Gains
		if err := json.NewDecoder(req.Body).Decode(&g); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		s.SetGains(g)
		writeJSON(w, s.Gains())
	})

	r.Post("/api/gains/{stem}", func(w http.ResponseWriter, req *http.Request) {
		stem := mix.Stem(chi.URLParam(req, "stem"))
		var in struct {
			DB int `json:"db"`
		}
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.SetGain(stem, in.DB); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, s.Gains())
	})

	r.Post("/api/play", func(w http.ResponseWriter, req *http.Request) {
		if err := s.Play(ctx); err != nil {
			httpStatus(w, err)
			return
		}
		writeState(w, s)
	})
	r.Post("/api/pause", func(w http.ResponseWriter, req *http.Request) {
		if err := s.Pause(); err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		writeState(w, s)
	})
	r.Post("/api/resume", func(w http.ResponseWriter, req *http.Request) {
		if err := s.Resume(); err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		writeState(w, s)
	})
	r.Post("/api/stop", func(w http.ResponseWriter, req *http.Request) {
		s.StopPlayback()
		writeState(w, s)
	})

	r.Post("/api/save", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Title  string `json:"title"`
			Artist string `json:"artist"`
		}
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil || in.Title == "" {
			httpError(w, http.StatusBadRequest, errors.New("title is required"))
			return
		}
		song, err := s.Save(req.Context(), in.Title, in.Artist)
		if err != nil {
			httpStatus(w, err)
			return
		}
		writeJSON(w, song)
	})

	r.Get("/api/songs", func(w http.ResponseWriter, req *http.Request) {
		songs, err := s.Songs(req.Context())
		if err != nil {
			httpStatus(w, err)
			return
		}
		writeJSON(w, songs)
	})

	r.Delete("/api/songs/{id}", func(w http.ResponseWriter, req *http.Request) {
		if err := s.Delete(req.Context(), chi.URLParam(req, "id")); err != nil {
			httpStatus(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/api/theme", func(w http.ResponseWriter, req *http.Request) {
		theme, err := s.Theme(req.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]string{"theme": theme})
	})
	r.Put("/api/theme", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Theme string `json:"theme"`
		}
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.SetTheme(req.Context(), in.Theme); err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]string{"theme": in.Theme})
	})

	// Create server
	split := strings.Split(cfg.Addr, ":")
	if len(split) != 2 {
		return fmt.Errorf("serve: invalid address: %s", cfg.Addr)
	}
	host := split[0]
	port, err := strconv.Atoi(split[1])
	if err != nil {
		return fmt.Errorf("serve: invalid port: %s", split[1])
	}
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	go func() {
		note := fmt.Sprintf("http://%s:%d", host, port)
		if host == "" {
			note = fmt.Sprintf("all interfaces http://localhost:%d", port)
		}
		log.Printf("Starting server on %s", note)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v\n", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

type state struct {
	User     string    `json:"user"`
	Gains    mix.Gains `json:"gains"`
	Playing  bool      `json:"playing"`
	State    string    `json:"state"`
	Progress float64   `json:"progress"`
}

func writeState(w http.ResponseWriter, s *session.Session) {
	writeJSON(w, state{
		User:     s.User(),
		Gains:    s.Gains(),
		Playing:  s.Playing(),
		State:    s.TrackerState().String(),
		Progress: s.Progress(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("serve: couldn't encode response: %v\n", err)
	}
}

func httpError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// httpStatus maps session errors to status codes.
func httpStatus(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNoUser),
		errors.Is(err, session.ErrNoUpload),
		errors.Is(err, session.ErrNoFile),
		errors.Is(err, feature.ErrDecode):
		code = http.StatusBadRequest
	}
	httpError(w, code, err)
}
