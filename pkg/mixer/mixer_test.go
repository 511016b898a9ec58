package mixer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mbenito/stemtune/pkg/mix"
)

func TestRender(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mix" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form = map[string]string{
			"vocals_gain": r.PostFormValue("vocals_gain"),
			"drums_gain":  r.PostFormValue("drums_gain"),
			"bass_gain":   r.PostFormValue("bass_gain"),
			"other_gain":  r.PostFormValue("other_gain"),
		}
		_, _ = w.Write([]byte(`{"path": "/mixed_outputs/final_mix_1a2b3c4d.wav"}`))
	}))
	defer srv.Close()

	client := New(&Config{Host: srv.URL, Client: srv.Client()})
	got, err := client.Render(context.Background(), mix.Gains{Vocals: 6, Bass: -3})
	if err != nil {
		t.Fatalf("Render() err = %v", err)
	}
	want := srv.URL + "/mixed_outputs/final_mix_1a2b3c4d.wav"
	if got != want {
		t.Errorf("Render() = %q; want %q", got, want)
	}
	wantForm := map[string]string{
		"vocals_gain": "6",
		"drums_gain":  "0",
		"bass_gain":   "-3",
		"other_gain":  "0",
	}
	for k, v := range wantForm {
		if form[k] != v {
			t.Errorf("form[%q] = %q; want %q", k, form[k], v)
		}
	}
}

func TestRenderErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "stem not found: vocals", http.StatusNotFound)
		}},
		{"no path", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			client := New(&Config{Host: srv.URL, Client: srv.Client()})
			_, err := client.Render(context.Background(), mix.Default())
			if !errors.Is(err, ErrRender) {
				t.Fatalf("Render() err = %v; want ErrRender", err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	client := New(&Config{Host: "http://localhost:8000/"})
	tests := []struct {
		in   string
		want string
	}{
		{"/mixed_outputs/a.wav", "http://localhost:8000/mixed_outputs/a.wav"},
		{"mixed_outputs/a.wav", "http://localhost:8000/mixed_outputs/a.wav"},
		{"http://cdn.example.com/a.wav", "http://cdn.example.com/a.wav"},
	}
	for _, tt := range tests {
		if got := client.resolve(tt.in); got != tt.want {
			t.Errorf("resolve(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
