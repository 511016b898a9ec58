package player

import (
	"context"
	"errors"
	"time"
)

// ErrPlayback reports that the audio device rejected playback.
var ErrPlayback = errors.New("player: device rejected playback")

// Device is the audio output collaborator: it loads a stream reference and
// hands back a controllable stream.
type Device interface {
	Load(ctx context.Context, src string) (Stream, error)
}

// Stream is one loaded audio stream. Implementations report readiness and
// end-of-stream through channels that close at most once.
type Stream interface {
	Play() error
	Pause() error
	Resume() error
	Stop() error
	Seek(pos time.Duration) error
	Position() time.Duration
	Duration() time.Duration
	SetVolume(v float64) error

	// Ready is closed once enough data is buffered to start playback.
	Ready() <-chan struct{}
	// Done is closed at the natural end of the stream.
	Done() <-chan struct{}
	Close() error
}
