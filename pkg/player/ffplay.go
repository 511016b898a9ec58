package player

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// PCM frame layout shared with ffplay: 16-bit little endian stereo.
const (
	bytesPerFrame = 4
	writeChunk    = 4096 * bytesPerFrame
)

// FFPlay plays streams by decoding mp3 to raw PCM and piping it into an
// ffplay process. Volume is applied in the pump, so it can change while the
// process is running.
type FFPlay struct {
	bin    string
	client *http.Client
}

func NewFFPlay(bin string) *FFPlay {
	if bin == "" {
		bin = "ffplay"
	}
	return &FFPlay{
		bin: bin,
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Load fetches and decodes the source. The returned stream is ready as soon
// as decoding finishes, before any process is started.
func (f *FFPlay) Load(ctx context.Context, src string) (Stream, error) {
	b, err := f.fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	decoder, err := mp3.NewDecoder(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("player: couldn't decode %q: %w", src, err)
	}
	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("player: couldn't read samples from %q: %w", src, err)
	}
	s := &pcmStream{
		bin:    f.bin,
		rate:   decoder.SampleRate(),
		pcm:    pcm,
		volume: 1,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	close(s.ready)
	return s, nil
}

func (f *FFPlay) fetch(ctx context.Context, src string) ([]byte, error) {
	if !strings.HasPrefix(src, "http") {
		b, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("player: couldn't open %q: %w", src, err)
		}
		return b, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("player: couldn't create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("player: couldn't download %q: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("player: %q returned %d", src, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("player: couldn't read %q: %w", src, err)
	}
	return b, nil
}

// pcmStream pumps decoded PCM into one ffplay process.
type pcmStream struct {
	bin  string
	rate int
	pcm  []byte

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	offset  int
	volume  float64
	paused  bool
	stopped bool
	err     error

	ready    chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func (s *pcmStream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("player: stream already stopped")
	}
	if s.cmd != nil {
		return nil
	}
	cmd := exec.Command(s.bin,
		"-nodisp", "-autoexit", "-loglevel", "quiet",
		"-f", "s16le", "-ar", strconv.Itoa(s.rate), "-ch_layout", "stereo",
		"-i", "-")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("player: couldn't open ffplay stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("player: couldn't start ffplay: %w", err)
	}
	s.cmd = cmd
	s.stdin = stdin
	go s.pump()
	return nil
}

// pump writes volume-scaled PCM chunks to the process until the stream ends
// or is stopped.
func (s *pcmStream) pump() {
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if s.paused {
			s.mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			continue
		}
		off := s.offset
		vol := s.volume
		end := off + writeChunk
		if end > len(s.pcm) {
			end = len(s.pcm)
		}
		s.offset = end
		stdin := s.stdin
		s.mu.Unlock()

		if off >= len(s.pcm) {
			_ = stdin.Close()
			if cmd := s.command(); cmd != nil {
				_ = cmd.Wait()
			}
			s.doneOnce.Do(func() { close(s.done) })
			return
		}
		if _, err := stdin.Write(scale(s.pcm[off:end], vol)); err != nil {
			s.mu.Lock()
			if !s.stopped {
				s.err = fmt.Errorf("player: couldn't write to ffplay: %w", err)
			}
			s.mu.Unlock()
			s.doneOnce.Do(func() { close(s.done) })
			return
		}
	}
}

func (s *pcmStream) command() *exec.Cmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd
}

// scale applies a linear volume factor to 16-bit little endian samples.
func scale(pcm []byte, volume float64) []byte {
	if volume >= 1 {
		return pcm
	}
	out := make([]byte, len(pcm))
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		scaled := int16(float64(sample) * volume)
		out[i] = byte(scaled)
		out[i+1] = byte(scaled >> 8)
	}
	return out
}

func (s *pcmStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	return nil
}

func (s *pcmStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	return nil
}

func (s *pcmStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.offset = 0
	cmd := s.cmd
	stdin := s.stdin
	s.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

func (s *pcmStream) Seek(pos time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := int(pos.Seconds() * float64(s.rate))
	off *= bytesPerFrame
	if off > len(s.pcm) {
		off = len(s.pcm)
	}
	if off < 0 {
		off = 0
	}
	s.offset = off
	return nil
}

func (s *pcmStream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.offset / bytesPerFrame
	return time.Duration(float64(frames) / float64(s.rate) * float64(time.Second))
}

func (s *pcmStream) Duration() time.Duration {
	frames := len(s.pcm) / bytesPerFrame
	return time.Duration(float64(frames) / float64(s.rate) * float64(time.Second))
}

func (s *pcmStream) SetVolume(v float64) error {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
	return nil
}

func (s *pcmStream) Ready() <-chan struct{} {
	return s.ready
}

func (s *pcmStream) Done() <-chan struct{} {
	return s.done
}

func (s *pcmStream) Close() error {
	return s.Stop()
}
