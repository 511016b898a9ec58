package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbenito/stemtune/pkg/mix"
)

type fakeStream struct {
	mu      sync.Mutex
	src     string
	playing bool
	paused  bool
	stopped bool
	pos     time.Duration
	dur     time.Duration
	volume  float64
	playErr error
	ready   chan struct{}
	done    chan struct{}
}

func (s *fakeStream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playErr != nil {
		return s.playErr
	}
	s.playing = true
	return nil
}

func (s *fakeStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	return nil
}

func (s *fakeStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.playing = false
	s.pos = 0
	return nil
}

func (s *fakeStream) Seek(pos time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = pos
	return nil
}

func (s *fakeStream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *fakeStream) Duration() time.Duration {
	return s.dur
}

func (s *fakeStream) SetVolume(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
	return nil
}

func (s *fakeStream) Ready() <-chan struct{} { return s.ready }
func (s *fakeStream) Done() <-chan struct{} { return s.done }
func (s *fakeStream) Close() error          { return nil }

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeDevice struct {
	mu      sync.Mutex
	streams []*fakeStream
	loadErr error
	dur     time.Duration
}

func (d *fakeDevice) Load(_ context.Context, src string) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loadErr != nil {
		return nil, d.loadErr
	}
	ready := make(chan struct{})
	close(ready)
	s := &fakeStream{
		src:    src,
		dur:    d.dur,
		volume: 1,
		ready:  ready,
		done:   make(chan struct{}),
	}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func (d *fakeDevice) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls []mix.Gains
	err   error
	delay time.Duration
}

func (r *fakeRenderer) Render(ctx context.Context, g mix.Gains) (string, error) {
	r.mu.Lock()
	delay, err := r.delay, r.err
	r.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.calls = append(r.calls, g)
	r.mu.Unlock()
	return "render://" + g.Summary(), nil
}

func (r *fakeRenderer) rendered() []mix.Gains {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]mix.Gains, len(r.calls))
	copy(out, r.calls)
	return out
}

func newTestController(device *fakeDevice, renderer *fakeRenderer) *Controller {
	return NewController(&Config{
		Device:   device,
		Renderer: renderer,
		Debounce: 40 * time.Millisecond,
		Grace:    200 * time.Millisecond,
		Fade:     20 * time.Millisecond,
		Steps:    4,
	})
}

func TestPlay(t *testing.T) {
	device := &fakeDevice{dur: 3 * time.Minute}
	renderer := &fakeRenderer{}
	c := newTestController(device, renderer)
	defer c.Close()

	if err := c.Play(context.Background(), mix.Gains{Vocals: 3}); err != nil {
		t.Fatalf("Play() err = %v", err)
	}
	if !c.Playing() {
		t.Fatal("Playing() = false; want true")
	}
	stream := device.last()
	if stream.src != "render://V+3 D0 B0 O0" {
		t.Errorf("loaded src = %q; want rendered mix", stream.src)
	}
	if stream.Position() != 0 {
		t.Errorf("Position() = %v; want 0", stream.Position())
	}
}

func TestPlayRenderError(t *testing.T) {
	wantErr := errors.New("mixer blew up")
	c := newTestController(&fakeDevice{}, &fakeRenderer{err: wantErr})
	defer c.Close()
	if err := c.Play(context.Background(), mix.Default()); !errors.Is(err, wantErr) {
		t.Fatalf("Play() err = %v; want %v", err, wantErr)
	}
	if c.Playing() {
		t.Error("Playing() = true after failed play; want false")
	}
}

func TestPlayDeviceRejects(t *testing.T) {
	c := NewController(&Config{
		Device:   &failingDevice{},
		Renderer: &fakeRenderer{},
		Debounce: 40 * time.Millisecond,
		Grace:    200 * time.Millisecond,
		Fade:     20 * time.Millisecond,
		Steps:    4,
	})
	defer c.Close()
	if err := c.Play(context.Background(), mix.Default()); !errors.Is(err, ErrPlayback) {
		t.Fatalf("Play() err = %v; want ErrPlayback", err)
	}
	if c.Playing() {
		t.Error("Playing() = true after device rejection; want false")
	}
}

type failingDevice struct{}

func (d *failingDevice) Load(_ context.Context, src string) (Stream, error) {
	ready := make(chan struct{})
	close(ready)
	return &fakeStream{
		src:     src,
		playErr: errors.New("device busy"),
		ready:   ready,
		done:    make(chan struct{}),
	}, nil
}

func TestUpdateLiveDebounces(t *testing.T) {
	device := &fakeDevice{dur: 3 * time.Minute}
	renderer := &fakeRenderer{}
	c := newTestController(device, renderer)
	defer c.Close()

	ctx := context.Background()
	if err := c.Play(ctx, mix.Default()); err != nil {
		t.Fatalf("Play() err = %v", err)
	}
	renderer.mu.Lock()
	renderer.calls = nil
	renderer.mu.Unlock()

	// Burst of slider edits faster than the debounce window.
	for v := 1; v <= 10; v++ {
		c.UpdateLive(mix.Gains{Vocals: v})
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)

	got := renderer.rendered()
	if len(got) != 1 {
		t.Fatalf("rendered %d times (%v); want exactly 1", len(got), got)
	}
	if got[0] != (mix.Gains{Vocals: 10}) {
		t.Errorf("rendered gains = %v; want final value {Vocals:10}", got[0])
	}
}

func TestHandoverKeepsPosition(t *testing.T) {
	device := &fakeDevice{dur: 3 * time.Minute}
	renderer := &fakeRenderer{}
	c := newTestController(device, renderer)
	defer c.Close()

	ctx := context.Background()
	if err := c.Play(ctx, mix.Default()); err != nil {
		t.Fatalf("Play() err = %v", err)
	}
	old := device.last()
	old.Seek(42 * time.Second)

	c.UpdateLive(mix.Gains{Vocals: 6})
	time.Sleep(300 * time.Millisecond)

	if device.count() != 2 {
		t.Fatalf("loaded %d streams; want 2", device.count())
	}
	live := device.last()
	if live == old {
		t.Fatal("live stream did not change after handover")
	}
	if got := live.Position(); got != 42*time.Second {
		t.Errorf("new stream position = %v; want carried over 42s", got)
	}
	if !old.isStopped() {
		t.Error("old stream still running after handover")
	}
	old.mu.Lock()
	oldVol := old.volume
	old.mu.Unlock()
	if oldVol != 0 {
		t.Errorf("old stream volume = %v; want faded to 0", oldVol)
	}
	live.mu.Lock()
	liveVol := live.volume
	live.mu.Unlock()
	if liveVol != 1 {
		t.Errorf("new stream volume = %v; want ramped to 1", liveVol)
	}
	if !c.Playing() {
		t.Error("Playing() = false after handover; want true")
	}
}

func TestHandoverClampsPositionToDuration(t *testing.T) {
	device := &fakeDevice{dur: 10 * time.Second}
	renderer := &fakeRenderer{}
	c := newTestController(device, renderer)
	defer c.Close()

	ctx := context.Background()
	if err := c.Play(ctx, mix.Default()); err != nil {
		t.Fatalf("Play() err = %v", err)
	}
	device.last().Seek(42 * time.Second)

	c.UpdateLive(mix.Gains{Bass: -3})
	time.Sleep(300 * time.Millisecond)

	if got := device.last().Position(); got != 10*time.Second {
		t.Errorf("new stream position = %v; want clamped to 10s", got)
	}
}

func TestUpdateLiveRenderFailureKeepsOldStream(t *testing.T) {
	device := &fakeDevice{dur: time.Minute}
	renderer := &fakeRenderer{}
	c := newTestController(device, renderer)
	defer c.Close()

	ctx := context.Background()
	if err := c.Play(ctx, mix.Default()); err != nil {
		t.Fatalf("Play() err = %v", err)
	}
	old := device.last()

	renderer.mu.Lock()
	renderer.err = errors.New("mixer down")
	renderer.mu.Unlock()

	c.UpdateLive(mix.Gains{Drums: 6})
	time.Sleep(200 * time.Millisecond)

	if old.isStopped() {
		t.Error("old stream was stopped by a failed live update")
	}
	if device.count() != 1 {
		t.Errorf("loaded %d streams; want 1", device.count())
	}
	if !c.Playing() {
		t.Error("Playing() = false; want playback untouched")
	}
}

func TestStaleRenderDiscarded(t *testing.T) {
	device := &fakeDevice{dur: time.Minute}
	renderer := &fakeRenderer{delay: 100 * time.Millisecond}
	c := newTestController(device, renderer)
	defer c.Close()

	ctx := context.Background()
	renderer.mu.Lock()
	renderer.delay = 0
	renderer.mu.Unlock()
	if err := c.Play(ctx, mix.Default()); err != nil {
		t.Fatalf("Play() err = %v", err)
	}
	renderer.mu.Lock()
	renderer.calls = nil
	renderer.delay = 120 * time.Millisecond
	renderer.mu.Unlock()

	// First update's render is slow; a second edit lands while it is still
	// in flight. The first result must not win.
	c.UpdateLive(mix.Gains{Vocals: 3})
	time.Sleep(60 * time.Millisecond) // past debounce, render in flight
	renderer.mu.Lock()
	renderer.delay = 0
	renderer.mu.Unlock()
	c.UpdateLive(mix.Gains{Vocals: 9})
	time.Sleep(400 * time.Millisecond)

	live := device.last()
	if live.src != "render://V+9 D0 B0 O0" {
		t.Errorf("live src = %q; want newest render to win", live.src)
	}
	if c.Position() != live.Position() {
		t.Errorf("controller position %v != live stream position %v", c.Position(), live.Position())
	}
}

func TestUpdateLiveOutlivesCallerContext(t *testing.T) {
	device := &fakeDevice{dur: time.Minute}
	renderer := &fakeRenderer{}
	c := newTestController(device, renderer)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Play(ctx, mix.Default()); err != nil {
		t.Fatalf("Play() err = %v", err)
	}
	renderer.mu.Lock()
	renderer.calls = nil
	renderer.delay = 20 * time.Millisecond
	renderer.mu.Unlock()

	// The caller is gone before the debounce window ends, as happens when an
	// HTTP handler returns right after forwarding a slider edit. The render
	// must still run to completion.
	c.UpdateLive(mix.Gains{Vocals: 6})
	cancel()
	time.Sleep(300 * time.Millisecond)

	got := renderer.rendered()
	if len(got) != 1 || got[0] != (mix.Gains{Vocals: 6}) {
		t.Fatalf("rendered %v; want exactly one render of {Vocals:6}", got)
	}
	live := device.last()
	if live.src != "render://V+6 D0 B0 O0" {
		t.Errorf("live src = %q; want the post-cancel render live", live.src)
	}
}

func TestUpdateLiveIgnoredWhenNotPlaying(t *testing.T) {
	device := &fakeDevice{}
	renderer := &fakeRenderer{}
	c := newTestController(device, renderer)
	defer c.Close()

	c.UpdateLive(mix.Gains{Vocals: 3})
	time.Sleep(100 * time.Millisecond)
	if n := len(renderer.rendered()); n != 0 {
		t.Errorf("rendered %d times without playback; want 0", n)
	}
}

func TestPauseResumeStop(t *testing.T) {
	device := &fakeDevice{dur: time.Minute}
	renderer := &fakeRenderer{}
	c := newTestController(device, renderer)
	defer c.Close()

	ctx := context.Background()
	if err := c.Play(ctx, mix.Default()); err != nil {
		t.Fatalf("Play() err = %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause() err = %v", err)
	}
	if !c.Paused() {
		t.Fatal("Paused() = false; want true")
	}

	// Live updates while paused are ignored.
	renderer.mu.Lock()
	renderer.calls = nil
	renderer.mu.Unlock()
	c.UpdateLive(mix.Gains{Vocals: 6})
	time.Sleep(100 * time.Millisecond)
	if n := len(renderer.rendered()); n != 0 {
		t.Errorf("rendered %d times while paused; want 0", n)
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume() err = %v", err)
	}
	if !c.Playing() {
		t.Fatal("Playing() = false after resume; want true")
	}

	stream := device.last()
	c.Stop()
	if !stream.isStopped() {
		t.Error("stream not stopped by Stop()")
	}
	if c.Playing() || c.Paused() {
		t.Error("controller still reports a live stream after Stop()")
	}
	if c.Position() != 0 {
		t.Errorf("Position() after Stop = %v; want 0", c.Position())
	}
}

func TestCloseCancelsPendingUpdate(t *testing.T) {
	device := &fakeDevice{dur: time.Minute}
	renderer := &fakeRenderer{}
	c := newTestController(device, renderer)

	ctx := context.Background()
	if err := c.Play(ctx, mix.Default()); err != nil {
		t.Fatalf("Play() err = %v", err)
	}
	stream := device.last()
	renderer.mu.Lock()
	renderer.calls = nil
	renderer.mu.Unlock()

	c.UpdateLive(mix.Gains{Vocals: 6})
	c.Close()
	time.Sleep(150 * time.Millisecond)

	if n := len(renderer.rendered()); n != 0 {
		t.Errorf("rendered %d times after Close(); want 0", n)
	}
	if !stream.isStopped() {
		t.Error("live stream not released by Close()")
	}
}
