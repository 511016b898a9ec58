package player

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mbenito/stemtune/pkg/mix"
)

// Renderer produces a stream reference for the given gains.
type Renderer interface {
	Render(ctx context.Context, g mix.Gains) (string, error)
}

// Timing defaults for live updates.
const (
	DefaultDebounce  = 200 * time.Millisecond
	DefaultGrace     = 1500 * time.Millisecond
	DefaultFade      = 150 * time.Millisecond
	DefaultFadeSteps = 16
)

type Config struct {
	Device   Device
	Renderer Renderer
	Debounce time.Duration
	Grace    time.Duration
	Fade     time.Duration
	Steps    int
	Debug    bool
}

// Controller keeps exactly one audio stream audible, matching the latest
// requested gains. Gain changes while playing are debounced, rendered
// remotely and swapped in with a short crossfade so playback never glitches.
type Controller struct {
	device   Device
	renderer Renderer
	debounce time.Duration
	grace    time.Duration
	fade     time.Duration
	steps    int
	debug    bool

	// ctx spans the controller's lifetime. Debounced handovers run under it,
	// not under the caller's context, which may be gone by the time the timer
	// fires.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	live   Stream
	paused bool
	gen    uint64
	timer  *time.Timer
	closed bool
}

func NewController(cfg *Config) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		device:   cfg.Device,
		renderer: cfg.Renderer,
		debounce: cfg.Debounce,
		grace:    cfg.Grace,
		fade:     cfg.Fade,
		steps:    cfg.Steps,
		debug:    cfg.Debug,
		ctx:      ctx,
		cancel:   cancel,
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	if c.grace <= 0 {
		c.grace = DefaultGrace
	}
	if c.fade <= 0 {
		c.fade = DefaultFade
	}
	if c.steps <= 0 {
		c.steps = DefaultFadeSteps
	}
	return c
}

func (c *Controller) logf(format string, args ...interface{}) {
	if !c.debug {
		return
	}
	format += "\n"
	log.Printf(format, args...)
}

// Play renders a mix for the given gains, stops any existing audio and
// starts the new stream from position 0.
func (c *Controller) Play(ctx context.Context, g mix.Gains) error {
	src, err := c.renderer.Render(ctx, g)
	if err != nil {
		return err
	}
	stream, err := c.device.Load(ctx, src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	if err := c.awaitReady(ctx, stream); err != nil {
		_ = stream.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = stream.Close()
		return fmt.Errorf("player: controller is closed")
	}
	c.invalidateLocked()
	old := c.live
	c.live = stream
	c.paused = false
	c.mu.Unlock()

	if old != nil {
		_ = old.Stop()
		_ = old.Close()
	}
	if err := stream.Play(); err != nil {
		c.mu.Lock()
		if c.live == stream {
			c.live = nil
		}
		c.mu.Unlock()
		_ = stream.Close()
		return fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	return nil
}

// UpdateLive requests the live stream be replaced by a render of the given
// gains. Rapid successive calls collapse: only the last value still current
// after the debounce window triggers a render. It does nothing when nothing
// is playing or playback is paused. Failures never interrupt the current
// stream; they are logged and dropped.
func (c *Controller) UpdateLive(g mix.Gains) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.live == nil || c.paused {
		return
	}
	c.gen++
	id := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		c.handover(c.ctx, id, g)
	})
}

// handover renders and swaps in the new stream, crossfading against the old
// one. Every suspension point re-checks the generation so a newer update
// always wins and stale renders are discarded.
func (c *Controller) handover(ctx context.Context, id uint64, g mix.Gains) {
	if !c.current(id) {
		return
	}
	src, err := c.renderer.Render(ctx, g)
	if err != nil {
		log.Printf("player: live render failed, keeping current stream: %v\n", err)
		return
	}
	if !c.current(id) {
		c.logf("player: discarding stale render for %s", g.Summary())
		return
	}
	stream, err := c.device.Load(ctx, src)
	if err != nil {
		log.Printf("player: couldn't load rendered stream: %v\n", err)
		return
	}
	if err := c.awaitReady(ctx, stream); err != nil {
		log.Printf("player: stream never became ready: %v\n", err)
		_ = stream.Close()
		return
	}

	c.mu.Lock()
	if c.gen != id || c.closed || c.live == nil {
		c.mu.Unlock()
		_ = stream.Close()
		return
	}
	old := c.live

	// Align the new stream to the old playback position, clamped to the new
	// stream's duration.
	pos := old.Position()
	if d := stream.Duration(); d > 0 && pos > d {
		pos = d
	}
	if err := stream.Seek(pos); err != nil {
		c.mu.Unlock()
		log.Printf("player: couldn't seek new stream: %v\n", err)
		_ = stream.Close()
		return
	}

	if c.paused {
		// Not audible: swap the reference without a transition.
		c.live = stream
		c.mu.Unlock()
		_ = old.Stop()
		_ = old.Close()
		return
	}

	_ = stream.SetVolume(0)
	if err := stream.Play(); err != nil {
		c.mu.Unlock()
		log.Printf("player: new stream rejected playback, keeping current: %v\n", err)
		_ = stream.Close()
		return
	}
	c.live = stream
	c.mu.Unlock()

	// Linear crossfade: new ramps 0 to 1 while old ramps 1 to 0 in lockstep.
	step := c.fade / time.Duration(c.steps)
	for i := 1; i <= c.steps; i++ {
		time.Sleep(step)
		v := float64(i) / float64(c.steps)
		_ = stream.SetVolume(v)
		_ = old.SetVolume(1 - v)
	}
	_ = old.Stop()
	_ = old.Close()
	c.logf("player: handover complete at %s", g.Summary())
}

// awaitReady waits for buffered data or the grace timeout, whichever comes
// first.
func (c *Controller) awaitReady(ctx context.Context, stream Stream) error {
	select {
	case <-stream.Ready():
		return nil
	case <-time.After(c.grace):
		c.logf("player: ready wait timed out, starting anyway")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) current(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == id && !c.closed
}

// invalidateLocked cancels pending debounce timers and marks in-flight
// handovers stale. Callers hold c.mu.
func (c *Controller) invalidateLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Pause suspends the live stream.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil || c.paused {
		return nil
	}
	if err := c.live.Pause(); err != nil {
		return fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	c.paused = true
	return nil
}

// Resume continues the live stream.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil || !c.paused {
		return nil
	}
	if err := c.live.Resume(); err != nil {
		return fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	c.paused = false
	return nil
}

// Stop halts and discards the live stream, resetting position to 0.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.invalidateLocked()
	live := c.live
	c.live = nil
	c.paused = false
	c.mu.Unlock()
	if live != nil {
		_ = live.Stop()
		_ = live.Close()
	}
}

// Playing reports whether a live stream exists and is not paused.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live != nil && !c.paused
}

// Paused reports whether the live stream is paused.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live != nil && c.paused
}

// Position returns the live stream's playback position.
func (c *Controller) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return 0
	}
	return c.live.Position()
}

// Close releases the live stream and cancels pending timers. The controller
// cannot be reused afterwards.
func (c *Controller) Close() {
	c.cancel()
	c.mu.Lock()
	c.invalidateLocked()
	c.closed = true
	live := c.live
	c.live = nil
	c.paused = false
	c.mu.Unlock()
	if live != nil {
		_ = live.Stop()
		_ = live.Close()
	}
}
