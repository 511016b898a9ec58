package separation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Tracker drives an uploaded file through the separation service and polls
// job status until a terminal state. It owns no audio resources.
type Tracker struct {
	client   statusClient
	interval time.Duration

	mu       sync.Mutex
	state    State
	progress float64
	session  string
	cancel   context.CancelFunc
	done     chan Result
}

// statusClient is the slice of Client the tracker needs.
type statusClient interface {
	Submit(ctx context.Context, filename string, file []byte) (string, error)
	Progress(ctx context.Context) (*Status, error)
}

// State of the tracked job.
type State int

const (
	Idle State = iota
	Processing
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return StatusIdle
	case Processing:
		return StatusProcessing
	case Completed:
		return StatusCompleted
	case Failed:
		return StatusError
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the terminal outcome, delivered exactly once on Done.
type Result struct {
	State State
	Err   error
}

// Default polling cadence.
const DefaultInterval = 300 * time.Millisecond

// NewTracker creates a tracker polling at the given cadence. A zero interval
// uses the default.
func NewTracker(client *Client, interval time.Duration) *Tracker {
	return newTracker(client, interval)
}

func newTracker(client statusClient, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		client:   client,
		interval: interval,
		done:     make(chan Result, 1),
	}
}

// Start submits the file and begins polling. It fails if the service rejects
// the upload or a job is already being tracked.
func (t *Tracker) Start(ctx context.Context, filename string, file []byte) error {
	t.mu.Lock()
	if t.state == Processing {
		t.mu.Unlock()
		return errors.New("separation: a job is already in progress")
	}
	t.mu.Unlock()

	session, err := t.client.Submit(ctx, filename, file)
	if err != nil {
		return err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan Result, 1)
	t.mu.Lock()
	t.state = Processing
	t.progress = 0
	t.session = session
	t.cancel = cancel
	// Fresh channel per job: an undrained result from a previous job must
	// never block or shadow this job's terminal report.
	t.done = done
	t.mu.Unlock()

	go t.poll(pollCtx, done)
	return nil
}

// poll queries status at a fixed cadence until the job is terminal or the
// context is canceled. Poll failures are transient: logged and retried on
// the next cycle.
func (t *Tracker) poll(ctx context.Context, done chan<- Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.interval):
		}
		status, err := t.client.Progress(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if IsUnreachable(err) {
				log.Printf("separation: service unreachable, retrying: %v\n", err)
			} else {
				log.Printf("separation: poll failed, retrying: %v\n", err)
			}
			continue
		}
		switch status.Status {
		case StatusError:
			err := fmt.Errorf("separation: job failed: %s", status.Error)
			t.finish(done, Failed, err)
			return
		case StatusCompleted:
			t.update(1)
			t.finish(done, Completed, nil)
			return
		default:
			t.update(status.Progress)
			if t.Progress() >= 1 {
				t.finish(done, Completed, nil)
				return
			}
		}
	}
}

// update raises progress monotonically; a backend that resets its progress
// file never makes the reported fraction go backwards.
func (t *Tracker) update(progress float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if progress > t.progress {
		t.progress = progress
	}
	if t.progress > 1 {
		t.progress = 1
	}
}

func (t *Tracker) finish(done chan<- Result, state State, err error) {
	t.mu.Lock()
	if t.state != Processing {
		t.mu.Unlock()
		return
	}
	t.state = state
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	done <- Result{State: state, Err: err}
}

// Done delivers the current job's terminal result exactly once. Each Start
// replaces the channel, so call Done after Start to observe that job.
func (t *Tracker) Done() <-chan Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Progress returns the monotonically increasing fraction in [0,1].
func (t *Tracker) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// State returns the current job state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Session returns the service-assigned job id.
func (t *Tracker) Session() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Stop cancels polling without reporting a terminal state. Used on session
// teardown; no poll keeps running afterwards.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	if t.state == Processing {
		t.state = Idle
	}
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
