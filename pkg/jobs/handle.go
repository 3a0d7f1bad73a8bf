package jobs

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrAlreadyActive = errors.New("jobs: handle already active")
	ErrNoController  = errors.New("jobs: job kind doesn't support this action")
)

// StatusFunc polls the backend for the current job status.
type StatusFunc func(ctx context.Context) (*Status, error)

// Controller issues explicit lifecycle commands against the backend.
// Only training jobs support pause and resume.
type Controller interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Cancel(ctx context.Context) error
}

// Handle owns the polling loop for one job. It is independent of any
// rendering layer: callers start it, watch Done or Snapshot, and stop it
// on teardown. The timer is created once when polling starts and torn
// down exactly once when the job leaves the active states.
type Handle struct {
	kind       Kind
	interval   time.Duration
	fetch      StatusFunc
	controller Controller

	mu        sync.Mutex
	state     State
	last      Status
	pollErrs  int
	teardowns int

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type Option func(*Handle)

// WithInterval overrides the kind's default polling cadence.
func WithInterval(d time.Duration) Option {
	return func(h *Handle) {
		h.interval = d
	}
}

// WithController attaches pause/resume/cancel commands to the handle.
func WithController(c Controller) Option {
	return func(h *Handle) {
		h.controller = c
	}
}

func New(kind Kind, fetch StatusFunc, opts ...Option) *Handle {
	h := &Handle{
		kind:     kind,
		interval: kind.Interval(),
		fetch:    fetch,
		state:    Idle,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handle) Kind() Kind {
	return h.kind
}

// Start launches the polling loop. It may be called once per handle.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state != Idle {
		h.mu.Unlock()
		return ErrAlreadyActive
	}
	h.state = Running
	h.mu.Unlock()
	go h.loop(ctx)
	return nil
}

// Stop tears the polling loop down. Safe to call multiple times and
// from any state; only the first call has an effect.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// IsActive reports whether the polling loop is still driving the job.
func (h *Handle) IsActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == Running || h.state == Paused
}

// Done is closed once the polling loop has exited and the timer has
// been torn down.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Snapshot returns the local state plus the last polled status.
type Snapshot struct {
	State    State
	Progress *float64
	Message  string
	Code     *int
}

func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		State:    h.state,
		Progress: h.last.Fraction(),
		Message:  h.last.Message,
		Code:     h.last.ReturnCode,
	}
}

// Pause asks the backend to pause a training run and reflects the
// transition locally without waiting for the next poll tick.
func (h *Handle) Pause(ctx context.Context) error {
	if h.controller == nil {
		return ErrNoController
	}
	if err := h.controller.Pause(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	if h.state == Running {
		h.state = Paused
	}
	h.mu.Unlock()
	return nil
}

func (h *Handle) Resume(ctx context.Context) error {
	if h.controller == nil {
		return ErrNoController
	}
	if err := h.controller.Resume(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	if h.state == Paused {
		h.state = Running
	}
	h.mu.Unlock()
	return nil
}

// Cancel issues an explicit cancel and, on success, immediately marks
// the job cancelled and stops polling rather than waiting for the next
// tick to discover it.
func (h *Handle) Cancel(ctx context.Context) error {
	if h.controller == nil {
		return ErrNoController
	}
	if err := h.controller.Cancel(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.state = Cancelled
	h.mu.Unlock()
	h.Stop()
	return nil
}

func (h *Handle) loop(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer func() {
		t.Stop()
		h.mu.Lock()
		// A stop or context cancellation ends the loop without a
		// terminal status from the backend; record the job as cancelled
		// so IsActive doesn't report a poller that no longer exists.
		if !h.state.Terminal() {
			h.state = Cancelled
		}
		h.teardowns++
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-t.C:
		}

		// Ticks are sequential: the next tick fires only after this
		// round-trip has finished.
		status, err := h.fetch(ctx)
		if err != nil {
			// Transport errors are swallowed and retried on the next
			// tick; the interval is already coarse.
			h.mu.Lock()
			h.pollErrs++
			h.mu.Unlock()
			continue
		}

		h.mu.Lock()
		if h.state.Terminal() {
			// Stale response: the job was cancelled between request
			// and response. Discard it.
			h.mu.Unlock()
			return
		}
		h.last = *status
		if !status.Running {
			if status.ReturnCode != nil && *status.ReturnCode != 0 {
				h.state = Failed
			} else {
				h.state = Completed
			}
			h.mu.Unlock()
			return
		}
		if status.Paused {
			h.state = Paused
		} else {
			h.state = Running
		}
		h.mu.Unlock()
	}
}
