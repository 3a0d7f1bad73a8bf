package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }

// script returns a StatusFunc that walks through the given statuses and
// keeps returning the last one.
func script(statuses ...*Status) StatusFunc {
	var mu sync.Mutex
	i := 0
	return func(ctx context.Context) (*Status, error) {
		mu.Lock()
		defer mu.Unlock()
		s := statuses[i]
		if i < len(statuses)-1 {
			i++
		}
		return s, nil
	}
}

func wait(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("handle didn't finish in time")
	}
}

func TestHandleCompletes(t *testing.T) {
	h := New(Training, script(
		&Status{Running: true, CurrentStep: 10, MaxSteps: 100},
		&Status{Running: true, CurrentStep: 60, MaxSteps: 100},
		&Status{Running: false, ReturnCode: ptrInt(0), Message: "done"},
	), WithInterval(time.Millisecond))

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() err = %v; want nil", err)
	}
	wait(t, h)

	snap := h.Snapshot()
	if snap.State != Completed {
		t.Fatalf("state = %s; want %s", snap.State, Completed)
	}
	if snap.Message != "done" {
		t.Fatalf("message = %q; want done", snap.Message)
	}
	if h.IsActive() {
		t.Fatal("IsActive() = true after completion")
	}
}

func TestHandleFails(t *testing.T) {
	h := New(StemSplit, script(
		&Status{Running: true},
		&Status{Running: false, ReturnCode: ptrInt(1), Message: "out of memory"},
	), WithInterval(time.Millisecond))

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() err = %v; want nil", err)
	}
	wait(t, h)

	snap := h.Snapshot()
	if snap.State != Failed {
		t.Fatalf("state = %s; want %s", snap.State, Failed)
	}
	if snap.Message != "out of memory" {
		t.Fatalf("message = %q; want terminal message", snap.Message)
	}
}

func TestHandleSwallowsPollErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	fetch := func(ctx context.Context) (*Status, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return &Status{Running: false, ReturnCode: ptrInt(0)}, nil
	}
	h := New(ModelDownload, fetch, WithInterval(time.Millisecond))
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() err = %v; want nil", err)
	}
	wait(t, h)

	if snap := h.Snapshot(); snap.State != Completed {
		t.Fatalf("state = %s; want %s after transient errors", snap.State, Completed)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pollErrs != 2 {
		t.Fatalf("pollErrs = %d; want 2", h.pollErrs)
	}
}

func TestHandlePauseTransitions(t *testing.T) {
	h := New(Training, script(
		&Status{Running: true, Paused: true},
		&Status{Running: true, Paused: true},
		&Status{Running: false, ReturnCode: ptrInt(0)},
	), WithInterval(time.Millisecond))

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() err = %v; want nil", err)
	}
	// Paused jobs keep polling: the loop must reach the terminal state.
	wait(t, h)
	if snap := h.Snapshot(); snap.State != Completed {
		t.Fatalf("state = %s; want %s", snap.State, Completed)
	}
}

type fakeController struct {
	mu        sync.Mutex
	cancelled int
	paused    int
	resumed   int
	err       error
}

func (c *fakeController) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused++
	return c.err
}

func (c *fakeController) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumed++
	return c.err
}

func (c *fakeController) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled++
	return c.err
}

func TestHandleCancelStopsImmediately(t *testing.T) {
	block := make(chan struct{})
	fetch := func(ctx context.Context) (*Status, error) {
		<-block
		return &Status{Running: true}, nil
	}
	ctrl := &fakeController{}
	h := New(Training, fetch, WithInterval(time.Millisecond), WithController(ctrl))
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() err = %v; want nil", err)
	}

	if err := h.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel() err = %v; want nil", err)
	}
	if snap := h.Snapshot(); snap.State != Cancelled {
		t.Fatalf("state = %s; want %s right after cancel", snap.State, Cancelled)
	}
	if h.IsActive() {
		t.Fatal("IsActive() = true after cancel")
	}

	// Unblock the in-flight poll; its stale response must be discarded.
	close(block)
	wait(t, h)
	if snap := h.Snapshot(); snap.State != Cancelled {
		t.Fatalf("state = %s; want %s after stale response", snap.State, Cancelled)
	}
	if ctrl.cancelled != 1 {
		t.Fatalf("cancelled = %d; want 1", ctrl.cancelled)
	}
}

func TestHandleCancelFailureKeepsPolling(t *testing.T) {
	ctrl := &fakeController{err: errors.New("backend unreachable")}
	h := New(Training, script(&Status{Running: true}), WithInterval(time.Millisecond), WithController(ctrl))
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() err = %v; want nil", err)
	}
	defer h.Stop()

	if err := h.Cancel(context.Background()); err == nil {
		t.Fatal("Cancel() err = nil; want backend error")
	}
	if !h.IsActive() {
		t.Fatal("IsActive() = false after failed cancel")
	}
}

func TestHandleStopDeactivates(t *testing.T) {
	h := New(Training, script(
		&Status{Running: true},
	), WithInterval(time.Millisecond))
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() err = %v; want nil", err)
	}
	h.Stop()
	wait(t, h)

	if h.IsActive() {
		t.Fatal("IsActive() = true after Stop; want false")
	}
	if got := h.Snapshot().State; got != Cancelled {
		t.Fatalf("state = %q after Stop; want %q", got, Cancelled)
	}
}

func TestHandleContextCancelDeactivates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New(Training, script(
		&Status{Running: true},
	), WithInterval(time.Millisecond))
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start() err = %v; want nil", err)
	}
	cancel()
	wait(t, h)

	if h.IsActive() {
		t.Fatal("IsActive() = true after context cancel; want false")
	}
}

func TestHandleSingleTeardown(t *testing.T) {
	h := New(Training, script(
		&Status{Running: true},
		&Status{Running: false, ReturnCode: ptrInt(0)},
	), WithInterval(time.Millisecond))
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() err = %v; want nil", err)
	}
	wait(t, h)

	// Repeated stops after completion must not tear down twice.
	h.Stop()
	h.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.teardowns != 1 {
		t.Fatalf("teardowns = %d; want exactly 1", h.teardowns)
	}
}

func TestHandleStartTwice(t *testing.T) {
	h := New(Training, script(&Status{Running: true}), WithInterval(time.Millisecond))
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() err = %v; want nil", err)
	}
	defer h.Stop()
	if err := h.Start(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Start() err = %v; want %v", err, ErrAlreadyActive)
	}
}

func TestHandleNoControllerActions(t *testing.T) {
	h := New(StemSplit, script(&Status{Running: true}), WithInterval(time.Millisecond))
	if err := h.Pause(context.Background()); !errors.Is(err, ErrNoController) {
		t.Fatalf("Pause() err = %v; want %v", err, ErrNoController)
	}
	if err := h.Cancel(context.Background()); !errors.Is(err, ErrNoController) {
		t.Fatalf("Cancel() err = %v; want %v", err, ErrNoController)
	}
}

func TestStatusFraction(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   *float64
	}{
		{"explicit progress wins", Status{Progress: ptrFloat(0.42), CurrentStep: 1, MaxSteps: 10}, ptrFloat(0.42)},
		{"steps fallback", Status{CurrentStep: 25, MaxSteps: 100}, ptrFloat(0.25)},
		{"epochs fallback", Status{CurrentEpoch: 3, MaxEpochs: 4}, ptrFloat(0.75)},
		{"steps preferred over epochs", Status{CurrentStep: 1, MaxSteps: 2, CurrentEpoch: 3, MaxEpochs: 4}, ptrFloat(0.5)},
		{"indeterminate", Status{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.status.Fraction()
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("Fraction() = %v; want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Fatalf("Fraction() = %v; want %v", *got, *tt.want)
			}
		})
	}
}
