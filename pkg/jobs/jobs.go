package jobs

import "time"

// Kind identifies a long-running tool job on the backend. Each kind
// polls on its own fixed cadence.
type Kind string

const (
	Training      Kind = "training"
	StemSplit     Kind = "stem-split"
	ModelDownload Kind = "model-download"
)

// Interval returns the polling cadence for the job kind. Downloads poll
// faster so progress bars stay responsive; training status changes
// slowly and polls coarser.
func (k Kind) Interval() time.Duration {
	switch k {
	case StemSplit:
		return 1 * time.Second
	case ModelDownload:
		return 1500 * time.Millisecond
	default:
		return 2 * time.Second
	}
}

// State is the local lifecycle of a tracked job.
type State string

const (
	Idle       State = "idle"
	Submitting State = "submitting"
	Running    State = "running"
	Paused     State = "paused"
	Completed  State = "completed"
	Cancelled  State = "cancelled"
	Failed     State = "failed"
)

// Terminal reports whether the state ends the polling loop.
func (s State) Terminal() bool {
	switch s {
	case Completed, Cancelled, Failed:
		return true
	}
	return false
}

// Status is one polled snapshot of backend job state. Progress may come
// as an explicit fraction, as step counters or as epoch counters;
// Fraction picks the most specific representation available.
type Status struct {
	Running      bool
	Paused       bool
	Progress     *float64
	CurrentStep  int
	MaxSteps     int
	CurrentEpoch int
	MaxEpochs    int
	Message      string
	ReturnCode   *int
}

// Fraction returns the job progress in [0, 1], or nil when the backend
// reported nothing usable (indeterminate).
func (s *Status) Fraction() *float64 {
	if s.Progress != nil {
		v := *s.Progress
		return &v
	}
	if s.MaxSteps > 0 {
		v := float64(s.CurrentStep) / float64(s.MaxSteps)
		return &v
	}
	if s.MaxEpochs > 0 {
		v := float64(s.CurrentEpoch) / float64(s.MaxEpochs)
		return &v
	}
	return nil
}
