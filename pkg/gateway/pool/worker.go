package pool

import (
	"time"
)

type State string

const (
	StateCreating   = State("creating")
	StateIdle       = State("idle")
	StateBusy       = State("busy")
	StateDestroying = State("destroying")
)

// Worker is the gateway-side record of one sandbox container. Instances are
// owned by the Pool; callers only ever see value copies.
type Worker struct {
	ContainerID string
	Name        string
	InternalURL string
	State       State
	// Session is the bound session ID while the worker is busy, else empty.
	Session string
	// LastActive is the creation time for idle workers and the time of the
	// last successful reply for busy ones.
	LastActive time.Time
	CreatedAt  time.Time
}

func (w *Worker) idleSince(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastActive) > timeout
}

// Stats is a weakly consistent snapshot of the pool counters.
type Stats struct {
	TotalWorkers   int  `json:"total_workers"`
	BusyWorkers    int  `json:"busy_workers"`
	IdleWorkers    int  `json:"idle_workers_in_pool"`
	IsInitializing bool `json:"is_initializing"`
}
