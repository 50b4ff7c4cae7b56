package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/fallbatch/internal/domain"
	"github.com/bft-labs/fallbatch/pkg/log"
)

// DefaultStopTimeout bounds how long Stop waits for background work.
const DefaultStopTimeout = 30 * time.Second

// State is the lifecycle state of an engine.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
	StateCrashed:  {StateStarting},
}

// StateObserver is notified after every successful transition.
type StateObserver interface {
	OnStateChange(previous, current State, reason string)
}

// Lifecycle guards engine start/stop and tracks background workers
// (plugins, watchers) so Stop can wait for them.
type Lifecycle struct {
	mu       sync.RWMutex
	state    State
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	logger   log.Logger
	observer StateObserver
}

// NewLifecycle returns a lifecycle in StateStopped. observer may be nil.
func NewLifecycle(logger log.Logger, observer StateObserver) *Lifecycle {
	return &Lifecycle{
		state:    StateStopped,
		logger:   log.OrNoop(logger),
		observer: observer,
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo moves to next if the state machine allows it.
func (l *Lifecycle) TransitionTo(next State, reason string) error {
	l.mu.Lock()
	prev := l.state
	if !allowed(prev, next) {
		l.mu.Unlock()
		return fmt.Errorf("%w: cannot go from %s to %s", rejection(prev), prev, next)
	}
	l.state = next
	l.mu.Unlock()

	if l.observer != nil {
		l.observer.OnStateChange(prev, next, reason)
	}
	l.logger.Info("state transition",
		log.String("from", prev.String()),
		log.String("to", next.String()),
		log.String("reason", reason),
	)
	return nil
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// rejection picks the sentinel for an illegal transition out of from.
func rejection(from State) error {
	if from == StateStopped || from == StateCrashed {
		return domain.ErrNotRunning
	}
	return domain.ErrAlreadyRunning
}

// CanStart reports whether Start may be called.
func (l *Lifecycle) CanStart() bool {
	s := l.State()
	return s == StateStopped || s == StateCrashed
}

// CanStop reports whether Stop may be called.
func (l *Lifecycle) CanStop() bool {
	s := l.State()
	return s == StateRunning || s == StateStarting
}

// Running reports whether the engine accepts work.
func (l *Lifecycle) Running() bool {
	return l.State() == StateRunning
}

// SetCancel stores the function that cancels the run context.
func (l *Lifecycle) SetCancel(cancel context.CancelFunc) {
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
}

// Cancel cancels the run context, if any.
func (l *Lifecycle) Cancel() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Go runs fn as a tracked background worker.
func (l *Lifecycle) Go(fn func()) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		fn()
	}()
}

// Wait blocks until all workers return or timeout elapses.
func (l *Lifecycle) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.workers.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		l.logger.Warn("background workers still running at stop deadline", log.Duration("timeout", timeout))
		return domain.ErrShutdownTimeout
	}
}
