package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bft-labs/fallbatch/internal/domain"
)

type recordingObserver struct {
	mu          sync.Mutex
	transitions [][2]State
}

func (r *recordingObserver) OnStateChange(previous, current State, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, [2]State{previous, current})
}

func (r *recordingObserver) seen() [][2]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]State(nil), r.transitions...)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "Stopped"},
		{StateStarting, "Starting"},
		{StateRunning, "Running"},
		{StateStopping, "Stopping"},
		{StateCrashed, "Crashed"},
		{State(42), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		wantErr error
	}{
		{"stopped to starting", StateStopped, StateStarting, nil},
		{"starting to running", StateStarting, StateRunning, nil},
		{"starting to stopping", StateStarting, StateStopping, nil},
		{"running to stopping", StateRunning, StateStopping, nil},
		{"running to crashed", StateRunning, StateCrashed, nil},
		{"stopping to stopped", StateStopping, StateStopped, nil},
		{"crashed to starting", StateCrashed, StateStarting, nil},
		{"stopped to running", StateStopped, StateRunning, domain.ErrNotRunning},
		{"stopped to stopping", StateStopped, StateStopping, domain.ErrNotRunning},
		{"crashed to stopped", StateCrashed, StateStopped, domain.ErrNotRunning},
		{"running to starting", StateRunning, StateStarting, domain.ErrAlreadyRunning},
		{"running to stopped", StateRunning, StateStopped, domain.ErrAlreadyRunning},
		{"stopping to running", StateStopping, StateRunning, domain.ErrAlreadyRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLifecycle(nil, nil)
			l.state = tt.from

			err := l.TransitionTo(tt.to, "test")
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("TransitionTo() error = %v", err)
				}
				if l.State() != tt.to {
					t.Errorf("state = %v, want %v", l.State(), tt.to)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("TransitionTo() error = %v, want %v", err, tt.wantErr)
			}
			if l.State() != tt.from {
				t.Errorf("state changed to %v on rejected transition", l.State())
			}
		})
	}
}

func TestLifecycle_NotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	l := NewLifecycle(nil, obs)

	_ = l.TransitionTo(StateStarting, "start")
	_ = l.TransitionTo(StateRunning, "started")
	_ = l.TransitionTo(StateStarting, "rejected")

	got := obs.seen()
	want := [][2]State{{StateStopped, StateStarting}, {StateStarting, StateRunning}}
	if len(got) != len(want) {
		t.Fatalf("got %d transitions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
	if !l.Running() {
		t.Error("Running() = false after reaching StateRunning")
	}
}

func TestLifecycle_CanStartCanStop(t *testing.T) {
	tests := []struct {
		state     State
		wantStart bool
		wantStop  bool
	}{
		{StateStopped, true, false},
		{StateStarting, false, true},
		{StateRunning, false, true},
		{StateStopping, false, false},
		{StateCrashed, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			l := NewLifecycle(nil, nil)
			l.state = tt.state
			if got := l.CanStart(); got != tt.wantStart {
				t.Errorf("CanStart() = %v, want %v", got, tt.wantStart)
			}
			if got := l.CanStop(); got != tt.wantStop {
				t.Errorf("CanStop() = %v, want %v", got, tt.wantStop)
			}
		})
	}
}

func TestLifecycle_Cancel(t *testing.T) {
	l := NewLifecycle(nil, nil)
	l.Cancel() // no cancel func set

	ctx, cancel := context.WithCancel(context.Background())
	l.SetCancel(cancel)
	if ctx.Err() != nil {
		t.Fatal("context canceled before Cancel()")
	}
	l.Cancel()
	if ctx.Err() == nil {
		t.Error("context not canceled after Cancel()")
	}
}

func TestLifecycle_WaitForWorkers(t *testing.T) {
	l := NewLifecycle(nil, nil)

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		l.Go(func() {
			time.Sleep(10 * time.Millisecond)
			ran.Add(1)
		})
	}

	if err := l.Wait(time.Second); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if ran.Load() != 3 {
		t.Errorf("workers ran = %d, want 3", ran.Load())
	}
}

func TestLifecycle_WaitTimeout(t *testing.T) {
	l := NewLifecycle(nil, nil)

	release := make(chan struct{})
	l.Go(func() { <-release })
	defer close(release)

	if err := l.Wait(10 * time.Millisecond); !errors.Is(err, domain.ErrShutdownTimeout) {
		t.Errorf("Wait() = %v, want ErrShutdownTimeout", err)
	}
}
