// Package presence classifies a tracked game as absent, installed, or running
// by looking for its executable in the process list.
package presence

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/gw2link/localgame"
)

// State is the presence of the tracked game.
type State int

const (
	StateAbsent State = iota
	StateInstalled
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateInstalled:
		return "installed"
	case StateRunning:
		return "running"
	default:
		return "absent"
	}
}

// TransitionFunc is called with the previous and new state when a poll
// changes the state.
type TransitionFunc func(from, to State)

// LastPlayedFunc is called with the poll time whenever the game is seen running.
type LastPlayedFunc func(at time.Time)

// Tracker holds the presence state of one game. Polls are serialized.
type Tracker struct {
	processes    ProcessLister
	onTransition TransitionFunc
	onLastPlayed LastPlayedFunc
	throttle     time.Duration
	now          func() time.Time
	logger       *slog.Logger

	pollMu sync.Mutex

	mu    sync.RWMutex
	state State
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTransitionFunc sets the state change hook.
func WithTransitionFunc(fn TransitionFunc) Option {
	return func(t *Tracker) {
		t.onTransition = fn
	}
}

// WithLastPlayedFunc sets the hook that records when the game was last seen running.
func WithLastPlayedFunc(fn LastPlayedFunc) Option {
	return func(t *Tracker) {
		t.onLastPlayed = fn
	}
}

// WithScanThrottle pauses between processes during a scan so a long process
// list does not monopolize a core.
func WithScanThrottle(d time.Duration) Option {
	return func(t *Tracker) {
		t.throttle = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// NewTracker creates a Tracker in StateAbsent.
func NewTracker(processes ProcessLister, opts ...Option) *Tracker {
	t := &Tracker{
		processes: processes,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "presence")
	return t
}

// State returns the state recorded by the last poll.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Poll classifies inst, which is nil when no installation is known, and
// returns the new state. A cancelled or failed scan leaves the state unchanged.
func (t *Tracker) Poll(ctx context.Context, inst *localgame.Instance) State {
	t.pollMu.Lock()
	defer t.pollMu.Unlock()

	next := StateAbsent
	if inst != nil {
		running, ok := t.running(ctx, inst.ExeName())
		if !ok {
			return t.State()
		}
		next = StateInstalled
		if running {
			next = StateRunning
			if t.onLastPlayed != nil {
				t.onLastPlayed(t.now())
			}
		}
	}

	t.mu.Lock()
	prev := t.state
	t.state = next
	t.mu.Unlock()

	if prev != next {
		t.logger.Info("presence changed", "from", prev.String(), "to", next.String())
		if t.onTransition != nil {
			t.onTransition(prev, next)
		}
	}
	return next
}

// running scans the process list for exeName. ok is false when ctx was
// cancelled before the scan finished or the process list could not be read.
func (t *Tracker) running(ctx context.Context, exeName string) (found, ok bool) {
	for exe, err := range t.processes.Executables(ctx) {
		if err != nil {
			t.logger.Warn("process scan failed", "error", err)
			return false, false
		}
		if strings.EqualFold(baseName(exe), exeName) {
			return true, true
		}
		if t.throttle > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(t.throttle):
			}
		}
		if ctx.Err() != nil {
			return false, false
		}
	}
	return false, ctx.Err() == nil
}

// baseName returns the last path element, splitting on both separators so
// Windows paths are handled on any host.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
