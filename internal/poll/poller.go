// Package poll turns the engine's one-shot task status endpoint into a
// bounded watch loop. A watch checks a task's status immediately, then on a
// fixed interval, and always stops: on a terminal state, on budget
// exhaustion, on too many consecutive transport errors, or on cancellation,
// whichever comes first. Exactly one outcome is delivered per watch.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adscope/adscope/pkg/models"
)

// Defaults match the engine's typical job duration envelope.
const (
	DefaultInterval             = 2 * time.Second
	DefaultMaxWait              = 300 * time.Second
	DefaultMaxAttempts          = 120
	DefaultMaxConsecutiveErrors = 3
)

// ErrDuplicateWatch is returned when a watch already exists for a task id.
// Status observations for one task are strictly sequential, so a second
// concurrent watch is always a caller bug.
var ErrDuplicateWatch = errors.New("task is already being watched")

// StatusFunc fetches the current snapshot for a task.
type StatusFunc func(ctx context.Context, taskID string) (*models.Task, error)

// Config controls watch behaviour. Interval and budget are configuration,
// not per-call-site constants, so every job kind polls the same way.
type Config struct {
	// Interval between status checks. The first check is immediate.
	Interval time.Duration
	// MaxWait bounds total wall-clock time for a watch.
	MaxWait time.Duration
	// MaxAttempts bounds total status checks for a watch.
	MaxAttempts int
	// MaxConsecutiveErrors bounds transport errors tolerated in a row
	// before the watch gives up. Any successful check resets the count.
	MaxConsecutiveErrors int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	return c
}

// OutcomeKind classifies how a watch ended.
type OutcomeKind string

const (
	// OutcomeTerminal: the task reached SUCCESS, FAILURE, or REVOKED.
	OutcomeTerminal OutcomeKind = "terminal"
	// OutcomeTimeout: the attempt/time budget ran out with the task still
	// non-terminal. The job may still finish on the engine side; a timeout
	// claims neither success nor failure on its behalf.
	OutcomeTimeout OutcomeKind = "timeout"
	// OutcomeUnreachable: too many consecutive transport errors.
	OutcomeUnreachable OutcomeKind = "unreachable"
	// OutcomeCanceled: the watch context was canceled (consumer teardown
	// or manager shutdown).
	OutcomeCanceled OutcomeKind = "canceled"
)

// Outcome is the single result of a watch.
type Outcome struct {
	Kind     OutcomeKind
	Task     *models.Task // last snapshot; non-nil when Kind is OutcomeTerminal
	Err      error        // last transport error; non-nil when Kind is OutcomeUnreachable
	Attempts int
}

// Hooks receive watch events. OnUpdate fires for every successfully
// observed snapshot, terminal or not; Done fires exactly once, last.
// Either hook may be nil. Hooks run on the watch goroutine.
type Hooks struct {
	OnUpdate func(task *models.Task)
	Done     func(out Outcome)
}

// Manager runs watches. Each watch is an independent goroutine with one
// status request in flight at a time; watches for distinct task ids share
// no mutable state beyond the registry itself.
type Manager struct {
	status StatusFunc
	cfg    Config

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewManager creates a watch manager. Zero fields in cfg fall back to the
// package defaults.
func NewManager(status StatusFunc, cfg Config) *Manager {
	return &Manager{
		status: status,
		cfg:    cfg.withDefaults(),
		active: make(map[string]context.CancelFunc),
	}
}

// Watch starts polling taskID until a terminal state, budget exhaustion,
// or cancellation. The parent ctx bounds the watch: canceling it (e.g. on
// consumer teardown) stops polling with no further status requests.
func (m *Manager) Watch(ctx context.Context, taskID string, hooks Hooks) error {
	if taskID == "" {
		return fmt.Errorf("watch: empty task id")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("watch %s: manager closed", taskID)
	}
	if _, ok := m.active[taskID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("watch %s: %w", taskID, ErrDuplicateWatch)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	m.active[taskID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(watchCtx, taskID, hooks)
	return nil
}

// Watching reports whether a watch is currently active for taskID.
func (m *Manager) Watching(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[taskID]
	return ok
}

// Cancel stops the watch for taskID, if any.
func (m *Manager) Cancel(taskID string) {
	m.mu.Lock()
	cancel, ok := m.active[taskID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close cancels all watches and waits for their goroutines to finish.
// A watch must never outlive the manager that started it.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for _, cancel := range m.active {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, taskID string, hooks Hooks) {
	defer m.wg.Done()
	defer m.release(taskID)

	deadline := time.Now().Add(m.cfg.MaxWait)

	var (
		attempts        int
		consecutiveErrs int
		lastTask        *models.Task
		lastErr         error
	)

	finish := func(kind OutcomeKind) {
		if hooks.Done != nil {
			hooks.Done(Outcome{Kind: kind, Task: lastTask, Err: lastErr, Attempts: attempts})
		}
	}

	// Immediate first check, then fixed interval.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			finish(OutcomeCanceled)
			return
		case <-timer.C:
		}

		attempts++
		task, err := m.status(ctx, taskID)
		if ctx.Err() != nil {
			// The request lost a race with cancellation; its result is
			// not a real observation.
			finish(OutcomeCanceled)
			return
		}
		if err != nil {
			consecutiveErrs++
			lastErr = err
			slog.Warn("task status check failed",
				"task_id", taskID,
				"attempt", attempts,
				"consecutive_errors", consecutiveErrs,
				"error", err,
			)
			if consecutiveErrs >= m.cfg.MaxConsecutiveErrors {
				finish(OutcomeUnreachable)
				return
			}
		} else {
			consecutiveErrs = 0
			lastTask = task
			if hooks.OnUpdate != nil {
				hooks.OnUpdate(task)
			}
			if task.State.Terminal() {
				finish(OutcomeTerminal)
				return
			}
		}

		if attempts >= m.cfg.MaxAttempts || !time.Now().Before(deadline) {
			finish(OutcomeTimeout)
			return
		}
		timer.Reset(m.cfg.Interval)
	}
}

func (m *Manager) release(taskID string) {
	m.mu.Lock()
	if cancel, ok := m.active[taskID]; ok {
		cancel()
		delete(m.active, taskID)
	}
	m.mu.Unlock()
}
