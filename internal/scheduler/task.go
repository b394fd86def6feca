// Package scheduler runs named tasks on a fixed interval in the background.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyderes/catalog-sync/internal/logger"
	"github.com/cyderes/catalog-sync/internal/metrics"
)

// State is the lifecycle state of a task.
type State int32

const (
	Idle State = iota
	Scheduled
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrAlreadyStarted is returned by Start on a task that is not idle.
var ErrAlreadyStarted = errors.New("task already started")

// Func is the body of a task.
type Func func(ctx context.Context) error

// Option configures a Task.
type Option func(*Task)

// WithImmediate makes the first run happen right after Start instead of
// one interval later.
func WithImmediate() Option {
	return func(t *Task) { t.immediate = true }
}

// WithLogger sets the task logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(t *Task) { t.log = log }
}

// Task runs fn every interval. The timer is re-armed only after a run
// completes, so runs of one task never overlap.
type Task struct {
	name      string
	interval  time.Duration
	fn        Func
	immediate bool
	log       logrus.FieldLogger

	state   atomic.Int32
	runs    atomic.Int64
	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates an idle task.
func New(name string, interval time.Duration, fn Func, opts ...Option) *Task {
	t := &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		log:      logger.Discard(),
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.WithField("task", name)
	return t
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	return State(t.state.Load())
}

// Runs returns the number of completed runs.
func (t *Task) Runs() int64 {
	return t.runs.Load()
}

// Start schedules the task. Cancelling ctx has the same effect as Stop.
func (t *Task) Start(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(Idle), int32(Scheduled)) {
		return fmt.Errorf("%s: %w", t.name, ErrAlreadyStarted)
	}
	t.startOnce.Do(func() {
		go t.loop(ctx)
	})
	t.log.WithField("interval", t.interval).Info("Task scheduled")
	return nil
}

// RunNow asks for a run as soon as the task is free. Requests made while a
// request is already pending are merged. It reports false once the task is
// stopped.
func (t *Task) RunNow() bool {
	if t.State() == Stopped {
		return false
	}
	select {
	case t.trigger <- struct{}{}:
	default:
	}
	return true
}

// Stop prevents further runs and waits, until ctx expires, for a run in
// progress to finish. The run itself is not interrupted.
func (t *Task) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	if t.state.CompareAndSwap(int32(Idle), int32(Stopped)) {
		return nil
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: waiting for run to finish: %w", t.name, ctx.Err())
	}
}

func (t *Task) loop(ctx context.Context) {
	defer close(t.done)
	defer func() {
		t.state.Store(int32(Stopped))
		t.log.Info("Task stopped")
	}()

	// Runs outlive Stop and host cancellation; they are only awaited.
	runCtx := context.WithoutCancel(ctx)

	first := t.interval
	if t.immediate {
		first = 0
	}
	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-t.trigger:
			timer.Stop()
		}

		select {
		case <-t.stop:
			return
		default:
		}

		t.run(runCtx)
		t.state.CompareAndSwap(int32(Running), int32(Scheduled))
		timer.Reset(t.interval)
	}
}

func (t *Task) run(ctx context.Context) {
	t.state.Store(int32(Running))
	start := time.Now()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			t.log.WithField("stack", string(debug.Stack())).Errorf("Task panicked: %v", r)
		}

		duration := time.Since(start)
		t.runs.Add(1)
		metrics.RecordTaskRun(t.name, err, duration)

		entry := t.log.WithField("duration", duration.Round(time.Millisecond))
		if err != nil {
			entry.WithError(err).Error("Task run failed")
		} else {
			entry.Debug("Task run finished")
		}
	}()

	err = t.fn(ctx)
}
