package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"HydrophoneStreamer/internal/ports"
)

// ErrAlreadyRunning is returned by Start on a loop that has not exited yet.
var ErrAlreadyRunning = errors.New("scheduler: loop already running")

// State is the polling state machine position.
type State int

const (
	StateFetching State = iota
	StateIdle
)

func (s State) String() string {
	if s == StateIdle {
		return "idle"
	}
	return "fetching"
}

// Options tune the polling loop.
type Options struct {
	// IdleDelay is the pause after a cycle that fetched nothing.
	IdleDelay time.Duration
	// StopOnError ends the loop on the first failing cycle instead of idling.
	StopOnError bool
	Clock       clockwork.Clock
}

// PollLoop alternates between FETCHING and IDLE: a cycle that produced
// files is followed immediately by another, otherwise the loop sleeps.
type PollLoop struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	state  State
}

var _ ports.Scheduler = (*PollLoop)(nil)

// NewPollLoop builds a loop; IdleDelay defaults to ten seconds.
func NewPollLoop(opts Options, logger *slog.Logger) *PollLoop {
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PollLoop{opts: opts, logger: logger}
}

// Start launches the loop goroutine.
func (l *PollLoop) Start(ctx context.Context, job ports.Job) error {
	if job == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		select {
		case <-l.done:
		default:
			return ErrAlreadyRunning
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.err = nil

	go func(done chan struct{}) {
		err := l.run(ctx, job)
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(done)
	}(l.done)

	return nil
}

func (l *PollLoop) run(ctx context.Context, job ports.Job) error {
	for {
		l.setState(StateFetching)
		n, err := job(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			if l.opts.StopOnError {
				return err
			}
			l.logger.Error("cycle failed, retrying after idle delay", "error", err)
		}

		if n > 0 {
			l.logger.Debug("fetched files, polling again", "count", n)
			continue
		}

		l.setState(StateIdle)
		l.logger.Debug("nothing new, idling", "delay", l.opts.IdleDelay)
		select {
		case <-l.opts.Clock.After(l.opts.IdleDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// State reports the current position of the state machine.
func (l *PollLoop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *PollLoop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Wait blocks until the loop goroutine exits.
func (l *PollLoop) Wait() error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}

	<-done
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stop cancels the loop and waits for it, bounded by ctx.
func (l *PollLoop) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
