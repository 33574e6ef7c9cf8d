package core

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TickFunc is one iteration of a Loop.
type TickFunc func(ctx context.Context)

// Loop calls a TickFunc on a fixed interval. Stop lets the tick in progress
// finish and starts no further tick; it never cancels the context the tick
// runs with.
type Loop struct {
	name     string
	interval time.Duration
	tick     TickFunc
	log      *logrus.Entry

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewLoop(name string, interval time.Duration, tick TickFunc, log *logrus.Entry) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		tick:     tick,
		log:      log,
	}
}

func (l *Loop) Name() string { return l.name }

// running reports whether the loop goroutine is alive.
func (l *Loop) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}

// Start launches the loop. Starting a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != nil {
		l.log.Info("already running")
		return nil
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	// ticks outlive cancellation of the caller's context
	base := context.WithoutCancel(ctx)
	go l.run(base, l.stop, l.done)
	return nil
}

// Stop signals the loop and waits for the current tick, or for ctx.
func (l *Loop) Stop(ctx context.Context) {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()

	if done == nil {
		return
	}
	close(stop)
	select {
	case <-done:
	case <-ctx.Done():
		l.log.Warn("stop timed out waiting for the current tick")
	}
}

func (l *Loop) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		l.safeTick(ctx)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		// a stop that raced the ticker wins
		select {
		case <-stop:
			return
		default:
		}
	}
}

func (l *Loop) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Errorf("tick panicked\n%s", debug.Stack())
		}
	}()
	l.tick(ctx)
}
