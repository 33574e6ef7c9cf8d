package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.FatalLevel)
	return logrus.NewEntry(log)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

type fakeModule struct {
	name    string
	failing bool
	rec     *recorder
}

func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) Start(context.Context) error {
	if f.failing {
		return errors.New("boom")
	}
	f.rec.add("start:" + f.name)
	return nil
}

func (f *fakeModule) Stop(context.Context) { f.rec.add("stop:" + f.name) }

func TestManagerStartStopOrder(t *testing.T) {
	rec := &recorder{}
	m := NewManager(quietLog())
	require.NoError(t, m.Add(&fakeModule{name: "simvote", rec: rec}))
	require.NoError(t, m.Add(&fakeModule{name: "reconcile", rec: rec}))

	require.NoError(t, m.Start(context.Background()))
	assert.False(t, m.StartedAt().IsZero())
	assert.Error(t, m.Start(context.Background()))
	assert.Error(t, m.Add(&fakeModule{name: "late", rec: rec}))

	m.Stop(context.Background())
	assert.True(t, m.StartedAt().IsZero())
	assert.Equal(t, []string{"start:simvote", "start:reconcile", "stop:reconcile", "stop:simvote"}, rec.events)
	assert.Equal(t, []string{"simvote", "reconcile"}, m.Modules())
}

func TestManagerRollsBackOnFailure(t *testing.T) {
	rec := &recorder{}
	m := NewManager(quietLog())
	require.NoError(t, m.Add(&fakeModule{name: "a", rec: rec}))
	require.NoError(t, m.Add(&fakeModule{name: "b", rec: rec}))
	require.NoError(t, m.Add(&fakeModule{name: "c", failing: true, rec: rec}))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start c")
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, rec.events)
}

func TestManagerRejectsBadModules(t *testing.T) {
	m := NewManager(quietLog())
	assert.Error(t, m.Add(nil))
	assert.Error(t, m.Add(&fakeModule{name: " "}))
	require.NoError(t, m.Add(&fakeModule{name: "SimVote"}))
	assert.Error(t, m.Add(&fakeModule{name: "simvote"}))
}

func TestLoopTicksUntilStopped(t *testing.T) {
	var ticks atomic.Int32
	l := NewLoop("test", 5*time.Millisecond, func(context.Context) { ticks.Add(1) }, quietLog())

	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Start(context.Background()))
	assert.True(t, l.running())
	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	l.Stop(context.Background())
	assert.False(t, l.running())
	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())

	// stopping twice is harmless
	l.Stop(context.Background())
}

func TestLoopStopWaitsForCurrentTick(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	var tickCtxErr atomic.Value

	l := NewLoop("slow", time.Hour, func(ctx context.Context) {
		close(entered)
		<-release
		if err := ctx.Err(); err != nil {
			tickCtxErr.Store(err)
		}
		finished.Store(true)
	}, quietLog())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Start(ctx))
	<-entered
	cancel()

	stopped := make(chan struct{})
	go func() {
		l.Stop(context.Background())
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the tick finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-stopped

	assert.True(t, finished.Load())
	assert.Nil(t, tickCtxErr.Load())
}

func TestLoopRecoversPanics(t *testing.T) {
	var ticks atomic.Int32
	l := NewLoop("panicky", 2*time.Millisecond, func(context.Context) {
		if ticks.Add(1) == 1 {
			panic("first tick")
		}
	}, quietLog())

	require.NoError(t, l.Start(context.Background()))
	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)
	l.Stop(context.Background())
}
