package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hray3182/medbay-reminders/internal/dispatcher"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	rep     dispatcher.CycleReport
	err     error
}

func (f *fakeRunner) RunCycle(ctx context.Context) (dispatcher.CycleReport, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return f.rep, ctx.Err()
		}
	}
	return f.rep, f.err
}

type fakeAlerter struct {
	mu    sync.Mutex
	calls []error
	err   error
}

func (f *fakeAlerter) Alert(_ context.Context, _ dispatcher.CycleReport, cycleErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cycleErr)
	return f.err
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// @yearly keeps cron out of the way; tests drive cycles through Notify.
var quietConfig = Config{CronSpec: "@yearly", CycleTimeout: time.Minute}

func TestRunOnceLogsAndAlerts(t *testing.T) {
	log, hook := test.NewNullLogger()
	runner := &fakeRunner{rep: dispatcher.CycleReport{Processed: 2, Sent: 1, Errored: 1}}
	alerter := &fakeAlerter{}

	rep, err := New(runner, alerter, log, quietConfig).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Errored)
	assert.Equal(t, 1, alerter.count())

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.WarnLevel, last.Level)
	assert.Equal(t, 1, last.Data["errored"])
}

func TestRunOnceReturnsCycleError(t *testing.T) {
	log, hook := test.NewNullLogger()
	storeErr := errors.New("reminder store unavailable: connection refused")
	alerter := &fakeAlerter{err: errors.New("telegram down")}

	_, err := New(&fakeRunner{err: storeErr}, alerter, log, quietConfig).RunOnce(context.Background())
	require.ErrorIs(t, err, storeErr)
	assert.Equal(t, []error{storeErr}, alerter.calls)

	var levels []logrus.Level
	for _, e := range hook.AllEntries() {
		levels = append(levels, e.Level)
	}
	assert.Equal(t, []logrus.Level{logrus.ErrorLevel, logrus.WarnLevel}, levels)
}

func TestRunOnceSkipsAlertOnShutdown(t *testing.T) {
	log, _ := test.NewNullLogger()
	alerter := &fakeAlerter{}

	_, err := New(&fakeRunner{err: context.Canceled}, alerter, log, quietConfig).RunOnce(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, alerter.count())
}

func TestRunOnceAppliesCycleTimeout(t *testing.T) {
	log, _ := test.NewNullLogger()
	runner := &fakeRunner{release: make(chan struct{})}
	cfg := quietConfig
	cfg.CycleTimeout = 20 * time.Millisecond

	_, err := New(runner, nil, log, cfg).RunOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartRejectsInvalidCronSpec(t *testing.T) {
	log, _ := test.NewNullLogger()
	err := New(&fakeRunner{}, nil, log, Config{CronSpec: "every minute"}).Start(context.Background())
	assert.ErrorContains(t, err, "invalid cron spec")
}

func TestNotifyRunsCycle(t *testing.T) {
	log, _ := test.NewNullLogger()
	runner := &fakeRunner{started: make(chan struct{}, 1)}
	s := New(runner, nil, log, quietConfig)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	s.Notify()
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not run")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestOverlappingTriggersAreDropped(t *testing.T) {
	log, _ := test.NewNullLogger()
	runner := &fakeRunner{started: make(chan struct{}, 4), release: make(chan struct{})}
	s := New(runner, nil, log, quietConfig)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	s.Notify()
	<-runner.started
	for range 3 {
		s.Notify()
		time.Sleep(10 * time.Millisecond)
	}
	assert.Never(t, func() bool { return runner.calls.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	close(runner.release)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), runner.calls.Load())
}
