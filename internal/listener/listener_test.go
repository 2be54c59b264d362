package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/reconcile"
	"revshare-ledger-go/internal/store"
)

type fakeRunner struct {
	mutex sync.Mutex
	calls []reconcile.StartOptions
	err   error
}

func (f *fakeRunner) Start(_ context.Context, opts reconcile.StartOptions) (*models.RunStatus, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &models.RunStatus{State: models.RunCompleted}, nil
}

func (f *fakeRunner) snapshot() []reconcile.StartOptions {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]reconcile.StartOptions(nil), f.calls...)
}

func waitForCalls(t *testing.T, runner *fakeRunner, n int) []reconcile.StartOptions {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := runner.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected at least %d polls, got %d", n, len(runner.snapshot()))
	return nil
}

func TestListener_PollsWithResumeAndPeriodicFullRun(t *testing.T) {
	runner := &fakeRunner{}
	l := NewReconcileListener(ReconcileListenerConfig{Runner: runner, Interval: 5 * time.Millisecond, FullEvery: 3})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	calls := waitForCalls(t, runner, 4)
	l.Stop()

	for i, opts := range calls[:4] {
		wantResume := (i+1)%3 != 0
		if opts.Resume != wantResume {
			t.Errorf("Poll %d: expected resume=%v, got %v", i+1, wantResume, opts.Resume)
		}
	}
}

func TestListener_KeepsPollingAfterFailures(t *testing.T) {
	for _, err := range []error{reconcile.ErrRunInProgress, store.ErrHalted, errors.New("boom")} {
		runner := &fakeRunner{err: err}
		l := NewReconcileListener(ReconcileListenerConfig{Runner: runner, Interval: 5 * time.Millisecond})

		if err := l.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		waitForCalls(t, runner, 2)
		l.Stop()
	}
}

func TestListener_StopsWithContext(t *testing.T) {
	runner := &fakeRunner{}
	l := NewReconcileListener(ReconcileListenerConfig{Runner: runner, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForCalls(t, runner, 1)
	cancel()

	select {
	case <-l.doneChan:
	case <-time.After(time.Second):
		t.Fatal("Expected poll loop to exit after cancel")
	}
}

func TestListener_RejectsBadConfig(t *testing.T) {
	l := NewReconcileListener(ReconcileListenerConfig{Runner: &fakeRunner{}})
	if err := l.Start(context.Background()); !errors.Is(err, store.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}
