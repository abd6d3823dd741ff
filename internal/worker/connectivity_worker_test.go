package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/service"
)

type stubPinger struct{ err error }

func (p *stubPinger) Ping(context.Context) error { return p.err }

type countingQueue struct {
	mu    sync.Mutex
	calls int
}

func (q *countingQueue) SubmitAll(context.Context) (service.SubmitSummary, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	return service.SubmitSummary{Submitted: 1}, nil
}

func (q *countingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func TestCheckDrainsQueueWheneverOnline(t *testing.T) {
	ping := &stubPinger{}
	queue := &countingQueue{}
	w := NewConnectivityWorker(ping, queue, time.Minute, time.Second, zerolog.Nop())
	ctx := context.Background()

	steps := []struct {
		name      string
		pingErr   error
		wantUp    bool
		wantCalls int
	}{
		{"first probe online", nil, true, 1},
		{"still online", nil, true, 2},
		{"offline", errors.New("dial tcp: no route to host"), false, 2},
		{"still offline", errors.New("dial tcp: no route to host"), false, 2},
		{"back online", nil, true, 3},
	}
	for _, s := range steps {
		ping.err = s.pingErr
		if got := w.Check(ctx); got != s.wantUp {
			t.Errorf("%s: Check = %v, want %v", s.name, got, s.wantUp)
		}
		if queue.calls != s.wantCalls {
			t.Errorf("%s: SubmitAll calls = %d, want %d", s.name, queue.calls, s.wantCalls)
		}
	}
}

func TestNetworkRestoredDrainsWhileAlreadyOnline(t *testing.T) {
	queue := &countingQueue{}
	w := NewConnectivityWorker(&stubPinger{}, queue, time.Hour, time.Second, zerolog.Nop())
	ctx := context.Background()

	w.Check(ctx)
	if queue.calls != 1 {
		t.Fatalf("SubmitAll calls after first probe = %d, want 1", queue.calls)
	}

	// The outage fell between two probes: the worker never saw it.
	w.NetworkRestored()
	<-w.restored
	w.Check(ctx)
	if queue.calls != 2 {
		t.Errorf("SubmitAll calls after restored signal = %d, want 2", queue.calls)
	}
}

func TestCheckSkipsQueueWhileOffline(t *testing.T) {
	queue := &countingQueue{}
	w := NewConnectivityWorker(&stubPinger{err: errors.New("timeout")}, queue, time.Hour, time.Second, zerolog.Nop())

	w.NetworkRestored()
	<-w.restored
	if w.Check(context.Background()) {
		t.Error("Check reported online with a failing probe")
	}
	if queue.calls != 0 {
		t.Errorf("SubmitAll calls = %d, want 0", queue.calls)
	}
}

func TestNetworkRestoredNeverBlocks(t *testing.T) {
	w := NewConnectivityWorker(&stubPinger{}, &countingQueue{}, time.Minute, time.Second, zerolog.Nop())
	for i := 0; i < 3; i++ {
		w.NetworkRestored()
	}
	if len(w.restored) != 1 {
		t.Errorf("pending signals = %d, want 1", len(w.restored))
	}
}

func TestStartProbesImmediatelyAndStops(t *testing.T) {
	queue := &countingQueue{}
	w := NewConnectivityWorker(&stubPinger{}, queue, time.Hour, time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	// One drain from the startup probe, one from the restored signal.
	w.NetworkRestored()
	deadline := time.Now().Add(2 * time.Second)
	for queue.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	if got := queue.count(); got != 2 {
		t.Errorf("SubmitAll calls = %d, want 2", got)
	}
}
