package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Pinger probes the grading API.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueProcessor submits every pending offline queue entry.
type QueueProcessor interface {
	SubmitAll(ctx context.Context) (service.SubmitSummary, error)
}

// ConnectivityWorker watches the grading API and drains the offline
// submission queue on every successful probe, and right away when the
// shell reports the network is back.
type ConnectivityWorker struct {
	api      Pinger
	queue    QueueProcessor
	interval time.Duration
	timeout  time.Duration
	restored chan struct{}
	log      zerolog.Logger

	online bool
}

// NewConnectivityWorker creates a new ConnectivityWorker. The device is
// assumed offline until the first successful probe.
func NewConnectivityWorker(api Pinger, queue QueueProcessor, interval, timeout time.Duration, log zerolog.Logger) *ConnectivityWorker {
	return &ConnectivityWorker{
		api:      api,
		queue:    queue,
		interval: interval,
		timeout:  timeout,
		restored: make(chan struct{}, 1),
		log:      log.With().Str("component", "connectivity_worker").Logger(),
	}
}

// NetworkRestored asks the worker to probe immediately. Never blocks.
func (w *ConnectivityWorker) NetworkRestored() {
	select {
	case w.restored <- struct{}{}:
	default:
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ConnectivityWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.Check(ctx)
		case <-w.restored:
			w.log.Info().Msg("Network restored by shell, probing now")
			w.Check(ctx)
		}
	}
}

// Check probes the grading API once and, whenever it answers, submits the
// offline queue. An empty queue costs one store read. It reports whether
// the API answered.
func (w *ConnectivityWorker) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.api.Ping(probeCtx)
	cancel()

	if err != nil {
		metrics.GradingAPIUp.Set(0)
		if w.online {
			w.log.Warn().Err(err).Msg("Grading API unreachable")
		}
		w.online = false
		return false
	}

	metrics.GradingAPIUp.Set(1)
	if !w.online {
		w.log.Info().Msg("Grading API reachable")
	}
	w.online = true

	summary, err := w.queue.SubmitAll(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Offline queue submission failed")
		return true
	}
	if summary.Submitted > 0 || summary.Failed > 0 {
		w.log.Info().
			Int("submitted", summary.Submitted).
			Int("failed", summary.Failed).
			Int("remaining", summary.Remaining).
			Msg("Offline queue processed")
	}
	return true
}
