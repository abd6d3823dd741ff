package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/lockdown"
	"github.com/stemsi/exstem-proctor/internal/metrics"
)

// LockHooks receives the monitor's verdicts. Every hook carries the token the
// session passed to Engage so a stale verdict can be recognised and dropped.
// Hooks are never called with monitor locks held.
type LockHooks interface {
	LockConfirmed(token uint64)
	LockAborted(token uint64, declined bool)
	LockLost(token uint64)
	LockRecovered(token uint64)
}

type monitorPhase int

const (
	monitorIdle monitorPhase = iota
	monitorEngaging
	monitorWatching
	monitorRecovering
)

// SecurityMonitor keeps the device in lock-down while the academic phase runs.
type SecurityMonitor struct {
	device  lockdown.Device
	sched   *Scheduler
	timings config.Timings
	log     zerolog.Logger

	mu         sync.Mutex
	hooks      LockHooks
	phase      monitorPhase
	token      uint64
	polls      int
	stopPrompt func()
}

// NewSecurityMonitor creates a new SecurityMonitor.
func NewSecurityMonitor(device lockdown.Device, c clock.Clock, timings config.Timings, log zerolog.Logger) *SecurityMonitor {
	return &SecurityMonitor{
		device:  device,
		sched:   NewScheduler(c),
		timings: timings,
		log:     log.With().Str("component", "security_monitor").Logger(),
	}
}

// SetHooks wires the session state machine.
func (m *SecurityMonitor) SetHooks(h LockHooks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = h
}

// Engage starts the lock-down protocol: watch the OS prompt, request
// lock-down, then poll for confirmation within the configured window.
// Must not be called with session locks held; hooks may fire before it returns.
func (m *SecurityMonitor) Engage(ctx context.Context, token uint64) {
	m.mu.Lock()
	m.resetLocked()
	epoch := m.sched.Epoch()
	m.phase = monitorEngaging
	m.token = token
	m.polls = 0
	m.mu.Unlock()

	if w, ok := m.device.(lockdown.PromptWatcher); ok {
		stop := w.WatchPrompt(func(r lockdown.PromptResult) {
			if r == lockdown.PromptDeclined {
				m.abort(epoch, true)
			}
		})
		m.mu.Lock()
		if m.sched.Valid(epoch) && m.phase == monitorEngaging {
			m.stopPrompt = stop
			m.mu.Unlock()
		} else {
			m.mu.Unlock()
			stop()
		}
	}

	accepted, err := m.device.RequestLockDown(ctx)
	if err != nil {
		// The OS prompt may still be up; the confirmation window decides.
		m.log.Warn().Err(err).Msg("Lock-down request failed")
	} else if !accepted {
		m.abort(epoch, true)
		return
	}

	m.mu.Lock()
	if m.sched.Valid(epoch) && m.phase == monitorEngaging {
		m.sched.Every(m.timings.LockDownPoll, m.pollEngage)
	}
	m.mu.Unlock()
}

func (m *SecurityMonitor) pollEngage(epoch uint64) {
	locked, err := m.device.IsLockedDown(context.Background())
	if err != nil {
		m.log.Warn().Err(err).Msg("Lock-down status unavailable while engaging")
		locked = false
	}

	m.mu.Lock()
	if !m.sched.Valid(epoch) || m.phase != monitorEngaging {
		m.mu.Unlock()
		return
	}
	if locked {
		m.resetLocked()
		m.phase = monitorWatching
		m.sched.Every(m.timings.LockDownWatch, m.pollWatch)
		hooks, token := m.hooks, m.token
		m.mu.Unlock()

		metrics.LockDownEvents.WithLabelValues("confirmed").Inc()
		m.log.Info().Msg("Lock-down confirmed")
		if hooks != nil {
			hooks.LockConfirmed(token)
		}
		return
	}
	m.polls++
	// Give up once the next poll would land outside the window.
	timedOut := m.timings.LockDownPoll*time.Duration(m.polls+1) > m.timings.LockDownWindow
	m.mu.Unlock()

	if timedOut {
		m.abort(epoch, false)
	}
}

// abort ends an engage attempt that was declined or timed out.
func (m *SecurityMonitor) abort(epoch uint64, declined bool) {
	m.mu.Lock()
	if !m.sched.Valid(epoch) || m.phase != monitorEngaging {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	m.phase = monitorIdle
	hooks, token := m.hooks, m.token
	m.mu.Unlock()

	outcome := "timeout"
	if declined {
		outcome = "declined"
	}
	metrics.LockDownEvents.WithLabelValues(outcome).Inc()
	m.log.Warn().Str("outcome", outcome).Msg("Lock-down not established, aborting exam start")

	if hooks != nil {
		hooks.LockAborted(token, declined)
	}
}

func (m *SecurityMonitor) pollWatch(epoch uint64) {
	locked, err := m.device.IsLockedDown(context.Background())
	if err != nil {
		// A flaky status probe is not evidence of loss.
		m.log.Warn().Err(err).Msg("Lock-down status unavailable, assuming locked")
		return
	}
	if locked {
		return
	}

	m.mu.Lock()
	if !m.sched.Valid(epoch) || m.phase != monitorWatching {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	recoverEpoch := m.sched.Epoch()
	m.phase = monitorRecovering
	m.polls = 0
	m.mu.Unlock()

	m.log.Warn().Msg("Lock-down lost, attempting recovery")
	if _, err := m.device.RequestLockDown(context.Background()); err != nil {
		m.log.Warn().Err(err).Msg("Lock-down re-request failed")
	}

	m.mu.Lock()
	if m.sched.Valid(recoverEpoch) && m.phase == monitorRecovering {
		m.sched.Every(m.timings.RecoveryPoll, m.pollRecover)
	}
	m.mu.Unlock()
}

func (m *SecurityMonitor) pollRecover(epoch uint64) {
	locked, err := m.device.IsLockedDown(context.Background())
	if err != nil {
		m.log.Warn().Err(err).Msg("Lock-down status unavailable during recovery")
		locked = false
	}

	m.mu.Lock()
	if !m.sched.Valid(epoch) || m.phase != monitorRecovering {
		m.mu.Unlock()
		return
	}
	hooks, token := m.hooks, m.token

	if locked {
		m.resetLocked()
		m.phase = monitorWatching
		m.sched.Every(m.timings.LockDownWatch, m.pollWatch)
		m.mu.Unlock()

		metrics.LockDownEvents.WithLabelValues("recovered").Inc()
		m.log.Info().Msg("Lock-down recovered")
		if hooks != nil {
			hooks.LockRecovered(token)
		}
		return
	}

	m.polls++
	if m.polls < m.timings.RecoveryAttempts {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	m.phase = monitorIdle
	m.mu.Unlock()

	metrics.LockDownEvents.WithLabelValues("lost").Inc()
	m.log.Error().Int("attempts", m.timings.RecoveryAttempts).Msg("Lock-down recovery failed")
	if hooks != nil {
		hooks.LockLost(token)
	}
}

// Stop cancels every poll. Safe to call with session locks held.
func (m *SecurityMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.phase = monitorIdle
}

// Release stops monitoring and leaves lock-down.
func (m *SecurityMonitor) Release(ctx context.Context) error {
	m.Stop()
	return m.device.ReleaseLockDown(ctx)
}

// Active reports whether the monitor is engaging, watching or recovering.
func (m *SecurityMonitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase != monitorIdle
}

func (m *SecurityMonitor) resetLocked() {
	m.sched.Reset()
	if m.stopPrompt != nil {
		m.stopPrompt()
		m.stopPrompt = nil
	}
}
