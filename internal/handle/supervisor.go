package handle

import (
	"errors"
	"time"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/metrics"
)

// superviseLocked starts the reconnect supervisor unless one is running.
func (h *Handle) superviseLocked() {
	if h.supervising || h.state == Closed {
		return
	}
	h.supervising = true
	h.wg.Add(1)
	go h.supervise()
}

// nudge wakes the supervisor without waiting for the next tick.
func (h *Handle) nudge() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// supervise runs on a fixed cadence of the policy interval. While Open it
// probes the device; once the device is lost it reopens it with the last
// applied configuration until that succeeds, the policy is disabled or the
// handle is closed.
func (h *Handle) supervise() {
	defer h.wg.Done()

	for {
		timer := time.NewTimer(h.interval())
		select {
		case <-h.done:
			timer.Stop()
			return
		case <-h.wake:
			timer.Stop()
		case <-timer.C:
		}

		if !h.step() {
			return
		}
	}
}

func (h *Handle) interval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.policy.Interval
}

// step performs one supervisor tick. It returns false when the supervisor
// should exit.
func (h *Handle) step() bool {
	h.mu.Lock()
	defer h.unlock()

	if h.state == Open {
		if !h.policy.Enabled {
			h.supervising = false
			return false
		}
		if err := h.port.Probe(); errors.Is(err, serial.ErrDisconnected) {
			h.lostLocked(h.port, err)
		}
	}

	switch h.state {
	case Degraded:
		_ = h.releaseLocked()
		h.attempts = 0
		h.setState(Reconnecting)
		h.log.Info().Dur("interval", h.policy.Interval).Msg("reconnecting")
		h.attemptLocked()
	case Reconnecting:
		h.attemptLocked()
	case Closed:
		h.supervising = false
		return false
	}
	return true
}

// attemptLocked tries to reopen the device once. The gate is re-evaluated
// so a port blacklisted after it was opened cannot come back.
func (h *Handle) attemptLocked() {
	h.attempts++
	log := h.log.With().Int("attempt", h.attempts).Logger()

	if err := h.gate(h.id); err != nil {
		h.lastErr = err
		metrics.RecordReconnectAttempt(false)
		log.Warn().Err(err).Msg("reconnect vetoed")
		return
	}

	port, err := h.open(h.id, h.cfg)
	if err != nil {
		h.lastErr = classifyOpenError(h.id, err)
		metrics.RecordReconnectAttempt(false)
		log.Debug().Err(err).Msg("reconnect failed")
		return
	}

	h.port = port
	h.lastErr = nil
	h.setState(Open)
	metrics.RecordReconnectAttempt(true)
	log.Info().Str("config", h.cfg.String()).Msg("reconnected")
}
