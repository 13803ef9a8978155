package channels

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentline/agentline/internal/retry"
)

// RedeployFunc re-runs the deploy sequence for an agent, reusing
// persisted session material. The Manager supplies it.
type RedeployFunc func(ctx context.Context, kind Kind, agentID string) error

// SupervisorConfig controls reconnection behavior.
type SupervisorConfig struct {
	// BaseDelay is the delay before the first reconnect attempt; each
	// subsequent attempt doubles it.
	BaseDelay time.Duration

	// MaxAttempts caps cumulative attempts; once exceeded the agent is
	// abandoned until an operator deploys again.
	MaxAttempts int

	// AttemptTimeout bounds each redeploy attempt.
	AttemptTimeout time.Duration
}

// DefaultSupervisorConfig returns the baseline reconnection config.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		BaseDelay:      5 * time.Second,
		MaxAttempts:    5,
		AttemptTimeout: time.Minute,
	}
}

type reconnectState struct {
	attempts int
	timer    *time.Timer

	// inflight marks a running attempt, which owns the state entry
	// until it returns. cancelled marks an episode aborted mid-attempt;
	// its result is discarded and it is never rescheduled.
	inflight  bool
	cancelled bool
	cancel    context.CancelFunc
}

// Supervisor retries the deploy sequence after unexpected disconnects
// of session-style connections. Episodes are keyed per agent and
// cancellable, so an explicit disconnect aborts both scheduled and
// in-flight attempts.
type Supervisor struct {
	cfg      SupervisorConfig
	redeploy RedeployFunc
	logger   *slog.Logger

	mu      sync.Mutex
	states  map[registryKey]*reconnectState
	stopped bool
}

// NewSupervisor creates a reconnect supervisor.
func NewSupervisor(cfg SupervisorConfig, redeploy RedeployFunc, logger *slog.Logger) *Supervisor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultSupervisorConfig().BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultSupervisorConfig().MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultSupervisorConfig().AttemptTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:      cfg,
		redeploy: redeploy,
		logger:   logger.With("component", "reconnect"),
		states:   make(map[registryKey]*reconnectState),
	}
}

// nextDelay computes the backoff before the given attempt number
// (1-based): base * 2^(attempt-1).
func (s *Supervisor) nextDelay(attempt int) time.Duration {
	maxDelay := s.cfg.BaseDelay << (s.cfg.MaxAttempts - 1)
	return retry.Backoff(attempt, s.cfg.BaseDelay, maxDelay, 2)
}

// Trigger schedules a reconnect attempt for the agent. Attempts
// accumulate across the whole episode: once MaxAttempts have failed the
// agent is abandoned and a fresh deploy is required.
func (s *Supervisor) Trigger(kind Kind, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	key := registryKey{kind, agentID}
	state := s.states[key]
	if state == nil {
		state = &reconnectState{}
		s.states[key] = state
	}
	if state.timer != nil || state.inflight || state.cancelled {
		// An attempt is already pending, running, or being torn down.
		return
	}
	s.scheduleLocked(key, state, kind, agentID)
}

// scheduleLocked advances the episode by one attempt and arms its
// timer. Caller holds s.mu.
func (s *Supervisor) scheduleLocked(key registryKey, state *reconnectState, kind Kind, agentID string) {
	state.attempts++
	if state.attempts > s.cfg.MaxAttempts {
		s.logger.Error("max reconnect attempts reached, giving up",
			"channel", kind, "agent_id", agentID, "attempts", state.attempts-1)
		delete(s.states, key)
		return
	}

	delay := s.nextDelay(state.attempts)
	s.logger.Warn("scheduling reconnect",
		"channel", kind, "agent_id", agentID,
		"attempt", state.attempts, "delay", delay)
	state.timer = time.AfterFunc(delay, func() {
		s.attempt(kind, agentID)
	})
}

// attempt runs one redeploy and reschedules on failure. The episode
// state stays in the map while the attempt runs so that a concurrent
// Cancel can mark it instead of racing a deletion.
func (s *Supervisor) attempt(kind Kind, agentID string) {
	s.mu.Lock()
	key := registryKey{kind, agentID}
	state := s.states[key]
	if state == nil || s.stopped {
		s.mu.Unlock()
		return
	}
	if state.cancelled {
		delete(s.states, key)
		s.mu.Unlock()
		return
	}
	state.timer = nil
	state.inflight = true
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AttemptTimeout)
	state.cancel = cancel
	attempt := state.attempts
	s.mu.Unlock()

	err := s.redeploy(ctx, kind, agentID)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	state = s.states[key]
	if state == nil {
		return
	}
	state.inflight = false
	state.cancel = nil

	if err == nil {
		s.logger.Info("reconnected", "channel", kind, "agent_id", agentID, "attempt", attempt)
		delete(s.states, key)
		return
	}
	if state.cancelled {
		// Explicitly disconnected while the attempt was running; the
		// episode ends here.
		delete(s.states, key)
		return
	}
	s.logger.Warn("reconnect attempt failed",
		"channel", kind, "agent_id", agentID, "attempt", attempt, "error", err)
	s.scheduleLocked(key, state, kind, agentID)
}

// Cancel aborts the agent's reconnect episode: a scheduled timer is
// stopped, and a running attempt has its context cancelled and its
// result discarded. Called on explicit disconnect.
func (s *Supervisor) Cancel(kind Kind, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := registryKey{kind, agentID}
	state, ok := s.states[key]
	if !ok {
		return
	}
	if state.timer != nil {
		state.timer.Stop()
		state.timer = nil
	}
	if state.inflight {
		state.cancelled = true
		if state.cancel != nil {
			state.cancel()
		}
		return
	}
	delete(s.states, key)
}

// Reset clears the attempt counter after a successful (re)connection.
func (s *Supervisor) Reset(kind Kind, agentID string) {
	s.Cancel(kind, agentID)
}

// Attempts returns the cumulative attempt count for the agent.
func (s *Supervisor) Attempts(kind Kind, agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[registryKey{kind, agentID}]; ok {
		return state.attempts
	}
	return 0
}

// Pending reports whether a reconnect attempt is scheduled for the agent.
func (s *Supervisor) Pending(kind Kind, agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[registryKey{kind, agentID}]
	return ok && state.timer != nil
}

// Stop cancels all pending timers; used on shutdown.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, state := range s.states {
		if state.timer != nil {
			state.timer.Stop()
		}
		if state.cancel != nil {
			state.cancel()
		}
		delete(s.states, key)
	}
}
