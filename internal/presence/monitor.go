// Package presence watches participant activity and runs the re-engagement
// protocol when the participant goes quiet.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"interview-agent/internal/domain"
)

const (
	DefaultMaxAttempts = 3
	DefaultInterval    = 20 * time.Second
)

// State is the monitor's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateActive
	StateAway
	StateEscalating
	StateLost
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateAway:
		return "away"
	case StateEscalating:
		return "escalating"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// SayOptions control a side-channel utterance.
type SayOptions struct {
	AllowInterruptions bool
	// AddToContext must stay false for presence pings so they never count as
	// conversational turns.
	AddToContext bool
}

// Speaker delivers text to the participant and returns when playback ends.
type Speaker interface {
	Say(ctx context.Context, text string, opts SayOptions) error
}

// Monitor is safe for concurrent use.
type Monitor struct {
	speaker     Speaker
	onLost      func(ctx context.Context)
	maxAttempts int
	interval    time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	base     context.Context
	state    State
	attempts int
	gen      uint64
	cancel   context.CancelFunc
	lostOnce bool

	wg sync.WaitGroup
}

type Option func(*Monitor)

func WithMaxAttempts(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithOnLost registers the callback fired once when every attempt fails.
func WithOnLost(fn func(ctx context.Context)) Option {
	return func(m *Monitor) {
		m.onLost = fn
	}
}

func New(speaker Speaker, opts ...Option) (*Monitor, error) {
	if speaker == nil {
		return nil, errors.New("presence: speaker must not be nil")
	}
	m := &Monitor{
		speaker:     speaker,
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultInterval,
		logger:      slog.Default(),
		base:        context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start begins monitoring. Protocol tasks inherit values from ctx but not its
// cancellation; Stop cancels them.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return
	}
	if ctx != nil {
		m.base = context.WithoutCancel(ctx)
	}
	m.state = StateActive
	m.logger.Info("presence monitoring started")
}

// Stop cancels any running protocol and returns to idle. It does not wait for
// the protocol goroutine, so it is safe to call from the lost callback.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.state != StateIdle {
		m.logger.Info("presence monitoring stopped", "state", m.state.String())
	}
	m.state = StateIdle
}

// OnStateChanged consumes an externally observed presence transition.
func (m *Monitor) OnStateChanged(s domain.PresenceState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateIdle, StateLost:
		return
	}

	if s == domain.PresenceAway {
		if m.cancel != nil {
			return
		}
		m.logger.Warn("participant away, starting re-engagement")
		ctx, cancel := context.WithCancel(m.base)
		m.cancel = cancel
		m.gen++
		m.attempts = 0
		m.state = StateAway
		m.wg.Add(1)
		go m.run(ctx, cancel, m.gen)
		return
	}

	if m.cancel != nil {
		m.logger.Info("participant back, cancelling re-engagement", "presence", string(s), "attempts", m.attempts)
		m.cancel()
		m.cancel = nil
	}
	m.state = StateActive
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns how many pings the current or last protocol delivered.
func (m *Monitor) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Wait blocks until every protocol goroutine has returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) isCurrent(ctx context.Context, gen uint64) bool {
	return m.gen == gen && ctx.Err() == nil
}

func (m *Monitor) run(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer m.wg.Done()
	defer cancel()

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		m.mu.Lock()
		if !m.isCurrent(ctx, gen) {
			m.mu.Unlock()
			return
		}
		m.attempts = attempt
		m.state = StateEscalating
		m.mu.Unlock()

		m.logger.Info("re-engaging participant", "attempt", attempt, "max_attempts", m.maxAttempts)
		if err := m.speaker.Say(ctx, AttemptMessage(attempt, m.maxAttempts), SayOptions{AllowInterruptions: true}); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("re-engagement message failed", "attempt", attempt, "err", err)
		}

		timer := time.NewTimer(m.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	// Commit to lost under the lock so a late "active" signal either wins
	// entirely or is ignored.
	m.mu.Lock()
	if !m.isCurrent(ctx, gen) || m.lostOnce {
		m.mu.Unlock()
		return
	}
	m.lostOnce = true
	m.state = StateLost
	m.cancel = nil
	m.mu.Unlock()

	m.logger.Error("participant unresponsive, ending session", "attempts", m.maxAttempts)
	detached := context.WithoutCancel(ctx)
	if err := m.speaker.Say(detached, FarewellMessage, SayOptions{}); err != nil {
		m.logger.Error("presence farewell failed", "err", err)
	}
	if m.onLost != nil {
		m.onLost(detached)
	}
}
