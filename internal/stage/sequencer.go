// Package stage holds the ordered stages of a session and the position within
// them.
package stage

import (
	"sync"

	"interview-agent/internal/domain"
)

const notStarted = -1

// Sequencer owns the ordered stages and the current index. The index only
// moves forward and stops at the last stage.
type Sequencer struct {
	mu       sync.RWMutex
	stages   []domain.Stage
	index    int
	snapshot domain.Snapshot
}

// NewSequencer returns a Sequencer that has not started yet.
func NewSequencer(stages []domain.Stage) *Sequencer {
	cp := make([]domain.Stage, len(stages))
	copy(cp, stages)
	return &Sequencer{stages: cp, index: notStarted}
}

// Start moves to the first stage. It returns false when there are no stages.
func (s *Sequencer) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stages) == 0 {
		return false
	}
	if s.index == notStarted {
		s.index = 0
	}
	return true
}

// Current returns the active stage, or false if not started.
func (s *Sequencer) Current() (domain.Stage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index < 0 || s.index >= len(s.stages) {
		return domain.Stage{}, false
	}
	return s.stages[s.index], true
}

// Advance moves to the next stage. Past the last stage it is a no-op that
// returns false.
func (s *Sequencer) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == notStarted || s.index >= len(s.stages)-1 {
		return false
	}
	s.index++
	return true
}

// IsLast reports whether the current stage is the final one.
func (s *Sequencer) IsLast() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stages) > 0 && s.index == len(s.stages)-1
}

// Index returns the current index, -1 before Start.
func (s *Sequencer) Index() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// Len returns the number of stages.
func (s *Sequencer) Len() int {
	return len(s.stages)
}

// SetSnapshot replaces the last observed conversation snapshot.
func (s *Sequencer) SetSnapshot(snap domain.Snapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}

// Snapshot returns the last observed conversation snapshot.
func (s *Sequencer) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}
