package account

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// KEYED LOCKS - Per-account mutual exclusion with a stale-lock reaper
// ═══════════════════════════════════════════════════════════════════════════════
//
// Holders are expected to be bounded to a few milliseconds; the reaper is a
// defensive measure, not a correctness primitive.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	acquireSpacing = time.Millisecond
	staleHold      = 5 * time.Second
)

type lockSlot struct {
	mu         sync.Mutex
	held       bool
	acquiredAt time.Time
}

func (s *lockSlot) tryLock(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		return false
	}
	s.held = true
	s.acquiredAt = now
	return true
}

func (s *lockSlot) unlock() {
	s.mu.Lock()
	s.held = false
	s.mu.Unlock()
}

// forceIfStale releases a slot held longer than ttl. Returns the hold
// duration when it fired.
func (s *lockSlot) forceIfStale(now time.Time, ttl time.Duration) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		return 0, false
	}
	held := now.Sub(s.acquiredAt)
	if held <= ttl {
		return 0, false
	}
	s.held = false
	return held, true
}

// Locks is a lazily-populated map of account id to mutual-exclusion slot.
type Locks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

func NewLocks() *Locks {
	return &Locks{slots: make(map[string]*lockSlot)}
}

func (l *Locks) slot(id string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		s = &lockSlot{}
		l.slots[id] = s
	}
	return s
}

// Acquire spins with ~1ms spacing until the slot is free or the budget runs
// out. Returns false on timeout.
func (l *Locks) Acquire(id string, budget time.Duration) bool {
	s := l.slot(id)
	deadline := time.Now().Add(budget)
	for {
		now := time.Now()
		if s.tryLock(now) {
			return true
		}
		if now.After(deadline) {
			return false
		}
		time.Sleep(acquireSpacing)
	}
}

// Release frees the slot. Safe to call on an already-released slot.
func (l *Locks) Release(id string) {
	l.slot(id).unlock()
}

// ReapStale force-releases every slot held longer than the stale threshold
// and returns how many fired.
func (l *Locks) ReapStale() int {
	l.mu.Lock()
	slots := make(map[string]*lockSlot, len(l.slots))
	for id, s := range l.slots {
		slots[id] = s
	}
	l.mu.Unlock()

	now := time.Now()
	reaped := 0
	for id, s := range slots {
		if held, ok := s.forceIfStale(now, staleHold); ok {
			reaped++
			log.Error().
				Str("account", id).
				Dur("held", held).
				Msg("Stale account lock force-released")
		}
	}
	return reaped
}
