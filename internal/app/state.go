package app

import (
	"strings"
	"sync"
)

const sentRingSize = 256

// runtimeState tracks the mutable, non-persisted bot state: the admin
// allowlist, sleep mode with its one-time-notify set, and the ring of
// recently sent message ids used to break echo loops.
type runtimeState struct {
	mu sync.Mutex

	admins map[string]struct{}

	sleeping      bool
	sleepNotified map[string]struct{}

	sentOrder []string
	sentSet   map[string]struct{}
}

func newRuntimeState(adminNumbers []string) *runtimeState {
	s := &runtimeState{
		sleepNotified: map[string]struct{}{},
		sentSet:       map[string]struct{}{},
	}
	s.setAdmins(adminNumbers)
	return s
}

func (s *runtimeState) setAdmins(numbers []string) {
	set := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		if norm := normalizeNumber(n); norm != "" {
			set[norm] = struct{}{}
		}
	}
	s.mu.Lock()
	s.admins = set
	s.mu.Unlock()
}

func (s *runtimeState) isAdmin(sender string) bool {
	norm := normalizeNumber(sender)
	if norm == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.admins[norm]
	return ok
}

// setSleep flips sleep mode. Leaving sleep mode forgets who was already
// notified so the next nap starts fresh.
func (s *runtimeState) setSleep(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeping = on
	if !on {
		s.sleepNotified = map[string]struct{}{}
	}
}

func (s *runtimeState) isSleeping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sleeping
}

// sleepNotify reports whether the bot is sleeping and whether this sender
// still needs the one-time auto-reply. The sender is marked notified.
func (s *runtimeState) sleepNotify(sender string) (sleeping, notify bool) {
	norm := normalizeNumber(sender)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sleeping || norm == "" {
		return s.sleeping, false
	}
	if _, seen := s.sleepNotified[norm]; seen {
		return true, false
	}
	s.sleepNotified[norm] = struct{}{}
	return true, true
}

func (s *runtimeState) rememberSent(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sentSet[id]; ok {
		return
	}
	s.sentSet[id] = struct{}{}
	s.sentOrder = append(s.sentOrder, id)
	if len(s.sentOrder) > sentRingSize {
		oldest := s.sentOrder[0]
		s.sentOrder = s.sentOrder[1:]
		delete(s.sentSet, oldest)
	}
}

func (s *runtimeState) wasSent(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sentSet[id]
	return ok
}

// normalizeNumber reduces a phone number or chat id to bare digits, so
// "+20 128...", "20128...@c.us" and "20128..." all compare equal.
func normalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
