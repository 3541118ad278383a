package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store"
)

// DecisionLog is an in-memory append-only log of verify-and-issue decisions.
// It is intended for use in tests and dev environments.
type DecisionLog struct {
	mu        sync.Mutex
	decisions []store.DecisionRecord
}

func NewDecisionLog() *DecisionLog {
	return &DecisionLog{}
}

func (l *DecisionLog) RecordDecision(_ context.Context, rec store.DecisionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions = append(l.decisions, rec)
	return nil
}

// Decisions returns a copy of all recorded decisions.  Test-only helper.
func (l *DecisionLog) Decisions() []store.DecisionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]store.DecisionRecord, len(l.decisions))
	copy(out, l.decisions)
	return out
}
