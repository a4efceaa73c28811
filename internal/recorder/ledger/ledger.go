// Package ledger keeps the ordered log of recorded actions that backs script generation.
package ledger

import (
	"sync"

	"github.com/xkilldash9x/scalpel-recorder/api/schemas"
)

// Mutation describes what Record did to the ledger.
type Mutation int

const (
	// Appended means a new pending entry was added.
	Appended Mutation = iota
	// Amended means the pending entry was replaced in place.
	Amended
	// Ignored means the action was redundant and the ledger is unchanged.
	Ignored
)

func (m Mutation) String() string {
	switch m {
	case Appended:
		return "appended"
	case Amended:
		return "amended"
	case Ignored:
		return "ignored"
	}
	return "unknown"
}

// Ledger is an ordered log of actions with at most one pending (uncommitted)
// entry, always the last one. It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries []schemas.ActionInContext
	// undo restores the state before the latest mutation. Every mutation
	// touches only the last entry or appends one, so that is all it keeps.
	undo checkpoint
}

type checkpoint struct {
	valid bool
	n     int
	last  schemas.ActionInContext
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Seed appends an entry that is committed immediately, such as the implicit
// openPage action. Any pending entry is committed first.
func (l *Ledger) Seed(aic schemas.ActionInContext) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.saveLocked()
	l.commitLocked()
	aic = aic.Clone()
	aic.Committed = true
	l.entries = append(l.entries, aic)
}

// CommitPending freezes the pending entry. It is a no-op when there is none.
func (l *Ledger) CommitPending() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pendingLocked() != nil {
		l.saveLocked()
	}
	l.commitLocked()
}

// Append commits any pending entry and adds aic as the new pending entry.
func (l *Ledger) Append(aic schemas.ActionInContext) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saveLocked()
	l.appendLocked(aic)
}

// Record adds aic, amending the pending entry instead when aic supersedes it
// (incremental typing, a double click following its single click, and so on).
func (l *Ledger) Record(aic schemas.ActionInContext) Mutation {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pending := l.pendingLocked(); pending != nil {
		switch coalesce(*pending, aic) {
		case Amended:
			l.saveLocked()
			amendLocked(pending, aic)
			return Amended
		case Ignored:
			return Ignored
		}
	} else if last := l.lastLocked(); last != nil && redundantNavigation(*last, aic) {
		return Ignored
	}

	l.saveLocked()
	l.appendLocked(aic)
	return Appended
}

// RecordGesture adds a performed gesture. The gesture replaces the pending
// entry only when it refines the same click (a double click, or the check
// the click caused). Anything else commits the pending entry first.
func (l *Ledger) RecordGesture(aic schemas.ActionInContext) Mutation {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.saveLocked()
	if pending := l.pendingLocked(); pending != nil && refinesClick(*pending, aic) {
		amendLocked(pending, aic)
		return Amended
	}
	l.appendLocked(aic)
	return Appended
}

// Signal attaches a side effect to the pending entry of the given page.
// It reports false when there is no such entry.
func (l *Ledger) Signal(pageAlias string, sig schemas.Signal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending := l.pendingLocked()
	if pending == nil || pending.Frame.PageAlias != pageAlias {
		return false
	}
	for _, existing := range pending.Action.Signals {
		if existing == sig {
			return true
		}
	}
	l.saveLocked()
	pending.Action.Signals = append(pending.Action.Signals, sig)
	return true
}

// Undo reverts the most recent mutation. It reports false when there is
// nothing to revert; a second Undo in a row does nothing.
func (l *Ledger) Undo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := l.undo
	if !cp.valid {
		return false
	}
	l.entries = l.entries[:cp.n]
	if cp.n > 0 {
		l.entries[cp.n-1] = cp.last
	}
	l.undo = checkpoint{}
	return true
}

// Current returns a deep copy of all committed and pending entries in order.
func (l *Ledger) Current() []schemas.ActionInContext {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]schemas.ActionInContext, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out
}

// Len returns the number of entries, pending included.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// HasPending reports whether the last entry is still open for amendment.
func (l *Ledger) HasPending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingLocked() != nil
}

func (l *Ledger) saveLocked() {
	l.undo = checkpoint{valid: true, n: len(l.entries)}
	if n := len(l.entries); n > 0 {
		l.undo.last = l.entries[n-1].Clone()
	}
}

func amendLocked(pending *schemas.ActionInContext, aic schemas.ActionInContext) {
	next := aic.Clone()
	next.Committed = false
	// Signals already observed for the superseded entry still apply.
	if len(next.Action.Signals) == 0 {
		next.Action.Signals = pending.Action.Signals
	}
	*pending = next
}

func (l *Ledger) appendLocked(aic schemas.ActionInContext) {
	l.commitLocked()
	aic = aic.Clone()
	aic.Committed = false
	l.entries = append(l.entries, aic)
}

func (l *Ledger) commitLocked() {
	if pending := l.pendingLocked(); pending != nil {
		pending.Committed = true
	}
}

func (l *Ledger) lastLocked() *schemas.ActionInContext {
	if len(l.entries) == 0 {
		return nil
	}
	return &l.entries[len(l.entries)-1]
}

func (l *Ledger) pendingLocked() *schemas.ActionInContext {
	last := l.lastLocked()
	if last == nil || last.Committed {
		return nil
	}
	return last
}
