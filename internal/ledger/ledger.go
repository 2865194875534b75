// Package ledger tracks request identifiers and cached replies to implement
// the two delivery semantics on an unreliable transport.
package ledger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Semantics selects how duplicate transmissions of a request are handled.
type Semantics int

const (
	// AtMostOnce drops retransmissions silently: the operation executes at
	// most once per request id and the client times out if the reply is lost.
	AtMostOnce Semantics = iota
	// AtLeastOnce resends the cached reply for a retransmission, or
	// re-executes when the cache was invalidated by a later mutation.
	AtLeastOnce
)

func (s Semantics) String() string {
	if s == AtLeastOnce {
		return "at-least-once"
	}
	return "at-most-once"
}

// ParseSemantics accepts the command-line spelling of a semantics mode.
func ParseSemantics(s string) (Semantics, error) {
	switch strings.ToLower(s) {
	case "at-most-once":
		return AtMostOnce, nil
	case "at-least-once":
		return AtLeastOnce, nil
	}
	return 0, fmt.Errorf("unknown semantics %q (want at-most-once or at-least-once)", s)
}

// Verdict tells the dispatcher what to do with an incoming request id.
type Verdict int

const (
	// Execute runs the operation normally.
	Execute Verdict = iota
	// Drop suppresses the retransmission entirely: no execution, no reply.
	Drop
	// Replay resends the cached reply without re-executing.
	Replay
)

// Ledger is the per-request deduplication and reply-cache store. Request ids
// are client-chosen 32-bit integers; entries accumulate for the process
// lifetime.
type Ledger struct {
	mu        sync.Mutex
	semantics Semantics
	seen      map[int32]struct{}
	replies   map[int32][]byte
	log       *zap.Logger
}

func New(semantics Semantics, log *zap.Logger) *Ledger {
	return &Ledger{
		semantics: semantics,
		seen:      make(map[int32]struct{}),
		replies:   make(map[int32][]byte),
		log:       log,
	}
}

func (l *Ledger) Semantics() Semantics { return l.semantics }

// Check probes the ledger for a request id and marks it seen. For a
// duplicate it applies the configured semantics; the returned bytes are the
// cached reply when the verdict is Replay.
//
// Re-execution after cache eviction is a known weak spot of at-least-once:
// a mutating operation whose cached reply was cleared by a later mutation
// will run again and can double-apply. The warning below flags it; callers
// needing exactly-once effects must keep mutating operations idempotent at
// the application level.
func (l *Ledger) Check(id int32) (Verdict, []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[id]; !dup {
		l.seen[id] = struct{}{}
		return Execute, nil
	}
	if l.semantics == AtMostOnce {
		return Drop, nil
	}
	if cached, ok := l.replies[id]; ok {
		return Replay, cached
	}
	l.log.Warn("duplicate request with no cached reply, re-executing",
		zap.Int32("request_id", id))
	return Execute, nil
}

// RecordSuccess caches the encoded reply for the id. A mutating operation
// first invalidates the entire cache: any earlier cached confirmation may
// describe state the mutation just changed. The mutating request's own reply
// is cached after the purge.
func (l *Ledger) RecordSuccess(id int32, reply []byte, mutating bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[id] = struct{}{}
	if mutating {
		l.replies = make(map[int32][]byte)
	}
	l.replies[id] = reply
}

// RecordFailure marks the id seen without caching: error replies are never
// replayed, and any stale cache entry for the id is dropped.
func (l *Ledger) RecordFailure(id int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[id] = struct{}{}
	delete(l.replies, id)
}
