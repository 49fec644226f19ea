// Package replog implements the Replicated Log: an ordered sequence of
// opaque command entries plus per-entry persistence-witness sets, a
// committed offset, and the operations a Node Service uses to enqueue
// commands, record which peers have durably accepted them, and advance the
// commit frontier once a majority has. A Log is owned exclusively by the
// Node Service goroutine that drives it; it performs no internal locking.
package replog

import (
	"github.com/rs/zerolog/log"

	"github.com/johnmq/raft/fabric"
)

// Entry is a single log record: its 0-based offset and opaque command.
// Once enqueued, an Entry's Command is never mutated.
type Entry struct {
	Offset  int
	Command interface{}
}

// Persistence is the pluggable sink a Replicated Log applies committed
// entries to, and forwards read queries to. Implementations are expected to
// answer Commit in the order entries are committed.
type Persistence interface {
	// Commit applies a newly committed command to the sink.
	Commit(cmd interface{}) error

	// Query forwards a read query to the sink. A correct implementation
	// may answer asynchronously or not at all for a given call - callers
	// must not assume reply receives a value before returning.
	Query(query interface{}, reply chan<- interface{})
}

// Log is the Replicated Log described by the consensus protocol: entries,
// their persistence witnesses, and the committed offset.
type Log struct {
	entries     []Entry
	witnesses   []map[fabric.Host]struct{}
	committed   int
	persistence Persistence
}

// New constructs an empty Log backed by the given Persistence sink.
func New(persistence Persistence) *Log {
	return &Log{persistence: persistence}
}

// Len returns the total number of entries enqueued.
func (l *Log) Len() int {
	return len(l.entries)
}

// CommittedOffset returns the non-decreasing committed offset.
func (l *Log) CommittedOffset() int {
	return l.committed
}

// Entries returns the entries from "from" (inclusive) to the end of the
// log. The returned slice must not be mutated by the caller.
func (l *Log) Entries(from int) []Entry {
	if from < 0 || from >= len(l.entries) {
		return nil
	}
	return l.entries[from:]
}

// At returns the entry at offset, if any.
func (l *Log) At(offset int) (Entry, bool) {
	if offset < 0 || offset >= len(l.entries) {
		return Entry{}, false
	}
	return l.entries[offset], true
}

// Enqueue appends cmd as a new entry and initializes an empty witness set
// for it. It returns the new entry's 0-based offset.
func (l *Log) Enqueue(cmd interface{}) int {
	offset := len(l.entries)
	l.entries = append(l.entries, Entry{Offset: offset, Command: cmd})
	l.witnesses = append(l.witnesses, make(map[fabric.Host]struct{}))
	return offset
}

// Persisted records that host has durably accepted the entry at offset.
// Duplicate inserts for the same (offset, host) pair are no-ops.
func (l *Log) Persisted(offset int, host fabric.Host) error {
	if offset < 0 || offset >= len(l.witnesses) {
		return ErrUnknownOffset
	}
	l.witnesses[offset][host] = struct{}{}
	return nil
}

// WitnessCount returns how many hosts have reported persisting the entry
// at offset.
func (l *Log) WitnessCount(offset int) int {
	if offset < 0 || offset >= len(l.witnesses) {
		return 0
	}
	return len(l.witnesses[offset])
}

// CommitUpto advances the committed offset toward min(target, Len()),
// applying each newly committed entry to the Persistence sink in order.
func (l *Log) CommitUpto(target int) error {
	if target > len(l.entries) {
		target = len(l.entries)
	}

	for l.committed < target {
		entry := l.entries[l.committed]
		if err := l.persistence.Commit(entry.Command); err != nil {
			return err
		}
		l.committed++
		log.Debug().Int("offset", entry.Offset).Msg("replog: committed entry")
	}

	return nil
}

// DiscardDownto truncates uncommitted tail entries so that Len() == newLen.
// It never drops an entry with index < CommittedOffset.
func (l *Log) DiscardDownto(newLen int) {
	for len(l.entries) > newLen && len(l.entries) > l.committed {
		l.entries = l.entries[:len(l.entries)-1]
		l.witnesses = l.witnesses[:len(l.witnesses)-1]
	}
}

// safeToCommit reports whether the entry at offset has a persistence
// witness set of size >= majoritySize.
func (l *Log) safeToCommit(offset, majoritySize int) bool {
	return offset < len(l.witnesses) && len(l.witnesses[offset]) >= majoritySize
}

// AutocommitIfSafe advances the committed offset by at most one, if the
// entry currently at the commit frontier has reached majoritySize
// witnesses. It is meant to be called on every Leader tick.
func (l *Log) AutocommitIfSafe(majoritySize int) error {
	target := l.committed
	if !l.safeToCommit(target, majoritySize) {
		return nil
	}
	return l.CommitUpto(target + 1)
}

// QueryPersistence forwards a read query to the Persistence sink.
func (l *Log) QueryPersistence(query interface{}, reply chan<- interface{}) {
	l.persistence.Query(query, reply)
}
