// Package idempotency provides the keyed entry store backing the
// idempotent exchange port. Entries carry a status and expire by TTL;
// eviction happens lazily on read.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bnzr-team/grinder/internal/core"
)

// Status of an idempotency entry.
type Status string

const (
	StatusInflight Status = "INFLIGHT"
	StatusDone     Status = "DONE"
	StatusFailed   Status = "FAILED"
)

// Default TTLs: inflight short, done long.
const (
	DefaultInflightTTLMs = 300_000
	DefaultDoneTTLMs     = 86_400_000
)

// Entry is one tracked operation.
type Entry struct {
	Key                string
	Status             Status
	OpName             string
	RequestFingerprint string
	CreatedAtMs        int64
	ExpiresAtMs        int64
	Result             string
	ErrorKind          string
}

// Store is the concurrency-safe entry store.
type Store interface {
	Get(key string) (Entry, bool)
	PutIfAbsent(entry Entry) bool
	MarkDone(key, result string, expiresAtMs int64)
	MarkFailed(key, errorKind string)
}

// InMemoryStore implements Store with a mutex-guarded map.
type InMemoryStore struct {
	mu      sync.Mutex
	clock   core.Clock
	entries map[string]Entry
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(clock core.Clock) *InMemoryStore {
	return &InMemoryStore{clock: clock, entries: make(map[string]Entry)}
}

// Get returns the live entry for a key. Expired entries are evicted.
func (s *InMemoryStore) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	if e.ExpiresAtMs > 0 && s.clock.NowMs() >= e.ExpiresAtMs {
		delete(s.entries, key)
		return Entry{}, false
	}
	return e, true
}

// PutIfAbsent inserts the entry unless a live one already exists. A
// FAILED entry does not count as live and is replaced.
// Returns true if the insert won.
func (s *InMemoryStore) PutIfAbsent(entry Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[entry.Key]; ok && existing.Status != StatusFailed {
		if existing.ExpiresAtMs == 0 || s.clock.NowMs() < existing.ExpiresAtMs {
			return false
		}
	}
	s.entries[entry.Key] = entry
	return true
}

// MarkDone transitions an entry to DONE with the cached result.
func (s *InMemoryStore) MarkDone(key, result string, expiresAtMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return
	}
	e.Status = StatusDone
	e.Result = result
	e.ExpiresAtMs = expiresAtMs
	s.entries[key] = e
}

// MarkFailed transitions an entry to FAILED so a later attempt may
// retry.
func (s *InMemoryStore) MarkFailed(key, errorKind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return
	}
	e.Status = StatusFailed
	e.ErrorKind = errorKind
	s.entries[key] = e
}

// Len returns the live entry count (expired entries may be included
// until touched).
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ComputeKey derives the idempotency key H(scope || op || sorted
// params). Params must exclude the timestamp so the same intent maps to
// the same key across retries.
func ComputeKey(scope, op string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(scope)
	b.WriteByte('|')
	b.WriteString(op)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ComputeFingerprint derives the audit fingerprint, which unlike the
// idempotency key includes the timestamp.
func ComputeFingerprint(scope, op string, ts int64, params map[string]string) string {
	withTS := make(map[string]string, len(params)+1)
	for k, v := range params {
		withTS[k] = v
	}
	withTS["ts"] = fmt.Sprintf("%d", ts)
	return ComputeKey(scope, op, withTS)
}
