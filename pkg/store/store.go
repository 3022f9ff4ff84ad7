// Package store provides bounded in-memory storage for processed queries.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of records kept when no capacity is given.
const DefaultCapacity = 1000

// Source identifies where a query came from.
type Source string

const (
	SourceHTTP     Source = "http"
	SourceGRPC     Source = "grpc"
	SourceWeb      Source = "web"
	SourceTelegram Source = "telegram"
	SourceInline   Source = "inline"
	SourceCLI      Source = "cli"
)

// Record is one processed query.
type Record struct {
	ID        string        `json:"id"`
	Source    Source        `json:"source,omitempty"`
	Query     string        `json:"query"`
	Result    string        `json:"result"`
	Message   string        `json:"message"`
	Error     bool          `json:"error"`
	Kind      string        `json:"kind,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Stats summarizes every record ever stored, including evicted ones.
type Stats struct {
	Total     int64            `json:"total"`
	Succeeded int64            `json:"succeeded"`
	Failed    int64            `json:"failed"`
	ByKind    map[string]int64 `json:"byKind"`
}

// Store is a thread-safe ring of the most recent records.
type Store struct {
	mu      sync.RWMutex
	records []Record // ring buffer, next write at head
	head    int
	size    int
	index   map[string]int // id -> slot
	total   int64
	failed  int64
	byKind  map[string]int64
}

// New creates an empty store keeping at most capacity records.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		records: make([]Record, capacity),
		index:   make(map[string]int),
		byKind:  make(map[string]int64),
	}
}

// Capacity returns the maximum number of retained records.
func (s *Store) Capacity() int {
	return len(s.records)
}

// Record stores r, filling in ID and CreatedAt when they are empty, and
// returns the stored copy. The oldest record is evicted when the store is
// full.
func (s *Store) Record(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == len(s.records) {
		// A reused ID may already point at a newer slot.
		if old := s.records[s.head].ID; s.index[old] == s.head {
			delete(s.index, old)
		}
	} else {
		s.size++
	}
	s.records[s.head] = r
	s.index[r.ID] = s.head
	s.head = (s.head + 1) % len(s.records)

	s.total++
	if r.Error {
		s.failed++
	}
	if r.Kind != "" {
		s.byKind[r.Kind]++
	}
	return r
}

// Get retrieves a retained record by ID.
func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.index[id]
	if !ok {
		return Record{}, fmt.Errorf("record '%s' not found", id)
	}
	return s.records[slot], nil
}

// List returns up to limit retained records, newest first. A limit <= 0
// returns all of them.
func (s *Store) List(limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.size
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]Record, 0, n)
	for i := 1; i <= n; i++ {
		slot := (s.head - i + len(s.records)) % len(s.records)
		result = append(result, s.records[slot])
	}
	return result
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Stats returns counters over all records ever stored.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKind := make(map[string]int64, len(s.byKind))
	for k, v := range s.byKind {
		byKind[k] = v
	}
	return Stats{
		Total:     s.total,
		Succeeded: s.total - s.failed,
		Failed:    s.failed,
		ByKind:    byKind,
	}
}
