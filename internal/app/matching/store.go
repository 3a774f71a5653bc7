package matching

import (
	"sort"
	"sync"

	"github.com/dkeye/Duet/internal/domain"
)

// queue is a FIFO of waiting entries, oldest first.
type queue struct {
	items []domain.WaitingEntry
}

func (q *queue) push(e domain.WaitingEntry) { q.items = append(q.items, e) }

func (q *queue) pop() (domain.WaitingEntry, bool) {
	if len(q.items) == 0 {
		return domain.WaitingEntry{}, false
	}
	e := q.items[0]
	q.items[0] = domain.WaitingEntry{}
	q.items = q.items[1:]
	return e, true
}

func (q *queue) remove(conn domain.ConnID) int {
	kept := q.items[:0]
	removed := 0
	for _, e := range q.items {
		if e.Conn == conn {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = domain.WaitingEntry{}
	}
	q.items = kept
	return removed
}

func (q *queue) contains(conn domain.ConnID) bool {
	for _, e := range q.items {
		if e.Conn == conn {
			return true
		}
	}
	return false
}

func (q *queue) len() int { return len(q.items) }

// Store holds every waiting pool of this process: one random pool and one
// pool per region, created on first use and dropped once empty.
// A single mutex guards all pools.
type Store struct {
	mu      sync.Mutex
	random  queue
	regions map[string]*queue
}

func NewStore() *Store {
	return &Store{regions: make(map[string]*queue)}
}

// Snapshot is a point in time view of pool sizes.
type Snapshot struct {
	Random  int            `json:"random_waiting"`
	Regions map[string]int `json:"region_waiting"`
}

// Total counts every waiting entry across the store.
func (s Snapshot) Total() int {
	n := s.Random
	for _, v := range s.Regions {
		n += v
	}
	return n
}

// pool returns the target queue; callers hold s.mu.
func (s *Store) pool(mode domain.Mode, region string) *queue {
	if mode == domain.ModeRandom {
		return &s.random
	}
	q, ok := s.regions[region]
	if !ok {
		q = &queue{}
		s.regions[region] = q
	}
	return q
}

// MatchOrEnqueue pops the oldest entry of the target pool that is not the
// caller itself. If none is left the caller is appended and ok is false.
// Check, pop and enqueue happen under one lock acquisition.
func (s *Store) MatchOrEnqueue(mode domain.Mode, caller domain.WaitingEntry) (peer domain.WaitingEntry, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.pool(mode, caller.Region)
	for {
		e, more := q.pop()
		if !more {
			break
		}
		if e.Conn == caller.Conn {
			continue
		}
		s.gcRegion(mode, caller.Region, q)
		return e, true
	}
	q.push(caller)
	return domain.WaitingEntry{}, false
}

func (s *Store) gcRegion(mode domain.Mode, region string, q *queue) {
	if mode == domain.ModeRegion && q.len() == 0 {
		delete(s.regions, region)
	}
}

// Remove drops every entry of conn from every pool. Removing an absent
// connection is a no-op.
func (s *Store) Remove(conn domain.ConnID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.random.remove(conn)
	for region, q := range s.regions {
		removed += q.remove(conn)
		if q.len() == 0 {
			delete(s.regions, region)
		}
	}
	return removed
}

// contains reports whether conn waits in any pool.
func (s *Store) contains(conn domain.ConnID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.random.contains(conn) {
		return true
	}
	for _, q := range s.regions {
		if q.contains(conn) {
			return true
		}
	}
	return false
}

// positions counts how many times conn appears across the store.
func (s *Store) positions(conn domain.ConnID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	all := append([]*queue{&s.random}, s.regionQueues()...)
	for _, q := range all {
		for _, e := range q.items {
			if e.Conn == conn {
				n++
			}
		}
	}
	return n
}

func (s *Store) regionQueues() []*queue {
	keys := make([]string, 0, len(s.regions))
	for k := range s.regions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*queue, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.regions[k])
	}
	return out
}

// waiting returns the entries of one pool, oldest first.
func (s *Store) waiting(mode domain.Mode, region string) []domain.WaitingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var q *queue
	if mode == domain.ModeRandom {
		q = &s.random
	} else if q = s.regions[domain.NormalizeRegion(region)]; q == nil {
		return nil
	}
	return append([]domain.WaitingEntry(nil), q.items...)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Random: s.random.len(), Regions: make(map[string]int, len(s.regions))}
	for region, q := range s.regions {
		snap.Regions[region] = q.len()
	}
	return snap
}
