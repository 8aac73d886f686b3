package limiter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memoryStore implements the Store interface using an in-memory map.
// A single mutex serialises every batch, which makes Exec atomic per key.
type memoryStore struct {
	mu   sync.Mutex
	sets map[string]*recordSet
	now  func() time.Time
}

// MemoryOption configures the memory store.
type MemoryOption func(*memoryStore)

// WithMemoryClock replaces the clock used to evaluate key expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *memoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates a new in-memory counter store.
func NewMemoryStore(opts ...MemoryOption) Store {
	s := &memoryStore{
		sets: make(map[string]*recordSet),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exec implements the Store interface for memory storage.
func (s *memoryStore) Exec(ctx context.Context, key string, ops ...Op) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// validate the whole batch first so a bad op never leaves it half applied
	for _, op := range ops {
		if op.Kind < OpRemoveRange || op.Kind > OpExpire {
			return 0, fmt.Errorf("%w: %d", ErrUnknownOp, op.Kind)
		}
	}

	set := s.liveSet(key)
	if set == nil {
		set = &recordSet{}
	}

	var count int64
	for _, op := range ops {
		switch op.Kind {
		case OpRemoveRange:
			kept := set.records[:0]
			for _, r := range set.records {
				if r.score < op.Min || r.score > op.Max {
					kept = append(kept, r)
				}
			}
			set.records = kept
		case OpAdd:
			set.add(record{score: op.Score, member: op.Member})
		case OpCount:
			count = set.count(op.Min, op.Max)
		case OpExpire:
			set.expiresAt = s.now().Add(op.TTL)
		}
	}

	// like a sorted set, an empty key does not exist (and loses its ttl)
	if len(set.records) == 0 {
		delete(s.sets, key)
	} else {
		s.sets[key] = set
	}
	return count, nil
}

// Count implements the Store interface for memory storage.
func (s *memoryStore) Count(ctx context.Context, key string, min, max int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.liveSet(key)
	if set == nil {
		return 0, nil
	}
	return set.count(min, max), nil
}

// Reset implements the Store interface for memory storage.
func (s *memoryStore) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, key)
	return nil
}

// liveSet returns the set for key, dropping it first if it has expired.
// Caller must hold s.mu.
func (s *memoryStore) liveSet(key string) *recordSet {
	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	if !set.expiresAt.IsZero() && !s.now().Before(set.expiresAt) {
		delete(s.sets, key)
		return nil
	}
	return set
}

// add inserts r keeping the set ordered; an existing member is moved to the new score.
func (rs *recordSet) add(r record) {
	for i, existing := range rs.records {
		if existing.member == r.member {
			rs.records = append(rs.records[:i], rs.records[i+1:]...)
			break
		}
	}
	i := sort.Search(len(rs.records), func(i int) bool {
		other := rs.records[i]
		if other.score != r.score {
			return other.score > r.score
		}
		return other.member > r.member
	})
	rs.records = append(rs.records, record{})
	copy(rs.records[i+1:], rs.records[i:])
	rs.records[i] = r
}

func (rs *recordSet) count(min, max int64) int64 {
	lo := sort.Search(len(rs.records), func(i int) bool { return rs.records[i].score >= min })
	hi := sort.Search(len(rs.records), func(i int) bool { return rs.records[i].score > max })
	if hi < lo {
		return 0
	}
	return int64(hi - lo)
}
