package limiter

import (
	"context"
	"time"
)

// OpKind enumerates the counter-store operations a limiter can batch.
type OpKind int

const (
	OpRemoveRange OpKind = iota // drop records with score in [Min, Max]
	OpAdd                       // insert Member at Score
	OpCount                     // count records with score in [Min, Max]
	OpExpire                    // expire the whole key after TTL
)

// Op is one step of an atomic batch against a single key's record set.
// Scores are Unix microseconds; bounds are inclusive.
type Op struct {
	Kind   OpKind
	Min    int64
	Max    int64
	Score  int64
	Member string
	TTL    time.Duration
}

// RemoveRange builds an OpRemoveRange op.
func RemoveRange(min, max int64) Op {
	return Op{Kind: OpRemoveRange, Min: min, Max: max}
}

// Add builds an OpAdd op.
func Add(score int64, member string) Op {
	return Op{Kind: OpAdd, Score: score, Member: member}
}

// Count builds an OpCount op.
func Count(min, max int64) Op {
	return Op{Kind: OpCount, Min: min, Max: max}
}

// Expire builds an OpExpire op.
func Expire(ttl time.Duration) Op {
	return Op{Kind: OpExpire, TTL: ttl}
}

// Store is the shared counter store backing the limiter.
type Store interface {
	// Exec applies ops to key in order as a single atomic unit: no other
	// caller observes or interleaves with a partially applied batch.
	// It returns the result of the last OpCount in ops, or 0 if there is none.
	Exec(ctx context.Context, key string, ops ...Op) (int64, error)

	// Count reads the number of records with score in [min, max] without mutating key.
	Count(ctx context.Context, key string, min, max int64) (int64, error)

	// Reset drops every record held for key.
	Reset(ctx context.Context, key string) error
}

// record is one entry of a key's record set in the memory store.
type record struct {
	score  int64
	member string
}

// recordSet is the ordered record collection for one key in the memory store.
type recordSet struct {
	records   []record  // sorted by score, then member
	expiresAt time.Time // zero means no expiry
}
