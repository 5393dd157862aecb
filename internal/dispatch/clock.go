package dispatch

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// LogicalClock is a monotonic logical clock for event ordering.
//
// Events are stamped with a strictly increasing seq number, never wall
// time, so traces of the same calls are identical across runs.
//
// Thread-safety: LogicalClock is safe for concurrent use (atomic operations).
type LogicalClock struct {
	seq atomic.Int64
}

// NewLogicalClock creates a new clock starting at 0.
func NewLogicalClock() *LogicalClock {
	return &LogicalClock{}
}

// Next returns the next sequence number and increments the clock.
func (c *LogicalClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *LogicalClock) Current() int64 {
	return c.seq.Load()
}

// IDGenerator generates dispatcher instance IDs.
// Implemented by UUIDv7Generator (production) and testutil.FixedIDGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 dispatcher IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
