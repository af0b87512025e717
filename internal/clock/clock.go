// Package clock provides the time source and local identifier generator
// used for optimistic entities. Temp ids are ULIDs drawn from a monotonic
// entropy source, so ids generated by one generator sort in creation order
// even within the same millisecond.
package clock

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Clock is a source of wall time
type Clock interface {
	Now() time.Time
}

// System is the real wall clock
type System struct{}

// Now returns the current UTC time
func (System) Now() time.Time { return time.Now().UTC() }

// Generator produces monotonically ordered temp ids and sequence numbers
type Generator struct {
	mu      sync.Mutex
	clock   Clock
	entropy *ulid.MonotonicEntropy
	seq     uint64
}

// NewGenerator creates a Generator bound to the given clock
func NewGenerator(c Clock) *Generator {
	if c == nil {
		c = System{}
	}
	return &Generator{
		clock:   c,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Now returns the generator's clock time
func (g *Generator) Now() time.Time {
	return g.clock.Now()
}

// Next returns a new temp id, its timestamp and a strictly increasing
// sequence number used to break created_at ties.
func (g *Generator) Next() (string, time.Time, uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	id, err := ulid.New(ulid.Timestamp(now), g.entropy)
	if err != nil {
		// monotonic entropy overflowed inside one millisecond
		id = ulid.MustNew(ulid.Timestamp(now.Add(time.Millisecond)), rand.Reader)
	}
	g.seq++
	return "tmp_" + id.String(), now, g.seq
}

// Seq returns the next sequence number without allocating an id
func (g *Generator) Seq() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return g.seq
}

// Fixed is a manually advanced clock for tests and replays
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed creates a Fixed clock starting at t
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t}
}

// Now returns the current fixed time
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
