package core

import (
	"math/rand"
	"time"

	raftpd "github.com/seastarlab/tidal/raft/proto"
)

// Storage is the durable store capability consumed by the core. Every
// call is synchronous; a failure on any path is fatal to the node.
type Storage interface {
	// LoadState read the persisted metadata and the full log. A fresh
	// store reports term zero, the invalid id as vote, and no entries.
	LoadState() (raftpd.HardState, []raftpd.Entry, error)

	// SaveMeta persist term and vote. The core calls it before any
	// outbound message whose correctness depends on the new values.
	SaveMeta(term, vote uint64) error

	// AppendLog persist entries at their indexes. Called before a
	// follower answers success, and before a leader counts its own
	// append toward commit.
	AppendLog(entries []raftpd.Entry) error

	// TruncateLog drop every entry with index >= from. Called before
	// AppendLog when a conflicting suffix was detected.
	TruncateLog(from uint64) error
}

// Clock provides monotonic milliseconds.
type Clock interface {
	NowMillis() uint64
}

// Random provides uniform draws for election timeout randomization.
type Random interface {
	UniformMillis(min, max uint64) uint64
}

// Ports bundles the capabilities injected at construction.
type Ports struct {
	Storage Storage
	Clock   Clock
	Random  Random
}

type systemClock struct {
	start time.Time
}

func (c *systemClock) NowMillis() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

// SystemClock return a Clock backed by the process monotonic clock.
func SystemClock() Clock {
	return &systemClock{start: time.Now()}
}

type systemRandom struct{}

func (systemRandom) UniformMillis(min, max uint64) uint64 {
	if min >= max {
		return min
	}
	return min + uint64(rand.Int63n(int64(max-min+1)))
}

// SystemRandom return a Random backed by math/rand.
func SystemRandom() Random {
	return systemRandom{}
}
