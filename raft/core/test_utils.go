package core

import (
	"github.com/seastarlab/tidal/raft/core/conf"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/raft/storage"
)

// Deterministic ports for tests: the clock only seeds construction
// (tests drive time through Tick), and the random source replays a
// fixed draw so election deadlines are predictable.

type scriptClock struct {
	now uint64
}

func (c *scriptClock) NowMillis() uint64 { return c.now }

type scriptRandom struct {
	draw uint64
}

func (r *scriptRandom) UniformMillis(min, max uint64) uint64 {
	if r.draw < min {
		return min
	}
	if r.draw > max {
		return max
	}
	return r.draw
}

type raftOpt func(c *RawNode)

func term(idx uint64) raftOpt {
	return func(c *RawNode) {
		c.term = idx
	}
}

func vote(idx uint64) raftOpt {
	return func(c *RawNode) {
		c.vote = idx
	}
}

func state(state StateRole) raftOpt {
	return func(c *RawNode) {
		c.state = state
	}
}

func leaderLease(until uint64) raftOpt {
	return func(c *RawNode) {
		c.leaderLeaseUntil = until
	}
}

// seedStorage preload a memory store the way a previous incarnation
// of the node would have left it.
func seedStorage(store *storage.Memory, term, vote uint64, entries []raftpd.Entry) {
	if err := store.SaveMeta(term, vote); err != nil {
		panic(err)
	}
	if err := store.AppendLog(entries); err != nil {
		panic(err)
	}
}

func makeTestRaft(
	id uint64,
	peers []uint64,
	store *storage.Memory,
	draw uint64,
	opts ...raftOpt,
) *RawNode {
	config := conf.DefaultConfig(id, peers)
	ports := Ports{
		Storage: store,
		Clock:   &scriptClock{},
		Random:  &scriptRandom{draw: draw},
	}

	raft, err := MakeRawNode(config, ports)
	if err != nil {
		panic(err)
	}

	for _, opt := range opts {
		opt(raft)
	}
	return raft
}

func makeEntry(idx, term uint64, command string) raftpd.Entry {
	return raftpd.Entry{
		Index:   idx,
		Term:    term,
		Command: []byte(command),
	}
}
