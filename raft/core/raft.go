package core

import (
	"github.com/seastarlab/tidal/raft/core/conf"
	raftpd "github.com/seastarlab/tidal/raft/proto"
)

// Node is the driver interface of one cluster member. The engine is
// purely event-driven and single-threaded: the host serializes Tick,
// Step and Propose, and forwards every returned message through its
// transport.
type Node interface {
	// Tick advances the node's monotonic clock.
	Tick(nowMillis uint64) []raftpd.Message

	// Step handles a message that arrived from a peer.
	Step(msg *raftpd.Message) []raftpd.Message

	// Propose submits one opaque command; ErrNotLeader when this node
	// cannot accept it.
	Propose(command []byte) (uint64, error)

	// Status reads the volatile state of the node.
	Status() Status

	// CommittedSince returns committed entries after index last, for
	// the host's state machine apply loop.
	CommittedSince(last uint64) []raftpd.Entry

	// Err reports the storage failure that stopped the node, if any.
	Err() error
}

// MakeNode return a Node interface.
func MakeNode(config *conf.Config, ports Ports) (Node, error) {
	return MakeRawNode(config, ports)
}
