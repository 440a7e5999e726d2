package core

import (
	"github.com/seastarlab/tidal/raft/core/conf"
	raftpd "github.com/seastarlab/tidal/raft/proto"
)

// RawNode wraps the state machine and buffers the messages each event
// produces, so the host receives them as the return value of the very
// call that caused them.
type RawNode struct {
	*core
	messages []raftpd.Message
}

// MakeRawNode build a node from durable state and start it as
// follower.
func MakeRawNode(config *conf.Config, ports Ports) (*RawNode, error) {
	node := &RawNode{}

	c, err := makeCore(config, ports, node)
	if err != nil {
		return nil, err
	}
	node.core = c
	return node, nil
}

// Tick advances time to now (monotonic milliseconds) and returns the
// outbound messages that became due.
func (node *RawNode) Tick(now uint64) []raftpd.Message {
	node.core.tick(now)
	node.core.assertInvariants()
	return node.take()
}

// Step processes one inbound message and returns the outbound
// messages it produced.
func (node *RawNode) Step(msg *raftpd.Message) []raftpd.Message {
	node.core.step(msg)
	node.core.assertInvariants()
	return node.take()
}

// Propose submits a command on the leader. The returned index is
// durable locally; commitment is observable through Status and
// CommittedSince. Replication traffic is buffered for the next Tick
// or Step.
func (node *RawNode) Propose(command []byte) (uint64, error) {
	return node.core.propose(command)
}

func (node *RawNode) send(msg *raftpd.Message) {
	node.messages = append(node.messages, *msg)
}

func (node *RawNode) take() []raftpd.Message {
	msgs := node.messages
	node.messages = nil
	return msgs
}
