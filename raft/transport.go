package raft

import (
	raftpd "github.com/seastarlab/tidal/raft/proto"
)

// Transporter delivers one message to the addressed peer. Delivery is
// best-effort: the protocol tolerates loss and reordering, so a failed
// send is logged and forgotten.
type Transporter interface {
	Send(to uint64, msg *raftpd.Message) error
}
