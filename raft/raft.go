// Package raft hosts the consensus core behind a thread-safe service:
// a wall-clock ticker drives elections and heartbeats, committed
// entries stream into the application callback, and outbound messages
// flow through the injected transport.
package raft

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/seastarlab/tidal/raft/core"
	"github.com/seastarlab/tidal/raft/core/conf"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/utils"
)

// Application is the state machine interface. ApplyEntry is invoked
// once per committed entry, in log order, outside the raft lock.
type Application interface {
	ApplyEntry(entry *raftpd.Entry)
}

// Raft is one cluster member with storage, periodic timer and
// transport attached. Raft is thread-safe.
type Raft struct {
	mutex sync.Mutex

	id      uint64
	node    core.Node
	clock   core.Clock
	applied uint64

	timer     *utils.Timer
	callback  Application
	transport Transporter
}

// MakeRaft build a member from config and durable storage, and start
// its tick loop with the given granularity (milliseconds).
func MakeRaft(
	config *conf.Config,
	storage core.Storage,
	tickSize int,
	application Application,
	transport Transporter) (*Raft, error) {

	clock := core.SystemClock()
	node, err := core.MakeNode(config, core.Ports{
		Storage: storage,
		Clock:   clock,
		Random:  core.SystemRandom(),
	})
	if err != nil {
		return nil, err
	}

	raft := &Raft{
		id:        config.ID,
		node:      node,
		clock:     clock,
		applied:   node.Status().CommitIndex,
		callback:  application,
		transport: transport,
	}

	raft.service(tickSize)

	return raft, nil
}

// Kill stop the tick loop. In-flight messages become no-ops.
func (raft *Raft) Kill() {
	raft.timer.Stop()
}

// GetState return current term, and whether this node believes it is
// the leader.
func (raft *Raft) GetState() (uint64, bool) {
	status := raft.Status()
	return status.Term, status.Role.IsLeader()
}

// Status read runtime information of raft.
func (raft *Raft) Status() core.Status {
	raft.mutex.Lock()
	defer raft.mutex.Unlock()

	return raft.node.Status()
}

// Err report the storage failure that stopped the node, if any.
func (raft *Raft) Err() error {
	raft.mutex.Lock()
	defer raft.mutex.Unlock()

	return raft.node.Err()
}

// Propose submit one command; the returned index is where it will
// commit if this node remains leader.
func (raft *Raft) Propose(command []byte) (uint64, error) {
	raft.mutex.Lock()
	defer raft.mutex.Unlock()

	return raft.node.Propose(command)
}

// Step feed one inbound message from the transport.
func (raft *Raft) Step(msg *raftpd.Message) {
	raft.mutex.Lock()
	msgs := raft.node.Step(msg)
	entries := raft.drainCommitted()
	raft.mutex.Unlock()

	raft.apply(entries)
	raft.sendAll(msgs)
}

// service create tick per tickSize milliseconds; each tick drives the
// core clock and dispatches whatever it produced.
func (raft *Raft) service(tickSize int) {
	raft.timer = utils.StartTimer(tickSize, func(time.Time) {
		raft.mutex.Lock()
		msgs := raft.node.Tick(raft.clock.NowMillis())
		entries := raft.drainCommitted()
		raft.mutex.Unlock()

		raft.apply(entries)
		raft.sendAll(msgs)
	})
}

func (raft *Raft) drainCommitted() []raftpd.Entry {
	entries := raft.node.CommittedSince(raft.applied)
	if len(entries) > 0 {
		raft.applied = entries[len(entries)-1].Index
	}
	return entries
}

func (raft *Raft) apply(entries []raftpd.Entry) {
	for i := range entries {
		raft.callback.ApplyEntry(&entries[i])
	}
}

func (raft *Raft) sendAll(msgs []raftpd.Message) {
	for i := range msgs {
		if err := raft.transport.Send(msgs[i].To, &msgs[i]); err != nil {
			log.Debugf("%d failed to send %v to %d: %v",
				raft.id, msgs[i].Type, msgs[i].To, err)
		}
	}
}
