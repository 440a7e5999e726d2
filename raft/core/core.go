package core

import (
	log "github.com/sirupsen/logrus"

	"github.com/seastarlab/tidal/raft/core/conf"
	"github.com/seastarlab/tidal/raft/core/holder"
	"github.com/seastarlab/tidal/raft/core/peer"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/utils"
)

type application interface {
	// send message to other node.
	send(msg *raftpd.Message)
}

type core struct {
	// Fields mirrored to the storage port.
	term uint64             // current term
	vote uint64             // vote for
	log  *holder.LogHolder  // log holder

	// Fields just keep in memory.
	id       uint64
	leaderID uint64       // InvalidID until a leader is known
	state    StateRole    // current state role
	nodes    []*peer.Node // information of other nodes in same raft group

	// Fields for time, all monotonic milliseconds.
	now              uint64
	electionDeadline uint64
	nextHeartbeat    uint64
	// leaderLeaseUntil bounds the window in which pre-votes are
	// rejected because a leader was heard from recently.
	leaderLeaseUntil uint64

	electionMin uint64
	electionMax uint64
	heartbeat   uint64

	maxEntriesPerAppend int
	preVote             bool

	storage Storage
	random  Random

	// set once a storage call failed; the node is then inert.
	stopped bool
	err     error

	callback application
}

func makeCore(config *conf.Config, ports Ports, callback application) (*core, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}

	hs, entries, err := ports.Storage.LoadState()
	if err != nil {
		return nil, storageError(err)
	}

	c := new(core)
	c.term = hs.Term
	c.vote = hs.Vote
	if len(entries) == 0 {
		c.log = holder.MakeLogHolder(config.ID)
	} else {
		c.log = holder.RebuildLogHolder(config.ID, entries)
	}

	c.id = config.ID
	c.leaderID = conf.InvalidID
	c.state = RoleFollower

	/* make nodes */
	nextIdx := c.log.LastIndex() + 1
	for _, id := range config.Peers {
		if id != c.id {
			c.nodes = append(c.nodes, peer.MakeNode(c.id, id, nextIdx))
		}
	}

	c.electionMin = config.ElectionTimeoutMin
	c.electionMax = config.ElectionTimeoutMax
	c.heartbeat = config.HeartbeatInterval
	c.maxEntriesPerAppend = config.MaxEntriesPerAppend
	c.preVote = config.PreVote

	c.storage = ports.Storage
	c.random = ports.Random
	c.callback = callback

	c.now = ports.Clock.NowMillis()
	c.resetElectionDeadline()

	log.Debugf("%d build raft at term: %d [last idx: %d, commit idx: %d, peers: %d]",
		c.id, c.term, c.log.LastIndex(), c.log.CommitIndex(), len(c.nodes))

	return c, nil
}

// tick advances the node's clock and fires whatever became due:
// heartbeats for a leader, election rounds for everyone else.
func (c *core) tick(now uint64) {
	if c.stopped {
		return
	}
	if now > c.now {
		c.now = now
	}

	if c.state.IsLeader() {
		if c.now >= c.nextHeartbeat {
			c.broadcastAppend()
			c.nextHeartbeat = c.now + c.heartbeat
		}
		return
	}

	if c.now >= c.electionDeadline {
		if c.preVote && len(c.nodes) > 0 {
			c.preCampaign()
		} else {
			c.campaign()
		}
	}
}

// step processes one inbound message.
func (c *core) step(msg *raftpd.Message) {
	if c.stopped {
		return
	}

	log.Debugf("%d [term: %d] received %v from %d [term: %d]",
		c.id, c.term, msg.Type, msg.From, msg.Term)

	// Pre-vote traffic never touches currentTerm on either side; its
	// term field is advisory only.
	switch msg.Type {
	case raftpd.MsgPreVoteRequest:
		c.handlePreVote(msg)
		return
	case raftpd.MsgPreVoteResponse:
		c.handlePreVoteResponse(msg)
		return
	}

	if msg.Term > c.term {
		log.Infof("%d [term: %d] receive a %v with higher term from %d [term: %d]",
			c.id, c.term, msg.Type, msg.From, msg.Term)
		c.becomeFollower(msg.Term, conf.InvalidID)
		if c.stopped {
			return
		}
	} else if msg.Term < c.term {
		log.Debugf("%d [term: %d] ignore a %v with lower term from %d [term: %d]",
			c.id, c.term, msg.Type, msg.From, msg.Term)
		c.reject(msg)
		return
	}

	switch msg.Type {
	case raftpd.MsgVoteRequest:
		c.handleVote(msg)
	default:
		c.dispatch(msg)
	}
}

// propose first test whether the current role is leader, if true
// appends the command, persists it, and schedules replication.
func (c *core) propose(command []byte) (uint64, error) {
	if c.stopped {
		return conf.InvalidIndex, c.err
	}
	if !c.state.IsLeader() {
		return conf.InvalidIndex, ErrNotLeader
	}

	entry := raftpd.Entry{
		Index:   c.log.LastIndex() + 1,
		Term:    c.term,
		Command: command,
	}

	// Leader Append-Only: a leader never overwrites or deletes
	// entries in its log; it only appends new entries.
	c.log.Append([]raftpd.Entry{entry})
	if err := c.storage.AppendLog([]raftpd.Entry{entry}); err != nil {
		c.fail(err)
		return conf.InvalidIndex, c.err
	}

	c.poll(entry.Index)
	c.broadcastAppend()

	return entry.Index, nil
}

// Status read runtime information of raft.
func (c *core) Status() Status {
	return Status{
		ID:           c.id,
		Term:         c.term,
		Role:         c.state,
		LeaderID:     c.leaderID,
		LastLogIndex: c.log.LastIndex(),
		CommitIndex:  c.log.CommitIndex(),
	}
}

// CommittedSince return a copy of the committed entries with index
// greater than last, for the host's apply loop.
func (c *core) CommittedSince(last uint64) []raftpd.Entry {
	commit := c.log.CommitIndex()
	if last >= commit {
		return nil
	}
	entries := make([]raftpd.Entry, commit-last)
	copy(entries, c.log.Slice(last+1, commit+1))
	return entries
}

// Err report the storage failure that poisoned the node, if any.
func (c *core) Err() error {
	return c.err
}

func (c *core) quorum() int {
	return (len(c.nodes)+1)/2 + 1
}

func (c *core) getNodeByID(nodeID uint64) *peer.Node {
	for i := 0; i < len(c.nodes); i++ {
		if c.nodes[i].ID == nodeID {
			return c.nodes[i]
		}
	}
	return nil
}

func (c *core) fail(err error) {
	c.stopped = true
	c.err = storageError(err)
	log.Errorf("%d [term: %d] storage failure, node stopped: %v", c.id, c.term, err)
}

func (c *core) assertInvariants() {
	utils.Assert(c.log.CommitIndex() <= c.log.LastIndex(),
		"%d [term: %d] commit: %d beyond last idx: %d",
		c.id, c.term, c.log.CommitIndex(), c.log.LastIndex())
}
