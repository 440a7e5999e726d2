package core

import (
	log "github.com/sirupsen/logrus"

	"github.com/seastarlab/tidal/raft/core/conf"
	"github.com/seastarlab/tidal/raft/core/peer"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/utils"
)

// send stamps the sender and term, then hands the message to the
// application. Pre-vote requests travel with the prospective term the
// sender never actually holds.
func (c *core) send(msg *raftpd.Message) {
	if c.stopped {
		return
	}

	if msg.Type == raftpd.MsgPreVoteRequest {
		msg.Term = c.term + 1
	} else {
		msg.Term = c.term
	}
	msg.From = c.id
	c.callback.send(msg)
}

func (c *core) resetElectionDeadline() {
	previous := c.electionDeadline
	c.electionDeadline = c.now + c.random.UniformMillis(c.electionMin, c.electionMax)

	log.Debugf("%d reset election deadline [%d => %d]",
		c.id, previous, c.electionDeadline)
}

// persistMeta flush (term, vote) through the storage port. It must be
// called before any message that reflects the new values is emitted;
// on failure the node is poisoned and emits nothing at all.
func (c *core) persistMeta() {
	if c.stopped {
		return
	}
	if err := c.storage.SaveMeta(c.term, c.vote); err != nil {
		c.fail(err)
	}
}

func (c *core) becomeFollower(term, leaderID uint64) {
	utils.Assert(term >= c.term, "%d term regression [%d => %d]", c.id, c.term, term)

	changed := term != c.term
	if changed {
		c.term = term
		c.vote = conf.InvalidID
	}
	c.leaderID = leaderID
	c.state = RoleFollower
	c.resetElectionDeadline()
	if changed {
		c.persistMeta()
	}

	if leaderID != conf.InvalidID {
		log.Debugf("%d become %d's follower at term %d", c.id, leaderID, c.term)
	} else {
		log.Debugf("%d become follower at term %d, without leader", c.id, c.term)
	}
}

func (c *core) becomePreCandidate() {
	utils.Assert(c.state != RoleLeader,
		"%d invalid translation [Leader => PreCandidate]", c.id)

	// Becoming a pre-candidate changes our state, but doesn't change
	// anything else. In particular it does not increase currentTerm,
	// does not change votedFor, and persists nothing.
	c.state = RolePreCandidate
	c.leaderID = conf.InvalidID
	c.resetNodesVoteState()
	c.resetElectionDeadline()

	log.Debugf("%d became pre-candidate at term %d", c.id, c.term)
}

func (c *core) becomeCandidate() {
	utils.Assert(c.state != RoleLeader,
		"%d invalid translation [Leader => Candidate]", c.id)

	c.term++
	c.vote = c.id
	c.leaderID = conf.InvalidID
	c.state = RoleCandidate
	c.resetNodesVoteState()
	c.resetElectionDeadline()
	c.persistMeta()

	log.Debugf("%d become candidate at term %d", c.id, c.term)
}

func (c *core) becomeLeader() {
	utils.Assert(c.state == RoleCandidate,
		"%d invalid translation [%v => Leader]", c.id, c.state)
	utils.Assert(c.vote == c.id, "leader will vote itself")

	c.state = RoleLeader
	c.leaderID = c.id

	// When a leader first comes to power, it initializes all nextIndex
	// values to the index just after the last one in its log.
	nextIdx := c.log.LastIndex() + 1
	for i := 0; i < len(c.nodes); i++ {
		c.nodes[i].Reset(nextIdx)
	}

	log.Infof("%d become leader at term %d [last idx: %d, commit idx: %d]",
		c.id, c.term, c.log.LastIndex(), c.log.CommitIndex())

	/* announce immediately, then keep the cadence */
	c.broadcastAppend()
	c.nextHeartbeat = c.now + c.heartbeat
}

// preCampaign opens the advisory round: ask every peer whether a real
// election at term+1 could win, without disturbing anyone's term.
func (c *core) preCampaign() {
	c.becomePreCandidate()

	msg := raftpd.Message{
		Type:         raftpd.MsgPreVoteRequest,
		CandidateID:  c.id,
		LastLogIndex: c.log.LastIndex(),
		LastLogTerm:  c.log.LastTerm(),
	}
	c.sendToNodes(&msg)
}

func (c *core) campaign() {
	c.becomeCandidate()
	if c.stopped {
		return
	}

	if c.quorum() == 1 {
		/* single voter: the election is already won */
		c.becomeLeader()
		return
	}

	msg := raftpd.Message{
		Type:         raftpd.MsgVoteRequest,
		CandidateID:  c.id,
		LastLogIndex: c.log.LastIndex(),
		LastLogTerm:  c.log.LastTerm(),
	}
	c.sendToNodes(&msg)
}

func (c *core) sendToNodes(msg *raftpd.Message) {
	for i := 0; i < len(c.nodes); i++ {
		dup := *msg
		dup.To = c.nodes[i].ID

		log.Debugf("%d [last term: %d, last index: %d] send %v to %d at term %d",
			c.id, c.log.LastTerm(), c.log.LastIndex(), msg.Type, dup.To, c.term)
		c.send(&dup)
	}
}

func (c *core) voteStateCount(state peer.VoteState) int {
	count := 0
	if state == peer.VoteGranted {
		/* self always grants its own candidacy */
		count = 1
	}
	for i := 0; i < len(c.nodes); i++ {
		if c.nodes[i].Vote == state {
			count++
		}
	}
	return count
}

func (c *core) resetNodesVoteState() {
	for i := 0; i < len(c.nodes); i++ {
		c.nodes[i].ResetVoteState()
	}
}

// poll commit all could commit. If there exists an N such that
// N > commitIndex, a majority of matchIndex[i] >= N, and
// log[N].term == currentTerm: set commitIndex = N. Only match indexes
// up to idx moved since the previous poll, so the search for the
// largest such N starts at idx.
func (c *core) poll(idx uint64) {
	for n := idx; n > c.log.CommitIndex(); n-- {
		if c.log.Term(n) != c.term {
			/* old term's log entry, and every entry below is older */
			return
		}

		count := 1
		for i := 0; i < len(c.nodes); i++ {
			if c.nodes[i].Matched >= n {
				count++
			}
		}

		if count >= c.quorum() {
			c.log.CommitTo(n)
			return
		}
	}
}

// broadcastAppend send append (maybe empty, as heartbeat) to followers.
func (c *core) broadcastAppend() {
	for i := 0; i < len(c.nodes); i++ {
		c.sendAppend(c.nodes[i])
	}
}

func (c *core) sendAppend(node *peer.Node) {
	msg := raftpd.Message{}
	msg.Type = raftpd.MsgAppendRequest
	msg.To = node.ID
	msg.LeaderID = c.id
	msg.PrevLogIndex = node.NextIdx - 1
	msg.PrevLogTerm = c.log.Term(msg.PrevLogIndex)
	msg.Entries = c.log.EntriesFrom(node.NextIdx, c.maxEntriesPerAppend)

	// Attach the commit as min(matched, commitIndex): the follower
	// might not be matched with the leader yet, and forwarding its
	// commit past the matched prefix would break Log Matching.
	msg.LeaderCommit = utils.MinUint64(node.Matched, c.log.CommitIndex())

	log.Debugf("%d [term: %d] send append [prev idx: %d, prev term: %d, entries: %d] "+
		"to %d [matched: %d, next idx: %d]", c.id, c.term, msg.PrevLogIndex,
		msg.PrevLogTerm, len(msg.Entries), node.ID, node.Matched, node.NextIdx)

	c.send(&msg)
}

// reject answer a lower-term request with the current term so the
// stale sender can catch up. Responses are dropped silently.
func (c *core) reject(msg *raftpd.Message) {
	var tp raftpd.MessageType
	switch msg.Type {
	case raftpd.MsgAppendRequest:
		tp = raftpd.MsgAppendResponse
	case raftpd.MsgVoteRequest:
		tp = raftpd.MsgVoteResponse
	default:
		return
	}

	m := raftpd.Message{
		Type: tp,
		To:   msg.From,
	}
	c.send(&m)
}
