package core

import (
	log "github.com/sirupsen/logrus"

	"github.com/seastarlab/tidal/raft/core/conf"
	"github.com/seastarlab/tidal/raft/core/peer"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/utils"
)

func (c *core) dispatch(msg *raftpd.Message) {
	switch c.state {
	case RoleLeader:
		c.stepLeader(msg)
	case RoleFollower:
		c.stepFollower(msg)
	case RolePreCandidate, RoleCandidate:
		c.stepCandidate(msg)
	}
}

func (c *core) stepLeader(msg *raftpd.Message) {
	switch msg.Type {
	case raftpd.MsgAppendResponse:
		c.handleAppendEntriesResponse(msg)
	}
}

func (c *core) stepFollower(msg *raftpd.Message) {
	switch msg.Type {
	case raftpd.MsgAppendRequest:
		c.handleAppendEntries(msg)
	}
}

func (c *core) stepCandidate(msg *raftpd.Message) {
	switch msg.Type {
	case raftpd.MsgVoteResponse:
		if c.state == RoleCandidate {
			c.handleVoteResponse(msg)
		}

	// If a candidate receives an AppendEntries from another node
	// claiming to be leader whose term is at least as large as its
	// own, it recognizes the leader as legitimate and returns to
	// follower state.
	case raftpd.MsgAppendRequest:
		c.becomeFollower(msg.Term, msg.LeaderID)
		c.handleAppendEntries(msg)
	}
}

// handlePreVote answers the advisory round. The request's term is
// prospective; neither side bumps its own term here. A node that heard
// from a live leader within the lease window rejects outright, so a
// rejoining partitioned node cannot disrupt a healthy cluster.
func (c *core) handlePreVote(msg *raftpd.Message) {
	reply := raftpd.Message{}
	reply.Type = raftpd.MsgPreVoteResponse
	reply.To = msg.From

	recentLeader := c.state.IsLeader() || c.now < c.leaderLeaseUntil
	switch {
	case recentLeader:
		log.Infof("%d [term: %d] reject pre-vote from %d: leader lease active",
			c.id, c.term, msg.From)
	case msg.Term < c.term:
		log.Debugf("%d [term: %d] reject pre-vote from %d with stale term %d",
			c.id, c.term, msg.From, msg.Term)
	case !c.log.IsUpToDate(msg.LastLogIndex, msg.LastLogTerm):
		log.Debugf("%d [term: %d] reject pre-vote from %d: log behind",
			c.id, c.term, msg.From)
	default:
		reply.Granted = true
	}

	c.send(&reply)
}

// handlePreVoteResponse tallies advisory grants while pre-candidate.
// The response term never feeds the step-down path.
func (c *core) handlePreVoteResponse(msg *raftpd.Message) {
	if c.state != RolePreCandidate {
		return
	}

	node := c.getNodeByID(msg.From)
	if node == nil {
		return
	}
	node.UpdateVoteState(msg.Granted)

	if c.voteStateCount(peer.VoteGranted) >= c.quorum() {
		/* the cluster would elect us: run the real election */
		c.campaign()
	} else if c.voteStateCount(peer.VoteReject) >= c.quorum() {
		c.becomeFollower(c.term, conf.InvalidID)
	}
}

// handleVote runs after the universal term normalization, so
// msg.Term == currentTerm. Grant iff no conflicting vote was cast this
// term and the candidate's log is at least as up-to-date as ours; a
// repeated request from the voted-for candidate is granted again.
func (c *core) handleVote(msg *raftpd.Message) {
	reply := raftpd.Message{}
	reply.Type = raftpd.MsgVoteResponse
	reply.To = msg.From

	freeVote := c.vote == conf.InvalidID || c.vote == msg.CandidateID
	if freeVote && c.log.IsUpToDate(msg.LastLogIndex, msg.LastLogTerm) {
		c.vote = msg.CandidateID
		c.persistMeta()
		c.resetElectionDeadline()
		reply.Granted = true

		log.Infof("%d [term: %d] vote for %d [last idx: %d, last term: %d]",
			c.id, c.term, msg.CandidateID, msg.LastLogIndex, msg.LastLogTerm)
	} else {
		log.Infof("%d [term: %d, vote: %d] reject vote for %d",
			c.id, c.term, c.vote, msg.CandidateID)
	}

	c.send(&reply)
}

func (c *core) handleVoteResponse(msg *raftpd.Message) {
	node := c.getNodeByID(msg.From)
	if node == nil {
		return
	}
	node.UpdateVoteState(msg.Granted)

	if c.voteStateCount(peer.VoteGranted) >= c.quorum() {
		c.becomeLeader()
	} else if c.voteStateCount(peer.VoteReject) >= c.quorum() {
		// Vote denial from a majority: this candidacy is doomed,
		// return to follower and wait out the next deadline.
		c.becomeFollower(c.term, conf.InvalidID)
	}
}

// handleAppendEntries runs with msg.Term == currentTerm: the sender is
// the legitimate leader of this term.
func (c *core) handleAppendEntries(msg *raftpd.Message) {
	c.leaderID = msg.LeaderID
	c.leaderLeaseUntil = c.now + c.electionMin
	c.resetElectionDeadline()

	reply := raftpd.Message{}
	reply.Type = raftpd.MsgAppendResponse
	reply.To = msg.From

	if c.log.CommitIndex() > msg.PrevLogIndex {
		// The prefix in question was committed long ago; answer the
		// same way a successful append up to the commit point would.
		log.Infof("%d [term: %d, commit: %d] reply expired append "+
			"from %d [prev idx: %d]", c.id, c.term, c.log.CommitIndex(),
			msg.From, msg.PrevLogIndex)
		reply.Success = true
		reply.MatchIndex = c.log.CommitIndex()
		c.send(&reply)
		return
	}

	lastIndex, truncatedFrom, appended, ok :=
		c.log.TryAppend(msg.PrevLogIndex, msg.PrevLogTerm, msg.Entries)
	if !ok {
		log.Infof("%d [term: %d, last idx: %d] rejected append "+
			"[prev idx: %d, prev term: %d] from %d", c.id, c.term,
			c.log.LastIndex(), msg.PrevLogIndex, msg.PrevLogTerm, msg.From)
		reply.Success = false
		reply.ConflictIndex = c.log.ConflictHint(msg.PrevLogIndex)
		c.send(&reply)
		return
	}

	// Durability before acknowledgement: the leader will count this
	// response toward commit.
	if truncatedFrom != conf.InvalidIndex {
		if err := c.storage.TruncateLog(truncatedFrom); err != nil {
			c.fail(err)
			return
		}
	}
	if len(appended) > 0 {
		if err := c.storage.AppendLog(appended); err != nil {
			c.fail(err)
			return
		}
	}

	c.log.CommitTo(utils.MinUint64(msg.LeaderCommit, lastIndex))

	reply.Success = true
	reply.MatchIndex = msg.PrevLogIndex + uint64(len(msg.Entries))
	c.send(&reply)
}

func (c *core) handleAppendEntriesResponse(msg *raftpd.Message) {
	node := c.getNodeByID(msg.From)
	if node == nil {
		return
	}

	if msg.Success {
		if node.MaybeUpdate(msg.MatchIndex) {
			c.poll(node.Matched)
		}
		return
	}

	// Log inconsistency: back off and retry on the next tick.
	node.BackOff(msg.ConflictIndex)
}
