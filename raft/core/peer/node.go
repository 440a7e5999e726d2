package peer

import (
	log "github.com/sirupsen/logrus"

	"github.com/seastarlab/tidal/raft/core/conf"
	"github.com/seastarlab/tidal/utils"
)

// Node maintains what the local raft knows about one remote member:
// its vote in the current round and, while leading, the replication
// progress markers.
type Node struct {
	belongID uint64

	// node id
	ID uint64

	// vote detected during an election round
	Vote VoteState

	// highest log index known to be replicated on the peer
	Matched uint64

	// next log index to send
	NextIdx uint64
}

// MakeNode create instance for remote peer.
func MakeNode(belong, id, nextIdx uint64) *Node {
	return &Node{
		belongID: belong,
		ID:       id,
		Vote:     VoteNone,
		Matched:  conf.InvalidIndex,
		NextIdx:  nextIdx,
	}
}

// MaybeUpdate absorb a successful append response claiming matchIdx.
// Matched never regresses, so reordered or duplicated responses are
// harmless. It reports whether Matched advanced.
func (n *Node) MaybeUpdate(matchIdx uint64) bool {
	if matchIdx <= n.Matched {
		log.Debugf("%d node: %d [matched: %d] ignore staled append response: %d",
			n.belongID, n.ID, n.Matched, matchIdx)
		return false
	}

	n.Matched = matchIdx
	if n.NextIdx <= n.Matched {
		n.NextIdx = n.Matched + 1
	}
	return true
}

// BackOff retreat NextIdx after a rejected append, to the follower's
// conflict hint when it sent one, otherwise one step. NextIdx never
// drops below one.
func (n *Node) BackOff(hint uint64) {
	next := n.NextIdx - 1
	if hint != conf.InvalidIndex {
		next = utils.MinUint64(hint, next)
	}
	if next < 1 {
		next = 1
	}

	log.Debugf("%d node: %d update next index: %d => %d",
		n.belongID, n.ID, n.NextIdx, next)
	n.NextIdx = next
}

// Reset prepare the progress for a fresh term of leadership.
func (n *Node) Reset(nextIdx uint64) {
	n.Matched = conf.InvalidIndex
	n.NextIdx = nextIdx
}

// UpdateVoteState set vote by granted.
func (n *Node) UpdateVoteState(granted bool) {
	if granted {
		n.Vote = VoteGranted
	} else {
		n.Vote = VoteReject
	}
}

// ResetVoteState set vote to VoteNone.
func (n *Node) ResetVoteState() {
	n.Vote = VoteNone
}
