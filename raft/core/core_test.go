package core

import (
	"errors"
	"testing"

	"github.com/seastarlab/tidal/raft/core/conf"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/raft/storage"
)

func TestCore_startsAsFollower(t *testing.T) {
	c := makeTestRaft(1, []uint64{2, 3}, storage.MakeMemory(), 150)

	status := c.Status()
	if status.Role != RoleFollower || status.Term != 0 {
		t.Fatalf("fresh node = (%v, %d), want (Follower, 0)", status.Role, status.Term)
	}
	if c.vote != conf.InvalidID || status.LeaderID != conf.InvalidID {
		t.Fatalf("fresh node has vote %d, leader %d", c.vote, status.LeaderID)
	}
	if status.LastLogIndex != 0 || status.CommitIndex != 0 {
		t.Fatalf("fresh node log = (%d, %d), want (0, 0)",
			status.LastLogIndex, status.CommitIndex)
	}
}

func TestCore_quorum(t *testing.T) {
	tests := []struct {
		members int
		want    int
	}{
		{1, 1}, {2, 2}, {3, 2}, {4, 3}, {5, 3}, {6, 4}, {7, 4},
	}

	for i, test := range tests {
		peers := make([]uint64, 0, test.members)
		for id := 1; id <= test.members; id++ {
			peers = append(peers, uint64(id))
		}
		c := makeTestRaft(1, peers, storage.MakeMemory(), 150)
		if got := c.quorum(); got != test.want {
			t.Fatalf("#%d: quorum(%d) = %d, want %d", i, test.members, got, test.want)
		}
	}
}

func TestCore_badConfig(t *testing.T) {
	tests := []func(c *conf.Config){
		func(c *conf.Config) { c.ID = 0 },
		func(c *conf.Config) { c.HeartbeatInterval = c.ElectionTimeoutMin },
		func(c *conf.Config) { c.ElectionTimeoutMin = c.ElectionTimeoutMax + 1 },
		func(c *conf.Config) { c.MaxEntriesPerAppend = 0 },
		func(c *conf.Config) { c.Peers = []uint64{2, 0} },
	}

	for i, corrupt := range tests {
		config := conf.DefaultConfig(1, []uint64{2, 3})
		corrupt(config)

		ports := Ports{
			Storage: storage.MakeMemory(),
			Clock:   &scriptClock{},
			Random:  &scriptRandom{draw: 150},
		}
		if _, err := MakeNode(config, ports); err == nil {
			t.Fatalf("#%d: bad config accepted", i)
		}
	}
}

func TestCore_electionTimeoutStartsPreVote(t *testing.T) {
	store := storage.MakeMemory()
	seedStorage(store, 4, conf.InvalidID, nil)
	c := makeTestRaft(1, []uint64{2, 3}, store, 150)

	msgs := c.Tick(200)
	if c.state != RolePreCandidate {
		t.Fatalf("state = %v, want PreCandidate", c.state)
	}
	if len(msgs) != 2 {
		t.Fatalf("%d pre-vote requests, want 2", len(msgs))
	}
	for i := range msgs {
		if msgs[i].Type != raftpd.MsgPreVoteRequest {
			t.Fatalf("message type %v, want PreVote request", msgs[i].Type)
		}
		if msgs[i].Term != 5 {
			t.Fatalf("prospective term = %d, want 5", msgs[i].Term)
		}
	}

	// the round is advisory: term and vote stay untouched, nothing
	// was persisted
	if c.term != 4 || c.vote != conf.InvalidID {
		t.Fatalf("pre-vote mutated state to (%d, %d)", c.term, c.vote)
	}
	hs, _, err := store.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if hs.Term != 4 || hs.Vote != conf.InvalidID {
		t.Fatalf("pre-vote persisted %v", hs)
	}
}

func TestCore_preVoteDisabledElectsDirectly(t *testing.T) {
	config := conf.DefaultConfig(1, []uint64{2, 3})
	config.PreVote = false

	store := storage.MakeMemory()
	ports := Ports{
		Storage: store,
		Clock:   &scriptClock{},
		Random:  &scriptRandom{draw: 150},
	}
	node, err := MakeRawNode(config, ports)
	if err != nil {
		t.Fatal(err)
	}

	msgs := node.Tick(200)
	if node.state != RoleCandidate || node.term != 1 {
		t.Fatalf("state = (%v, %d), want (Candidate, 1)", node.state, node.term)
	}
	for i := range msgs {
		if msgs[i].Type != raftpd.MsgVoteRequest {
			t.Fatalf("message type %v, want Vote request", msgs[i].Type)
		}
	}

	hs, _, err := store.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if hs.Term != 1 || hs.Vote != 1 {
		t.Fatalf("persisted state = %v, want {term: 1, vote: 1}", hs)
	}
}

func TestCore_singleNodeElectsItself(t *testing.T) {
	c := makeTestRaft(1, []uint64{1}, storage.MakeMemory(), 150)

	c.Tick(200)
	if c.state != RoleLeader || c.term != 1 {
		t.Fatalf("state = (%v, %d), want (Leader, 1)", c.state, c.term)
	}

	index, err := c.Propose([]byte("x=1"))
	if err != nil {
		t.Fatal(err)
	}
	if index != 1 {
		t.Fatalf("proposed index = %d, want 1", index)
	}
	if c.Status().CommitIndex != 1 {
		t.Fatalf("commit index = %d, want 1", c.Status().CommitIndex)
	}

	entries := c.CommittedSince(0)
	if len(entries) != 1 || string(entries[0].Command) != "x=1" {
		t.Fatalf("committed entries = %v", entries)
	}
}

func TestCore_proposeNotLeader(t *testing.T) {
	c := makeTestRaft(1, []uint64{2, 3}, storage.MakeMemory(), 150)

	if _, err := c.Propose([]byte("x=1")); !errors.Is(err, ErrNotLeader) {
		t.Fatalf("propose on follower = %v, want ErrNotLeader", err)
	}
}

func TestCore_candidateRestartsThroughPreVote(t *testing.T) {
	store := storage.MakeMemory()
	c := makeTestRaft(1, []uint64{2, 3}, store, 150)

	c.Tick(200) // pre-candidate
	c.Step(&raftpd.Message{
		Type:    raftpd.MsgPreVoteResponse,
		From:    2,
		Term:    1,
		Granted: true,
	})
	if c.state != RoleCandidate || c.term != 1 {
		t.Fatalf("state = (%v, %d), want (Candidate, 1)", c.state, c.term)
	}

	// nobody answers; the deadline expires and a fresh advisory round
	// starts without another term bump
	msgs := c.Tick(400)
	if c.state != RolePreCandidate || c.term != 1 {
		t.Fatalf("state = (%v, %d), want (PreCandidate, 1)", c.state, c.term)
	}
	for i := range msgs {
		if msgs[i].Type != raftpd.MsgPreVoteRequest || msgs[i].Term != 2 {
			t.Fatalf("message = (%v, %d), want (PreVote request, 2)",
				msgs[i].Type, msgs[i].Term)
		}
	}
}

func TestCore_storageFailureStopsNode(t *testing.T) {
	store := storage.MakeMemory()
	c := makeTestRaft(1, []uint64{2, 3}, store, 150)

	boom := errors.New("disk gone")
	store.SetFailure(boom)

	// granting this vote requires persisting the term bump; the
	// failure must suppress every outbound message
	msg := raftpd.Message{
		Type:        raftpd.MsgVoteRequest,
		From:        2,
		CandidateID: 2,
		Term:        1,
	}
	if msgs := c.Step(&msg); len(msgs) != 0 {
		t.Fatalf("poisoned node emitted %d messages", len(msgs))
	}
	if !errors.Is(c.Err(), boom) {
		t.Fatalf("err = %v, want wrapped %v", c.Err(), boom)
	}

	// and the node stays inert from here on
	if msgs := c.Tick(10000); len(msgs) != 0 {
		t.Fatalf("poisoned node ticked %d messages", len(msgs))
	}
	if _, err := c.Propose([]byte("x=1")); err == nil {
		t.Fatalf("poisoned node accepted a proposal")
	}
}
