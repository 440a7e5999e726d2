package core

import (
	"testing"

	"github.com/seastarlab/tidal/raft/core/conf"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/raft/storage"
)

func singleReply(t *testing.T, i int, msgs []raftpd.Message, tp raftpd.MessageType) *raftpd.Message {
	t.Helper()
	if len(msgs) != 1 {
		t.Fatalf("#%d: %d replies, want 1", i, len(msgs))
	}
	if msgs[0].Type != tp {
		t.Fatalf("#%d: reply type %v, want %v", i, msgs[0].Type, tp)
	}
	return &msgs[0]
}

// accept:
// 	- no leader contact within the lease window
//	- prospective term at least currentTerm
// 	- remote log is up-to-date
func TestCore_handlePreVote(t *testing.T) {
	entries := []raftpd.Entry{makeEntry(1, 1, "a"), makeEntry(2, 2, "b")}

	tests := []struct {
		term     uint64
		lease    uint64
		msgTerm  uint64
		logIndex uint64
		logTerm  uint64
		want     bool
	}{
		// prospective term ahead, no leader contact
		{2, 0, 3, 2, 2, true},
		// same term, no leader contact
		{2, 0, 2, 2, 2, true},
		// leader lease active: reject regardless of term and log
		{2, 100, 3, 9, 9, false},
		// stale prospective term
		{2, 0, 1, 2, 2, false},
		// log behind
		{2, 0, 3, 1, 1, false},
	}

	for i, test := range tests {
		store := storage.MakeMemory()
		seedStorage(store, test.term, conf.InvalidID, entries)
		c := makeTestRaft(1, []uint64{2, 3}, store, 150, leaderLease(test.lease))

		msg := raftpd.Message{
			Type:         raftpd.MsgPreVoteRequest,
			From:         2,
			CandidateID:  2,
			Term:         test.msgTerm,
			LastLogIndex: test.logIndex,
			LastLogTerm:  test.logTerm,
		}
		reply := singleReply(t, i, c.Step(&msg), raftpd.MsgPreVoteResponse)
		if reply.Granted != test.want {
			t.Fatalf("#%d: granted = %v, want %v", i, reply.Granted, test.want)
		}
		if c.term != test.term {
			t.Fatalf("#%d: pre-vote changed term to %d", i, c.term)
		}
	}
}

func TestCore_handleVote(t *testing.T) {
	entries := []raftpd.Entry{makeEntry(1, 1, "a"), makeEntry(2, 2, "b")}

	tests := []struct {
		vote     uint64
		msgTerm  uint64
		logIndex uint64
		logTerm  uint64
		want     bool
	}{
		// free vote, up-to-date log
		{conf.InvalidID, 2, 2, 2, true},
		// retried request from the voted-for candidate grants again
		{2, 2, 2, 2, true},
		// vote already cast for someone else
		{3, 2, 2, 2, false},
		// candidate's log behind
		{conf.InvalidID, 2, 1, 1, false},
		// higher term clears the old vote first
		{3, 5, 2, 2, true},
	}

	for i, test := range tests {
		store := storage.MakeMemory()
		seedStorage(store, 2, test.vote, entries)
		c := makeTestRaft(1, []uint64{2, 3}, store, 150)

		msg := raftpd.Message{
			Type:         raftpd.MsgVoteRequest,
			From:         2,
			CandidateID:  2,
			Term:         test.msgTerm,
			LastLogIndex: test.logIndex,
			LastLogTerm:  test.logTerm,
		}
		reply := singleReply(t, i, c.Step(&msg), raftpd.MsgVoteResponse)
		if reply.Granted != test.want {
			t.Fatalf("#%d: granted = %v, want %v", i, reply.Granted, test.want)
		}
		if reply.Term != test.msgTerm {
			t.Fatalf("#%d: reply term = %d, want %d", i, reply.Term, test.msgTerm)
		}
		if test.want && c.vote != msg.CandidateID {
			t.Fatalf("#%d: vote = %d, want %d", i, c.vote, msg.CandidateID)
		}
	}
}

func TestCore_handleVote_persists(t *testing.T) {
	store := storage.MakeMemory()
	c := makeTestRaft(1, []uint64{2, 3}, store, 150)

	msg := raftpd.Message{
		Type:        raftpd.MsgVoteRequest,
		From:        2,
		CandidateID: 2,
		Term:        1,
	}
	reply := singleReply(t, 0, c.Step(&msg), raftpd.MsgVoteResponse)
	if !reply.Granted {
		t.Fatalf("granted = false, want true")
	}

	hs, _, err := store.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if hs.Term != 1 || hs.Vote != 2 {
		t.Fatalf("persisted state = %v, want {term: 1, vote: 2}", hs)
	}
}

func TestCore_handleAppendEntries(t *testing.T) {
	entries := []raftpd.Entry{
		makeEntry(1, 1, "a"), makeEntry(2, 1, "b"), makeEntry(3, 2, "x"),
	}

	tests := []struct {
		prevIndex     uint64
		prevTerm      uint64
		entries       []raftpd.Entry
		leaderCommit  uint64
		wantSuccess   bool
		wantMatch     uint64
		wantConflict  uint64
		wantLastIndex uint64
		wantCommit    uint64
	}{
		// heartbeat against the matching tail
		{3, 2, nil, 3, true, 3, 0, 3, 3},
		// extension
		{3, 2, []raftpd.Entry{makeEntry(4, 3, "y")}, 0, true, 4, 0, 4, 0},
		// conflicting suffix truncated and replaced
		{2, 1, []raftpd.Entry{makeEntry(3, 3, "y"), makeEntry(4, 3, "z")},
			0, true, 4, 0, 4, 0},
		// prefix term mismatch: conflict hint names the first index
		// of the follower's term at prevIndex
		{3, 1, nil, 0, false, 0, 3, 3, 0},
		// shorter log: hint is one past the end
		{7, 2, nil, 0, false, 0, 4, 3, 0},
	}

	for i, test := range tests {
		store := storage.MakeMemory()
		seedStorage(store, 3, conf.InvalidID, entries)
		c := makeTestRaft(1, []uint64{2, 3}, store, 150)

		msg := raftpd.Message{
			Type:         raftpd.MsgAppendRequest,
			From:         2,
			Term:         3,
			LeaderID:     2,
			PrevLogIndex: test.prevIndex,
			PrevLogTerm:  test.prevTerm,
			Entries:      test.entries,
			LeaderCommit: test.leaderCommit,
		}
		reply := singleReply(t, i, c.Step(&msg), raftpd.MsgAppendResponse)
		if reply.Success != test.wantSuccess {
			t.Fatalf("#%d: success = %v, want %v", i, reply.Success, test.wantSuccess)
		}
		if reply.Success && reply.MatchIndex != test.wantMatch {
			t.Fatalf("#%d: match index = %d, want %d", i, reply.MatchIndex, test.wantMatch)
		}
		if !reply.Success && reply.ConflictIndex != test.wantConflict {
			t.Fatalf("#%d: conflict index = %d, want %d", i, reply.ConflictIndex, test.wantConflict)
		}
		if c.log.LastIndex() != test.wantLastIndex {
			t.Fatalf("#%d: last index = %d, want %d", i, c.log.LastIndex(), test.wantLastIndex)
		}
		if c.log.CommitIndex() != test.wantCommit {
			t.Fatalf("#%d: commit index = %d, want %d", i, c.log.CommitIndex(), test.wantCommit)
		}
		if c.leaderID != 2 {
			t.Fatalf("#%d: leader id = %d, want 2", i, c.leaderID)
		}

		// The follower's storage must mirror its accepted log before
		// the response went out.
		_, persisted, err := store.LoadState()
		if err != nil {
			t.Fatal(err)
		}
		if uint64(len(persisted)) != test.wantLastIndex {
			t.Fatalf("#%d: persisted %d entries, want %d",
				i, len(persisted), test.wantLastIndex)
		}
	}
}

func TestCore_staleTermRejected(t *testing.T) {
	tests := []struct {
		tp      raftpd.MessageType
		replyTp raftpd.MessageType
	}{
		{raftpd.MsgAppendRequest, raftpd.MsgAppendResponse},
		{raftpd.MsgVoteRequest, raftpd.MsgVoteResponse},
	}

	for i, test := range tests {
		store := storage.MakeMemory()
		seedStorage(store, 5, conf.InvalidID, nil)
		c := makeTestRaft(1, []uint64{2, 3}, store, 150)

		msg := raftpd.Message{Type: test.tp, From: 2, Term: 3}
		reply := singleReply(t, i, c.Step(&msg), test.replyTp)
		if reply.Granted || reply.Success {
			t.Fatalf("#%d: stale request accepted", i)
		}
		if reply.Term != 5 {
			t.Fatalf("#%d: reply term = %d, want 5", i, reply.Term)
		}
	}
}

func TestCore_staleResponseIgnored(t *testing.T) {
	store := storage.MakeMemory()
	seedStorage(store, 5, conf.InvalidID, nil)
	c := makeTestRaft(1, []uint64{2, 3}, store, 150)

	msg := raftpd.Message{Type: raftpd.MsgAppendResponse, From: 2, Term: 3}
	if msgs := c.Step(&msg); len(msgs) != 0 {
		t.Fatalf("stale response produced %d messages, want 0", len(msgs))
	}
}

func TestCore_higherTermStepsDown(t *testing.T) {
	store := storage.MakeMemory()
	seedStorage(store, 2, 1, nil)
	c := makeTestRaft(1, []uint64{2, 3}, store, 150, state(RoleCandidate))

	msg := raftpd.Message{
		Type:         raftpd.MsgAppendRequest,
		From:         3,
		Term:         7,
		LeaderID:     3,
		PrevLogIndex: 0,
		PrevLogTerm:  0,
	}
	reply := singleReply(t, 0, c.Step(&msg), raftpd.MsgAppendResponse)
	if !reply.Success {
		t.Fatalf("append rejected after step-down")
	}
	if c.state != RoleFollower || c.term != 7 || c.leaderID != 3 {
		t.Fatalf("state = (%v, %d, %d), want (Follower, 7, 3)",
			c.state, c.term, c.leaderID)
	}

	// the term bump cleared the old vote, and both were persisted
	// before the reply was emitted
	hs, _, err := store.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if hs.Term != 7 || hs.Vote != conf.InvalidID {
		t.Fatalf("persisted state = %v, want {term: 7, vote: none}", hs)
	}
}
