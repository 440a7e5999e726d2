package raftpd

import (
	"encoding/gob"
	"fmt"
)

// MessageType tags the six RPC variants exchanged between nodes.
type MessageType int

// Message from candidate:
// - PreVote request (term field is prospective, advisory only)
// - Vote request
//
// Message from leader:
// - Append request (empty entries double as heartbeat)
//
// Message from all servers:
// - PreVote response
// - Vote response
// - Append response
const (
	MsgPreVoteRequest MessageType = iota
	MsgPreVoteResponse
	MsgVoteRequest
	MsgVoteResponse
	MsgAppendRequest
	MsgAppendResponse
)

var messageTypeString = []string{
	"PreVote request",
	"PreVote response",
	"Vote request",
	"Vote response",
	"Append request",
	"Append response",
}

func (tp MessageType) String() string {
	return messageTypeString[tp]
}

// Entry is a single command in the replicated log. Command bytes are
// opaque to raft; interpretation belongs to the state machine.
type Entry struct {
	Term    uint64
	Index   uint64
	Command []byte
}

func (e *Entry) Reset() { *e = Entry{} }

func (e Entry) String() string {
	return fmt.Sprintf("raftpd.Entry{idx: %d, term: %d, len: %d}",
		e.Index, e.Term, len(e.Command))
}

// HardState is the durable metadata of a node. Vote uses the invalid
// id sentinel when no vote was cast in Term.
type HardState struct {
	Term uint64
	Vote uint64
}

func (s *HardState) Reset() { *s = HardState{} }

func (s HardState) String() string {
	return fmt.Sprintf("raftpd.HardState{term: %d, vote: %d}", s.Term, s.Vote)
}

// Message is the single on-wire record for all six variants. Only the
// fields of the tagged variant are meaningful; the rest stay zero.
type Message struct {
	Type     MessageType
	From, To uint64

	// Term of the sender. PreVote requests carry the prospective term
	// (currentTerm+1) without the sender ever holding it.
	Term uint64

	// Vote and pre-vote requests.
	CandidateID  uint64
	LastLogIndex uint64
	LastLogTerm  uint64

	// Vote and pre-vote responses.
	Granted bool

	// Append requests.
	LeaderID     uint64
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	LeaderCommit uint64

	// Append responses. MatchIndex reports the highest index known
	// replicated on success; ConflictIndex hints where the leader
	// should back off to on rejection.
	Success       bool
	MatchIndex    uint64
	ConflictIndex uint64
}

func (m *Message) Reset() { *m = Message{} }

func init() {
	gob.Register(Entry{})
	gob.Register(HardState{})
	gob.Register(Message{})
}
