package storage

import (
	"sync"

	"github.com/seastarlab/tidal/raft/core/conf"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/utils"
)

// Memory is the in-memory storage adapter used by tests and
// simulations. It survives node restarts within one process, which is
// what crash-recovery tests exercise, and can be scripted to fail.
type Memory struct {
	mu      sync.Mutex
	hs      raftpd.HardState
	entries []raftpd.Entry
	failure error
}

// MakeMemory return an empty Memory store: term zero, no vote, no log.
func MakeMemory() *Memory {
	return &Memory{
		hs: raftpd.HardState{Term: conf.InvalidTerm, Vote: conf.InvalidID},
	}
}

// SetFailure make every following call fail with err; nil heals it.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// LoadState return copies of the stored metadata and log.
func (m *Memory) LoadState() (raftpd.HardState, []raftpd.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failure != nil {
		return raftpd.HardState{}, nil, m.failure
	}

	entries := make([]raftpd.Entry, len(m.entries))
	copy(entries, m.entries)
	return m.hs, entries, nil
}

// SaveMeta store term and vote.
func (m *Memory) SaveMeta(term, vote uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failure != nil {
		return m.failure
	}
	m.hs = raftpd.HardState{Term: term, Vote: vote}
	return nil
}

// AppendLog store entries at the tail. Indices must continue the
// stored log.
func (m *Memory) AppendLog(entries []raftpd.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failure != nil {
		return m.failure
	}
	for i := range entries {
		utils.Assert(entries[i].Index == uint64(len(m.entries)+1),
			"append entry %d at position %d", entries[i].Index, len(m.entries)+1)
		m.entries = append(m.entries, entries[i])
	}
	return nil
}

// TruncateLog drop entries with index >= from.
func (m *Memory) TruncateLog(from uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failure != nil {
		return m.failure
	}
	if from <= uint64(len(m.entries)) {
		m.entries = m.entries[:from-1]
	}
	return nil
}
