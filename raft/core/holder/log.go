package holder

import (
	log "github.com/sirupsen/logrus"

	"github.com/seastarlab/tidal/raft/core/conf"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/utils"
)

// LogHolder owns the in-memory entry sequence and enforces the log
// consistency rules. Here is the memory layout:
//
// (0, commitIndex, lastIndex)
// +-------------+---------------+
// |  committed  |  wait commit  |
// +-------------+---------------+
// ^ dummy       ^ committed     ^ last
//
// There always is a dummy entry at position zero with index zero and
// term zero; it makes the bound arithmetic uniform and stands for the
// empty prefix every log matches.
type LogHolder struct {
	// raft inner id, for logging only
	id uint64

	// last index of committed entry
	commitIndex uint64

	// buffered entries, entries[i].Index == i
	entries []raftpd.Entry
}

// MakeLogHolder create & initialize empty LogHolder, and returns.
func MakeLogHolder(id uint64) *LogHolder {
	entries := make([]raftpd.Entry, 1)
	entries[0].Index = conf.InvalidIndex
	entries[0].Term = conf.InvalidTerm
	return &LogHolder{
		id:          id,
		commitIndex: conf.InvalidIndex,
		entries:     entries,
	}
}

// RebuildLogHolder construction log holder from exists log entries,
// as loaded from durable storage. Indices must be contiguous from 1.
func RebuildLogHolder(id uint64, entries []raftpd.Entry) *LogHolder {
	holder := MakeLogHolder(id)
	holder.entries = append(holder.entries, entries...)
	holder.validateConsistency()

	log.Debugf("%d rebuild log holder [last idx: %d, last term: %d]",
		id, holder.LastIndex(), holder.LastTerm())
	return holder
}

// LastIndex return the index of the last entry, zero when empty.
func (holder *LogHolder) LastIndex() uint64 {
	return uint64(len(holder.entries)) - 1
}

// LastTerm return the term of the last entry, zero when empty.
func (holder *LogHolder) LastTerm() uint64 {
	return holder.entries[holder.LastIndex()].Term
}

// Term return the term of idx, if there no entry with these index,
// return InvalidTerm.
func (holder *LogHolder) Term(idx uint64) uint64 {
	if idx > holder.LastIndex() {
		return conf.InvalidTerm
	}
	return holder.entries[idx].Term
}

// CommitIndex return holder.commitIndex.
func (holder *LogHolder) CommitIndex() uint64 {
	return holder.commitIndex
}

// Slice return the entries between [lo, hi), not included dummy entry.
func (holder *LogHolder) Slice(lo, hi uint64) []raftpd.Entry {
	holder.checkOutOfBounds(lo, hi)
	return holder.entries[lo:hi]
}

// EntriesFrom return a copy of at most max entries starting at idx,
// for leader replication.
func (holder *LogHolder) EntriesFrom(idx uint64, max int) []raftpd.Entry {
	if idx > holder.LastIndex() {
		return nil
	}
	hi := holder.LastIndex() + 1
	if limit := idx + uint64(max); limit < hi {
		hi = limit
	}
	entries := make([]raftpd.Entry, hi-idx)
	copy(entries, holder.Slice(idx, hi))
	return entries
}

// Matches report whether the local log contains prevIdx with term
// prevTerm. The empty prefix (prevIdx zero) always matches.
func (holder *LogHolder) Matches(prevIdx, prevTerm uint64) bool {
	if prevIdx == conf.InvalidIndex {
		return true
	}
	return prevIdx <= holder.LastIndex() && holder.Term(prevIdx) == prevTerm
}

// ConflictHint return where a rejecting follower suggests the leader
// back off to: the first index of the term found at prevIdx, or one
// past the local last index when the log is shorter.
func (holder *LogHolder) ConflictHint(prevIdx uint64) uint64 {
	if prevIdx > holder.LastIndex() {
		return holder.LastIndex() + 1
	}
	term := holder.Term(prevIdx)
	idx := prevIdx
	for idx > 1 && holder.Term(idx-1) == term {
		idx--
	}
	return idx
}

// TryAppend reconcile the incoming entries after the matched prefix
// (prevIdx, prevTerm): an existing entry whose term differs from the
// incoming one at the same index is truncated together with everything
// after it, then the remaining incoming entries are appended. It
// returns the new last index, the first truncated index (zero when
// nothing was cut) and the suffix actually appended, so the caller can
// mirror both mutations to durable storage. ok is false when the
// prefix does not match and the log is left untouched.
func (holder *LogHolder) TryAppend(prevIdx, prevTerm uint64,
	entries []raftpd.Entry) (lastIndex, truncatedFrom uint64, appended []raftpd.Entry, ok bool) {
	if !holder.Matches(prevIdx, prevTerm) {
		return holder.LastIndex(), conf.InvalidIndex, nil, false
	}

	conflictIdx := holder.findConflict(entries)
	if conflictIdx == conf.InvalidIndex {
		/* all duplicates, nothing to do */
		return holder.LastIndex(), conf.InvalidIndex, nil, true
	}

	utils.Assert(conflictIdx > holder.commitIndex,
		"%d entry %d conflict with committed entry %d",
		holder.id, conflictIdx, holder.commitIndex)

	if conflictIdx <= holder.LastIndex() {
		truncatedFrom = conflictIdx
		holder.entries = holder.entries[:conflictIdx]
	}

	offset := prevIdx + 1
	appended = entries[conflictIdx-offset:]
	holder.entries = append(holder.entries, appended...)
	holder.validateConsistency()

	return holder.LastIndex(), truncatedFrom, appended, true
}

// Append push entries at back, and return the new last index.
func (holder *LogHolder) Append(entries []raftpd.Entry) uint64 {
	if len(entries) == 0 {
		return holder.LastIndex()
	}

	prevIndex := entries[0].Index - 1
	utils.Assert(prevIndex == holder.LastIndex(),
		"%d append after %d is out of range [last index: %d]",
		holder.id, prevIndex, holder.LastIndex())

	holder.entries = append(holder.entries, entries...)
	holder.validateConsistency()
	return holder.LastIndex()
}

// CommitTo raise commitIndex to min(to, lastIndex); it never
// decreases. The reached commit index is returned.
func (holder *LogHolder) CommitTo(to uint64) uint64 {
	to = utils.MinUint64(to, holder.LastIndex())
	if holder.commitIndex < to {
		holder.commitIndex = to
		log.Debugf("%d commit entries to index: %d", holder.id, to)
	}
	return holder.commitIndex
}

// IsUpToDate determines if the given (idx, term) log is at least as
// up-to-date as the local one: the later last term wins, equal last
// terms compare last indexes.
func (holder *LogHolder) IsUpToDate(idx, term uint64) bool {
	return term > holder.LastTerm() ||
		(term == holder.LastTerm() && idx >= holder.LastIndex())
}
