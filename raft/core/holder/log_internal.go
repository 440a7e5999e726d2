package holder

import (
	log "github.com/sirupsen/logrus"

	"github.com/seastarlab/tidal/raft/core/conf"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/utils"
)

func (holder *LogHolder) checkOutOfBounds(lo, hi uint64) {
	utils.Assert(lo <= hi, "%d invalid slice %d > %d", holder.id, lo, hi)
	utils.Assert(lo >= 1 && hi <= holder.LastIndex()+1,
		"%d slice[%d, %d) out of bound [1, %d)",
		holder.id, lo, hi, holder.LastIndex()+1)
}

// findConflict return the index of the first incoming entry whose term
// differs from the local entry at the same index, InvalidIndex when
// every incoming entry is already present.
func (holder *LogHolder) findConflict(entries []raftpd.Entry) uint64 {
	for i := 0; i < len(entries); i++ {
		entry := &entries[i]
		if holder.Term(entry.Index) != entry.Term {
			if entry.Index <= holder.LastIndex() {
				log.Infof("%d found conflict at index %d "+
					"[existing term: %d, conflicting term: %d]",
					holder.id, entry.Index, holder.Term(entry.Index), entry.Term)
			}
			return entry.Index
		}
	}
	return conf.InvalidIndex
}

func (holder *LogHolder) validateConsistency() {
	for i := 0; i < len(holder.entries); i++ {
		utils.Assert(holder.entries[i].Index == uint64(i),
			"%d index: %d at: %d not sequences", holder.id, holder.entries[i].Index, i)
	}
}
