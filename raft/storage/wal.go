package storage

import (
	"fmt"
	"os"

	"github.com/thinkermao/wal-go"

	"github.com/seastarlab/tidal/raft/core/conf"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/utils/pd"
)

type recordKind int

const (
	recordEntry recordKind = iota
	recordMeta
	recordTruncate
)

// walRecord is the single frame type written to the log. Only the
// fields of the tagged kind are meaningful.
type walRecord struct {
	Kind  recordKind
	State raftpd.HardState
	Entry raftpd.Entry
	From  uint64
}

func (r *walRecord) Reset() { *r = walRecord{} }

// WalStorage is a write-ahead-log storage adapter. Every mutating call
// appends a record and syncs before returning, so an acknowledged
// mutation survives a crash; OpenWal replays the directory, applying
// truncations and index regressions in arrival order, and LoadState
// returns the replayed state.
type WalStorage struct {
	wal     *wal.Wal
	hs      raftpd.HardState
	entries []raftpd.Entry
}

// OpenWal open the log directory, replaying it when it already holds
// records, creating it otherwise.
func OpenWal(dir string) (*WalStorage, error) {
	ws := &WalStorage{
		hs: raftpd.HardState{Term: conf.InvalidTerm, Vote: conf.InvalidID},
	}

	if empty, err := emptyDir(dir); err != nil {
		return nil, err
	} else if empty {
		w, err := wal.Create(dir, conf.InvalidIndex)
		if err != nil {
			return nil, fmt.Errorf("create wal: %w", err)
		}
		ws.wal = w
		return ws, nil
	}

	var replayErr error
	recordReader := func(index uint64, data []byte) error {
		if replayErr != nil {
			return nil
		}
		var record walRecord
		if err := pd.Unmarshal(&record, data); err != nil {
			replayErr = fmt.Errorf("decode wal record %d: %w", index, err)
			return nil
		}
		ws.replay(&record)
		return nil
	}

	w, err := wal.Open(dir, conf.InvalidIndex, recordReader)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	if replayErr != nil {
		return nil, replayErr
	}
	ws.wal = w
	return ws, nil
}

func (ws *WalStorage) replay(record *walRecord) {
	switch record.Kind {
	case recordMeta:
		ws.hs = record.State
	case recordTruncate:
		ws.dropFrom(record.From)
	case recordEntry:
		// A write at an already-used index supersedes the old suffix.
		ws.dropFrom(record.Entry.Index)
		ws.entries = append(ws.entries, record.Entry)
	}
}

func (ws *WalStorage) dropFrom(index uint64) {
	if index <= uint64(len(ws.entries)) {
		ws.entries = ws.entries[:index-1]
	}
}

// LoadState return the replayed metadata and log.
func (ws *WalStorage) LoadState() (raftpd.HardState, []raftpd.Entry, error) {
	entries := make([]raftpd.Entry, len(ws.entries))
	copy(entries, ws.entries)
	return ws.hs, entries, nil
}

// SaveMeta append a metadata record and sync.
func (ws *WalStorage) SaveMeta(term, vote uint64) error {
	record := walRecord{
		Kind:  recordMeta,
		State: raftpd.HardState{Term: term, Vote: vote},
	}
	if err := ws.write(ws.lastIndex(), &record); err != nil {
		return err
	}
	ws.hs = record.State
	return nil
}

// AppendLog append one record per entry and sync once.
func (ws *WalStorage) AppendLog(entries []raftpd.Entry) error {
	for i := range entries {
		record := walRecord{Kind: recordEntry, Entry: entries[i]}
		data, err := pd.Marshal(&record)
		if err != nil {
			return fmt.Errorf("encode wal record: %w", err)
		}
		if err := <-ws.wal.Write(entries[i].Index, data); err != nil {
			return fmt.Errorf("write wal: %w", err)
		}
	}
	if err := <-ws.wal.Sync(); err != nil {
		return fmt.Errorf("sync wal: %w", err)
	}
	for i := range entries {
		ws.dropFrom(entries[i].Index)
		ws.entries = append(ws.entries, entries[i])
	}
	return nil
}

// TruncateLog append a truncation record and sync.
func (ws *WalStorage) TruncateLog(from uint64) error {
	record := walRecord{Kind: recordTruncate, From: from}
	if err := ws.write(from, &record); err != nil {
		return err
	}
	ws.dropFrom(from)
	return nil
}

func (ws *WalStorage) write(at uint64, record *walRecord) error {
	data, err := pd.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode wal record: %w", err)
	}
	if err := <-ws.wal.Write(at, data); err != nil {
		return fmt.Errorf("write wal: %w", err)
	}
	if err := <-ws.wal.Sync(); err != nil {
		return fmt.Errorf("sync wal: %w", err)
	}
	return nil
}

func (ws *WalStorage) lastIndex() uint64 {
	return uint64(len(ws.entries))
}

func emptyDir(dir string) (bool, error) {
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(files) == 0, nil
}
