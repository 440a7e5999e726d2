package storage

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/seastarlab/tidal/raft/core/conf"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/utils/pd"
)

var (
	// Bucket names
	logBucket  = []byte("logs")
	metaBucket = []byte("meta")

	// Metadata key
	hardStateKey = []byte("hardstate")
)

// Bolt is a bbolt-backed storage adapter. Log entries live in the
// logs bucket keyed by big-endian index, so a cursor walks them in
// log order; term and vote live as a single record in the meta
// bucket.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt open (or create) the database file at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(logBucket); err != nil {
			return fmt.Errorf("create log bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Bolt{db: db}, nil
}

// Close release the database file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// LoadState read the metadata record and scan the log bucket in key
// order.
func (b *Bolt) LoadState() (raftpd.HardState, []raftpd.Entry, error) {
	hs := raftpd.HardState{Term: conf.InvalidTerm, Vote: conf.InvalidID}
	var entries []raftpd.Entry

	err := b.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(metaBucket).Get(hardStateKey); data != nil {
			if err := pd.Unmarshal(&hs, data); err != nil {
				return fmt.Errorf("decode hard state: %w", err)
			}
		}

		cursor := tx.Bucket(logBucket).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry raftpd.Entry
			if err := pd.Unmarshal(&entry, v); err != nil {
				return fmt.Errorf("decode entry %d: %w", bytesToUint64(k), err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return raftpd.HardState{}, nil, err
	}
	return hs, entries, nil
}

// SaveMeta store term and vote in one transaction.
func (b *Bolt) SaveMeta(term, vote uint64) error {
	hs := raftpd.HardState{Term: term, Vote: vote}
	data, err := pd.Marshal(&hs)
	if err != nil {
		return fmt.Errorf("encode hard state: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put(hardStateKey, data)
	})
}

// AppendLog store entries keyed by index in one transaction.
func (b *Bolt) AppendLog(entries []raftpd.Entry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		for i := range entries {
			data, err := pd.Marshal(&entries[i])
			if err != nil {
				return fmt.Errorf("encode entry %d: %w", entries[i].Index, err)
			}
			if err := bucket.Put(uint64ToBytes(entries[i].Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// TruncateLog delete every entry with index >= from in one
// transaction.
func (b *Bolt) TruncateLog(from uint64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(logBucket).Cursor()
		for k, _ := cursor.Seek(uint64ToBytes(from)); k != nil; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func uint64ToBytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
