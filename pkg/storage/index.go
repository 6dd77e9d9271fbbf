package storage

import (
	"go.etcd.io/bbolt"

	"github.com/cloudomate/objectio/pkg/common"
)

var (
	indexBucket = []byte("index")
	metaBucket  = []byte("meta")
	lsnKey      = []byte("last_snapshot_lsn")
)

// BTreeIndex is the durable key-ordered index backing the metadata store.
// It is implemented directly on bbolt, which is itself a disk-resident
// B+tree with its own page-level transactions: "snapshotting" the index is
// just committing a bbolt transaction, so no separate snapshot file format
// is needed the way the in-memory B-tree original required.
type BTreeIndex struct {
	db *bbolt.DB
}

// OpenBTreeIndex opens (creating if necessary) the bbolt-backed index at
// path.
func OpenBTreeIndex(path string) (*BTreeIndex, error) {
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "open index file")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(indexBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, common.Wrap(common.KindInternal, err, "initialize index buckets")
	}
	return &BTreeIndex{db: db}, nil
}

func (idx *BTreeIndex) Close() error { return idx.db.Close() }

// Put stores value under key. lsn is recorded by the caller via
// SetLastSnapshotLSN after a batch of applies, not per key.
func (idx *BTreeIndex) Put(key MetadataKey, value []byte) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(indexBucket).Put([]byte(key), value)
	})
}

func (idx *BTreeIndex) Delete(key MetadataKey) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(indexBucket).Delete([]byte(key))
	})
}

func (idx *BTreeIndex) Get(key MetadataKey) ([]byte, bool) {
	var out []byte
	_ = idx.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(indexBucket).Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil
}

func (idx *BTreeIndex) Contains(key MetadataKey) bool {
	_, ok := idx.Get(key)
	return ok
}

func (idx *BTreeIndex) Len() int {
	var n int
	_ = idx.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(indexBucket).Stats().KeyN
		return nil
	})
	return n
}

// Scan iterates every key with the given prefix in sorted order, calling
// fn until it returns false or the keys run out.
func (idx *BTreeIndex) Scan(prefix string, fn func(key MetadataKey, value []byte) bool) error {
	return idx.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(indexBucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			if !fn(MetadataKey(k), v) {
				break
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// LastSnapshotLSN returns the WAL offset recorded by the last Snapshot.
// WAL replay on open does not consult it; it replays the whole current WAL.
func (idx *BTreeIndex) LastSnapshotLSN() int64 {
	var lsn int64
	_ = idx.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(lsnKey)
		if len(v) == 8 {
			lsn = int64(beUint64(v))
		}
		return nil
	})
	return lsn
}

// SetLastSnapshotLSN persists the current replay boundary; called after a
// compaction pass.
func (idx *BTreeIndex) SetLastSnapshotLSN(lsn int64) error {
	buf := make([]byte, 8)
	putBeUint64(buf, uint64(lsn))
	return idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put(lsnKey, buf)
	})
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putBeUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
