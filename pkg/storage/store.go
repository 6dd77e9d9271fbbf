package storage

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/log"
	"github.com/cloudomate/objectio/pkg/metrics"
)

// MetadataStoreConfig controls where a MetadataStore keeps its files and how
// aggressively it caches.
type MetadataStoreConfig struct {
	DataDir            string
	CacheSize          int
	WALSizeBytes       int64
	CompactionInterval time.Duration
}

func DefaultMetadataStoreConfig(dataDir string) MetadataStoreConfig {
	return MetadataStoreConfig{
		DataDir:            dataDir,
		CacheSize:          10000,
		WALSizeBytes:       64 << 20,
		CompactionInterval: 60 * time.Second,
	}
}

// MetadataStore is the unified per-OSD metadata interface: a WAL-fronted
// bbolt index for durable storage, fronted by an ARC cache for hot keys.
// Every mutation is appended to the WAL and committed before it touches the
// index, so Put/BatchPut can hand back the LSN of the record that
// durably covers them, and a crash between WAL commit and index apply is
// recovered by replaying the WAL on open. bbolt's own page-level
// transactions still make the index itself crash-consistent; the WAL here
// exists for the LSN/replay contract and is compacted away periodically by
// Snapshot, independent of bbolt's internal journaling.
type MetadataStore struct {
	index  *BTreeIndex
	cache  *ArcCache
	config MetadataStoreConfig

	wal          *WAL
	walPath      string
	walSizeBytes int64

	mu      sync.Mutex
	entries atomic.Int64
}

// OpenMetadataStore opens or creates the metadata store rooted at
// cfg.DataDir.
func OpenMetadataStore(cfg MetadataStoreConfig) (*MetadataStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, common.Wrap(common.KindInternal, err, "create metadata data dir")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.WALSizeBytes <= 0 {
		cfg.WALSizeBytes = 64 << 20
	}
	if cfg.CompactionInterval <= 0 {
		cfg.CompactionInterval = 60 * time.Second
	}

	indexPath := filepath.Join(cfg.DataDir, "index.db")
	index, err := OpenBTreeIndex(indexPath)
	if err != nil {
		return nil, err
	}

	walPath := filepath.Join(cfg.DataDir, "meta.wal")
	wal, err := OpenWAL(walPath, SyncOnCommit)
	if err != nil {
		wal, err = CreateWAL(walPath, cfg.WALSizeBytes, SyncOnCommit)
		if err != nil {
			index.Close()
			return nil, err
		}
	}

	store := &MetadataStore{
		index:        index,
		cache:        NewArcCache(cfg.CacheSize),
		config:       cfg,
		wal:          wal,
		walPath:      walPath,
		walSizeBytes: cfg.WALSizeBytes,
	}
	store.entries.Store(int64(index.Len()))

	if err := store.replayWAL(); err != nil {
		index.Close()
		wal.Close()
		return nil, err
	}

	log.WithComponent("storage").Info().
		Str("path", indexPath).
		Int64("entries", store.entries.Load()).
		Msg("opened metadata store")
	return store, nil
}

func (s *MetadataStore) Close() error {
	_ = s.wal.Close()
	return s.index.Close()
}

// metaOp tags what a WAL record replays as against the index.
type metaOp byte

const (
	metaOpPut metaOp = iota
	metaOpDelete
)

// encodeMetaOp packs one index mutation into a WAL WriteOp's Data field:
// op(1) + keyLen(2) + key + value. WriteOp's BlockNum/ObjectId/ObjectOffset
// fields are block-data concerns and stay zero-valued for metadata records.
func encodeMetaOp(op metaOp, key MetadataKey, value []byte) []byte {
	kb := []byte(key)
	buf := make([]byte, 3+len(kb)+len(value))
	buf[0] = byte(op)
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(kb)))
	copy(buf[3:3+len(kb)], kb)
	copy(buf[3+len(kb):], value)
	return buf
}

func decodeMetaOp(data []byte) (metaOp, MetadataKey, []byte, error) {
	if len(data) < 3 {
		return 0, "", nil, common.Corruptionf("meta WAL op record too small")
	}
	op := metaOp(data[0])
	keyLen := int(binary.LittleEndian.Uint16(data[1:3]))
	if len(data) < 3+keyLen {
		return 0, "", nil, common.Corruptionf("meta WAL op record truncated")
	}
	key := MetadataKey(data[3 : 3+keyLen])
	value := append([]byte(nil), data[3+keyLen:]...)
	return op, key, value, nil
}

// replayWAL redoes every committed WAL transaction against the index, in
// ascending transaction-ID order so overlapping keys land in the order they
// were originally applied. Applying an already-applied op is a harmless
// overwrite, so this runs unconditionally on every open rather than tracking
// a precise resume point.
func (s *MetadataStore) replayWAL() error {
	committed, err := s.wal.Replay()
	if err != nil {
		return err
	}
	if len(committed) == 0 {
		return nil
	}

	txnIDs := make([]uint64, 0, len(committed))
	for id := range committed {
		txnIDs = append(txnIDs, id)
	}
	sort.Slice(txnIDs, func(i, j int) bool { return txnIDs[i] < txnIDs[j] })

	for _, id := range txnIDs {
		for _, op := range committed[id] {
			kind, key, value, err := decodeMetaOp(op.Data)
			if err != nil {
				continue
			}
			switch kind {
			case metaOpPut:
				if err := s.index.Put(key, value); err != nil {
					return common.Wrap(common.KindInternal, err, "replay put %s", key)
				}
			case metaOpDelete:
				if err := s.index.Delete(key); err != nil {
					return common.Wrap(common.KindInternal, err, "replay delete %s", key)
				}
			}
		}
	}
	return nil
}

// Put stores value under key, WAL-logging the write before applying it to
// the index and cache, and returns the LSN of the covering WAL commit.
func (s *MetadataStore) Put(key MetadataKey, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, value)
}

func (s *MetadataStore) putLocked(key MetadataKey, value []byte) (int64, error) {
	txnID, err := s.wal.Begin()
	if err != nil {
		return 0, err
	}
	if err := s.wal.Write(txnID, WriteOp{Data: encodeMetaOp(metaOpPut, key, value)}); err != nil {
		_ = s.wal.Abort(txnID)
		return 0, err
	}
	if _, err := s.wal.Commit(txnID); err != nil {
		return 0, err
	}

	existed := s.index.Contains(key)
	if err := s.index.Put(key, value); err != nil {
		return 0, common.Wrap(common.KindInternal, err, "put %s", key)
	}
	s.cache.Put(key, value)
	if !existed {
		s.entries.Add(1)
	}
	return s.wal.CurrentLSN(), nil
}

// PutShard stores a shard's metadata record under its derived key.
func (s *MetadataStore) PutShard(meta ShardMeta) error {
	_, err := s.Put(ShardKey(meta.ObjectId, meta.ShardPosition), meta.ToBytes())
	return err
}

// Delete WAL-logs and applies the removal of key.
func (s *MetadataStore) Delete(key MetadataKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txnID, err := s.wal.Begin()
	if err != nil {
		return err
	}
	if err := s.wal.Write(txnID, WriteOp{Data: encodeMetaOp(metaOpDelete, key, nil)}); err != nil {
		_ = s.wal.Abort(txnID)
		return err
	}
	if _, err := s.wal.Commit(txnID); err != nil {
		return err
	}

	existed := s.index.Contains(key)
	if err := s.index.Delete(key); err != nil {
		return common.Wrap(common.KindInternal, err, "delete %s", key)
	}
	s.cache.Remove(key)
	if existed {
		s.entries.Add(-1)
	}
	return nil
}

// Get reads the value for key, checking the cache before the index and
// populating the cache on an index hit.
func (s *MetadataStore) Get(key MetadataKey) ([]byte, bool) {
	if v, ok := s.cache.Get(key); ok {
		return v, true
	}
	if v, ok := s.index.Get(key); ok {
		s.cache.Put(key, v)
		return v, true
	}
	return nil, false
}

// GetShard reads and decodes one shard's metadata.
func (s *MetadataStore) GetShard(objectID common.ObjectId, position uint8) (ShardMeta, bool, error) {
	v, ok := s.Get(ShardKey(objectID, position))
	if !ok {
		return ShardMeta{}, false, nil
	}
	meta, err := ShardMetaFromBytes(v)
	if err != nil {
		return ShardMeta{}, false, err
	}
	return meta, true, nil
}

func (s *MetadataStore) Contains(key MetadataKey) bool {
	return s.cache.Contains(key) || s.index.Contains(key)
}

// BatchPut writes many entries as a single WAL transaction (one commit
// record covers the whole batch) followed by one index pass, and returns
// the LSN of that commit.
func (s *MetadataStore) BatchPut(entries map[MetadataKey][]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txnID, err := s.wal.Begin()
	if err != nil {
		return 0, err
	}
	for k, v := range entries {
		if err := s.wal.Write(txnID, WriteOp{Data: encodeMetaOp(metaOpPut, k, v)}); err != nil {
			_ = s.wal.Abort(txnID)
			return 0, err
		}
	}
	if _, err := s.wal.Commit(txnID); err != nil {
		return 0, err
	}

	for k, v := range entries {
		existed := s.index.Contains(k)
		if err := s.index.Put(k, v); err != nil {
			return 0, common.Wrap(common.KindInternal, err, "batch put %s", k)
		}
		s.cache.Put(k, v)
		if !existed {
			s.entries.Add(1)
		}
	}
	return s.wal.CurrentLSN(), nil
}

// Snapshot is a manual checkpoint: the index is already fully durable
// (bbolt commits its own transaction log on every Update), so snapshotting
// means recording the WAL's current LSN as the replay boundary and rotating
// to a fresh WAL file, bounding how much a future crash recovery has to
// replay. Returns the LSN the snapshot covers.
func (s *MetadataStore) Snapshot() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.wal.Checkpoint(); err != nil {
		return 0, err
	}
	lsn := s.wal.CurrentLSN()
	if err := s.index.SetLastSnapshotLSN(lsn); err != nil {
		return 0, err
	}
	if err := s.rotateWAL(); err != nil {
		return 0, err
	}
	return lsn, nil
}

func (s *MetadataStore) rotateWAL() error {
	if err := s.wal.Close(); err != nil {
		return err
	}
	wal, err := CreateWAL(s.walPath, s.walSizeBytes, SyncOnCommit)
	if err != nil {
		return err
	}
	s.wal = wal
	return nil
}

// StartCompaction runs Snapshot on a timer until stop is closed. This is the
// background worker that keeps the WAL bounded instead of growing forever
// between restarts.
func (s *MetadataStore) StartCompaction(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			timer := metrics.NewTimer()
			if _, err := s.Snapshot(); err != nil {
				log.WithComponent("storage").Error().Err(err).Msg("metadata compaction failed")
				continue
			}
			timer.ObserveDuration(metrics.MetaCompactionDuration)
		case <-stop:
			return
		}
	}
}

// Entry is one key/value pair returned by a prefix scan.
type Entry struct {
	Key   MetadataKey
	Value []byte
}

// ScanPrefix returns every (key, value) pair whose key starts with prefix,
// in sorted order.
func (s *MetadataStore) ScanPrefix(prefix string) ([]Entry, error) {
	var out []Entry
	err := s.index.Scan(prefix, func(key MetadataKey, value []byte) bool {
		out = append(out, Entry{Key: key, Value: append([]byte(nil), value...)})
		return true
	})
	return out, err
}

// ScanObjectShards returns every shard metadata record for objectID, ordered
// by shard position.
func (s *MetadataStore) ScanObjectShards(objectID common.ObjectId) ([]ShardMeta, error) {
	prefix := "shard\x00" + objectID.String() + "\x00"
	var shards []ShardMeta
	err := s.index.Scan(prefix, func(_ MetadataKey, value []byte) bool {
		meta, err := ShardMetaFromBytes(value)
		if err != nil {
			return true
		}
		shards = append(shards, meta)
		return true
	})
	return shards, err
}

func (s *MetadataStore) Len() int64 { return s.entries.Load() }

func (s *MetadataStore) IsEmpty() bool { return s.Len() == 0 }

// Stats reports point-in-time counters for health and status endpoints.
type Stats struct {
	EntryCount int64
	IndexKeys  int
}

func (s *MetadataStore) Stats() Stats {
	return Stats{EntryCount: s.entries.Load(), IndexKeys: s.index.Len()}
}
