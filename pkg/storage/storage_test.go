package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudomate/objectio/pkg/common"
)

func TestBlockBitmapAllocateFree(t *testing.T) {
	bm := NewBlockBitmap(100)
	assert.EqualValues(t, 100, bm.FreeBlocks())

	block, ok := bm.Allocate()
	require.True(t, ok)
	assert.EqualValues(t, 0, block)
	assert.True(t, bm.IsAllocated(0))
	assert.EqualValues(t, 99, bm.FreeBlocks())

	require.NoError(t, bm.Free(block))
	assert.False(t, bm.IsAllocated(0))
	assert.EqualValues(t, 100, bm.FreeBlocks())
}

func TestBlockBitmapExtentAllocation(t *testing.T) {
	bm := NewBlockBitmap(100)

	extent, ok := bm.AllocateExtent(10)
	require.True(t, ok)
	assert.EqualValues(t, 0, extent.Start)
	assert.EqualValues(t, 10, extent.Length)
	assert.EqualValues(t, 90, bm.FreeBlocks())

	for b := extent.Start; b < extent.End(); b++ {
		assert.True(t, bm.IsAllocated(b))
	}

	require.NoError(t, bm.FreeExtent(extent))
	assert.EqualValues(t, 100, bm.FreeBlocks())
}

func TestBlockBitmapFull(t *testing.T) {
	bm := NewBlockBitmap(5)
	for i := 0; i < 5; i++ {
		_, ok := bm.Allocate()
		require.True(t, ok)
	}
	_, ok := bm.Allocate()
	assert.False(t, ok)
}

func TestBlockBitmapRoundTripBytes(t *testing.T) {
	bm := NewBlockBitmap(100)
	_, _ = bm.Allocate()
	_, _ = bm.Allocate()
	_, _ = bm.Allocate()

	reloaded := LoadBlockBitmap(bm.ToBytes(), 100)
	assert.EqualValues(t, 97, reloaded.FreeBlocks())
	assert.True(t, reloaded.IsAllocated(0))
	assert.True(t, reloaded.IsAllocated(2))
	assert.False(t, reloaded.IsAllocated(3))
}

func TestWALBeginWriteCommitReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	wal, err := CreateWAL(path, 4*1024*1024, SyncAlways)
	require.NoError(t, err)

	txn, err := wal.Begin()
	require.NoError(t, err)

	objID := common.NewObjectId()
	require.NoError(t, wal.Write(txn, WriteOp{BlockNum: 7, ObjectId: objID, ObjectOffset: 0, Data: []byte("hello")}))

	writes, err := wal.Commit(txn)
	require.NoError(t, err)
	assert.Len(t, writes, 1)
	require.NoError(t, wal.Close())

	reopened, err := OpenWAL(path, SyncAlways)
	require.NoError(t, err)
	defer reopened.Close()

	committed, err := reopened.Replay()
	require.NoError(t, err)
	require.Contains(t, committed, txn)
	assert.Equal(t, []byte("hello"), committed[txn][0].Data)
}

func TestWALAbortedTxnNotReplayed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	wal, err := CreateWAL(path, 4*1024*1024, SyncAlways)
	require.NoError(t, err)

	txn, err := wal.Begin()
	require.NoError(t, err)
	require.NoError(t, wal.Write(txn, WriteOp{BlockNum: 1, ObjectId: common.NewObjectId(), Data: []byte("x")}))
	require.NoError(t, wal.Abort(txn))
	require.NoError(t, wal.Close())

	reopened, err := OpenWAL(path, SyncAlways)
	require.NoError(t, err)
	defer reopened.Close()

	committed, err := reopened.Replay()
	require.NoError(t, err)
	assert.NotContains(t, committed, txn)
}

func TestDiskManagerFormatWriteReadBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk0.img")
	diskID := common.NewDiskId()

	dm, err := FormatDisk(path, diskID, 64, 4096)
	require.NoError(t, err)
	defer dm.Close()

	block, err := dm.Allocate()
	require.NoError(t, err)

	objID := common.NewObjectId()
	payload := []byte("erasure-coded shard payload")
	require.NoError(t, dm.WriteBlock(block, objID, 3, payload))

	header, data, err := dm.ReadBlock(block)
	require.NoError(t, err)
	assert.Equal(t, objID, header.ObjectId)
	assert.EqualValues(t, 3, header.StripeId)
	assert.Equal(t, payload, data)

	require.NoError(t, dm.HealthCheck())
}

func TestDiskManagerReopenPersistsBitmap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk1.img")
	diskID := common.NewDiskId()

	dm, err := FormatDisk(path, diskID, 64, 4096)
	require.NoError(t, err)

	block, err := dm.Allocate()
	require.NoError(t, err)
	require.NoError(t, dm.SyncBitmap())
	require.NoError(t, dm.Close())

	reopened, err := OpenDiskManager(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.bitmap.IsAllocated(block))
	assert.EqualValues(t, 63, reopened.FreeBlocks())
}

func TestDiskManagerCorruptBlockDetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk2.img")
	dm, err := FormatDisk(path, common.NewDiskId(), 16, 4096)
	require.NoError(t, err)
	defer dm.Close()

	block, err := dm.Allocate()
	require.NoError(t, err)
	require.NoError(t, dm.WriteBlock(block, common.NewObjectId(), 0, []byte("payload")))

	// Flip a payload byte directly on disk to simulate bitrot.
	offset := dm.blockOffset(block) + int64(blockHeaderSize)
	_, err = dm.file.WriteAt([]byte{0xFF}, offset)
	require.NoError(t, err)

	_, _, err = dm.ReadBlock(block)
	require.Error(t, err)
	assert.Equal(t, common.KindCorruption, common.KindOf(err))
}

func TestMetadataStorePutGetDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenMetadataStore(DefaultMetadataStoreConfig(dir))
	require.NoError(t, err)
	defer store.Close()

	key := ObjectKey("bucket-a", "key-1")
	lsn, err := store.Put(key, []byte("value-1"))
	require.NoError(t, err)
	assert.Greater(t, lsn, int64(0))

	v, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("value-1"), v)
	assert.True(t, store.Contains(key))

	require.NoError(t, store.Delete(key))
	_, ok = store.Get(key)
	assert.False(t, ok)
}

func TestMetadataStoreBatchPutReturnsLSN(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenMetadataStore(DefaultMetadataStoreConfig(dir))
	require.NoError(t, err)
	defer store.Close()

	entries := map[MetadataKey][]byte{
		ObjectKey("bucket-a", "key-1"): []byte("value-1"),
		ObjectKey("bucket-a", "key-2"): []byte("value-2"),
	}
	lsn, err := store.BatchPut(entries)
	require.NoError(t, err)
	assert.Greater(t, lsn, int64(0))

	for k, v := range entries {
		got, ok := store.Get(k)
		require.True(t, ok)
		assert.Equal(t, v, got)
	}
}

func TestMetadataStoreSnapshotRotatesWAL(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenMetadataStore(DefaultMetadataStoreConfig(dir))
	require.NoError(t, err)
	defer store.Close()

	key := ObjectKey("bucket-a", "key-1")
	_, err = store.Put(key, []byte("value-1"))
	require.NoError(t, err)

	lsn, err := store.Snapshot()
	require.NoError(t, err)
	assert.Greater(t, lsn, int64(0))

	// The value survives the snapshot since the index is durable
	// independently of the WAL rotation.
	v, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("value-1"), v)
}

func TestMetadataStoreReplaysUncompactedWALOnReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenMetadataStore(DefaultMetadataStoreConfig(dir))
	require.NoError(t, err)

	key := ObjectKey("bucket-a", "key-1")
	_, err = store.Put(key, []byte("value-1"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenMetadataStore(DefaultMetadataStoreConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	v, ok := reopened.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("value-1"), v)
}

func TestMetadataStoreShardRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenMetadataStore(DefaultMetadataStoreConfig(dir))
	require.NoError(t, err)
	defer store.Close()

	objID := common.NewObjectId()
	meta := ShardMeta{
		ObjectId:       objID,
		ShardPosition:  2,
		BlockNum:       42,
		Size:           1024,
		ChecksumCRC32C: 0xDEADBEEF,
		CreatedAt:      NowUnix(),
		LastVerified:   NowUnix(),
		ShardType:      common.ShardRoleData,
	}
	require.NoError(t, store.PutShard(meta))

	got, ok, err := store.GetShard(objID, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 42, got.BlockNum)
	assert.EqualValues(t, 0xDEADBEEF, got.ChecksumCRC32C)
}

func TestMetadataStoreScanObjectShards(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenMetadataStore(DefaultMetadataStoreConfig(dir))
	require.NoError(t, err)
	defer store.Close()

	objID := common.NewObjectId()
	for pos := uint8(0); pos < 6; pos++ {
		role := common.ShardRoleData
		if pos >= 4 {
			role = common.ShardRoleGlobalParity
		}
		require.NoError(t, store.PutShard(ShardMeta{
			ObjectId:      objID,
			ShardPosition: pos,
			BlockNum:      100 + uint64(pos),
			ShardType:     role,
		}))
	}

	shards, err := store.ScanObjectShards(objID)
	require.NoError(t, err)
	require.Len(t, shards, 6)
	for i, s := range shards {
		assert.EqualValues(t, i, s.ShardPosition)
	}
}

func TestServiceWriteReadDeleteShard(t *testing.T) {
	dir := t.TempDir()
	diskID := common.NewDiskId()
	dm, err := FormatDisk(filepath.Join(dir, "disk.img"), diskID, 64, 4096)
	require.NoError(t, err)
	defer dm.Close()

	metaStore, err := OpenMetadataStore(DefaultMetadataStoreConfig(filepath.Join(dir, "meta")))
	require.NoError(t, err)
	defer metaStore.Close()

	svc := NewService()
	svc.AddDisk(diskID, dm, metaStore)

	shard := common.ShardId{ObjectId: common.NewObjectId(), StripeId: 1, Position: 0}
	data := []byte("shard payload bytes")

	loc, err := svc.WriteShard(diskID, shard, common.ShardRoleData, nil, data)
	require.NoError(t, err)
	assert.Equal(t, diskID, loc.DiskId)

	read, err := svc.ReadShard(diskID, shard.ObjectId, shard.Position)
	require.NoError(t, err)
	assert.Equal(t, data, read)

	require.NoError(t, svc.DeleteShard(diskID, shard.ObjectId, shard.Position))
	_, err = svc.ReadShard(diskID, shard.ObjectId, shard.Position)
	assert.Error(t, err)

	assert.True(t, svc.IsHealthy())
}

func TestServiceWriteShardSpansMultipleBlocks(t *testing.T) {
	dir := t.TempDir()
	diskID := common.NewDiskId()
	// A tiny block size forces a shard well under the spec's default chunk
	// size to still span several blocks, exercising the extent path.
	dm, err := FormatDisk(filepath.Join(dir, "disk.img"), diskID, 64, 64)
	require.NoError(t, err)
	defer dm.Close()

	metaStore, err := OpenMetadataStore(DefaultMetadataStoreConfig(filepath.Join(dir, "meta")))
	require.NoError(t, err)
	defer metaStore.Close()

	svc := NewService()
	svc.AddDisk(diskID, dm, metaStore)

	shard := common.ShardId{ObjectId: common.NewObjectId(), StripeId: 1, Position: 0}
	data := make([]byte, 200) // > one 64-byte block's ~32-byte payload capacity
	for i := range data {
		data[i] = byte(i)
	}

	loc, err := svc.WriteShard(diskID, shard, common.ShardRoleData, nil, data)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), loc.Length)

	meta, err := svc.GetShardMeta(diskID, shard.ObjectId, shard.Position)
	require.NoError(t, err)
	assert.Greater(t, meta.BlockCount, uint32(1))

	read, err := svc.ReadShard(diskID, shard.ObjectId, shard.Position)
	require.NoError(t, err)
	assert.Equal(t, data, read)

	require.NoError(t, svc.DeleteShard(diskID, shard.ObjectId, shard.Position))
	assert.EqualValues(t, 64, dm.FreeBlocks())
}

func TestServiceListObjectsMetaPagination(t *testing.T) {
	dir := t.TempDir()
	diskID := common.NewDiskId()
	dm, err := FormatDisk(filepath.Join(dir, "disk.img"), diskID, 64, 4096)
	require.NoError(t, err)
	defer dm.Close()

	metaStore, err := OpenMetadataStore(DefaultMetadataStoreConfig(filepath.Join(dir, "meta")))
	require.NoError(t, err)
	defer metaStore.Close()

	svc := NewService()
	svc.AddDisk(diskID, dm, metaStore)

	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		require.NoError(t, svc.PutObjectMeta(diskID, "bucket", k, []byte(k)))
	}

	page1, err := svc.ListObjectsMeta(diskID, "bucket", "", "", 2)
	require.NoError(t, err)
	require.Len(t, page1.Entries, 2)
	assert.NotEmpty(t, page1.NextContinuationToken)

	page2, err := svc.ListObjectsMeta(diskID, "bucket", "", page1.NextContinuationToken, 10)
	require.NoError(t, err)
	assert.Len(t, page2.Entries, 3)
	assert.Empty(t, page2.NextContinuationToken)
}
