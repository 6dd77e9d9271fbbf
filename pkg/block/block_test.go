package block

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/erasure"
	"github.com/cloudomate/objectio/pkg/placement"
)

func TestVolumeRateLimiterEnforcesIOPS(t *testing.T) {
	cfg := VolumeQosConfig{MaxIOPS: 2, BurstIOPS: 2, Priority: PriorityNormal}
	l := NewVolumeRateLimiter("vol-1", cfg)

	assert.True(t, l.TryAcquire(4096))
	assert.True(t, l.TryAcquire(4096))
	assert.False(t, l.TryAcquire(4096))
	assert.EqualValues(t, 1, l.Stats().Throttled())
}

func TestVolumeRateLimiterUnlimitedWhenNoConfig(t *testing.T) {
	l := NewVolumeRateLimiter("vol-2", DefaultVolumeQosConfig())
	for i := 0; i < 100; i++ {
		assert.True(t, l.TryAcquire(4096))
	}
}

func TestQosManagerAttachDetach(t *testing.T) {
	m := NewQosManager()
	m.Attach("vol-1", VolumeQosConfig{MaxIOPS: 1, BurstIOPS: 1})

	assert.True(t, m.TryAcquire("vol-1", 1))
	assert.False(t, m.TryAcquire("vol-1", 1))
	assert.True(t, m.TryAcquire("vol-unconfigured", 1))

	m.Detach("vol-1")
	assert.True(t, m.TryAcquire("vol-1", 1))
}

func TestLatencyHistogramBucketsAndStats(t *testing.T) {
	h := NewLatencyHistogram()
	h.Record(5)
	h.Record(15)
	h.Record(600_000)

	assert.EqualValues(t, 3, h.Count())
	assert.EqualValues(t, 5, h.Min())
	assert.EqualValues(t, 600_000, h.Max())
	assert.InDelta(t, (5.0+15.0+600_000.0)/3.0, h.Mean(), 0.001)
	assert.EqualValues(t, 1, h.buckets[0].Load())  // 5us < 10us
	assert.EqualValues(t, 1, h.buckets[1].Load())  // 15us < 20us
	assert.EqualValues(t, 1, h.buckets[15].Load()) // 600ms lands in the open-ended last bucket
}

func TestJournalWriteSyncReopenRecover(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.jrnl")

	j, err := OpenJournal(path, 1<<20)
	require.NoError(t, err)

	_, err = j.LogWrite("vol-1", 3, 0, []byte("hello"))
	require.NoError(t, err)
	_, err = j.LogWrite("vol-1", 3, 5, []byte("world"))
	require.NoError(t, err)
	require.NoError(t, j.Sync())
	require.NoError(t, j.Close())

	reopened, err := OpenJournal(path, 1<<20)
	require.NoError(t, err)
	defer reopened.Close()

	writes, err := reopened.Recover()
	require.NoError(t, err)
	require.Len(t, writes, 2)
	assert.Equal(t, []byte("hello"), writes[0].Data)
	assert.Equal(t, []byte("world"), writes[1].Data)
}

func TestJournalCheckpointObsoletesPriorWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.jrnl")

	j, err := OpenJournal(path, 1<<20)
	require.NoError(t, err)

	_, err = j.LogWrite("vol-1", 1, 0, []byte("stale"))
	require.NoError(t, err)
	_, err = j.Checkpoint()
	require.NoError(t, err)
	_, err = j.LogWrite("vol-1", 2, 0, []byte("fresh"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened, err := OpenJournal(path, 1<<20)
	require.NoError(t, err)
	defer reopened.Close()

	writes, err := reopened.Recover()
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Equal(t, []byte("fresh"), writes[0].Data)
}

func TestJournalRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.jrnl")

	j, err := OpenJournal(path, 64)
	require.NoError(t, err)
	defer j.Close()

	_, err = j.LogWrite("vol-1", 1, 0, make([]byte, 128))
	require.NoError(t, err)
	assert.True(t, j.NeedsRotation())

	require.NoError(t, j.Rotate())
	assert.False(t, j.NeedsRotation())
}

func TestCacheWriteReadAndDirtyRanges(t *testing.T) {
	c := NewCache(4096, 64<<20)
	key := ChunkKey{VolumeId: "vol-1", ChunkId: 0}

	c.Write(key, 0, []byte("hello"))
	c.Write(key, 100, []byte("world"))

	got, ok := c.Read(key, 0, 5)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)

	assert.True(t, c.IsDirty(key))
	ranges := c.DirtyRanges(key)
	assert.NotEmpty(t, ranges)
}

func TestCacheFillCleanDoesNotClobberDirty(t *testing.T) {
	c := NewCache(4096, 64<<20)
	key := ChunkKey{VolumeId: "vol-1", ChunkId: 0}

	c.Write(key, 0, []byte("dirty"))
	c.FillClean(key, make([]byte, 4096))

	got, ok := c.Read(key, 0, 5)
	require.True(t, ok)
	assert.Equal(t, []byte("dirty"), got)
}

func TestCacheMarkCleanAndEvict(t *testing.T) {
	c := NewCache(4096, 64<<20)
	key := ChunkKey{VolumeId: "vol-1", ChunkId: 0}

	c.Write(key, 0, []byte("x"))
	assert.False(t, c.Evict(key), "dirty chunk must not evict")

	c.MarkClean(key)
	assert.True(t, c.Evict(key))
}

func TestCacheDirtyChunksLists(t *testing.T) {
	c := NewCache(4096, 64<<20)
	a := ChunkKey{VolumeId: "vol-1", ChunkId: 0}
	b := ChunkKey{VolumeId: "vol-1", ChunkId: 1}

	c.Write(a, 0, []byte("a"))
	c.FillClean(b, make([]byte, 4096))

	dirty := c.DirtyChunks()
	require.Len(t, dirty, 1)
	assert.Equal(t, a, dirty[0])
}

// fakePlacer assigns each template shard to a deterministic fake node,
// mirroring Crush2's signature without a real cluster topology.
type fakePlacer struct{}

func (fakePlacer) SelectPlacement(id common.ObjectId, tmpl placement.PlacementTemplate) []placement.Placement {
	out := make([]placement.Placement, len(tmpl.Shards))
	for i, s := range tmpl.Shards {
		out[i] = placement.Placement{
			Position:   s.Position,
			NodeId:     common.NewNodeId(),
			Role:       s.Role,
			LocalGroup: s.LocalGroup,
		}
	}
	return out
}

// fakeWriter records every shard write in memory; failUntil forces the
// first failUntil writes addressed to position 0 to fail, to exercise retry.
type fakeWriter struct {
	mu          sync.Mutex
	writes      []common.ShardId
	failUntil   int
	attemptsFor map[uint8]int
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{attemptsFor: make(map[uint8]int)}
}

func (w *fakeWriter) WriteShard(_ ctxCarrier, _ common.NodeId, shard common.ShardId, _ common.ShardRole, _ *uint8, _ []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attemptsFor[shard.Position]++
	if shard.Position == 0 && w.attemptsFor[shard.Position] <= w.failUntil {
		return common.Unavailablef("simulated transient failure")
	}
	w.writes = append(w.writes, shard)
	return nil
}

type fakeChunkTable struct {
	mu      sync.Mutex
	objects map[ChunkKey]string
}

func newFakeChunkTable() *fakeChunkTable {
	return &fakeChunkTable{objects: make(map[ChunkKey]string)}
}

func (t *fakeChunkTable) SetChunkObject(volumeId string, chunkId uint64, objectKey string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objects[ChunkKey{VolumeId: volumeId, ChunkId: chunkId}] = objectKey
	return nil
}

func (t *fakeChunkTable) GetChunkObject(volumeId string, chunkId uint64) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.objects[ChunkKey{VolumeId: volumeId, ChunkId: chunkId}]
	return v, ok, nil
}

func (t *fakeChunkTable) DeleteChunkObject(volumeId string, chunkId uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.objects, ChunkKey{VolumeId: volumeId, ChunkId: chunkId})
	return nil
}

type fakeChunkReader struct{ chunkSize int }

func (r fakeChunkReader) ReadChunk(objectKey string) ([]byte, error) {
	return make([]byte, r.chunkSize), nil
}

func newTestFlushPipeline(t *testing.T, writer ShardWriter) (*FlushPipeline, *Cache, *Journal, *fakeChunkTable) {
	t.Helper()
	codec, err := erasure.New(erasure.MDSConfig(2, 1))
	require.NoError(t, err)

	dir := t.TempDir()
	cache := NewCache(4096, 64<<20)
	journal, err := OpenJournal(filepath.Join(dir, "vol.jrnl"), 1<<20)
	require.NoError(t, err)
	table := newFakeChunkTable()

	pipeline := NewFlushPipeline(FlushPipelineConfig{
		Cache:        cache,
		Journal:      journal,
		Codec:        codec,
		Template:     placement.MDSTemplate(2, 1),
		Placer:       fakePlacer{},
		Writer:       writer,
		Reader:       fakeChunkReader{chunkSize: 4096},
		ChunkTable:   table,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	return pipeline, cache, journal, table
}

func TestFlushPipelineHappyPath(t *testing.T) {
	writer := newFakeWriter()
	pipeline, cache, journal, table := newTestFlushPipeline(t, writer)
	defer journal.Close()

	key := ChunkKey{VolumeId: "vol-1", ChunkId: 7}
	cache.Write(key, 0, []byte("payload bytes"))

	require.NoError(t, pipeline.Flush("vol-1", 7))

	assert.False(t, cache.IsDirty(key))
	_, ok, err := table.GetChunkObject("vol-1", 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, writer.writes, 3) // k=2 data + m=1 parity
}

func TestFlushPipelineCleanChunkIsNoOp(t *testing.T) {
	writer := newFakeWriter()
	pipeline, _, journal, _ := newTestFlushPipeline(t, writer)
	defer journal.Close()

	require.NoError(t, pipeline.Flush("vol-1", 99))
	assert.Empty(t, writer.writes)
}

func TestFlushPipelineRetriesOnTransientFailure(t *testing.T) {
	writer := newFakeWriter()
	writer.failUntil = 1
	pipeline, cache, journal, _ := newTestFlushPipeline(t, writer)
	defer journal.Close()

	key := ChunkKey{VolumeId: "vol-1", ChunkId: 1}
	cache.Write(key, 0, []byte("retry me"))

	require.NoError(t, pipeline.Flush("vol-1", 1))
	assert.False(t, cache.IsDirty(key))
}

func TestFlushPipelineLeavesDirtyOnPermanentFailure(t *testing.T) {
	writer := newFakeWriter()
	writer.failUntil = 100
	pipeline, cache, journal, _ := newTestFlushPipeline(t, writer)
	defer journal.Close()

	key := ChunkKey{VolumeId: "vol-1", ChunkId: 2}
	cache.Write(key, 0, []byte("never flushes"))

	err := pipeline.Flush("vol-1", 2)
	assert.Error(t, err)
	assert.True(t, cache.IsDirty(key))
}

func TestFlushPipelineSerializesPerChunk(t *testing.T) {
	writer := newFakeWriter()
	_, cache, journal, _ := newTestFlushPipeline(t, writer)
	defer journal.Close()

	key := ChunkKey{VolumeId: "vol-1", ChunkId: 5}
	cache.Write(key, 0, []byte("concurrent"))

	var wg sync.WaitGroup
	var active, maxActive int
	var mu sync.Mutex

	track := func() func() {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		return func() {
			mu.Lock()
			active--
			mu.Unlock()
		}
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock := cache.ChunkLock(key)
			lock.Lock()
			done := track()
			time.Sleep(time.Millisecond)
			done()
			lock.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}
