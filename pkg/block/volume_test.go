package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestVolumeStore(t *testing.T) *VolumeStore {
	t.Helper()
	store, err := OpenVolumeStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestVolumeStoreCreateGetList(t *testing.T) {
	store := openTestVolumeStore(t)

	vol, err := store.CreateVolume("data-0", 10<<30, 4096, DefaultVolumeQosConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, vol.Id)
	assert.Equal(t, VolumeStateAvailable, vol.State)

	got, found, err := store.GetVolume(vol.Id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, vol, got)

	volumes, err := store.ListVolumes()
	require.NoError(t, err)
	assert.Len(t, volumes, 1)
}

func TestVolumeStoreResizeRejectsShrink(t *testing.T) {
	store := openTestVolumeStore(t)
	vol, err := store.CreateVolume("data-0", 10<<30, 4096, DefaultVolumeQosConfig())
	require.NoError(t, err)

	grown, err := store.ResizeVolume(vol.Id, 20<<30)
	require.NoError(t, err)
	assert.EqualValues(t, 20<<30, grown.SizeBytes)

	_, err = store.ResizeVolume(vol.Id, 1<<30)
	assert.Error(t, err)
}

func TestVolumeStoreDeleteCascadesSnapshots(t *testing.T) {
	store := openTestVolumeStore(t)
	vol, err := store.CreateVolume("data-0", 10<<30, 4096, DefaultVolumeQosConfig())
	require.NoError(t, err)

	_, err = store.CreateSnapshot(vol.Id, "snap-0", map[uint64]ChunkRef{0: {ObjectKey: "obj-0", Size: 4096}})
	require.NoError(t, err)

	require.NoError(t, store.DeleteVolume(vol.Id))

	snaps, err := store.ListSnapshots(vol.Id)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestVolumeStoreCloneCarriesSourceChunkRefs(t *testing.T) {
	store := openTestVolumeStore(t)
	vol, err := store.CreateVolume("data-0", 10<<30, 4096, DefaultVolumeQosConfig())
	require.NoError(t, err)

	snap, err := store.CreateSnapshot(vol.Id, "base", map[uint64]ChunkRef{
		0: {ObjectKey: "obj-0", Size: 4096},
		1: {ObjectKey: "obj-1", Size: 4096},
	})
	require.NoError(t, err)

	clone, err := store.CloneVolume(vol.Id, "data-0-clone", snap)
	require.NoError(t, err)
	assert.NotEqual(t, vol.Id, clone.Id)
	assert.Equal(t, vol.SizeBytes, clone.SizeBytes)

	cloneSnaps, err := store.ListSnapshots(clone.Id)
	require.NoError(t, err)
	require.Len(t, cloneSnaps, 1)
	assert.Equal(t, "clone-base", cloneSnaps[0].Name)
	assert.Len(t, cloneSnaps[0].ChunkRefs, 2)
}

func TestVolumeStoreAttachRejectsSecondHost(t *testing.T) {
	store := openTestVolumeStore(t)
	vol, err := store.CreateVolume("data-0", 10<<30, 4096, DefaultVolumeQosConfig())
	require.NoError(t, err)

	att, err := store.AttachVolume(vol.Id, "host-a")
	require.NoError(t, err)

	_, err = store.AttachVolume(vol.Id, "host-b")
	assert.Error(t, err)

	require.NoError(t, store.DetachVolume(att.Id))
	_, err = store.AttachVolume(vol.Id, "host-b")
	assert.NoError(t, err)
}

// fakeChunkEnumerator backs block.Service's ChunkEnumerator in tests without
// a real BoltChunkTable.
type fakeChunkEnumerator struct {
	chunks map[string]map[uint64]string
}

func (f *fakeChunkEnumerator) ListChunks(volumeId string) (map[uint64]string, error) {
	return f.chunks[volumeId], nil
}

func newTestService(t *testing.T, writer ShardWriter) (*Service, *Cache, *fakeChunkTable) {
	t.Helper()
	store := openTestVolumeStore(t)
	pipeline, cache, journal, table := newTestFlushPipeline(t, writer)
	t.Cleanup(func() { journal.Close() })
	qos := NewQosManager()
	enumerator := &fakeChunkEnumerator{chunks: make(map[string]map[uint64]string)}
	svc := NewService(store, cache, pipeline, qos, enumerator, nil)
	return svc, cache, table
}

func TestServiceCreateVolumeAttachesQos(t *testing.T) {
	svc, _, _ := newTestService(t, newFakeWriter())
	vol, err := svc.CreateVolume("vol-a", 10<<30, VolumeQosConfig{MaxIOPS: 5, BurstIOPS: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, vol.Id)
	_, attached := svc.qos.Get(vol.Id)
	assert.True(t, attached)
}

func TestServiceWriteReadRoundTripsThroughCache(t *testing.T) {
	svc, _, _ := newTestService(t, newFakeWriter())
	vol, err := svc.CreateVolume("vol-a", 10<<30, DefaultVolumeQosConfig())
	require.NoError(t, err)

	require.NoError(t, svc.Write(vol.Id, 0, []byte("hello world")))

	got, err := svc.Read(vol.Id, 0, 11)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestServiceFlushThenReadFillsFromBacking(t *testing.T) {
	svc, cache, table := newTestService(t, newFakeWriter())
	vol, err := svc.CreateVolume("vol-a", 10<<30, DefaultVolumeQosConfig())
	require.NoError(t, err)

	require.NoError(t, svc.Write(vol.Id, 0, []byte("flush me")))
	require.NoError(t, svc.Flush(vol.Id))
	assert.False(t, cache.IsDirty(ChunkKey{VolumeId: vol.Id, ChunkId: 0}))

	_, ok, err := table.GetChunkObject(vol.Id, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	cache.Evict(ChunkKey{VolumeId: vol.Id, ChunkId: 0})
	_, err = svc.Read(vol.Id, 0, 8)
	require.NoError(t, err)
}

func TestServiceTrimClearsDirtyBytes(t *testing.T) {
	svc, cache, _ := newTestService(t, newFakeWriter())
	vol, err := svc.CreateVolume("vol-a", 10<<30, DefaultVolumeQosConfig())
	require.NoError(t, err)

	require.NoError(t, svc.Write(vol.Id, 0, []byte("trim target")))
	require.NoError(t, svc.Trim(vol.Id, 0, 11))

	data, ok := cache.Read(ChunkKey{VolumeId: vol.Id, ChunkId: 0}, 0, 11)
	require.True(t, ok)
	assert.NotEqual(t, []byte("trim target"), data)
}

func TestServiceCloneVolumeRequiresExistingSnapshot(t *testing.T) {
	svc, _, _ := newTestService(t, newFakeWriter())
	vol, err := svc.CreateVolume("vol-a", 10<<30, DefaultVolumeQosConfig())
	require.NoError(t, err)

	_, err = svc.CloneVolume(vol.Id, "vol-a-clone", "does-not-exist")
	assert.Error(t, err)
}
