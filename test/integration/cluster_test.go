// Package integration exercises the cluster across process-local package
// boundaries: real gRPC transport (loopback TCP, not bufconn) between a
// metadata service and several storage daemons, wired the same way
// cmd/objectio-meta, cmd/objectio-osd, and cmd/objectio-gateway wire their
// own collaborators.
package integration

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/cloudomate/objectio/pkg/block"
	"github.com/cloudomate/objectio/pkg/client"
	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/erasure"
	"github.com/cloudomate/objectio/pkg/meta"
	"github.com/cloudomate/objectio/pkg/placement"
	"github.com/cloudomate/objectio/pkg/rpc"
	"github.com/cloudomate/objectio/pkg/scatter"
	"github.com/cloudomate/objectio/pkg/storage"
)

// testOsd is one in-process storage daemon: a real disk image backing a
// real StorageService, served over a real loopback listener.
type testOsd struct {
	nodeID common.NodeId
	diskID common.DiskId
	addr   string
	server *grpc.Server
}

func startTestOsd(t *testing.T) testOsd {
	t.Helper()
	dir := t.TempDir()
	diskID := common.NewDiskId()

	dm, err := storage.FormatDisk(filepath.Join(dir, "disk.img"), diskID, 256, 4096)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	metaStore, err := storage.OpenMetadataStore(storage.DefaultMetadataStoreConfig(filepath.Join(dir, "meta")))
	require.NoError(t, err)
	t.Cleanup(func() { metaStore.Close() })

	svc := storage.NewService()
	svc.AddDisk(diskID, dm, metaStore)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer(rpc.ServerOptions(nil, nil)...)
	rpc.RegisterStorageServer(server, rpc.NewStorageServer(svc))
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	return testOsd{nodeID: common.NewNodeId(), diskID: diskID, addr: lis.Addr().String(), server: server}
}

// startTestCluster brings up a metadata service and n storage daemons, each
// registered in its own failure domain (rack) so Crush2 has enough distinct
// domains to place every shard of an MDS(k,m) template, and returns a
// connected MetadataClient plus the registered OSDs.
func startTestCluster(t *testing.T, n int) (rpc.MetadataClient, []testOsd) {
	t.Helper()
	store, err := meta.OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	topo, err := meta.NewTopologyManager(store)
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer(rpc.ServerOptions(nil, nil)...)
	rpc.RegisterMetadataServer(server, rpc.NewMetadataServer(store, topo))
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	pool := client.NewPool(nil)
	t.Cleanup(func() { pool.Close() })
	mc, err := pool.Metadata(lis.Addr().String())
	require.NoError(t, err)

	osds := make([]testOsd, n)
	ctx := context.Background()
	for i := 0; i < n; i++ {
		osd := startTestOsd(t)
		_, err := mc.RegisterOsd(ctx, &rpc.RegisterOsdRequest{
			NodeId:  osd.nodeID,
			Address: osd.addr,
			Name:    fmt.Sprintf("osd-%d", i),
			DiskIds: []common.DiskId{osd.diskID},
			Domain:  placement.FailureDomainInfo{Region: "us-east", Datacenter: "dc1", Rack: fmt.Sprintf("rack-%d", i)},
			Weight:  1.0,
		})
		require.NoError(t, err)
		osds[i] = osd
	}
	return mc, osds
}

// TestClusterPlacementWriteAndGatherRoundTrip resolves a real MDS(2,1)
// placement from the metadata service against three registered OSDs, writes
// every encoded shard to the OSD it was placed on over real gRPC, and
// reconstructs the original bytes through a Gatherer the same way
// cmd/objectio-block-gateway's flush pipeline would on a read-side gap fill.
func TestClusterPlacementWriteAndGatherRoundTrip(t *testing.T) {
	mc, _ := startTestCluster(t, 3)
	pool := client.NewPool(nil)
	t.Cleanup(func() { pool.Close() })

	directory := client.NewPolledDirectory(mc, 50*time.Millisecond, zerolog.Nop())
	directory.Start()
	t.Cleanup(directory.Stop)

	shards := client.NewShardClient(pool, directory)

	codec, err := erasure.New(erasure.MDSConfig(2, 1))
	require.NoError(t, err)
	template := placement.MDSTemplate(2, 1)

	objectID := common.NewObjectId()
	ctx := context.Background()
	placeResp, err := mc.GetPlacement(ctx, &rpc.GetPlacementRequest{
		ObjectId:     objectID,
		StorageClass: "standard",
		Template:     template,
	})
	require.NoError(t, err)
	require.Len(t, placeResp.Result.Nodes, 3)

	original := []byte("round trip this object through three racks of OSDs over real gRPC")
	encoded, err := codec.Encode(original)
	require.NoError(t, err)
	require.Len(t, encoded, 3)

	for _, p := range placeResp.Result.Nodes {
		shard := common.ShardId{ObjectId: objectID, StripeId: 1, Position: p.Position}
		require.NoError(t, shards.WriteShard(ctx, p.NodeId, shard, p.Role, p.LocalGroup, encoded[p.Position]))
	}

	manifests, err := client.OpenBoltManifestStore(filepath.Join(t.TempDir(), "manifests.db"))
	require.NoError(t, err)
	t.Cleanup(func() { manifests.Close() })

	objectKey := "bucket/round-trip-object"
	require.NoError(t, manifests.Put(objectKey, client.ShardManifest{
		ObjectId:     objectID,
		OriginalSize: len(original),
		Template:     template,
		Shards:       placeResp.Result.Nodes,
	}))

	gatherer := client.NewGatherer(shards, manifests, codec)
	got, err := gatherer.ReadChunk(objectKey)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

// TestClusterScatterGatherListing writes object-meta entries across two
// OSDs' disks and runs a real scatter-gather listing against them through
// scatter.Engine, merging per-shard pages into one globally sorted page the
// way an S3 ListObjectsV2 handler would.
func TestClusterScatterGatherListing(t *testing.T) {
	mc, osds := startTestCluster(t, 2)
	pool := client.NewPool(nil)
	t.Cleanup(func() { pool.Close() })

	directory := client.NewPolledDirectory(mc, 50*time.Millisecond, zerolog.Nop())
	directory.Start()
	t.Cleanup(directory.Stop)

	shards := client.NewShardClient(pool, directory)

	ctx := context.Background()
	keysByDisk := map[common.DiskId][]string{
		osds[0].diskID: {"photos/a.jpg", "photos/c.jpg"},
		osds[1].diskID: {"photos/b.jpg", "videos/d.mp4"},
	}
	for _, osd := range osds {
		sc, err := pool.Storage(osd.addr)
		require.NoError(t, err)
		for _, key := range keysByDisk[osd.diskID] {
			_, err := sc.PutObjectMeta(ctx, &rpc.PutObjectMetaRequest{DiskId: osd.diskID, Bucket: "media", Key: key, Value: []byte("v")})
			require.NoError(t, err)
		}
	}

	engine := scatter.NewEngine(scatter.EngineConfig{Signer: scatter.NewTokenSigner([]byte("test-signing-key")), Source: shards})

	shardIds := []string{osds[0].diskID.String(), osds[1].diskID.String()}
	page, err := engine.List(ctx, shardIds, "media", "photos/", "", "", 10, 1)
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	require.Equal(t, "photos/a.jpg", page.Entries[0].Key)
	require.Equal(t, "photos/b.jpg", page.Entries[1].Key)
	require.Equal(t, "photos/c.jpg", page.Entries[2].Key)
	require.False(t, page.IsTruncated)
}

// testPlacer satisfies block.Placer the same way cmd/objectio-block-gateway's
// remotePlacer does, by delegating to the metadata service's GetPlacement RPC
// instead of running Crush2 locally.
type testPlacer struct {
	mc rpc.MetadataClient
}

func (p *testPlacer) SelectPlacement(id common.ObjectId, template placement.PlacementTemplate) []placement.Placement {
	resp, err := p.mc.GetPlacement(context.Background(), &rpc.GetPlacementRequest{ObjectId: id, StorageClass: "block", Template: template})
	if err != nil {
		return nil
	}
	return resp.Result.Nodes
}

// TestClusterBlockVolumeLifecycle wires a real BlockService the same way
// cmd/objectio-block-gateway does against a live metadata service and OSD
// cluster, then drives a volume through write, flush, read, snapshot, and
// clone over real gRPC, confirming the source reads back its flushed bytes
// and the clone gets a clone-base snapshot without any write of its own.
func TestClusterBlockVolumeLifecycle(t *testing.T) {
	mc, _ := startTestCluster(t, 3)
	pool := client.NewPool(nil)
	t.Cleanup(func() { pool.Close() })

	directory := client.NewPolledDirectory(mc, 50*time.Millisecond, zerolog.Nop())
	directory.Start()
	t.Cleanup(directory.Stop)

	shards := client.NewShardClient(pool, directory)

	codec, err := erasure.New(erasure.MDSConfig(2, 1))
	require.NoError(t, err)
	template := placement.MDSTemplate(2, 1)

	dir := t.TempDir()
	manifests, err := client.OpenBoltManifestStore(filepath.Join(dir, "manifests.db"))
	require.NoError(t, err)
	t.Cleanup(func() { manifests.Close() })

	chunks, err := client.OpenBoltChunkTable(filepath.Join(dir, "chunk-table.db"))
	require.NoError(t, err)
	t.Cleanup(func() { chunks.Close() })

	gatherer := client.NewGatherer(shards, manifests, codec)

	journal, err := block.OpenJournal(filepath.Join(dir, "journal.log"), 64<<20)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	volumes, err := block.OpenVolumeStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { volumes.Close() })

	cache := block.NewCache(4096, 64<<20)
	pipeline := block.NewFlushPipeline(block.FlushPipelineConfig{
		Cache:      cache,
		Journal:    journal,
		Codec:      codec,
		Template:   template,
		Placer:     &testPlacer{mc: mc},
		Writer:     shards,
		Reader:     gatherer,
		ChunkTable: chunks,
		Manifests:  manifests,
	})
	qos := block.NewQosManager()
	svc := block.NewService(volumes, cache, pipeline, qos, chunks, manifests)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := grpc.NewServer(rpc.ServerOptions(nil, nil)...)
	rpc.RegisterBlockServer(server, rpc.NewBlockServer(svc))
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	bc, err := pool.Block(lis.Addr().String())
	require.NoError(t, err)

	ctx := context.Background()
	createResp, err := bc.CreateVolume(ctx, &rpc.CreateVolumeRequest{Name: "vol-a", SizeBytes: 1 << 30, Qos: block.DefaultVolumeQosConfig()})
	require.NoError(t, err)
	volumeId := createResp.Volume.Id

	payload := []byte("block volume bytes written over real gRPC")
	_, err = bc.Write(ctx, &rpc.BlockWriteRequest{VolumeId: volumeId, Offset: 0, Data: payload})
	require.NoError(t, err)

	_, err = bc.Flush(ctx, &rpc.BlockFlushRequest{VolumeId: volumeId})
	require.NoError(t, err)

	readResp, err := bc.Read(ctx, &rpc.BlockReadRequest{VolumeId: volumeId, Offset: 0, Length: int64(len(payload))})
	require.NoError(t, err)
	require.Equal(t, payload, readResp.Data)

	snapResp, err := bc.CreateSnapshot(ctx, &rpc.CreateSnapshotRequest{VolumeId: volumeId, Name: "snap-0"})
	require.NoError(t, err)
	require.NotEmpty(t, snapResp.Snapshot.ChunkRefs)

	cloneResp, err := bc.CloneVolume(ctx, &rpc.CloneVolumeRequest{SourceVolumeId: volumeId, Name: "vol-a-clone", SourceSnapshotId: snapResp.Snapshot.Id})
	require.NoError(t, err)
	require.NotEqual(t, volumeId, cloneResp.Volume.Id)

	cloneSnaps, err := bc.ListSnapshots(ctx, &rpc.ListSnapshotsRequest{VolumeId: cloneResp.Volume.Id})
	require.NoError(t, err)
	require.Len(t, cloneSnaps.Snapshots, 1)
	require.Equal(t, "clone-base", cloneSnaps.Snapshots[0].Name)
}
