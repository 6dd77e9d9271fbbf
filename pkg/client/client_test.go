package client

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cloudomate/objectio/pkg/block"
	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/erasure"
	"github.com/cloudomate/objectio/pkg/placement"
	"github.com/cloudomate/objectio/pkg/rpc"
	"github.com/cloudomate/objectio/pkg/scatter"
	"github.com/cloudomate/objectio/pkg/storage"
)

// bufDirectory resolves a single bufconn-backed fake OSD for every node id
// it's asked about, letting the pool dial the in-process listener instead
// of a real socket.
type bufDirectory struct {
	node placement.NodeInfo
}

func (d bufDirectory) Node(id common.NodeId) (placement.NodeInfo, bool) {
	if id == d.node.Id {
		return d.node, true
	}
	return placement.NodeInfo{}, false
}

func (d bufDirectory) ActiveNodes() []placement.NodeInfo { return []placement.NodeInfo{d.node} }

func newBufPool(t *testing.T, lis *bufconn.Listener) *Pool {
	t.Helper()
	pool := NewPool(nil)
	t.Cleanup(func() { pool.Close() })

	// Swap in a dialer that routes every address through the bufconn
	// listener instead of a real network dial, by pre-seeding the pool's
	// connection cache for the one address these tests use.
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		rpc.DialOptions(nil)...,
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	pool.mu.Lock()
	pool.conns["osd-1:7000"] = conn
	pool.mu.Unlock()

	return pool
}

func startStorageServer(t *testing.T) (*bufconn.Listener, common.DiskId) {
	t.Helper()
	dir := t.TempDir()
	diskID := common.NewDiskId()

	dm, err := storage.FormatDisk(filepath.Join(dir, "disk.img"), diskID, 64, 4096)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	metaStore, err := storage.OpenMetadataStore(storage.DefaultMetadataStoreConfig(filepath.Join(dir, "meta")))
	require.NoError(t, err)
	t.Cleanup(func() { metaStore.Close() })

	svc := storage.NewService()
	svc.AddDisk(diskID, dm, metaStore)

	lis := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	rpc.RegisterStorageServer(server, rpc.NewStorageServer(svc))
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	return lis, diskID
}

func TestShardClientSatisfiesBlockAndScatterInterfaces(t *testing.T) {
	var _ block.ShardWriter = (*ShardClient)(nil)
	var _ scatter.ShardSource = (*ShardClient)(nil)
}

func TestShardClientWriteReadDeleteShard(t *testing.T) {
	lis, diskID := startStorageServer(t)
	pool := newBufPool(t, lis)

	nodeID := common.NewNodeId()
	directory := bufDirectory{node: placement.NodeInfo{
		Id:      nodeID,
		Address: "osd-1:7000",
		DiskIds: []common.DiskId{diskID},
	}}

	sc := NewShardClient(pool, directory)
	shard := common.ShardId{ObjectId: common.NewObjectId(), StripeId: 1, Position: 0}

	err := sc.WriteShard(context.Background(), nodeID, shard, common.ShardRoleData, nil, []byte("bufconn payload"))
	require.NoError(t, err)

	data, err := sc.ReadShard(context.Background(), nodeID, shard.ObjectId, shard.Position)
	require.NoError(t, err)
	assert.Equal(t, []byte("bufconn payload"), data)

	require.NoError(t, sc.DeleteShard(context.Background(), nodeID, shard.ObjectId, shard.Position))

	_, err = sc.ReadShard(context.Background(), nodeID, shard.ObjectId, shard.Position)
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(rpc.FromGRPCError(err)))
}

func TestShardClientListObjectsMetaStripsKeyPrefixAndFiltersByPrefix(t *testing.T) {
	lis, diskID := startStorageServer(t)
	pool := newBufPool(t, lis)

	nodeID := common.NewNodeId()
	directory := bufDirectory{node: placement.NodeInfo{
		Id:      nodeID,
		Address: "osd-1:7000",
		DiskIds: []common.DiskId{diskID},
	}}
	sc := NewShardClient(pool, directory)

	storageClient, err := pool.Storage("osd-1:7000")
	require.NoError(t, err)
	ctx := context.Background()
	for _, key := range []string{"photos/a.jpg", "photos/b.jpg", "videos/c.mp4"} {
		_, err := storageClient.PutObjectMeta(ctx, &rpc.PutObjectMetaRequest{DiskId: diskID, Bucket: "media", Key: key, Value: []byte("v")})
		require.NoError(t, err)
	}

	page, err := sc.ListObjectsMeta(ctx, diskID.String(), "media", "photos/", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "photos/a.jpg", page.Entries[0].Key)
	assert.Equal(t, "photos/b.jpg", page.Entries[1].Key)
}

type fixedManifestStore struct {
	manifest ShardManifest
}

func (f fixedManifestStore) Manifest(ctx context.Context, objectKey string) (ShardManifest, bool, error) {
	if objectKey != "chunk-key" {
		return ShardManifest{}, false, nil
	}
	return f.manifest, true, nil
}

func TestGathererReconstructsChunkFromShards(t *testing.T) {
	lis, diskID := startStorageServer(t)
	pool := newBufPool(t, lis)

	nodeID := common.NewNodeId()
	directory := bufDirectory{node: placement.NodeInfo{
		Id:      nodeID,
		Address: "osd-1:7000",
		DiskIds: []common.DiskId{diskID},
	}}
	sc := NewShardClient(pool, directory)

	codec, err := erasure.New(erasure.MDSConfig(2, 1))
	require.NoError(t, err)

	objectID := common.NewObjectId()
	original := []byte("reconstruct me from the data shards written to the OSD")
	encoded, err := codec.Encode(original)
	require.NoError(t, err)

	ctx := context.Background()
	placements := make([]placement.Placement, len(encoded))
	for i, shardData := range encoded {
		role := common.ShardRoleData
		if i >= codec.DataShards() {
			role = common.ShardRoleGlobalParity
		}
		shard := common.ShardId{ObjectId: objectID, StripeId: 1, Position: uint8(i)}
		require.NoError(t, sc.WriteShard(ctx, nodeID, shard, role, nil, shardData))
		placements[i] = placement.Placement{Position: uint8(i), NodeId: nodeID, Role: role}
	}

	manifests := fixedManifestStore{manifest: ShardManifest{
		ObjectId:     objectID,
		OriginalSize: len(original),
		Shards:       placements,
	}}
	gatherer := NewGatherer(sc, manifests, codec)

	var _ block.ChunkReader = gatherer

	got, err := gatherer.ReadChunk("chunk-key")
	require.NoError(t, err)
	assert.Equal(t, original, got)

	_, err = gatherer.ReadChunk("missing-key")
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}
