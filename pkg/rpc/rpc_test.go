package rpc

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/meta"
	"github.com/cloudomate/objectio/pkg/placement"
	"github.com/cloudomate/objectio/pkg/storage"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	req := &WriteShardRequest{DiskId: common.NewDiskId(), Data: []byte("payload")}

	data, err := c.Marshal(req)
	require.NoError(t, err)

	var out WriteShardRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, req.DiskId, out.DiskId)
	assert.Equal(t, req.Data, out.Data)
	assert.Equal(t, "json", c.Name())
}

func TestKindToGRPCCodeMapping(t *testing.T) {
	err := ToGRPCError(common.NotFoundf("missing"))
	restored := FromGRPCError(err)
	assert.Equal(t, common.KindNotFound, common.KindOf(restored))

	err = ToGRPCError(common.FailedPreconditionf("stale"))
	restored = FromGRPCError(err)
	assert.Equal(t, common.KindFailedPrecondition, common.KindOf(restored))

	assert.Nil(t, ToGRPCError(nil))
	assert.Nil(t, FromGRPCError(nil))
}

func dialBufconn(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		DialOptions(nil)...,
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStorageServiceEndToEnd(t *testing.T) {
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
	RegisterStorageServer(server, NewStorageServer(svc))
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	conn := dialBufconn(t, lis)
	client := NewStorageClient(conn)
	ctx := context.Background()

	shard := common.ShardId{ObjectId: common.NewObjectId(), StripeId: 1, Position: 0}
	writeResp, err := client.WriteShard(ctx, &WriteShardRequest{
		DiskId: diskID,
		Shard:  shard,
		Role:   common.ShardRoleData,
		Data:   []byte("hello over the wire"),
	})
	require.NoError(t, err)
	assert.Equal(t, diskID, writeResp.Location.DiskId)

	readResp, err := client.ReadShard(ctx, &ReadShardRequest{DiskId: diskID, ObjectId: shard.ObjectId, Position: shard.Position})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello over the wire"), readResp.Data)

	_, err = client.DeleteShard(ctx, &DeleteShardRequest{DiskId: diskID, ObjectId: shard.ObjectId, Position: shard.Position})
	require.NoError(t, err)

	_, err = client.ReadShard(ctx, &ReadShardRequest{DiskId: diskID, ObjectId: shard.ObjectId, Position: shard.Position})
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(FromGRPCError(err)))
}

func TestMetadataServiceEndToEnd(t *testing.T) {
	store, err := meta.OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	topo, err := meta.NewTopologyManager(store)
	require.NoError(t, err)

	lis := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	RegisterMetadataServer(server, NewMetadataServer(store, topo))
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	conn := dialBufconn(t, lis)
	client := NewMetadataClient(conn)
	ctx := context.Background()

	_, err = client.CreateBucket(ctx, &CreateBucketRequest{Bucket: meta.Bucket{Name: "photos", Owner: "alice"}})
	require.NoError(t, err)

	getResp, err := client.GetBucket(ctx, &GetBucketRequest{Name: "photos"})
	require.NoError(t, err)
	assert.Equal(t, "alice", getResp.Bucket.Owner)

	nodeID := common.NewNodeId()
	regResp, err := client.RegisterOsd(ctx, &RegisterOsdRequest{
		NodeId:  nodeID,
		Address: "10.0.0.5:7000",
		Name:    "osd-5",
		DiskIds: []common.DiskId{common.NewDiskId()},
		Domain:  placement.FailureDomainInfo{Region: "us-east", Datacenter: "dc1", Rack: "r1"},
		Weight:  1.0,
	})
	require.NoError(t, err)
	assert.NotZero(t, regResp.TopologyVersion)

	placeResp, err := client.GetPlacement(ctx, &GetPlacementRequest{
		ObjectId:     common.NewObjectId(),
		StorageClass: "standard",
		Template:     placement.MDS42(),
	})
	require.NoError(t, err)
	assert.Equal(t, uint8(4), placeResp.Result.EcK)

	_, err = client.GetBucket(ctx, &GetBucketRequest{Name: "missing"})
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(FromGRPCError(err)))
}
