package client

import (
	"context"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/rpc"
	"github.com/cloudomate/objectio/pkg/scatter"
)

// ShardClient is the concrete, production ShardWriter (pkg/block) and
// ShardSource (pkg/scatter) implementation: it resolves a node id or a
// disk-shard id to an address via Directory, dials through Pool, and
// issues the corresponding StorageService RPC.
type ShardClient struct {
	pool      *Pool
	directory Directory
}

// NewShardClient builds a ShardClient. The gateways pass a
// *PolledDirectory; a *placement.ClusterTopology also satisfies Directory.
func NewShardClient(pool *Pool, directory Directory) *ShardClient {
	return &ShardClient{pool: pool, directory: directory}
}

// diskForShard deterministically picks one of a node's disks for a given
// shard by hashing (object id, position) with xxhash and taking the result
// modulo the disk count: every caller that needs to find this shard again
// (reads, deletes, gap-filling reconstruction) re-derives the same disk,
// as long as the node's disk list is unchanged, without needing it
// recorded anywhere.
func diskForShard(diskIds []common.DiskId, objectId common.ObjectId, position uint8) (common.DiskId, bool) {
	if len(diskIds) == 0 {
		return common.DiskId{}, false
	}
	h := xxhash.New()
	h.Write(objectId.Bytes())
	h.Write([]byte{position})
	idx := h.Sum64() % uint64(len(diskIds))
	return diskIds[idx], true
}

func (c *ShardClient) resolve(nodeId common.NodeId, objectId common.ObjectId, position uint8) (string, common.DiskId, error) {
	node, ok := c.directory.Node(nodeId)
	if !ok {
		return "", common.DiskId{}, common.NotFoundf("node %s not found in topology", nodeId)
	}
	diskID, ok := diskForShard(node.DiskIds, objectId, position)
	if !ok {
		return "", common.DiskId{}, common.Unavailablef("node %s has no disks registered", nodeId)
	}
	return node.Address, diskID, nil
}

// WriteShard implements pkg/block's ShardWriter. ctxArg is interface{} to
// match that package's ctxCarrier alias exactly; callers pass a
// context.Context or nil, and nil falls back to context.Background().
func (c *ShardClient) WriteShard(ctxArg interface{}, nodeId common.NodeId, shard common.ShardId, role common.ShardRole, localGroup *uint8, data []byte) error {
	ctx, _ := ctxArg.(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}

	addr, diskID, err := c.resolve(nodeId, shard.ObjectId, shard.Position)
	if err != nil {
		return err
	}
	sc, err := c.pool.Storage(addr)
	if err != nil {
		return err
	}
	_, err = sc.WriteShard(ctx, &rpc.WriteShardRequest{
		DiskId:     diskID,
		Shard:      shard,
		Role:       role,
		LocalGroup: localGroup,
		Data:       data,
	})
	return err
}

// ReadShard fetches one shard from the node that owns it, for reconstruction
// reads and direct gateway GET paths.
func (c *ShardClient) ReadShard(ctx context.Context, nodeId common.NodeId, objectId common.ObjectId, position uint8) ([]byte, error) {
	addr, diskID, err := c.resolve(nodeId, objectId, position)
	if err != nil {
		return nil, err
	}
	sc, err := c.pool.Storage(addr)
	if err != nil {
		return nil, err
	}
	resp, err := sc.ReadShard(ctx, &rpc.ReadShardRequest{DiskId: diskID, ObjectId: objectId, Position: position})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// DeleteShard removes one shard from the node that owns it.
func (c *ShardClient) DeleteShard(ctx context.Context, nodeId common.NodeId, objectId common.ObjectId, position uint8) error {
	addr, diskID, err := c.resolve(nodeId, objectId, position)
	if err != nil {
		return err
	}
	sc, err := c.pool.Storage(addr)
	if err != nil {
		return err
	}
	_, err = sc.DeleteShard(ctx, &rpc.DeleteShardRequest{DiskId: diskID, ObjectId: objectId, Position: position})
	return err
}

// ListObjectsMeta implements pkg/scatter's ShardSource. shardId is the
// string form of the disk id that owns this slice of the bucket's
// namespace; prefix filtering happens here since storage.Service's
// ListObjectsMeta takes a bucket, cursors and a page size but no prefix.
func (c *ShardClient) ListObjectsMeta(ctx context.Context, shardId, bucket, prefix, startAfter string, maxKeys int) (scatter.ShardPage, error) {
	diskID, err := common.ParseDiskId(shardId)
	if err != nil {
		return scatter.ShardPage{}, common.InvalidArgumentf("malformed shard id %q: %v", shardId, err)
	}

	addr, ok := c.addressForDisk(diskID)
	if !ok {
		return scatter.ShardPage{}, common.NotFoundf("no node owns disk %s", shardId)
	}
	sc, err := c.pool.Storage(addr)
	if err != nil {
		return scatter.ShardPage{}, err
	}

	resp, err := sc.ListObjectsMeta(ctx, &rpc.ListObjectsMetaRequest{
		DiskId:     diskID,
		Bucket:     bucket,
		StartAfter: startAfter,
		MaxKeys:    maxKeys,
	})
	if err != nil {
		return scatter.ShardPage{}, err
	}

	keyPrefix := "object\x00" + bucket + "\x00"
	entries := make([]scatter.ListEntry, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		key := strings.TrimPrefix(string(e.Key), keyPrefix)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		entries = append(entries, scatter.ListEntry{Key: key, Value: e.Value})
	}
	return scatter.ShardPage{
		Entries:     entries,
		IsTruncated: resp.NextContinuationToken != "",
	}, nil
}

// addressForDisk scans the directory's active nodes for the one carrying
// diskID. The node set is small enough (one entry per OSD process, not
// per disk) that a linear scan beats maintaining a second index that could
// drift from the topology.
func (c *ShardClient) addressForDisk(diskID common.DiskId) (string, bool) {
	for _, node := range c.directory.ActiveNodes() {
		for _, id := range node.DiskIds {
			if id == diskID {
				return node.Address, true
			}
		}
	}
	return "", false
}
