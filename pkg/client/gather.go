package client

import (
	"context"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/erasure"
	"github.com/cloudomate/objectio/pkg/placement"
)

// ShardManifest records where an object's shards live and how to decode
// them, enough to reconstruct the object's bytes from nothing but its
// object key. The flush pipeline writes one alongside every chunk it
// flushes; Gatherer reads it back to fill gaps in a partially-dirty chunk.
type ShardManifest struct {
	ObjectId     common.ObjectId
	OriginalSize int
	Template     placement.PlacementTemplate
	Shards       []placement.Placement
}

// ManifestStore looks up the manifest a backing object key was written
// with. Kept as an interface, not a concrete dependency on pkg/meta,
// because cmd/objectio-gateway is free to back it with the metadata
// service's generic object-meta blob store, a local cache, or (in tests) a
// fixed map.
type ManifestStore interface {
	Manifest(ctx context.Context, objectKey string) (ShardManifest, bool, error)
}

// Gatherer implements pkg/block's ChunkReader by resolving an object key to
// its manifest, fetching DataShards() shards from the OSDs that hold them,
// and running the erasure codec's reconstruction decode.
type Gatherer struct {
	shards    *ShardClient
	manifests ManifestStore
	codec     *erasure.Codec
}

// NewGatherer builds a Gatherer. codec must match the template every
// manifest this store returns was encoded with; the flush pipeline and the
// gateway process share one erasure.Config for this reason.
func NewGatherer(shards *ShardClient, manifests ManifestStore, codec *erasure.Codec) *Gatherer {
	return &Gatherer{shards: shards, manifests: manifests, codec: codec}
}

// ReadChunk implements pkg/block's ChunkReader. It stops requesting shards
// once it has DataShards() of them, so a slow or dead OSD beyond that
// point never blocks the read.
func (g *Gatherer) ReadChunk(objectKey string) ([]byte, error) {
	ctx := context.Background()

	manifest, found, err := g.manifests.Manifest(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, common.NotFoundf("no shard manifest for object key %q", objectKey)
	}

	total := g.codec.TotalShards()
	need := g.codec.DataShards()
	shards := make([][]byte, total)

	have := 0
	for _, p := range manifest.Shards {
		if have >= need {
			break
		}
		data, err := g.shards.ReadShard(ctx, p.NodeId, manifest.ObjectId, p.Position)
		if err != nil {
			continue
		}
		if int(p.Position) < total {
			shards[p.Position] = data
			have++
		}
	}

	if have < need {
		return nil, common.InsufficientShardsf("gathered %d of %d required shards for object %s", have, need, manifest.ObjectId)
	}

	return g.codec.Decode(shards, manifest.OriginalSize)
}
