package block

import (
	"fmt"
	"time"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/erasure"
	"github.com/cloudomate/objectio/pkg/log"
	"github.com/cloudomate/objectio/pkg/metrics"
	"github.com/cloudomate/objectio/pkg/placement"
)

// Placer resolves a fresh set of shard destinations for a chunk being
// flushed. pkg/placement's Crush2 engine satisfies it directly; the block
// gateway uses an adapter over the metadata service's GetPlacement RPC, and
// tests can substitute a fixed placement.
type Placer interface {
	SelectPlacement(id common.ObjectId, template placement.PlacementTemplate) []placement.Placement
}

// ShardWriter delivers one encoded shard to the OSD that owns it. In
// production this is a pooled gRPC client talking to the storage daemon's
// StorageService; tests can substitute an in-memory fake.
type ShardWriter interface {
	WriteShard(ctx ctxCarrier, nodeId common.NodeId, shard common.ShardId, role common.ShardRole, localGroup *uint8, data []byte) error
}

// ChunkReader decodes a chunk's current backing object, used to fill gaps
// when only part of a chunk is dirty at flush time.
type ChunkReader interface {
	ReadChunk(objectKey string) ([]byte, error)
}

// ctxCarrier avoids importing context into this file's exported surface
// while still letting callers pass one through; pkg/client's concrete
// implementation accepts a context.Context satisfying this alias.
type ctxCarrier = interface{}

// ChunkTable records which object key currently backs each chunk of a
// volume, and is what the flush pipeline updates on a successful flush.
type ChunkTable interface {
	SetChunkObject(volumeId string, chunkId uint64, objectKey string) error
	GetChunkObject(volumeId string, chunkId uint64) (string, bool, error)
	DeleteChunkObject(volumeId string, chunkId uint64) error
}

// ManifestWriter records where a freshly flushed chunk's shards landed, so
// a later ChunkReader.ReadChunk for the same object key can find them
// again without the pipeline keeping any state of its own.
type ManifestWriter interface {
	PutManifest(objectKey string, objectId common.ObjectId, originalSize int, template placement.PlacementTemplate, shards []placement.Placement) error
}

// FlushPipelineConfig bundles a flush pipeline's collaborators.
type FlushPipelineConfig struct {
	Cache        *Cache
	Journal      *Journal
	Codec        *erasure.Codec
	Template     placement.PlacementTemplate
	Placer       Placer
	Writer       ShardWriter
	Reader       ChunkReader
	ChunkTable   ChunkTable
	Manifests    ManifestWriter
	MaxRetries   int
	RetryBackoff time.Duration
}

// FlushPipeline drives a dirty chunk through encode, placement, and
// parallel shard writes, enforcing the write cache's single-writer-per-
// chunk discipline via Cache.ChunkLock.
type FlushPipeline struct {
	cfg FlushPipelineConfig
}

func NewFlushPipeline(cfg FlushPipelineConfig) *FlushPipeline {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	return &FlushPipeline{cfg: cfg}
}

// Flush drives one chunk through the full flush sequence described by the
// write cache's flush steps. It is idempotent: a chunk with no dirty bytes
// returns immediately.
func (p *FlushPipeline) Flush(volumeId string, chunkId uint64) error {
	key := ChunkKey{VolumeId: volumeId, ChunkId: chunkId}
	lock := p.cfg.Cache.ChunkLock(key)
	lock.Lock()
	defer lock.Unlock()

	timer := metrics.NewTimer()

	if !p.cfg.Cache.IsDirty(key) {
		return nil
	}

	full, err := p.mergedChunk(key, volumeId, chunkId)
	if err != nil {
		return err
	}

	shards, err := p.cfg.Codec.Encode(full)
	if err != nil {
		return common.Wrap(common.KindInternal, err, "encode chunk %s/%d", volumeId, chunkId)
	}

	objectId := chunkObjectId(volumeId, chunkId)
	placements := p.cfg.Placer.SelectPlacement(objectId, p.cfg.Template)
	if len(placements) != len(shards) {
		return common.New(common.KindInternal, "placement returned %d destinations for %d shards", len(placements), len(shards))
	}

	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		lastErr = p.writeAllShards(objectId, placements, shards)
		if lastErr == nil {
			break
		}
		log.WithVolume(volumeId).Warn().
			Err(lastErr).
			Uint64("chunk_id", chunkId).
			Int("attempt", attempt+1).
			Msg("flush attempt failed, retrying")
		time.Sleep(p.cfg.RetryBackoff * time.Duration(attempt+1))
	}
	if lastErr != nil {
		// Leave the Write journal entries and dirty bitmap in place so a
		// later flush attempt (or crash recovery) can retry from scratch.
		return common.Wrap(common.KindUnavailable, lastErr, "flush chunk %s/%d failed after %d attempts", volumeId, chunkId, p.cfg.MaxRetries)
	}

	objectKey := objectId.String()
	if err := p.cfg.ChunkTable.SetChunkObject(volumeId, chunkId, objectKey); err != nil {
		return common.Wrap(common.KindInternal, err, "update chunk table for %s/%d", volumeId, chunkId)
	}
	if p.cfg.Manifests != nil {
		if err := p.cfg.Manifests.PutManifest(objectKey, objectId, len(full), p.cfg.Template, placements); err != nil {
			return common.Wrap(common.KindInternal, err, "record shard manifest for %s/%d", volumeId, chunkId)
		}
	}
	if _, err := p.cfg.Journal.LogFlush(volumeId, chunkId); err != nil {
		return common.Wrap(common.KindInternal, err, "append flush journal entry")
	}
	p.cfg.Cache.MarkClean(key)

	timer.ObserveDuration(metrics.BlockFlushDuration)
	log.WithVolume(volumeId).Debug().
		Uint64("chunk_id", chunkId).
		Str("object_key", objectKey).
		Msg("flushed chunk")
	return nil
}

// mergedChunk returns the chunk's full bytes: the cached buffer already
// contains clean-filled bytes for anything not dirty, so a partially dirty
// chunk only needs a gap-fill when it was never read-filled at all (a
// pure-overwrite volume whose untouched regions are legitimately sparse
// zero, which the zero-initialized cache buffer already represents).
func (p *FlushPipeline) mergedChunk(key ChunkKey, volumeId string, chunkId uint64) ([]byte, error) {
	if snap, ok := p.cfg.Cache.Snapshot(key); ok {
		return snap, nil
	}

	objectKey, ok, err := p.cfg.ChunkTable.GetChunkObject(volumeId, chunkId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return make([]byte, p.cfg.Cache.ChunkSize()), nil
	}
	return p.cfg.Reader.ReadChunk(objectKey)
}

func (p *FlushPipeline) writeAllShards(objectId common.ObjectId, placements []placement.Placement, shards [][]byte) error {
	type result struct {
		err error
	}
	results := make(chan result, len(shards))

	for i, pl := range placements {
		pl := pl
		data := shards[i]
		go func() {
			shard := common.ShardId{ObjectId: objectId, StripeId: 0, Position: pl.Position}
			err := p.cfg.Writer.WriteShard(nil, pl.NodeId, shard, pl.Role, pl.LocalGroup, data)
			results <- result{err: err}
		}()
	}

	var firstErr error
	for range placements {
		r := <-results
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	return firstErr
}

// chunkObjectId derives a stable object identifier for a volume's chunk so
// repeated flushes of the same chunk hash to the same placement, keeping
// its stripe group membership stable across flushes.
func chunkObjectId(volumeId string, chunkId uint64) common.ObjectId {
	return common.ObjectIdFromName(fmt.Sprintf("chunk:%s:%d", volumeId, chunkId))
}
