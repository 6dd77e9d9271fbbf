package storage

import (
	"time"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/log"
	"github.com/cloudomate/objectio/pkg/metrics"
)

// BlockLocation identifies where one shard landed: which disk, which block.
type BlockLocation struct {
	DiskId   common.DiskId
	BlockNum uint64
	Length   uint32
}

// DiskHealth is one disk's HealthCheck result.
type DiskHealth struct {
	DiskId  common.DiskId
	Healthy bool
	Err     error
}

// Status summarizes an OSD's disks for GetStatus.
type Status struct {
	Disks       []DiskStatus
	TotalBlocks uint64
	FreeBlocks  uint64
}

type DiskStatus struct {
	DiskId      common.DiskId
	TotalBlocks uint64
	FreeBlocks  uint64
	Healthy     bool
}

// Disk bundles one physical disk's raw I/O with the metadata store that
// tracks what's on it. A real OSD runs several of these side by side.
type Disk struct {
	Id   common.DiskId
	disk *DiskManager
	meta *MetadataStore
}

// Service is the storage daemon's StorageService implementation: the
// gRPC-facing surface the gateway and metadata service call into (§4.3.4).
// It owns one or more Disks and places incoming shard writes on whichever
// one the caller designates (placement is decided upstream, by C1).
type Service struct {
	disks map[common.DiskId]*Disk
}

func NewService() *Service {
	return &Service{disks: make(map[common.DiskId]*Disk)}
}

// AddDisk attaches an already-opened disk and its metadata store to this
// service.
func (s *Service) AddDisk(diskID common.DiskId, dm *DiskManager, meta *MetadataStore) {
	s.disks[diskID] = &Disk{Id: diskID, disk: dm, meta: meta}
}

func (s *Service) disk(diskID common.DiskId) (*Disk, error) {
	d, ok := s.disks[diskID]
	if !ok {
		return nil, common.NotFoundf("disk %s not attached to this service", diskID)
	}
	return d, nil
}

// WriteShard allocates however many blocks data needs on diskID (a
// contiguous extent when more than one), writes each block in turn with
// sync, and records the shard's metadata. Returns the resulting
// BlockLocation, whose Length is the shard's total payload size across every
// block it spans.
func (s *Service) WriteShard(diskID common.DiskId, shard common.ShardId, role common.ShardRole, localGroup *uint8, data []byte) (BlockLocation, error) {
	timer := metrics.NewTimer()
	d, err := s.disk(diskID)
	if err != nil {
		return BlockLocation{}, err
	}

	payloadCap := int(d.disk.BlockSize()) - blockHeaderSize
	blockCount := uint64(len(data)+payloadCap-1) / uint64(payloadCap)
	if blockCount == 0 {
		blockCount = 1
	}

	extent, err := d.disk.AllocateExtent(blockCount)
	if err != nil {
		return BlockLocation{}, err
	}

	for i := uint64(0); i < blockCount; i++ {
		start := int(i) * payloadCap
		end := start + payloadCap
		if end > len(data) {
			end = len(data)
		}
		if err := d.disk.WriteBlock(extent.Start+i, shard.ObjectId, uint32(shard.StripeId), data[start:end]); err != nil {
			_ = d.disk.FreeExtent(extent)
			return BlockLocation{}, err
		}
	}

	meta := ShardMeta{
		ObjectId:       shard.ObjectId,
		ShardPosition:  shard.Position,
		BlockNum:       extent.Start,
		BlockCount:     uint32(blockCount),
		Size:           uint32(len(data)),
		ChecksumCRC32C: common.CRC32C(data),
		CreatedAt:      NowUnix(),
		LastVerified:   NowUnix(),
		ShardType:      role,
		LocalGroup:     localGroup,
	}
	if err := d.meta.PutShard(meta); err != nil {
		_ = d.disk.FreeExtent(extent)
		return BlockLocation{}, err
	}

	timer.ObserveDuration(metrics.BlockWriteLatency)
	log.WithDisk(diskID.String()).Debug().
		Str("object_id", shard.ObjectId.String()).
		Uint64("block", extent.Start).
		Uint32("block_count", meta.BlockCount).
		Msg("wrote shard")

	return BlockLocation{DiskId: diskID, BlockNum: extent.Start, Length: uint32(len(data))}, nil
}

// ReadShard looks up the shard's metadata on diskID, then reads and
// reassembles every block in its extent, verifying each block's own
// checksum plus the whole shard's checksum against the reassembled payload.
func (s *Service) ReadShard(diskID common.DiskId, objectID common.ObjectId, position uint8) ([]byte, error) {
	d, err := s.disk(diskID)
	if err != nil {
		return nil, err
	}

	meta, ok, err := d.meta.GetShard(objectID, position)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.NotFoundf("shard %s/%d not found on disk %s", objectID, position, diskID)
	}

	data := make([]byte, 0, meta.Size)
	for i := uint32(0); i < meta.BlockCount; i++ {
		_, chunk, err := d.disk.ReadBlock(meta.BlockNum + uint64(i))
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
	}
	if !common.VerifyCRC32C(data, meta.ChecksumCRC32C) {
		return nil, common.Corruptionf("shard %s/%d failed metadata checksum verification", objectID, position)
	}
	return data, nil
}

// DeleteShard frees the shard's extent and removes its metadata record.
func (s *Service) DeleteShard(diskID common.DiskId, objectID common.ObjectId, position uint8) error {
	d, err := s.disk(diskID)
	if err != nil {
		return err
	}

	meta, ok, err := d.meta.GetShard(objectID, position)
	if err != nil {
		return err
	}
	if !ok {
		return common.NotFoundf("shard %s/%d not found on disk %s", objectID, position, diskID)
	}

	if err := d.disk.FreeExtent(Extent{Start: meta.BlockNum, Length: uint64(meta.BlockCount)}); err != nil {
		return err
	}
	return d.meta.Delete(ShardKey(objectID, position))
}

func (s *Service) GetShardMeta(diskID common.DiskId, objectID common.ObjectId, position uint8) (ShardMeta, error) {
	d, err := s.disk(diskID)
	if err != nil {
		return ShardMeta{}, err
	}
	meta, ok, err := d.meta.GetShard(objectID, position)
	if err != nil {
		return ShardMeta{}, err
	}
	if !ok {
		return ShardMeta{}, common.NotFoundf("shard %s/%d not found on disk %s", objectID, position, diskID)
	}
	return meta, nil
}

// ListShards returns every shard recorded for objectID on diskID, ordered
// by shard position.
func (s *Service) ListShards(diskID common.DiskId, objectID common.ObjectId) ([]ShardMeta, error) {
	d, err := s.disk(diskID)
	if err != nil {
		return nil, err
	}
	return d.meta.ScanObjectShards(objectID)
}

func (s *Service) PutObjectMeta(diskID common.DiskId, bucket, key string, value []byte) error {
	d, err := s.disk(diskID)
	if err != nil {
		return err
	}
	_, err = d.meta.Put(ObjectKey(bucket, key), value)
	return err
}

func (s *Service) GetObjectMeta(diskID common.DiskId, bucket, key string) ([]byte, bool, error) {
	d, err := s.disk(diskID)
	if err != nil {
		return nil, false, err
	}
	v, ok := d.meta.Get(ObjectKey(bucket, key))
	return v, ok, nil
}

func (s *Service) DeleteObjectMeta(diskID common.DiskId, bucket, key string) error {
	d, err := s.disk(diskID)
	if err != nil {
		return err
	}
	return d.meta.Delete(ObjectKey(bucket, key))
}

// ListObjectsMetaResult is one page of a bucket-prefix scan.
type ListObjectsMetaResult struct {
	Entries               []Entry
	NextContinuationToken string
}

// ListObjectsMeta scans 'object\x00<bucket>\x00' keyed entries, honoring
// startAfter/continuationToken and capping the page at maxKeys.
func (s *Service) ListObjectsMeta(diskID common.DiskId, bucket, startAfter, continuationToken string, maxKeys int) (ListObjectsMetaResult, error) {
	d, err := s.disk(diskID)
	if err != nil {
		return ListObjectsMetaResult{}, err
	}

	all, err := d.meta.ScanPrefix("object\x00" + bucket + "\x00")
	if err != nil {
		return ListObjectsMetaResult{}, err
	}

	// startAfter is a bucket-relative key; continuationToken is a full
	// internal key as returned in NextContinuationToken.
	after := ""
	if startAfter != "" {
		after = string(ObjectKey(bucket, startAfter))
	}
	if continuationToken != "" {
		after = continuationToken
	}

	var page []Entry
	truncated := false
	for _, entry := range all {
		if after != "" && string(entry.Key) <= after {
			continue
		}
		if maxKeys > 0 && len(page) >= maxKeys {
			truncated = true
			break
		}
		page = append(page, entry)
	}

	result := ListObjectsMetaResult{Entries: page}
	if truncated && len(page) > 0 {
		result.NextContinuationToken = string(page[len(page)-1].Key)
	}
	return result, nil
}

// HealthCheck verifies the superblock of every attached disk.
func (s *Service) HealthCheck() []DiskHealth {
	results := make([]DiskHealth, 0, len(s.disks))
	for id, d := range s.disks {
		err := d.disk.HealthCheck()
		results = append(results, DiskHealth{DiskId: id, Healthy: err == nil, Err: err})
	}
	return results
}

// IsHealthy reports the aggregate verdict: Healthy iff every disk passes.
func (s *Service) IsHealthy() bool {
	for _, h := range s.HealthCheck() {
		if !h.Healthy {
			return false
		}
	}
	return true
}

// GetStatus reports per-disk capacity and health for operational dashboards.
func (s *Service) GetStatus() Status {
	status := Status{}
	for id, d := range s.disks {
		healthy := d.disk.HealthCheck() == nil
		total := d.disk.TotalBlocks()
		free := d.disk.FreeBlocks()
		status.Disks = append(status.Disks, DiskStatus{
			DiskId:      id,
			TotalBlocks: total,
			FreeBlocks:  free,
			Healthy:     healthy,
		})
		status.TotalBlocks += total
		status.FreeBlocks += free
	}
	return status
}

// Checkpoint forces every disk's bitmap to sync, called on a timer by the
// daemon's background maintenance loop.
func (s *Service) Checkpoint() error {
	for _, d := range s.disks {
		if err := d.disk.SyncBitmap(); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotMeta forces a manual metadata-store checkpoint on every attached
// disk, called on shutdown so the next start replays as little WAL as
// possible.
func (s *Service) SnapshotMeta() error {
	for _, d := range s.disks {
		if _, err := d.meta.Snapshot(); err != nil {
			return err
		}
	}
	return nil
}

// StartMaintenance runs periodic checkpointing until stop is closed.
func (s *Service) StartMaintenance(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Checkpoint(); err != nil {
				log.WithComponent("storage").Error().Err(err).Msg("checkpoint failed")
			}
		case <-stop:
			return
		}
	}
}

// StartMetaCompaction starts each attached disk's metadata-store compaction
// worker, all sharing stop as their shutdown signal.
func (s *Service) StartMetaCompaction(interval time.Duration, stop <-chan struct{}) {
	for _, d := range s.disks {
		go d.meta.StartCompaction(interval, stop)
	}
}
