package block

import (
	"github.com/cloudomate/objectio/pkg/common"
)

// ChunkEnumerator lists every chunk a volume has ever flushed, keyed by
// chunk id, so a snapshot can capture the volume's full chunk-ref set.
type ChunkEnumerator interface {
	ListChunks(volumeId string) (map[uint64]string, error)
}

// ManifestSizer resolves a flushed object key back to its decoded size,
// used only to report a snapshot's accounting; a miss just means a zero
// size rather than a failed snapshot.
type ManifestSizer interface {
	ManifestInfo(objectKey string) (objectId string, size int, found bool, err error)
}

// Service is the block gateway's volume and I/O business logic, independent
// of any transport: cmd/objectio-block-gateway's gRPC server wraps one the
// same way pkg/rpc's storage server wraps a *storage.Service.
type Service struct {
	volumes   *VolumeStore
	cache     *Cache
	pipeline  *FlushPipeline
	qos       *QosManager
	chunkEnum ChunkEnumerator
	manifests ManifestSizer
}

func NewService(volumes *VolumeStore, cache *Cache, pipeline *FlushPipeline, qos *QosManager, chunkEnum ChunkEnumerator, manifests ManifestSizer) *Service {
	return &Service{
		volumes:   volumes,
		cache:     cache,
		pipeline:  pipeline,
		qos:       qos,
		chunkEnum: chunkEnum,
		manifests: manifests,
	}
}

func (s *Service) CreateVolume(name string, sizeBytes int64, qosConfig VolumeQosConfig) (Volume, error) {
	vol, err := s.volumes.CreateVolume(name, sizeBytes, s.cache.ChunkSize(), qosConfig)
	if err != nil {
		return Volume{}, err
	}
	s.qos.Attach(vol.Id, qosConfig)
	return vol, nil
}

func (s *Service) DeleteVolume(id string) error {
	s.qos.Detach(id)
	return s.volumes.DeleteVolume(id)
}

func (s *Service) GetVolume(id string) (Volume, bool, error) { return s.volumes.GetVolume(id) }

func (s *Service) ListVolumes() ([]Volume, error) { return s.volumes.ListVolumes() }

func (s *Service) ResizeVolume(id string, newSizeBytes int64) (Volume, error) {
	return s.volumes.ResizeVolume(id, newSizeBytes)
}

func (s *Service) UpdateVolumeQos(id string, qosConfig VolumeQosConfig) (Volume, error) {
	vol, err := s.volumes.UpdateVolumeQos(id, qosConfig)
	if err != nil {
		return Volume{}, err
	}
	if limiter, ok := s.qos.Get(id); ok {
		limiter.UpdateConfig(qosConfig)
	} else {
		s.qos.Attach(id, qosConfig)
	}
	return vol, nil
}

// CreateSnapshot flushes every dirty chunk of volumeId first, so the
// resulting snapshot always reflects bytes that actually made it to an OSD,
// then captures the chunk table's current object mapping.
func (s *Service) CreateSnapshot(volumeId, name string) (Snapshot, error) {
	for _, key := range s.cache.DirtyChunks() {
		if key.VolumeId != volumeId {
			continue
		}
		if err := s.pipeline.Flush(key.VolumeId, key.ChunkId); err != nil {
			return Snapshot{}, err
		}
	}

	chunkObjects, err := s.chunkEnum.ListChunks(volumeId)
	if err != nil {
		return Snapshot{}, err
	}
	refs := make(map[uint64]ChunkRef, len(chunkObjects))
	for chunkId, objectKey := range chunkObjects {
		ref := ChunkRef{ObjectKey: objectKey, Etag: objectKey}
		if s.manifests != nil {
			if objectId, size, found, err := s.manifests.ManifestInfo(objectKey); err == nil && found {
				ref.Etag = objectId
				ref.Size = size
			}
		}
		refs[chunkId] = ref
	}
	return s.volumes.CreateSnapshot(volumeId, name, refs)
}

func (s *Service) GetSnapshot(id string) (Snapshot, bool, error) { return s.volumes.GetSnapshot(id) }

func (s *Service) ListSnapshots(volumeId string) ([]Snapshot, error) { return s.volumes.ListSnapshots(volumeId) }

func (s *Service) DeleteSnapshot(id string) error { return s.volumes.DeleteSnapshot(id) }

func (s *Service) CloneVolume(sourceVolumeId, name, sourceSnapshotId string) (Volume, error) {
	snap, found, err := s.volumes.GetSnapshot(sourceSnapshotId)
	if err != nil {
		return Volume{}, err
	}
	if !found {
		return Volume{}, common.New(common.KindNotFound, "snapshot %s not found", sourceSnapshotId)
	}
	clone, err := s.volumes.CloneVolume(sourceVolumeId, name, snap)
	if err != nil {
		return Volume{}, err
	}
	s.qos.Attach(clone.Id, clone.Qos)
	return clone, nil
}

func (s *Service) AttachVolume(volumeId, host string) (Attachment, error) {
	return s.volumes.AttachVolume(volumeId, host)
}

func (s *Service) DetachVolume(attachmentId string) error { return s.volumes.DetachVolume(attachmentId) }

func (s *Service) ListAttachments(volumeId string) ([]Attachment, error) {
	return s.volumes.ListAttachments(volumeId)
}

// Read serves bytes from the write cache, dirty bytes included. On a cache
// miss it fills the chunk from its backing object; a chunk with no backing
// object reads as zeros.
func (s *Service) Read(volumeId string, offset, length int64) ([]byte, error) {
	chunkSize := int64(s.cache.ChunkSize())
	out := make([]byte, 0, length)
	for remaining := length; remaining > 0; {
		chunkId := uint64(offset / chunkSize)
		offsetInChunk := int(offset % chunkSize)
		n := int(remaining)
		if int64(offsetInChunk+n) > chunkSize {
			n = int(chunkSize) - offsetInChunk
		}

		key := ChunkKey{VolumeId: volumeId, ChunkId: chunkId}
		data, ok := s.cache.Read(key, offsetInChunk, n)
		if !ok {
			if err := s.fillFromBacking(key); err != nil {
				return nil, err
			}
			data, ok = s.cache.Read(key, offsetInChunk, n)
			if !ok {
				data = make([]byte, n)
			}
		}
		out = append(out, data...)
		offset += int64(n)
		remaining -= int64(n)
	}
	return out, nil
}

func (s *Service) fillFromBacking(key ChunkKey) error {
	objectKey, ok, err := s.pipeline.cfg.ChunkTable.GetChunkObject(key.VolumeId, key.ChunkId)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	data, err := s.pipeline.cfg.Reader.ReadChunk(objectKey)
	if err != nil {
		return err
	}
	s.cache.FillClean(key, data)
	return nil
}

// Write lands bytes in the write cache and journal; the caller's periodic
// sweep (or an explicit Flush RPC) is what drives them to an OSD.
func (s *Service) Write(volumeId string, offset int64, data []byte) error {
	chunkSize := int64(s.cache.ChunkSize())
	written := 0
	for written < len(data) {
		chunkId := uint64((offset + int64(written)) / chunkSize)
		offsetInChunk := int((offset + int64(written)) % chunkSize)
		n := len(data) - written
		if int64(offsetInChunk+n) > chunkSize {
			n = int(chunkSize) - offsetInChunk
		}

		chunk := data[written : written+n]
		if _, err := s.pipeline.cfg.Journal.LogWrite(volumeId, chunkId, uint64(offsetInChunk), chunk); err != nil {
			return err
		}
		s.cache.Write(ChunkKey{VolumeId: volumeId, ChunkId: chunkId}, offsetInChunk, chunk)
		written += n
	}
	return nil
}

// Flush drains every dirty chunk of volumeId to its backing objects.
func (s *Service) Flush(volumeId string) error {
	for _, key := range s.cache.DirtyChunks() {
		if key.VolumeId != volumeId {
			continue
		}
		if err := s.pipeline.Flush(key.VolumeId, key.ChunkId); err != nil {
			return err
		}
	}
	return nil
}

// Trim marks a byte range as discarded so a subsequent flush writes zeros
// for it instead of carrying forward stale backing bytes.
func (s *Service) Trim(volumeId string, offset, length int64) error {
	chunkSize := int64(s.cache.ChunkSize())
	remaining := length
	for remaining > 0 {
		chunkId := uint64(offset / chunkSize)
		offsetInChunk := int(offset % chunkSize)
		n := int(remaining)
		if int64(offsetInChunk+n) > chunkSize {
			n = int(chunkSize) - offsetInChunk
		}
		s.cache.Trim(ChunkKey{VolumeId: volumeId, ChunkId: chunkId}, offsetInChunk, n)
		offset += int64(n)
		remaining -= int64(n)
	}
	return nil
}
