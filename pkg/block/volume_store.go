package block

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cloudomate/objectio/pkg/common"
)

var (
	bucketVolumes     = []byte("v")
	bucketSnapshots   = []byte("s")
	bucketAttachments = []byte("a")
)

var allVolumeBuckets = [][]byte{bucketVolumes, bucketSnapshots, bucketAttachments}

// VolumeState is a volume's lifecycle state, mirroring the create/delete
// transitions a real block service exposes through its Read/Write gate.
type VolumeState string

const (
	VolumeStateCreating  VolumeState = "creating"
	VolumeStateAvailable VolumeState = "available"
	VolumeStateDeleting  VolumeState = "deleting"
)

// Volume is one block gateway's addressable disk: a QoS-governed, EC-backed
// address space carved into fixed-size chunks by the write cache.
type Volume struct {
	Id        string
	Name      string
	SizeBytes int64
	ChunkSize int
	State     VolumeState
	Qos       VolumeQosConfig
	CreatedAt int64
}

// ChunkRef pins one chunk of a snapshot to the object it was flushed to.
type ChunkRef struct {
	ObjectKey string
	Etag      string
	Size      int
}

// Snapshot is a point-in-time, immutable mapping from chunk id to the
// object backing it, plus the accounting spec.md's snapshot CRUD needs to
// report size and unique-bytes.
type Snapshot struct {
	Id          string
	VolumeId    string
	Name        string
	ChunkRefs   map[uint64]ChunkRef
	SizeBytes   int64
	UniqueBytes int64
	CreatedAt   int64
}

// Attachment records one client's claim on a volume; AttachVolume fails
// while any attachment to the volume already exists.
type Attachment struct {
	Id         string
	VolumeId   string
	Host       string
	AttachedAt int64
}

// VolumeStore is the block gateway's volume lifecycle state: every bucket
// below is a tagged-prefix bbolt bucket, following the same convention the
// metadata service's Store uses for cluster state.
type VolumeStore struct {
	db *bolt.DB
}

// OpenVolumeStore opens (or creates) the block gateway's volume database at
// <stateDir>/volumes.db.
func OpenVolumeStore(stateDir string) (*VolumeStore, error) {
	path := filepath.Join(stateDir, "volumes.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "open volume store at %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allVolumeBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, common.Wrap(common.KindInternal, err, "create volume buckets")
	}
	return &VolumeStore{db: db}, nil
}

func (s *VolumeStore) Close() error { return s.db.Close() }

func putJSONValue(tx *bolt.Tx, bucket, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return common.Wrap(common.KindInternal, err, "marshal %s", key)
	}
	return tx.Bucket(bucket).Put(key, data)
}

func getJSONValue(tx *bolt.Tx, bucket, key []byte, out any) (bool, error) {
	data := tx.Bucket(bucket).Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, common.Wrap(common.KindInternal, err, "unmarshal %s", key)
	}
	return true, nil
}

func decodeJSONValue(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return common.Wrap(common.KindInternal, err, "unmarshal value")
	}
	return nil
}

func (s *VolumeStore) CreateVolume(name string, sizeBytes int64, chunkSize int, qos VolumeQosConfig) (Volume, error) {
	vol := Volume{
		Id:        uuid.NewString(),
		Name:      name,
		SizeBytes: sizeBytes,
		ChunkSize: chunkSize,
		State:     VolumeStateAvailable,
		Qos:       qos,
		CreatedAt: time.Now().Unix(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSONValue(tx, bucketVolumes, []byte(vol.Id), vol)
	})
	if err != nil {
		return Volume{}, common.Wrap(common.KindInternal, err, "create volume %s", name)
	}
	return vol, nil
}

func (s *VolumeStore) GetVolume(id string) (Volume, bool, error) {
	var vol Volume
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSONValue(tx, bucketVolumes, []byte(id), &vol)
		return err
	})
	if err != nil {
		return Volume{}, false, common.Wrap(common.KindInternal, err, "get volume %s", id)
	}
	return vol, found, nil
}

func (s *VolumeStore) ListVolumes() ([]Volume, error) {
	var volumes []Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(k, v []byte) error {
			var vol Volume
			if _, err := getJSONValue(tx, bucketVolumes, k, &vol); err != nil {
				return err
			}
			volumes = append(volumes, vol)
			return nil
		})
	})
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "list volumes")
	}
	return volumes, nil
}

func (s *VolumeStore) DeleteVolume(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketVolumes).Delete([]byte(id)); err != nil {
			return err
		}
		return deleteSnapshotsForVolume(tx, id)
	})
	if err != nil {
		return common.Wrap(common.KindInternal, err, "delete volume %s", id)
	}
	return nil
}

func deleteSnapshotsForVolume(tx *bolt.Tx, volumeId string) error {
	var toDelete [][]byte
	c := tx.Bucket(bucketSnapshots).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var snap Snapshot
		if err := decodeJSONValue(v, &snap); err != nil {
			return err
		}
		if snap.VolumeId == volumeId {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
	}
	for _, k := range toDelete {
		if err := tx.Bucket(bucketSnapshots).Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *VolumeStore) ResizeVolume(id string, newSizeBytes int64) (Volume, error) {
	var vol Volume
	err := s.db.Update(func(tx *bolt.Tx) error {
		found, err := getJSONValue(tx, bucketVolumes, []byte(id), &vol)
		if err != nil {
			return err
		}
		if !found {
			return common.New(common.KindNotFound, "volume %s not found", id)
		}
		if newSizeBytes < vol.SizeBytes {
			return common.New(common.KindInvalidArgument, "volume %s cannot shrink from %d to %d bytes", id, vol.SizeBytes, newSizeBytes)
		}
		vol.SizeBytes = newSizeBytes
		return putJSONValue(tx, bucketVolumes, []byte(id), vol)
	})
	if err != nil {
		return Volume{}, err
	}
	return vol, nil
}

func (s *VolumeStore) UpdateVolumeQos(id string, qos VolumeQosConfig) (Volume, error) {
	var vol Volume
	err := s.db.Update(func(tx *bolt.Tx) error {
		found, err := getJSONValue(tx, bucketVolumes, []byte(id), &vol)
		if err != nil {
			return err
		}
		if !found {
			return common.New(common.KindNotFound, "volume %s not found", id)
		}
		vol.Qos = qos
		return putJSONValue(tx, bucketVolumes, []byte(id), vol)
	})
	if err != nil {
		return Volume{}, err
	}
	return vol, nil
}

// CreateSnapshot records the current chunk-to-object mapping under a new
// snapshot id. The caller (the block gateway) supplies chunkRefs built from
// its chunk table, since VolumeStore has no view of the write cache.
func (s *VolumeStore) CreateSnapshot(volumeId, name string, chunkRefs map[uint64]ChunkRef) (Snapshot, error) {
	var sizeBytes, uniqueBytes int64
	for _, ref := range chunkRefs {
		sizeBytes += int64(ref.Size)
		uniqueBytes += int64(ref.Size)
	}
	snap := Snapshot{
		Id:          uuid.NewString(),
		VolumeId:    volumeId,
		Name:        name,
		ChunkRefs:   chunkRefs,
		SizeBytes:   sizeBytes,
		UniqueBytes: uniqueBytes,
		CreatedAt:   time.Now().Unix(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSONValue(tx, bucketSnapshots, []byte(snap.Id), snap)
	})
	if err != nil {
		return Snapshot{}, common.Wrap(common.KindInternal, err, "create snapshot of volume %s", volumeId)
	}
	return snap, nil
}

func (s *VolumeStore) GetSnapshot(id string) (Snapshot, bool, error) {
	var snap Snapshot
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSONValue(tx, bucketSnapshots, []byte(id), &snap)
		return err
	})
	if err != nil {
		return Snapshot{}, false, common.Wrap(common.KindInternal, err, "get snapshot %s", id)
	}
	return snap, found, nil
}

func (s *VolumeStore) ListSnapshots(volumeId string) ([]Snapshot, error) {
	var snaps []Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var snap Snapshot
			if err := decodeJSONValue(v, &snap); err != nil {
				return err
			}
			if volumeId == "" || snap.VolumeId == volumeId {
				snaps = append(snaps, snap)
			}
			return nil
		})
	})
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "list snapshots of volume %s", volumeId)
	}
	return snaps, nil
}

func (s *VolumeStore) DeleteSnapshot(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(id))
	})
	if err != nil {
		return common.Wrap(common.KindInternal, err, "delete snapshot %s", id)
	}
	return nil
}

// CloneVolume creates a new volume with the source's size, chunk size and
// QoS, and records the source snapshot's chunk refs as the clone's
// "clone-base" snapshot. No data is copied or re-placed. The clone's chunk
// table starts empty and reads do not consult the clone-base snapshot, so
// the clone does not read the source's bytes.
func (s *VolumeStore) CloneVolume(sourceVolumeId, name string, sourceSnapshot Snapshot) (Volume, error) {
	src, found, err := s.GetVolume(sourceVolumeId)
	if err != nil {
		return Volume{}, err
	}
	if !found {
		return Volume{}, common.New(common.KindNotFound, "volume %s not found", sourceVolumeId)
	}
	clone, err := s.CreateVolume(name, src.SizeBytes, src.ChunkSize, src.Qos)
	if err != nil {
		return Volume{}, err
	}
	if len(sourceSnapshot.ChunkRefs) > 0 {
		if _, err := s.CreateSnapshot(clone.Id, "clone-base", sourceSnapshot.ChunkRefs); err != nil {
			return Volume{}, err
		}
	}
	return clone, nil
}

func (s *VolumeStore) AttachVolume(volumeId, host string) (Attachment, error) {
	var result Attachment
	err := s.db.Update(func(tx *bolt.Tx) error {
		existing, err := listAttachmentsForVolume(tx, volumeId)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return common.New(common.KindFailedPrecondition, "volume %s already attached to %s", volumeId, existing[0].Host)
		}
		result = Attachment{Id: uuid.NewString(), VolumeId: volumeId, Host: host, AttachedAt: time.Now().Unix()}
		return putJSONValue(tx, bucketAttachments, []byte(result.Id), result)
	})
	if err != nil {
		return Attachment{}, err
	}
	return result, nil
}

func (s *VolumeStore) DetachVolume(attachmentId string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttachments).Delete([]byte(attachmentId))
	})
	if err != nil {
		return common.Wrap(common.KindInternal, err, "detach %s", attachmentId)
	}
	return nil
}

func (s *VolumeStore) ListAttachments(volumeId string) ([]Attachment, error) {
	var attachments []Attachment
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		attachments, err = listAttachmentsForVolume(tx, volumeId)
		return err
	})
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "list attachments of volume %s", volumeId)
	}
	return attachments, nil
}

func listAttachmentsForVolume(tx *bolt.Tx, volumeId string) ([]Attachment, error) {
	var attachments []Attachment
	err := tx.Bucket(bucketAttachments).ForEach(func(k, v []byte) error {
		var att Attachment
		if err := decodeJSONValue(v, &att); err != nil {
			return err
		}
		if volumeId == "" || att.VolumeId == volumeId {
			attachments = append(attachments, att)
		}
		return nil
	})
	return attachments, err
}
