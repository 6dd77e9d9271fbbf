package client

import (
	"context"
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/placement"
)

var manifestBucketName = []byte("manifests")

// BoltManifestStore backs ManifestStore with a local bbolt file, the same
// embedded-KV idiom pkg/meta.Store uses for the cluster catalog. Manifests
// are gateway-local rather than cluster-replicated: a gateway that loses
// this file can still serve any object whose chunk happens to be fully
// cached, but loses reconstruction ability for the rest until the
// manifest is rewritten by a fresh write.
type BoltManifestStore struct {
	db *bolt.DB
}

func OpenBoltManifestStore(path string) (*BoltManifestStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "open manifest store at %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(manifestBucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, common.Wrap(common.KindInternal, err, "create manifest bucket")
	}
	return &BoltManifestStore{db: db}, nil
}

func (s *BoltManifestStore) Close() error { return s.db.Close() }

func (s *BoltManifestStore) Put(objectKey string, manifest ShardManifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(manifestBucketName).Put([]byte(objectKey), data)
	})
}

func (s *BoltManifestStore) Manifest(_ context.Context, objectKey string) (ShardManifest, bool, error) {
	var manifest ShardManifest
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(manifestBucketName).Get([]byte(objectKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &manifest)
	})
	if err != nil {
		return ShardManifest{}, false, err
	}
	return manifest, found, nil
}

// PutManifest implements pkg/block's ManifestWriter, letting the flush
// pipeline record a chunk's shard layout through the same bbolt file the
// Gatherer reads back from, without pkg/block importing this package.
func (s *BoltManifestStore) PutManifest(objectKey string, objectId common.ObjectId, originalSize int, template placement.PlacementTemplate, shards []placement.Placement) error {
	return s.Put(objectKey, ShardManifest{
		ObjectId:     objectId,
		OriginalSize: originalSize,
		Template:     template,
		Shards:       shards,
	})
}

// ManifestInfo returns a flushed object key's id and decoded size, used to
// size a volume snapshot's chunk refs without decoding the shards.
func (s *BoltManifestStore) ManifestInfo(objectKey string) (objectId string, size int, found bool, err error) {
	manifest, found, err := s.Manifest(context.Background(), objectKey)
	if err != nil || !found {
		return "", 0, found, err
	}
	return manifest.ObjectId.String(), manifest.OriginalSize, true, nil
}
