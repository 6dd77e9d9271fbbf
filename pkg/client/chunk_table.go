package client

import (
	"fmt"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/cloudomate/objectio/pkg/common"
)

var chunkTableBucketName = []byte("chunk_objects")

// BoltChunkTable backs pkg/block's ChunkTable with a local bbolt file: it
// records which backing object key currently holds each (volumeId,
// chunkId)'s data, the mapping the flush pipeline updates on every
// successful flush and the read path consults to find a chunk's object.
type BoltChunkTable struct {
	db *bolt.DB
}

func OpenBoltChunkTable(path string) (*BoltChunkTable, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "open chunk table at %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(chunkTableBucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, common.Wrap(common.KindInternal, err, "create chunk table bucket")
	}
	return &BoltChunkTable{db: db}, nil
}

func (t *BoltChunkTable) Close() error { return t.db.Close() }

func chunkTableKey(volumeId string, chunkId uint64) []byte {
	return []byte(fmt.Sprintf("%s\x00%d", volumeId, chunkId))
}

func (t *BoltChunkTable) SetChunkObject(volumeId string, chunkId uint64, objectKey string) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chunkTableBucketName).Put(chunkTableKey(volumeId, chunkId), []byte(objectKey))
	})
}

func (t *BoltChunkTable) GetChunkObject(volumeId string, chunkId uint64) (string, bool, error) {
	var objectKey string
	var found bool
	err := t.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(chunkTableBucketName).Get(chunkTableKey(volumeId, chunkId))
		if data == nil {
			return nil
		}
		found = true
		objectKey = string(data)
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return objectKey, found, nil
}

func (t *BoltChunkTable) DeleteChunkObject(volumeId string, chunkId uint64) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chunkTableBucketName).Delete(chunkTableKey(volumeId, chunkId))
	})
}

// ListChunks returns every chunk id currently recorded for volumeId mapped
// to its backing object key, used to build a snapshot's chunk-ref set.
func (t *BoltChunkTable) ListChunks(volumeId string) (map[uint64]string, error) {
	prefix := []byte(volumeId + "\x00")
	result := make(map[uint64]string)
	err := t.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(chunkTableBucketName).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			chunkIdStr := strings.TrimPrefix(string(k), string(prefix))
			chunkId, err := strconv.ParseUint(chunkIdStr, 10, 64)
			if err != nil {
				continue
			}
			result[chunkId] = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "list chunks for volume %s", volumeId)
	}
	return result, nil
}
