package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cloudomate/objectio/pkg/common"
)

// MetadataKey is the sortable, comparable key space of the metadata index:
// a namespace-prefixed string so shard keys, object keys, and future
// namespaces can share one B-tree without colliding.
type MetadataKey string

// ShardKey builds the key for one shard's metadata.
func ShardKey(objectID common.ObjectId, position uint8) MetadataKey {
	return MetadataKey(fmt.Sprintf("shard\x00%s\x00%02x", objectID.String(), position))
}

// ObjectKey builds the key for an object's own metadata record.
func ObjectKey(bucket, key string) MetadataKey {
	return MetadataKey(fmt.Sprintf("object\x00%s\x00%s", bucket, key))
}

// ShardMeta is the on-OSD record describing one placed shard. A shard
// occupies BlockCount contiguous blocks starting at BlockNum (an extent
// allocated as a unit); BlockCount is always at least 1.
type ShardMeta struct {
	ObjectId       common.ObjectId
	ShardPosition  uint8
	BlockNum       uint64
	BlockCount     uint32
	Size           uint32
	ChecksumCRC32C uint32
	CreatedAt      int64
	LastVerified   int64
	ShardType      common.ShardRole
	LocalGroup     *uint8
}

func (m ShardMeta) ToBytes() []byte {
	localGroup := byte(0xFF)
	if m.LocalGroup != nil {
		localGroup = *m.LocalGroup
	}
	buf := make([]byte, 16+1+8+4+4+4+8+8+1+1)
	off := 0
	copy(buf[off:off+16], m.ObjectId.Bytes())
	off += 16
	buf[off] = m.ShardPosition
	off++
	binary.LittleEndian.PutUint64(buf[off:off+8], m.BlockNum)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], m.BlockCount)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], m.Size)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], m.ChecksumCRC32C)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(m.CreatedAt))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(m.LastVerified))
	off += 8
	buf[off] = byte(m.ShardType)
	off++
	buf[off] = localGroup
	return buf
}

func ShardMetaFromBytes(data []byte) (ShardMeta, error) {
	const want = 16 + 1 + 8 + 4 + 4 + 4 + 8 + 8 + 1 + 1
	if len(data) != want {
		return ShardMeta{}, common.Corruptionf("shard meta record has wrong size %d, want %d", len(data), want)
	}
	off := 0
	objectID := common.ObjectIdFromBytes(data[off : off+16])
	off += 16
	position := data[off]
	off++
	blockNum := binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	blockCount := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	size := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	checksum := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	createdAt := int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	lastVerified := int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	shardType := common.ShardRole(data[off])
	off++
	localGroupByte := data[off]

	var localGroup *uint8
	if localGroupByte != 0xFF {
		lg := localGroupByte
		localGroup = &lg
	}

	if blockCount == 0 {
		blockCount = 1
	}

	return ShardMeta{
		ObjectId:       objectID,
		ShardPosition:  position,
		BlockNum:       blockNum,
		BlockCount:     blockCount,
		Size:           size,
		ChecksumCRC32C: checksum,
		CreatedAt:      createdAt,
		LastVerified:   lastVerified,
		ShardType:      shardType,
		LocalGroup:     localGroup,
	}, nil
}

func NowUnix() int64 { return time.Now().UnixNano() }
