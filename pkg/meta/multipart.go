package meta

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/google/uuid"
)

// CreateMultipartUpload assigns a fresh upload id and persists empty part
// state for it.
func (s *Store) CreateMultipartUpload(bucket, key, storageClass string) (string, error) {
	uploadId := uuid.NewString()
	state := MultipartUploadState{
		UploadId:     uploadId,
		Bucket:       bucket,
		Key:          key,
		StorageClass: storageClass,
		CreatedAt:    time.Now().Unix(),
		Parts:        make(map[int]PartInfo),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketMultipart, []byte(uploadId), state)
	})
	if err != nil {
		return "", err
	}
	return uploadId, nil
}

// RegisterPart records part, overwriting any prior entry at the same part
// number, per the invariant that re-uploading a part number replaces it
// atomically.
func (s *Store) RegisterPart(uploadId string, part PartInfo) error {
	if part.PartNumber < 1 || part.PartNumber > 10000 {
		return common.InvalidArgumentf("part number %d out of range [1, 10000]", part.PartNumber)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		var state MultipartUploadState
		found, err := getJSON(tx, bucketMultipart, []byte(uploadId), &state)
		if err != nil {
			return err
		}
		if !found {
			return common.NotFoundf("multipart upload %q not found", uploadId)
		}
		if state.Parts == nil {
			state.Parts = make(map[int]PartInfo)
		}
		state.Parts[part.PartNumber] = part
		return putJSON(tx, bucketMultipart, []byte(uploadId), state)
	})
}

// ExpectedPart is one part number/ETag pair the caller asserts was
// uploaded, as supplied in a CompleteMultipartUpload request.
type ExpectedPart struct {
	PartNumber int
	ETag       string
}

// CompleteMultipartUpload validates the caller's claimed parts against
// stored state, computes the multipart ETag, assembles the object, and
// atomically removes the upload state.
func (s *Store) CompleteMultipartUpload(uploadId string, expected []ExpectedPart) (AssembledObject, error) {
	var result AssembledObject

	err := s.db.Update(func(tx *bolt.Tx) error {
		var state MultipartUploadState
		found, err := getJSON(tx, bucketMultipart, []byte(uploadId), &state)
		if err != nil {
			return err
		}
		if !found {
			return common.NotFoundf("multipart upload %q not found", uploadId)
		}

		if len(expected) == 0 {
			return common.InvalidArgumentf("CompleteMultipartUpload requires at least one part")
		}

		digestInput := make([]byte, 0, len(expected)*16)
		var totalSize int64
		var stripes []StripeRef

		for _, e := range expected {
			stored, ok := state.Parts[e.PartNumber]
			if !ok {
				return common.InvalidArgumentf("part %d was never uploaded", e.PartNumber)
			}
			if stored.ETag != e.ETag {
				return common.InvalidArgumentf("part %d etag mismatch: expected %s, got %s", e.PartNumber, stored.ETag, e.ETag)
			}
			decoded, err := hex.DecodeString(stored.ETag)
			if err != nil {
				return common.Wrap(common.KindInvalidArgument, err, "part %d etag is not valid hex", e.PartNumber)
			}
			digestInput = append(digestInput, decoded...)
			totalSize += stored.Size
			stripes = append(stripes, stored.Stripes...)
		}

		sum := md5.Sum(digestInput)
		etag := fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:]), len(expected))

		result = AssembledObject{
			Bucket:  state.Bucket,
			Key:     state.Key,
			ETag:    etag,
			Size:    totalSize,
			Stripes: stripes,
		}

		return tx.Bucket(bucketMultipart).Delete([]byte(uploadId))
	})

	return result, err
}

// AbortMultipartUpload removes the upload's metadata state only; shards
// already written under the upload's __mpu/{upload_id}/ prefix are not
// reclaimed here.
func (s *Store) AbortMultipartUpload(uploadId string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketMultipart).Get([]byte(uploadId)) == nil {
			return common.NotFoundf("multipart upload %q not found", uploadId)
		}
		return tx.Bucket(bucketMultipart).Delete([]byte(uploadId))
	})
}

func (s *Store) GetMultipartUpload(uploadId string) (MultipartUploadState, error) {
	var state MultipartUploadState
	err := s.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx, bucketMultipart, []byte(uploadId), &state)
		if err != nil {
			return err
		}
		if !found {
			return common.NotFoundf("multipart upload %q not found", uploadId)
		}
		return nil
	})
	return state, err
}
