// Package meta implements the metadata service (C6): the cluster's
// authoritative bucket, user, access-key, OSD-registry, topology,
// multipart-upload, and Iceberg catalog state. It serves placement queries
// to the gateways and listing-node discovery to the scatter-gather engine,
// persisting everything through the same embedded-KV discipline pkg/storage
// uses for shard metadata.
package meta

// Bucket is a top-level S3 namespace.
type Bucket struct {
	Name      string
	CreatedAt int64
	Owner     string
}

// BucketPolicy is the raw JSON policy document attached to a bucket, kept
// opaque here: evaluation is the S3 gateway's job, this service only
// stores and serves it.
type BucketPolicy struct {
	Bucket   string
	Document string
}

// User is a principal that can own buckets and hold access keys.
type User struct {
	Id        string
	Name      string
	Active    bool
	CreatedAt int64
}

// AccessKey is a SigV2/SigV4 credential bound to a User.
type AccessKey struct {
	AccessKeyId     string
	SecretAccessKey string
	UserId          string
	Active          bool
	CreatedAt       int64
}

// PartInfo is one uploaded part of a multipart upload.
type PartInfo struct {
	PartNumber int
	ETag       string
	Size       int64
	Stripes    []StripeRef
}

// StripeRef mirrors an object's on-disk stripe layout as recorded by the
// object gateway at write time; the metadata service only stores it long
// enough to assemble the final ObjectMeta on completion.
type StripeRef struct {
	StripeId uint32
	Size     int64
}

// MultipartUploadState is CreatedAndRegistered multipart upload progress,
// keyed by UploadId.
type MultipartUploadState struct {
	UploadId     string
	Bucket       string
	Key          string
	StorageClass string
	CreatedAt    int64
	Parts        map[int]PartInfo
}

// AssembledObject is the result of CompleteMultipartUpload: everything the
// object gateway needs to persist the final ObjectMeta on the primary OSD.
type AssembledObject struct {
	Bucket   string
	Key      string
	ETag     string
	Size     int64
	PartETag string
	Stripes  []StripeRef
}

// IcebergNamespace is a NUL-delimited namespace hierarchy entry.
type IcebergNamespace struct {
	Path       string // e.g. "ns1\x00ns2"
	Properties map[string]string
}

// IcebergTable is one table's catalog entry.
type IcebergTable struct {
	Namespace        string
	Name             string
	MetadataLocation string
}

func icebergTableKey(namespace, name string) string {
	return namespace + "\x00" + name
}
