package common

import (
	"github.com/google/uuid"
)

// ObjectId, NodeId and DiskId are 128-bit opaque identifiers with a
// stable byte representation (uuid.UUID is exactly 16 bytes) and a stable
// string representation (uuid's canonical hex-dash form).
type (
	ObjectId uuid.UUID
	NodeId   uuid.UUID
	DiskId   uuid.UUID
)

// NewObjectId returns a random v4 ObjectId.
func NewObjectId() ObjectId { return ObjectId(uuid.New()) }

// NewNodeId returns a random v4 NodeId.
func NewNodeId() NodeId { return NodeId(uuid.New()) }

// NewDiskId returns a random v4 DiskId.
func NewDiskId() DiskId { return DiskId(uuid.New()) }

func (o ObjectId) String() string { return uuid.UUID(o).String() }
func (n NodeId) String() string   { return uuid.UUID(n).String() }
func (d DiskId) String() string   { return uuid.UUID(d).String() }

func (o ObjectId) Bytes() []byte { b := uuid.UUID(o); return b[:] }
func (n NodeId) Bytes() []byte   { b := uuid.UUID(n); return b[:] }
func (d DiskId) Bytes() []byte   { b := uuid.UUID(d); return b[:] }

// ParseObjectId parses the canonical string form of an ObjectId.
func ParseObjectId(s string) (ObjectId, error) {
	u, err := uuid.Parse(s)
	return ObjectId(u), err
}

// ParseNodeId parses the canonical string form of a NodeId.
func ParseNodeId(s string) (NodeId, error) {
	u, err := uuid.Parse(s)
	return NodeId(u), err
}

// ParseDiskId parses the canonical string form of a DiskId.
func ParseDiskId(s string) (DiskId, error) {
	u, err := uuid.Parse(s)
	return DiskId(u), err
}

// ObjectIdFromBytes reconstructs an ObjectId from its 16-byte representation.
func ObjectIdFromBytes(b []byte) ObjectId {
	var u uuid.UUID
	copy(u[:], b)
	return ObjectId(u)
}

// NodeIdFromBytes reconstructs a NodeId from its 16-byte representation.
func NodeIdFromBytes(b []byte) NodeId {
	var u uuid.UUID
	copy(u[:], b)
	return NodeId(u)
}

// ObjectIdFromName derives a deterministic ObjectId from a string, for
// callers that need the same logical name to always hash to the same
// placement (the block gateway's chunk-backing objects, for instance).
func ObjectIdFromName(name string) ObjectId {
	return ObjectId(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)))
}

// ShardRole is the tagged variant of a shard's purpose within a stripe.
type ShardRole int

const (
	ShardRoleData ShardRole = iota
	ShardRoleLocalParity
	ShardRoleGlobalParity
)

func (r ShardRole) String() string {
	switch r {
	case ShardRoleData:
		return "data"
	case ShardRoleLocalParity:
		return "local_parity"
	case ShardRoleGlobalParity:
		return "global_parity"
	default:
		return "unknown"
	}
}

// ShardId addresses one of the k+m (or k+l+g) equal-size pieces an object's
// stripe is split into.
type ShardId struct {
	ObjectId ObjectId
	StripeId uint64
	Position uint8
}
