package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectIdRoundTrip(t *testing.T) {
	id := NewObjectId()
	parsed, err := ParseObjectId(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	fromBytes := ObjectIdFromBytes(id.Bytes())
	assert.Equal(t, id, fromBytes)
}

func TestNodeIdDistinctness(t *testing.T) {
	a := NewNodeId()
	b := NewNodeId()
	assert.NotEqual(t, a, b)
}

func TestShardRoleString(t *testing.T) {
	cases := map[ShardRole]string{
		ShardRoleData:         "data",
		ShardRoleLocalParity:  "local_parity",
		ShardRoleGlobalParity: "global_parity",
		ShardRole(99):         "unknown",
	}
	for role, want := range cases {
		assert.Equal(t, want, role.String())
	}
}

func TestErrorKindOf(t *testing.T) {
	err := NotFoundf("object %s missing", "abc")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindCorruption))

	plain := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(plain))
}

func TestErrorWrapUnwrap(t *testing.T) {
	cause := errors.New("disk read failed")
	wrapped := Wrap(KindCorruption, cause, "shard %d unreadable", 3)

	assert.Equal(t, KindCorruption, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "disk read failed")
}

func TestCRC32C(t *testing.T) {
	data := []byte("objectio stripe payload")
	sum := CRC32C(data)
	assert.True(t, VerifyCRC32C(data, sum))

	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xFF
	assert.False(t, VerifyCRC32C(corrupted, sum))
}
