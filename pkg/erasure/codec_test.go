package erasure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMDSEncodeDecodeRoundTrip(t *testing.T) {
	codec, err := New(MDSConfig(4, 2))
	require.NoError(t, err)

	data := []byte("Hello, World! This is a test of erasure coding.")
	shards, err := codec.Encode(data)
	require.NoError(t, err)
	require.Len(t, shards, 6)

	decoded, err := codec.Decode(shards, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestMDSDecodeWithMissingShards(t *testing.T) {
	codec, err := New(MDSConfig(4, 2))
	require.NoError(t, err)

	data := []byte("erasure coding survives missing shards")
	shards, err := codec.Encode(data)
	require.NoError(t, err)

	damaged := make([][]byte, len(shards))
	copy(damaged, shards)
	damaged[0] = nil
	damaged[3] = nil

	decoded, err := codec.Decode(damaged, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestMDSDecodeInsufficientShards(t *testing.T) {
	codec, err := New(MDSConfig(4, 2))
	require.NoError(t, err)

	data := []byte("not enough shards to decode")
	shards, err := codec.Encode(data)
	require.NoError(t, err)

	damaged := make([][]byte, len(shards))
	copy(damaged, shards)
	damaged[0], damaged[1], damaged[2] = nil, nil, nil

	_, err = codec.Decode(damaged, len(data))
	assert.Error(t, err)
}

func TestMDSVerify(t *testing.T) {
	codec, err := New(MDSConfig(4, 2))
	require.NoError(t, err)

	data := []byte("verification data payload")
	shards, err := codec.Encode(data)
	require.NoError(t, err)

	ok, err := codec.Verify(shards)
	require.NoError(t, err)
	assert.True(t, ok)

	shards[1][0] ^= 0xFF
	ok, err = codec.Verify(shards)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmptyInputPadsToMinimumShardSize(t *testing.T) {
	codec, err := New(MDSConfig(4, 2))
	require.NoError(t, err)

	shards, err := codec.Encode(nil)
	require.NoError(t, err)
	for _, s := range shards {
		assert.Len(t, s, minShardSize)
	}

	decoded, err := codec.Decode(shards, 0)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestLRCEncodeDecodeRoundTrip(t *testing.T) {
	codec, err := New(LRCConfig(6, 2, 2))
	require.NoError(t, err)

	data := []byte("LRC codes recover locally within a group whenever possible, saving bandwidth")
	shards, err := codec.Encode(data)
	require.NoError(t, err)
	require.Len(t, shards, 10)

	decoded, err := codec.Decode(shards, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestLRCSingleShardLocalRecovery(t *testing.T) {
	codec, err := New(LRCConfig(6, 2, 2))
	require.NoError(t, err)

	data := []byte("single data shard loss should be recoverable from its local group")
	shards, err := codec.Encode(data)
	require.NoError(t, err)

	damaged := make([][]byte, len(shards))
	copy(damaged, shards)
	damaged[1] = nil // group 0: shards 0,1,2 + local parity at index 6

	decoded, err := codec.Decode(damaged, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestLRCCanRecoverLocally(t *testing.T) {
	codec, err := New(LRCConfig(6, 2, 2))
	require.NoError(t, err)

	available := []bool{true, false, true, true, true, true, true, true, true, true}
	assert.True(t, codec.CanRecoverLocally(available, 1))

	available[6] = false // local parity for group 0 missing too
	assert.False(t, codec.CanRecoverLocally(available, 1))
}

func TestLRCMultiFailureFallsBackToGlobal(t *testing.T) {
	codec, err := New(LRCConfig(6, 2, 2))
	require.NoError(t, err)

	data := []byte("two failures in the same group force a global reed-solomon decode")
	shards, err := codec.Encode(data)
	require.NoError(t, err)

	damaged := make([][]byte, len(shards))
	copy(damaged, shards)
	damaged[0] = nil
	damaged[1] = nil // group 0 now missing 2 data shards: local recovery impossible

	decoded, err := codec.Decode(damaged, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestLRCVerify(t *testing.T) {
	codec, err := New(LRCConfig(6, 2, 2))
	require.NoError(t, err)

	data := []byte("verify local and global parity consistency")
	shards, err := codec.Encode(data)
	require.NoError(t, err)

	ok, err := codec.Verify(shards)
	require.NoError(t, err)
	assert.True(t, ok)

	shards[8][0] ^= 0xFF // corrupt a global parity shard
	ok, err = codec.Verify(shards)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidConfigRejected(t *testing.T) {
	_, err := New(LRCConfig(5, 2, 2)) // 5 not divisible by 2
	assert.Error(t, err)

	_, err = New(Config{Type: TypeMDS, DataShards: 0, GlobalParity: 2})
	assert.Error(t, err)
}
