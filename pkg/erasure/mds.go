package erasure

import (
	"github.com/cloudomate/objectio/pkg/common"
	"github.com/klauspost/reedsolomon"
)

// mdsBackend wraps klauspost/reedsolomon for a fixed (k, m) shape.
type mdsBackend struct {
	k, m int
	enc  reedsolomon.Encoder
}

func newMDSBackend(k, m uint8) (*mdsBackend, error) {
	enc, err := reedsolomon.New(int(k), int(m))
	if err != nil {
		return nil, common.Wrap(common.KindInvalidArgument, err, "construct reed-solomon encoder")
	}
	return &mdsBackend{k: int(k), m: int(m), enc: enc}, nil
}

// encode takes exactly k equal-sized data shards and returns k+m shards
// with parity filled in.
func (b *mdsBackend) encode(dataShards [][]byte, shardSize int) ([][]byte, error) {
	if len(dataShards) != b.k {
		return nil, common.InvalidArgumentf("expected %d data shards, got %d", b.k, len(dataShards))
	}
	for i, s := range dataShards {
		if len(s) != shardSize {
			return nil, common.InvalidArgumentf("shard %d has size %d, expected %d", i, len(s), shardSize)
		}
	}

	shards := make([][]byte, b.k+b.m)
	copy(shards, dataShards)
	for i := b.k; i < b.k+b.m; i++ {
		shards[i] = make([]byte, shardSize)
	}

	if err := b.enc.Encode(shards); err != nil {
		return nil, common.Wrap(common.KindInternal, err, "reed-solomon encode")
	}
	return shards, nil
}

// decode reconstructs every shard (data and parity), given at least k
// present shards. Present entries are left untouched; missing entries
// (nil) are filled in.
func (b *mdsBackend) decode(shards [][]byte) ([][]byte, error) {
	available := 0
	for _, s := range shards {
		if s != nil {
			available++
		}
	}
	if available < b.k {
		return nil, common.InsufficientShardsf("have %d shards, need %d", available, b.k)
	}
	if len(shards) != b.k+b.m {
		return nil, common.InvalidArgumentf("expected %d shards, got %d", b.k+b.m, len(shards))
	}

	work := make([][]byte, len(shards))
	copy(work, shards)
	if err := b.enc.Reconstruct(work); err != nil {
		return nil, common.Wrap(common.KindInternal, err, "reed-solomon reconstruct")
	}
	return work, nil
}

func (b *mdsBackend) verify(shards [][]byte) (bool, error) {
	if len(shards) != b.k+b.m {
		return false, nil
	}
	first := len(shards[0])
	for _, s := range shards {
		if len(s) != first {
			return false, nil
		}
	}
	ok, err := b.enc.Verify(shards)
	if err != nil {
		return false, common.Wrap(common.KindInternal, err, "reed-solomon verify")
	}
	return ok, nil
}
