package erasure

import "github.com/cloudomate/objectio/pkg/common"

// localGroup describes the local-parity group a data or local-parity shard
// belongs to. Global parity shards have no local group.
type localGroup struct {
	groupIndex       uint8
	dataShardIndices []int
	localParityIndex int
}

// localGroupFor returns the local group owning shardIndex, or false if
// shardIndex is a global-parity shard.
func localGroupFor(cfg Config, shardIndex int) (localGroup, bool) {
	k := int(cfg.DataShards)
	l := int(cfg.LocalParity)
	groupSize := cfg.localGroupSize()

	if shardIndex >= k+l {
		return localGroup{}, false
	}

	var groupIdx int
	if shardIndex < k {
		groupIdx = shardIndex / groupSize
	} else {
		groupIdx = shardIndex - k
	}

	start := groupIdx * groupSize
	indices := make([]int, groupSize)
	for i := range indices {
		indices[i] = start + i
	}

	return localGroup{
		groupIndex:       uint8(groupIdx),
		dataShardIndices: indices,
		localParityIndex: k + groupIdx,
	}, true
}

// xorShards XORs size bytes of each shard together. Every shard must be
// non-nil and exactly size bytes.
func xorShards(shards [][]byte, size int) []byte {
	out := make([]byte, size)
	for _, s := range shards {
		for i := 0; i < size; i++ {
			out[i] ^= s[i]
		}
	}
	return out
}

// lrcBackend layers l XOR local-parity shards and g Reed-Solomon
// global-parity shards (computed over all k data shards) on top of the
// k data shards.
type lrcBackend struct {
	cfg      Config
	globalRS *mdsBackend // k data -> g global parity
}

func newLRCBackend(cfg Config) (*lrcBackend, error) {
	globalRS, err := newMDSBackend(cfg.DataShards, cfg.GlobalParity)
	if err != nil {
		return nil, err
	}
	return &lrcBackend{cfg: cfg, globalRS: globalRS}, nil
}

// encode builds the full [data..., local_parity..., global_parity...]
// layout from k equal-sized data shards.
func (b *lrcBackend) encode(dataShards [][]byte, shardSize int) ([][]byte, error) {
	k := int(b.cfg.DataShards)
	l := int(b.cfg.LocalParity)
	g := int(b.cfg.GlobalParity)
	groupSize := b.cfg.localGroupSize()

	if len(dataShards) != k {
		return nil, common.InvalidArgumentf("expected %d data shards, got %d", k, len(dataShards))
	}
	for i, s := range dataShards {
		if len(s) != shardSize {
			return nil, common.InvalidArgumentf("shard %d has size %d, expected %d", i, len(s), shardSize)
		}
	}

	out := make([][]byte, k+l+g)
	copy(out, dataShards)

	for groupIdx := 0; groupIdx < l; groupIdx++ {
		start := groupIdx * groupSize
		out[k+groupIdx] = xorShards(dataShards[start:start+groupSize], shardSize)
	}

	globalEncoded, err := b.globalRS.encode(dataShards, shardSize)
	if err != nil {
		return nil, err
	}
	copy(out[k+l:], globalEncoded[k:])

	return out, nil
}

// decodeLocal attempts to recover shard missingIndex using only its local
// group (the other data shards of its group plus its local-parity shard).
// Returns (nil, false, nil) when local recovery isn't applicable or isn't
// currently possible (not an error — the caller falls back to global
// recovery).
func (b *lrcBackend) decodeLocal(shards [][]byte, shardSize int, missingIndex int) ([]byte, bool, error) {
	group, ok := localGroupFor(b.cfg, missingIndex)
	if !ok {
		return nil, false, nil
	}

	members := make([][]byte, 0, len(group.dataShardIndices)+1)
	for _, idx := range group.dataShardIndices {
		if idx == missingIndex {
			continue
		}
		if shards[idx] == nil {
			return nil, false, nil
		}
		members = append(members, shards[idx])
	}
	if shards[group.localParityIndex] == nil {
		return nil, false, nil
	}
	members = append(members, shards[group.localParityIndex])

	recovered := xorShards(members, shardSize)
	return recovered, true, nil
}

// canRecoverLocally reports whether missingIndex could be recovered with
// only its local group, given the availability bitmap.
func (b *lrcBackend) canRecoverLocally(available []bool, missingIndex int) bool {
	group, ok := localGroupFor(b.cfg, missingIndex)
	if !ok {
		return false
	}
	for _, idx := range group.dataShardIndices {
		if idx == missingIndex {
			continue
		}
		if idx >= len(available) || !available[idx] {
			return false
		}
	}
	return group.localParityIndex < len(available) && available[group.localParityIndex]
}

// verify recomputes every local and global parity shard and compares.
func (b *lrcBackend) verify(shards [][]byte) (bool, error) {
	k := int(b.cfg.DataShards)
	l := int(b.cfg.LocalParity)
	g := int(b.cfg.GlobalParity)
	groupSize := b.cfg.localGroupSize()

	if len(shards) != k+l+g {
		return false, nil
	}
	first := len(shards[0])
	for _, s := range shards {
		if len(s) != first {
			return false, nil
		}
	}

	for groupIdx := 0; groupIdx < l; groupIdx++ {
		start := groupIdx * groupSize
		expected := xorShards(shards[start:start+groupSize], first)
		if string(expected) != string(shards[k+groupIdx]) {
			return false, nil
		}
	}

	globalEncoded, err := b.globalRS.encode(shards[:k], first)
	if err != nil {
		return false, err
	}
	for i := 0; i < g; i++ {
		if string(globalEncoded[k+i]) != string(shards[k+l+i]) {
			return false, nil
		}
	}

	return true, nil
}
