package erasure

import "github.com/cloudomate/objectio/pkg/common"

// Codec is the unified erasure coding API used by the gateways, the
// block-volume flush pipeline and the chunk gatherer: plain MDS
// Reed-Solomon or LRC, selected by Config.Type.
type Codec struct {
	cfg Config
	mds *mdsBackend // TypeMDS
	lrc *lrcBackend // TypeLRC
}

// New builds a Codec for cfg.
func New(cfg Config) (*Codec, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Codec{cfg: cfg}
	switch cfg.Type {
	case TypeMDS:
		mds, err := newMDSBackend(cfg.DataShards, cfg.GlobalParity)
		if err != nil {
			return nil, err
		}
		c.mds = mds
	case TypeLRC:
		lrc, err := newLRCBackend(cfg)
		if err != nil {
			return nil, err
		}
		c.lrc = lrc
	default:
		return nil, common.InvalidArgumentf("unknown erasure type %d", cfg.Type)
	}
	return c, nil
}

func (c *Codec) Config() Config   { return c.cfg }
func (c *Codec) DataShards() int  { return int(c.cfg.DataShards) }
func (c *Codec) TotalShards() int { return c.cfg.TotalShards() }
func (c *Codec) IsLRC() bool      { return c.cfg.Type == TypeLRC }

// Encode splits data into k equal-sized shards (padded to a multiple of k,
// floored at 64 bytes) and computes the configured parity, returning all
// TotalShards() shards.
func (c *Codec) Encode(data []byte) ([][]byte, error) {
	k := int(c.cfg.DataShards)

	shardSize := (len(data) + k - 1) / k
	if shardSize < minShardSize {
		shardSize = minShardSize
	}
	paddedSize := shardSize * k

	padded := make([]byte, paddedSize)
	copy(padded, data)

	dataShards := make([][]byte, k)
	for i := 0; i < k; i++ {
		dataShards[i] = padded[i*shardSize : (i+1)*shardSize]
	}

	if c.IsLRC() {
		return c.lrc.encode(dataShards, shardSize)
	}
	return c.mds.encode(dataShards, shardSize)
}

// Decode reconstructs the original bytes from shards, a slice of length
// TotalShards() with nil entries for missing shards. At least
// DataShards() must be present. LRC configurations attempt local recovery
// before falling back to global Reed-Solomon decode over the data and
// global-parity shards.
func (c *Codec) Decode(shards [][]byte, originalSize int) ([]byte, error) {
	k := int(c.cfg.DataShards)

	available := 0
	for _, s := range shards {
		if s != nil {
			available++
		}
	}
	if available < k {
		return nil, common.InsufficientShardsf("have %d shards, need %d", available, k)
	}

	var shardSize int
	for _, s := range shards {
		if s != nil {
			shardSize = len(s)
			break
		}
	}

	// Fast path: every data shard present, no reconstruction needed.
	dataOK := true
	for i := 0; i < k; i++ {
		if shards[i] == nil {
			dataOK = false
			break
		}
	}
	if dataOK {
		out := make([]byte, 0, k*shardSize)
		for i := 0; i < k; i++ {
			out = append(out, shards[i]...)
		}
		if originalSize < len(out) {
			out = out[:originalSize]
		}
		return out, nil
	}

	var dataShards [][]byte
	var err error
	if c.IsLRC() {
		dataShards, err = c.decodeLRC(shards, shardSize)
	} else {
		var full [][]byte
		full, err = c.mds.decode(shards)
		if err == nil {
			dataShards = full[:k]
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, k*shardSize)
	for i := 0; i < k; i++ {
		out = append(out, dataShards[i]...)
	}
	if originalSize < len(out) {
		out = out[:originalSize]
	}
	return out, nil
}

// decodeLRC runs the iterative local-then-global recovery described in the
// stripe layout: each round attempts local (XOR) recovery for every still
// missing shard; recovered shards feed back into the next round, so
// multi-failure patterns that become single-failure after one round of
// local recovery still succeed without a global decode. Any shards still
// missing after local recovery converges are restored via one global
// Reed-Solomon decode over the k data shards + g global-parity shards.
func (c *Codec) decodeLRC(shards [][]byte, shardSize int) ([][]byte, error) {
	k := int(c.cfg.DataShards)
	l := int(c.cfg.LocalParity)
	g := int(c.cfg.GlobalParity)

	work := make([][]byte, len(shards))
	copy(work, shards)

	for {
		recoveredThisRound := false
		for i := range work {
			if work[i] != nil {
				continue
			}
			recovered, ok, err := c.lrc.decodeLocal(work, shardSize, i)
			if err != nil {
				return nil, err
			}
			if ok {
				work[i] = recovered
				recoveredThisRound = true
			}
		}
		if !recoveredThisRound {
			break
		}
	}

	missingData := false
	for i := 0; i < k; i++ {
		if work[i] == nil {
			missingData = true
			break
		}
	}
	if !missingData {
		return work[:k], nil
	}

	// Global fallback: k data shards + g global parity shards, addressed
	// as their own (k, g) Reed-Solomon group.
	globalView := make([][]byte, k+g)
	copy(globalView, work[:k])
	copy(globalView[k:], work[k+l:k+l+g])

	decoded, err := c.lrc.globalRS.decode(globalView)
	if err != nil {
		return nil, err
	}
	return decoded[:k], nil
}

// Verify recomputes every parity shard from the data shards and compares
// against shards. Mis-sized or mis-counted input returns (false, nil), not
// an error.
func (c *Codec) Verify(shards [][]byte) (bool, error) {
	if c.IsLRC() {
		return c.lrc.verify(shards)
	}
	return c.mds.verify(shards)
}

// TryLocalRecovery attempts to recover a single missing shard using only
// its local-parity group. Always returns (nil, false, nil) for MDS
// configurations.
func (c *Codec) TryLocalRecovery(shards [][]byte, shardSize int, missingIndex int) ([]byte, bool, error) {
	if !c.IsLRC() {
		return nil, false, nil
	}
	return c.lrc.decodeLocal(shards, shardSize, missingIndex)
}

// CanRecoverLocally reports whether missingIndex could be recovered from
// its local-parity group alone, given the current shard availability.
func (c *Codec) CanRecoverLocally(available []bool, missingIndex int) bool {
	if !c.IsLRC() {
		return false
	}
	return c.lrc.canRecoverLocally(available, missingIndex)
}
