// Package erasure implements the two-layer erasure coding pipeline: plain
// MDS Reed-Solomon, and Local Reconstruction Codes (LRC) layering XOR local
// parity over an MDS global-parity tier. Both satisfy the same Codec
// contract so callers don't need to branch on scheme.
package erasure

import "github.com/cloudomate/objectio/pkg/common"

// minShardSize is the floor imposed on computed shard sizes; it keeps
// shards friendly to vectorized XOR/RS primitives and means a degenerate
// single-byte shard size never reaches a backend.
const minShardSize = 64

// Type distinguishes the coding scheme a Config describes.
type Type int

const (
	TypeMDS Type = iota
	TypeLRC
)

// Config describes one erasure scheme instance.
type Config struct {
	Type         Type
	DataShards   uint8
	LocalParity  uint8 // LRC only
	GlobalParity uint8 // LRC only; for MDS this is the parity shard count
}

// MDSConfig builds a plain Reed-Solomon (k, m) configuration.
func MDSConfig(k, m uint8) Config {
	return Config{Type: TypeMDS, DataShards: k, GlobalParity: m}
}

// LRCConfig builds a (k, l, g) Local Reconstruction Codes configuration.
// k must be divisible by l.
func LRCConfig(k, l, g uint8) Config {
	return Config{Type: TypeLRC, DataShards: k, LocalParity: l, GlobalParity: g}
}

func (c Config) TotalShards() int {
	return int(c.DataShards) + int(c.LocalParity) + int(c.GlobalParity)
}

func (c Config) validate() error {
	if c.DataShards == 0 {
		return common.InvalidArgumentf("data_shards must be > 0")
	}
	if c.GlobalParity == 0 {
		return common.InvalidArgumentf("parity_shards must be > 0")
	}
	if c.Type == TypeLRC {
		if c.LocalParity == 0 {
			return common.InvalidArgumentf("lrc config requires local_parity > 0")
		}
		if c.DataShards%c.LocalParity != 0 {
			return common.InvalidArgumentf("data_shards %d not divisible by local_parity %d", c.DataShards, c.LocalParity)
		}
	}
	return nil
}

func (c Config) localGroupSize() int {
	return int(c.DataShards) / int(c.LocalParity)
}
