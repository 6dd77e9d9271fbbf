package placement

import (
	"fmt"

	"github.com/cloudomate/objectio/pkg/common"
)

// TemplateShard is a single position in a PlacementTemplate.
type TemplateShard struct {
	Position   uint8
	Role       common.ShardRole
	LocalGroup *uint8 // nil for global parity and MDS shards
	DomainSlot uint8
}

// PlacementTemplate is the static layout of a stripe: how many shards, what
// role each one plays, and which domain slot it is assigned to. The template
// alone determines how many distinct rack-level domains a placement needs.
type PlacementTemplate struct {
	Name          string
	DataShards    uint8
	LocalParity   uint8
	GlobalParity  uint8
	Shards        []TemplateShard
	DomainSlots   uint8
	ShardsPerSlot uint8
}

func (t PlacementTemplate) TotalShards() uint8 {
	return t.DataShards + t.LocalParity + t.GlobalParity
}

func u8ptr(v uint8) *uint8 { return &v }

// MDSTemplate builds a Reed-Solomon (k, m) template: every shard lands in
// its own domain slot, maximizing spread.
func MDSTemplate(k, m uint8) PlacementTemplate {
	total := k + m
	shards := make([]TemplateShard, 0, total)
	for i := uint8(0); i < total; i++ {
		role := common.ShardRoleGlobalParity
		if i < k {
			role = common.ShardRoleData
		}
		shards = append(shards, TemplateShard{
			Position:   i,
			Role:       role,
			LocalGroup: nil,
			DomainSlot: i,
		})
	}
	return PlacementTemplate{
		Name:          fmt.Sprintf("mds_%d_%d", k, m),
		DataShards:    k,
		LocalParity:   0,
		GlobalParity:  m,
		Shards:        shards,
		DomainSlots:   total,
		ShardsPerSlot: 1,
	}
}

// LRCTemplate builds a Local Reconstruction Codes (k, l, g) template: k data
// shards split into l local groups of k/l, one local-parity shard per
// group, plus g global-parity shards spread two-per-domain beyond the local
// groups.
//
// Example LRC(6,2,2): group 0 = D0 D1 D2 LP0, group 1 = D3 D4 D5 LP1,
// global domain = GP0 GP1.
func LRCTemplate(k, l, g uint8) PlacementTemplate {
	groupSize := k / l
	shards := make([]TemplateShard, 0, int(k+l+g))
	var position uint8

	for groupIdx := uint8(0); groupIdx < l; groupIdx++ {
		for i := uint8(0); i < groupSize; i++ {
			shards = append(shards, TemplateShard{
				Position:   position,
				Role:       common.ShardRoleData,
				LocalGroup: u8ptr(groupIdx),
				DomainSlot: groupIdx,
			})
			position++
		}
		shards = append(shards, TemplateShard{
			Position:   position,
			Role:       common.ShardRoleLocalParity,
			LocalGroup: u8ptr(groupIdx),
			DomainSlot: groupIdx,
		})
		position++
	}

	globalDomainStart := l
	for gpIdx := uint8(0); gpIdx < g; gpIdx++ {
		shards = append(shards, TemplateShard{
			Position:   position,
			Role:       common.ShardRoleGlobalParity,
			LocalGroup: nil,
			DomainSlot: globalDomainStart + gpIdx/2,
		})
		position++
	}

	domainSlots := l + ceilDiv(g, 2)

	return PlacementTemplate{
		Name:          fmt.Sprintf("lrc_%d_%d_%d", k, l, g),
		DataShards:    k,
		LocalParity:   l,
		GlobalParity:  g,
		Shards:        shards,
		DomainSlots:   domainSlots,
		ShardsPerSlot: groupSize + 1,
	}
}

func ceilDiv(a, b uint8) uint8 {
	return (a + b - 1) / b
}

// Built-in templates named in the catalog.

func MDS42() PlacementTemplate  { return MDSTemplate(4, 2) }
func MDS84() PlacementTemplate  { return MDSTemplate(8, 4) }
func LRC622() PlacementTemplate { return LRCTemplate(6, 2, 2) }
func LRC822() PlacementTemplate { return LRCTemplate(8, 2, 2) }
func LRC1222() PlacementTemplate { return LRCTemplate(12, 2, 2) }
