// Package placement implements CRUSH-2: rendezvous (HRW) node selection
// layered with pre-computed stripe groups, giving deterministic,
// rack-diverse shard placement for a given object and EC template.
package placement

import (
	"bytes"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cloudomate/objectio/pkg/common"
)

// StripeGroup is the ordered list of rack keys participating in a group of
// objects; index into it with a shard's domain slot.
type StripeGroup struct {
	Id      uint32
	Domains []string
}

// Placement is the resolved destination for one template shard.
type Placement struct {
	Position   uint8
	NodeId     common.NodeId
	Role       common.ShardRole
	LocalGroup *uint8
	Score      uint64
}

// Crush2 is the placement engine: it holds the cluster topology plus the
// pre-computed stripe groups derived from it, recomputed whenever the
// topology changes.
type Crush2 struct {
	mu           sync.RWMutex
	topology     *ClusterTopology
	topoVersion  uint64
	stripeGroups []StripeGroup
	numGroups    uint32
}

// NewCrush2 builds an engine over topology with numGroups stripe groups
// (the spec default is 64).
func NewCrush2(topology *ClusterTopology, numGroups uint32) *Crush2 {
	e := &Crush2{topology: topology, numGroups: numGroups}
	e.rebuildStripeGroups()
	return e
}

// Refresh recomputes stripe groups if the topology version has moved since
// the last build. Callers invoke this before each placement decision; it is
// a no-op when nothing has changed.
func (e *Crush2) Refresh() {
	v := e.topology.Version()
	e.mu.RLock()
	stale := v != e.topoVersion
	e.mu.RUnlock()
	if stale {
		e.rebuildStripeGroups()
	}
}

func (e *Crush2) rebuildStripeGroups() {
	active := e.topology.ActiveNodes()
	domains := groupNodesByDomain(active, FailureDomainRack)

	keys := make([]string, 0, len(domains))
	for k := range domains {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.topoVersion = e.topology.Version()

	if len(keys) == 0 {
		e.stripeGroups = nil
		return
	}

	groups := make([]StripeGroup, e.numGroups)
	for groupID := uint32(0); groupID < e.numGroups; groupID++ {
		rotation := int(groupID) % len(keys)
		rotated := rotateLeft(keys, rotation)
		groups[groupID] = StripeGroup{Id: groupID, Domains: rotated}
	}
	e.stripeGroups = groups
}

func rotateLeft(s []string, n int) []string {
	if len(s) == 0 {
		return nil
	}
	n %= len(s)
	out := make([]string, len(s))
	copy(out, s[n:])
	copy(out[len(s)-n:], s[:n])
	return out
}

// hashObject is the seed used throughout CRUSH-2: xxh64(object_id, seed=0).
func hashObject(id common.ObjectId) uint64 {
	return xxhash.Sum64(id.Bytes())
}

// GetStripeGroup returns the stripe group an object hashes into, for
// inspection and debugging.
func (e *Crush2) GetStripeGroup(id common.ObjectId) (StripeGroup, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.numGroups == 0 || len(e.stripeGroups) == 0 {
		return StripeGroup{}, false
	}
	idx := uint32(hashObject(id)) % e.numGroups
	if int(idx) >= len(e.stripeGroups) {
		return StripeGroup{}, false
	}
	return e.stripeGroups[idx], true
}

// SelectPlacement resolves every shard of template for id against the
// current topology. It never fails for a reachable cluster with at least
// one active node: when a domain slot cannot be filled with a fresh node,
// the engine degrades to the least-diverse valid placement rather than
// refuse the write.
func (e *Crush2) SelectPlacement(id common.ObjectId, template PlacementTemplate) []Placement {
	e.Refresh()

	e.mu.RLock()
	stripeGroups := e.stripeGroups
	numGroups := e.numGroups
	e.mu.RUnlock()

	active := e.topology.ActiveNodes()
	if len(active) == 0 {
		return e.legacyFallback(id, template)
	}

	var group StripeGroup
	if numGroups > 0 && len(stripeGroups) > 0 {
		idx := uint32(hashObject(id)) % numGroups
		if int(idx) < len(stripeGroups) {
			group = stripeGroups[idx]
		}
	}

	domainNodes := groupNodesByDomain(active, FailureDomainRack)

	placements := make([]Placement, 0, template.TotalShards())
	usedByDomainSlot := make(map[uint8][]common.NodeId)

	for _, shard := range template.Shards {
		domainLen := len(group.Domains)
		if domainLen == 0 {
			domainLen = 1
		}
		domainIdx := int(shard.DomainSlot) % domainLen
		var domainKey string
		if domainIdx < len(group.Domains) {
			domainKey = group.Domains[domainIdx]
		}

		nodes := domainNodes[domainKey]
		used := usedByDomainSlot[shard.DomainSlot]

		nodeID, score := hrwSelect(id, nodes, used, active)
		usedByDomainSlot[shard.DomainSlot] = append(used, nodeID)

		placements = append(placements, Placement{
			Position:   shard.Position,
			NodeId:     nodeID,
			Role:       shard.Role,
			LocalGroup: shard.LocalGroup,
			Score:      score,
		})
	}

	return placements
}

// hrwSelect picks the highest-scoring node in nodes, excluding any already
// in exclude. When the domain is empty, it selects across the whole active
// set instead; when every candidate is already excluded, it reuses the
// top-scoring candidate rather than failing the placement.
func hrwSelect(id common.ObjectId, nodes []NodeInfo, exclude []common.NodeId, fallback []NodeInfo) (common.NodeId, uint64) {
	candidates := nodes
	if len(candidates) == 0 {
		candidates = fallback
	}
	if len(candidates) == 0 {
		hash := hashObject(id)
		var bytes [16]byte
		putUint64LE(bytes[:8], hash)
		return common.NodeIdFromBytes(bytes[:]), 0
	}

	objectHash := hashObject(id)
	var best NodeInfo
	var bestScore uint64
	found := false

	for _, node := range candidates {
		if containsNode(exclude, node.Id) {
			continue
		}
		score := hrwScore(node, objectHash)
		if !found || score > bestScore || (score == bestScore && bytes.Compare(node.Id.Bytes(), best.Id.Bytes()) < 0) {
			bestScore = score
			best = node
			found = true
		}
	}

	if !found {
		// Every candidate in this domain is already used: reuse the
		// top-scoring node anyway so the write still succeeds.
		for _, node := range candidates {
			score := hrwScore(node, objectHash)
			if !found || score > bestScore || (score == bestScore && bytes.Compare(node.Id.Bytes(), best.Id.Bytes()) < 0) {
				bestScore = score
				best = node
				found = true
			}
		}
	}

	return best.Id, bestScore
}

func hrwScore(node NodeInfo, objectHash uint64) uint64 {
	d := xxhash.NewWithSeed(objectHash)
	d.Write(node.Id.Bytes())
	nodeHash := d.Sum64()
	weightFactor := uint64(node.Weight * 1000.0)
	return nodeHash * weightFactor
}

func containsNode(ids []common.NodeId, id common.NodeId) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// HrwSelectN picks the top-count nodes by HRW score, for plain replication
// or simple MDS placements that don't need per-slot domain assignment.
func HrwSelectN(id common.ObjectId, nodes []NodeInfo, count int) []Placement {
	if len(nodes) == 0 {
		return nil
	}
	objectHash := hashObject(id)

	type scored struct {
		nodeID common.NodeId
		score  uint64
	}
	all := make([]scored, len(nodes))
	for i, n := range nodes {
		all[i] = scored{nodeID: n.Id, score: hrwScore(n, objectHash)}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	if count < len(all) {
		all = all[:count]
	}

	out := make([]Placement, len(all))
	for i, s := range all {
		out[i] = Placement{Position: uint8(i), NodeId: s.nodeID, Score: s.score}
	}
	return out
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// legacyFallback handles the bootstrap case: zero active nodes in the
// topology. It degrades to a deterministic rotation over every known node
// (regardless of status) keyed by object identity, with no diversity
// guarantee.
func (e *Crush2) legacyFallback(id common.ObjectId, template PlacementTemplate) []Placement {
	all := e.topology.AllNodes()
	sort.Slice(all, func(i, j int) bool { return all[i].Id.String() < all[j].Id.String() })

	placements := make([]Placement, 0, template.TotalShards())
	objectHash := hashObject(id)

	for _, shard := range template.Shards {
		var nodeID common.NodeId
		var score uint64
		if len(all) > 0 {
			idx := int((objectHash + uint64(shard.Position)) % uint64(len(all)))
			nodeID = all[idx].Id
		} else {
			var bytes [16]byte
			putUint64LE(bytes[:8], objectHash+uint64(shard.Position))
			nodeID = common.NodeIdFromBytes(bytes[:])
		}
		placements = append(placements, Placement{
			Position:   shard.Position,
			NodeId:     nodeID,
			Role:       shard.Role,
			LocalGroup: shard.LocalGroup,
			Score:      score,
		})
	}
	return placements
}
