package placement

import (
	"sync"

	"github.com/cloudomate/objectio/pkg/common"
)

// FailureDomain is the level at which placement diversifies shards.
type FailureDomain int

const (
	FailureDomainDisk FailureDomain = iota
	FailureDomainNode
	FailureDomainRack
	FailureDomainDatacenter
	FailureDomainRegion
)

// NodeStatus is the liveness state of an OSD as seen by the topology.
type NodeStatus int

const (
	NodeStatusActive NodeStatus = iota
	NodeStatusDraining
	NodeStatusDown
	NodeStatusDecommissioning
)

// FailureDomainInfo locates a node within the region/datacenter/rack
// hierarchy used by rack-level placement diversity.
type FailureDomainInfo struct {
	Region     string
	Datacenter string
	Rack       string
}

func (f FailureDomainInfo) rackKey() string {
	return f.Region + ":" + f.Datacenter + ":" + f.Rack
}

func (f FailureDomainInfo) datacenterKey() string {
	return f.Region + ":" + f.Datacenter
}

// NodeInfo is a single OSD as known to the cluster map.
type NodeInfo struct {
	Id            common.NodeId
	Name          string
	Address       string
	FailureDomain FailureDomainInfo
	Status        NodeStatus
	DiskIds       []common.DiskId
	Weight        float64
	LastHeartbeat int64
}

// ClusterTopology is the authoritative, versioned set of known nodes. Every
// mutation bumps Version so placement decisions and listing cursors can be
// tagged and later checked for staleness.
type ClusterTopology struct {
	mu      sync.RWMutex
	version uint64
	nodes   map[common.NodeId]NodeInfo
}

func NewClusterTopology() *ClusterTopology {
	return &ClusterTopology{nodes: make(map[common.NodeId]NodeInfo)}
}

func (t *ClusterTopology) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// UpsertNode inserts or replaces a node and bumps the topology version.
func (t *ClusterTopology) UpsertNode(info NodeInfo) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[info.Id] = info
	t.version++
	return t.version
}

func (t *ClusterTopology) RemoveNode(id common.NodeId) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, id)
	t.version++
	return t.version
}

func (t *ClusterTopology) Node(id common.NodeId) (NodeInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	return n, ok
}

// ActiveNodes returns a snapshot of every node currently Active.
func (t *ClusterTopology) ActiveNodes() []NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NodeInfo, 0, len(t.nodes))
	for _, n := range t.nodes {
		if n.Status == NodeStatusActive {
			out = append(out, n)
		}
	}
	return out
}

// AllNodes returns a snapshot of every known node regardless of status.
func (t *ClusterTopology) AllNodes() []NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NodeInfo, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out
}

func domainKey(n NodeInfo, level FailureDomain) string {
	switch level {
	case FailureDomainDisk:
		if len(n.DiskIds) > 0 {
			return n.Id.String() + ":" + n.DiskIds[0].String()
		}
		return n.Id.String() + ":disk"
	case FailureDomainNode:
		return n.Id.String()
	case FailureDomainDatacenter:
		return n.FailureDomain.datacenterKey()
	case FailureDomainRegion:
		return n.FailureDomain.Region
	default: // FailureDomainRack
		return n.FailureDomain.rackKey()
	}
}

// groupNodesByDomain partitions the active node set by failure-domain key.
func groupNodesByDomain(nodes []NodeInfo, level FailureDomain) map[string][]NodeInfo {
	groups := make(map[string][]NodeInfo)
	for _, n := range nodes {
		key := domainKey(n, level)
		groups[key] = append(groups[key], n)
	}
	return groups
}
