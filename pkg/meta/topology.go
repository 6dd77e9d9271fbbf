package meta

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/log"
	"github.com/cloudomate/objectio/pkg/placement"
)

// persistedNode is the on-disk shape of one topology entry; common.NodeId
// and common.DiskId round-trip through JSON via their String()/Parse forms
// rather than their raw uuid.UUID bytes, keeping the stored document
// human-readable for operators inspecting the database directly.
type persistedNode struct {
	Id            string   `json:"id"`
	Name          string   `json:"name"`
	Address       string   `json:"address"`
	Region        string   `json:"region"`
	Datacenter    string   `json:"datacenter"`
	Rack          string   `json:"rack"`
	Status        int      `json:"status"`
	DiskIds       []string `json:"disk_ids"`
	Weight        float64  `json:"weight"`
	LastHeartbeat int64    `json:"last_heartbeat"`
}

// TopologyManager owns the in-memory ClusterTopology and its placement
// engine, persisting OSD registrations to the metadata store's topology
// bucket so a restarted service rebuilds the same cluster view.
type TopologyManager struct {
	store    *Store
	topology *placement.ClusterTopology
	placer   *placement.Crush2
}

const defaultStripeGroups = 64

func NewTopologyManager(store *Store) (*TopologyManager, error) {
	topo := placement.NewClusterTopology()
	if err := loadTopology(store, topo); err != nil {
		return nil, err
	}
	return &TopologyManager{
		store:    store,
		topology: topo,
		placer:   placement.NewCrush2(topo, defaultStripeGroups),
	}, nil
}

func loadTopology(store *Store, topo *placement.ClusterTopology) error {
	return store.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTopology).Get(topologyKey)
		if data == nil {
			return nil
		}
		var nodes []persistedNode
		if err := json.Unmarshal(data, &nodes); err != nil {
			return common.Wrap(common.KindInternal, err, "unmarshal persisted topology")
		}
		for _, n := range nodes {
			info, err := nodeInfoFromPersisted(n)
			if err != nil {
				return err
			}
			topo.UpsertNode(info)
		}
		return nil
	})
}

func nodeInfoFromPersisted(n persistedNode) (placement.NodeInfo, error) {
	id, err := common.ParseNodeId(n.Id)
	if err != nil {
		return placement.NodeInfo{}, common.Wrap(common.KindCorruption, err, "parse persisted node id %s", n.Id)
	}
	disks := make([]common.DiskId, 0, len(n.DiskIds))
	for _, d := range n.DiskIds {
		u, err := common.ParseDiskId(d)
		if err != nil {
			return placement.NodeInfo{}, common.Wrap(common.KindCorruption, err, "parse persisted disk id %s", d)
		}
		disks = append(disks, u)
	}
	return placement.NodeInfo{
		Id:      id,
		Name:    n.Name,
		Address: n.Address,
		FailureDomain: placement.FailureDomainInfo{
			Region:     n.Region,
			Datacenter: n.Datacenter,
			Rack:       n.Rack,
		},
		Status:        placement.NodeStatus(n.Status),
		DiskIds:       disks,
		Weight:        n.Weight,
		LastHeartbeat: n.LastHeartbeat,
	}, nil
}

func persistedFromNodeInfo(n placement.NodeInfo) persistedNode {
	disks := make([]string, 0, len(n.DiskIds))
	for _, d := range n.DiskIds {
		disks = append(disks, d.String())
	}
	return persistedNode{
		Id:            n.Id.String(),
		Name:          n.Name,
		Address:       n.Address,
		Region:        n.FailureDomain.Region,
		Datacenter:    n.FailureDomain.Datacenter,
		Rack:          n.FailureDomain.Rack,
		Status:        int(n.Status),
		DiskIds:       disks,
		Weight:        n.Weight,
		LastHeartbeat: n.LastHeartbeat,
	}
}

func (m *TopologyManager) persist(tx *bolt.Tx) error {
	nodes := m.topology.AllNodes()
	out := make([]persistedNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, persistedFromNodeInfo(n))
	}
	data, err := json.Marshal(out)
	if err != nil {
		return common.Wrap(common.KindInternal, err, "marshal topology")
	}
	return tx.Bucket(bucketTopology).Put(topologyKey, data)
}

// RegisterOsd upserts a node into the in-memory cluster map, bumping the
// topology version, then persists the full node list in a single bbolt
// transaction. If that write fails the error is returned and the
// in-memory upsert is not undone.
func (m *TopologyManager) RegisterOsd(nodeId common.NodeId, address, name string, diskIds []common.DiskId, domain placement.FailureDomainInfo, weight float64) (uint64, error) {
	info := placement.NodeInfo{
		Id:            nodeId,
		Name:          name,
		Address:       address,
		FailureDomain: domain,
		Status:        placement.NodeStatusActive,
		DiskIds:       diskIds,
		Weight:        weight,
		LastHeartbeat: time.Now().Unix(),
	}

	version := m.topology.UpsertNode(info)
	err := m.store.db.Update(func(tx *bolt.Tx) error {
		return m.persist(tx)
	})
	if err != nil {
		return 0, err
	}

	log.WithComponent("meta").Info().
		Str("node_id", nodeId.String()).
		Str("address", address).
		Uint64("topology_version", version).
		Msg("registered osd")
	return version, nil
}

// Topology exposes the live ClusterTopology for collaborators (heartbeat
// processors, admin tooling) that need direct read access.
func (m *TopologyManager) Topology() *placement.ClusterTopology { return m.topology }

func (m *TopologyManager) Version() uint64 { return m.topology.Version() }

// PlacementResult is GetPlacement's response shape, §4.6.
type PlacementResult struct {
	StorageClass     string
	EcK              uint8
	EcM              uint8
	EcType           string
	EcLocalParity    uint8
	EcGlobalParity   uint8
	LocalGroupSize   uint8
	ReplicationCount uint8
	Nodes            []placement.Placement
	TopologyVersion  uint64
}

// GetPlacement resolves a deterministic placement for (objectId, template)
// against the current topology.
func (m *TopologyManager) GetPlacement(objectId common.ObjectId, storageClass string, template placement.PlacementTemplate) PlacementResult {
	nodes := m.placer.SelectPlacement(objectId, template)
	ecType := "mds"
	if template.LocalParity > 0 {
		ecType = "lrc"
	}
	return PlacementResult{
		StorageClass:    storageClass,
		EcK:             template.DataShards,
		EcM:             template.LocalParity + template.GlobalParity,
		EcType:          ecType,
		EcLocalParity:   template.LocalParity,
		EcGlobalParity:  template.GlobalParity,
		LocalGroupSize:  template.ShardsPerSlot,
		Nodes:           nodes,
		TopologyVersion: m.topology.Version(),
	}
}

// GetListingNodes returns the active nodes and current topology version for
// the scatter-gather engine (C5). Every bucket's keyspace is assumed
// sharded across every active OSD; a future version could narrow this to
// the OSDs that actually hold a given bucket's objects.
func (m *TopologyManager) GetListingNodes(bucket string) ([]placement.NodeInfo, uint64) {
	return m.topology.ActiveNodes(), m.topology.Version()
}
