package placement

import (
	"testing"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestTopology(racks, nodesPerRack int) *ClusterTopology {
	topo := NewClusterTopology()
	for r := 0; r < racks; r++ {
		for n := 0; n < nodesPerRack; n++ {
			topo.UpsertNode(NodeInfo{
				Id:      common.NewNodeId(),
				Name:    "osd",
				Address: "10.0.0.1:9000",
				FailureDomain: FailureDomainInfo{
					Region:     "us-east",
					Datacenter: "dc1",
					Rack:       rackName(r),
				},
				Status: NodeStatusActive,
				Weight: 1.0,
			})
		}
	}
	return topo
}

func rackName(i int) string {
	return []string{"rack0", "rack1", "rack2", "rack3"}[i]
}

func TestSelectPlacementDeterministic(t *testing.T) {
	topo := buildTestTopology(3, 4)
	engine := NewCrush2(topo, 64)
	template := MDS42()
	id := common.NewObjectId()

	first := engine.SelectPlacement(id, template)
	second := engine.SelectPlacement(id, template)

	require.Len(t, first, int(template.TotalShards()))
	assert.Equal(t, first, second)
}

func TestSelectPlacementFirstKAreData(t *testing.T) {
	topo := buildTestTopology(3, 4)
	engine := NewCrush2(topo, 64)
	template := MDS42()
	id := common.NewObjectId()

	placements := engine.SelectPlacement(id, template)
	for i := 0; i < int(template.DataShards); i++ {
		assert.Equal(t, common.ShardRoleData, placements[i].Role)
	}
}

func TestSelectPlacementNeverFailsOnSingleNode(t *testing.T) {
	topo := NewClusterTopology()
	topo.UpsertNode(NodeInfo{Id: common.NewNodeId(), Status: NodeStatusActive, Weight: 1.0})
	engine := NewCrush2(topo, 64)

	placements := engine.SelectPlacement(common.NewObjectId(), LRC622())
	assert.Len(t, placements, int(LRC622().TotalShards()))
}

func TestSelectPlacementBootstrapFallback(t *testing.T) {
	topo := NewClusterTopology()
	engine := NewCrush2(topo, 64)

	placements := engine.SelectPlacement(common.NewObjectId(), MDS42())
	assert.Len(t, placements, int(MDS42().TotalShards()))
}

func TestLRCTemplateShape(t *testing.T) {
	tpl := LRCTemplate(6, 2, 2)
	assert.EqualValues(t, 10, tpl.TotalShards())
	assert.Equal(t, "lrc_6_2_2", tpl.Name)

	var dataCount, localCount, globalCount int
	for _, s := range tpl.Shards {
		switch s.Role {
		case common.ShardRoleData:
			dataCount++
		case common.ShardRoleLocalParity:
			localCount++
		case common.ShardRoleGlobalParity:
			globalCount++
		}
	}
	assert.Equal(t, 6, dataCount)
	assert.Equal(t, 2, localCount)
	assert.Equal(t, 2, globalCount)
}

func TestMDSTemplateShape(t *testing.T) {
	tpl := MDSTemplate(4, 2)
	assert.EqualValues(t, 6, tpl.TotalShards())
	for i, s := range tpl.Shards {
		assert.Equal(t, uint8(i), s.DomainSlot)
	}
}

func TestStripeGroupRotation(t *testing.T) {
	topo := buildTestTopology(4, 2)
	engine := NewCrush2(topo, 8)

	group0, ok := engine.GetStripeGroup(common.ObjectIdFromBytes(make([]byte, 16)))
	require.True(t, ok)
	assert.Len(t, group0.Domains, 4)
	assert.Equal(t, engine.stripeGroups[0].Domains[1], engine.stripeGroups[1].Domains[0])
}
