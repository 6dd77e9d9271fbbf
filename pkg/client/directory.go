package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/placement"
	"github.com/cloudomate/objectio/pkg/rpc"
)

// PolledDirectory satisfies Directory by periodically pulling the full
// active-node set from the metadata service's GetListingNodes RPC (which,
// per its own doc comment, returns every active OSD regardless of the
// bucket argument passed in) and caching it between refreshes. Both the
// object gateway and the block gateway use one of these to resolve the
// node ids a placement or a flush pipeline hands them into dialable
// addresses.
type PolledDirectory struct {
	mc      rpc.MetadataClient
	refresh time.Duration
	logger  zerolog.Logger

	mu    sync.RWMutex
	nodes map[common.NodeId]placement.NodeInfo

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewPolledDirectory(mc rpc.MetadataClient, refresh time.Duration, logger zerolog.Logger) *PolledDirectory {
	return &PolledDirectory{
		mc:      mc,
		refresh: refresh,
		logger:  logger,
		nodes:   make(map[common.NodeId]placement.NodeInfo),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start performs an initial synchronous poll, then refreshes on a ticker
// until Stop is called.
func (d *PolledDirectory) Start() {
	d.poll()
	go func() {
		defer close(d.doneCh)
		ticker := time.NewTicker(d.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.poll()
			case <-d.stopCh:
				return
			}
		}
	}()
}

func (d *PolledDirectory) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *PolledDirectory) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := d.mc.GetListingNodes(ctx, &rpc.GetListingNodesRequest{})
	if err != nil {
		d.logger.Warn().Err(err).Msg("directory refresh failed, keeping stale view")
		return
	}

	nodes := make(map[common.NodeId]placement.NodeInfo, len(resp.Nodes))
	for _, n := range resp.Nodes {
		nodes[n.Id] = n
	}
	d.mu.Lock()
	d.nodes = nodes
	d.mu.Unlock()
}

func (d *PolledDirectory) Node(id common.NodeId) (placement.NodeInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	return n, ok
}

func (d *PolledDirectory) ActiveNodes() []placement.NodeInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	nodes := make([]placement.NodeInfo, 0, len(d.nodes))
	for _, n := range d.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}
