// Package client is the gateway-side gRPC client library: a pooled
// connection manager plus the thin adapters (ShardClient, Gatherer) that
// let pkg/block's flush pipeline and pkg/scatter's listing engine talk to
// real OSD and metadata daemons instead of the in-memory fakes their tests
// use.
package client

import (
	"sync"

	"google.golang.org/grpc"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/placement"
	"github.com/cloudomate/objectio/pkg/rpc"
)

// Pool lazily dials and caches one *grpc.ClientConn per address, shared
// across every StorageClient/MetadataClient a gateway process needs. A
// single long-lived gateway talks to every OSD in the cluster, so dialing
// once per address and reusing the connection avoids a handshake per RPC.
type Pool struct {
	mu    sync.Mutex
	tls   *rpc.TLSMaterial
	conns map[string]*grpc.ClientConn
}

// NewPool creates an empty pool. tlsMaterial may be nil for insecure
// local/test deployments, matching rpc.DialOptions' own nil handling.
func NewPool(tlsMaterial *rpc.TLSMaterial) *Pool {
	return &Pool{tls: tlsMaterial, conns: make(map[string]*grpc.ClientConn)}
}

func (p *Pool) conn(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[addr]; ok {
		return c, nil
	}
	c, err := rpc.Dial(addr, p.tls)
	if err != nil {
		return nil, common.Wrap(common.KindUnavailable, err, "dial %s", addr)
	}
	p.conns[addr] = c
	return c, nil
}

// Storage returns a StorageClient bound to addr, dialing it on first use.
func (p *Pool) Storage(addr string) (rpc.StorageClient, error) {
	conn, err := p.conn(addr)
	if err != nil {
		return nil, err
	}
	return rpc.NewStorageClient(conn), nil
}

// Metadata returns a MetadataClient bound to addr, dialing it on first use.
func (p *Pool) Metadata(addr string) (rpc.MetadataClient, error) {
	conn, err := p.conn(addr)
	if err != nil {
		return nil, err
	}
	return rpc.NewMetadataClient(conn), nil
}

// Block returns a BlockClient bound to addr, dialing it on first use.
func (p *Pool) Block(addr string) (rpc.BlockClient, error) {
	conn, err := p.conn(addr)
	if err != nil {
		return nil, err
	}
	return rpc.NewBlockClient(conn), nil
}

// Close tears down every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for addr, c := range p.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, addr)
	}
	return firstErr
}

// Directory resolves a node id to the address and disk set it was last
// registered with. *placement.ClusterTopology satisfies this directly via
// its Node method, so callers typically pass topologyManager.Topology().
type Directory interface {
	Node(id common.NodeId) (placement.NodeInfo, bool)
	ActiveNodes() []placement.NodeInfo
}
