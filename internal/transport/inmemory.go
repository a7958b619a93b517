package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/clustercoord/core/internal/clustertypes"
)

// ShardStateHandler answers a FetchShardState call for one node.
type ShardStateHandler func(ctx context.Context, req ShardStateRequest) (ShardStateResponse, error)

// ReplicaHandler answers a PerformOnReplica call for one node.
type ReplicaHandler func(ctx context.Context, req ReplicaRequest) (ReplicaResponse, error)

// InMemoryTransport is a NodeTransport test double that dispatches calls to
// per-node handlers registered by the test, instead of going over the
// wire. It lets internal/shardfetch and internal/replication be exercised
// without internal/transport ever needing a real network implementation.
type InMemoryTransport struct {
	mu              sync.Mutex
	shardHandlers   map[clustertypes.NodeId]ShardStateHandler
	replicaHandlers map[clustertypes.NodeId]ReplicaHandler
}

// NewInMemoryTransport returns an empty transport; register node handlers
// with RegisterShardStateHandler / RegisterReplicaHandler before use.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		shardHandlers:   make(map[clustertypes.NodeId]ShardStateHandler),
		replicaHandlers: make(map[clustertypes.NodeId]ReplicaHandler),
	}
}

// RegisterShardStateHandler installs the handler that answers
// FetchShardState for node.
func (t *InMemoryTransport) RegisterShardStateHandler(node clustertypes.NodeId, h ShardStateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shardHandlers[node] = h
}

// RegisterReplicaHandler installs the handler that answers
// PerformOnReplica for node.
func (t *InMemoryTransport) RegisterReplicaHandler(node clustertypes.NodeId, h ReplicaHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replicaHandlers[node] = h
}

// FetchShardState implements NodeTransport.
func (t *InMemoryTransport) FetchShardState(ctx context.Context, node clustertypes.NodeId, req ShardStateRequest) (ShardStateResponse, error) {
	t.mu.Lock()
	h, ok := t.shardHandlers[node]
	t.mu.Unlock()
	if !ok {
		return ShardStateResponse{}, fmt.Errorf("transport: no shard-state handler registered for node %s", node)
	}
	return h(ctx, req)
}

// PerformOnReplica implements NodeTransport.
func (t *InMemoryTransport) PerformOnReplica(ctx context.Context, node clustertypes.NodeId, req ReplicaRequest) (ReplicaResponse, error) {
	t.mu.Lock()
	h, ok := t.replicaHandlers[node]
	t.mu.Unlock()
	if !ok {
		return ReplicaResponse{}, fmt.Errorf("transport: no replica handler registered for node %s", node)
	}
	return h(ctx, req)
}

var _ NodeTransport = (*InMemoryTransport)(nil)
