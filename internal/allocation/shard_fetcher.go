package allocation

import (
	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/transport"
)

// ShardFetchResult is the subset of shardfetch.FetchResult the allocators
// need; kept as its own type so this package does not have to depend on
// shardfetch's context/goroutine machinery directly.
type ShardFetchResult struct {
	HasData    bool
	DataByNode map[clustertypes.NodeId]transport.ShardStateResponse
}

// ShardFetcher is implemented by shardfetch.Fetcher (via a thin adapter in
// the process wiring the two together) and by test doubles here.
type ShardFetcher interface {
	FetchData(shardID clustertypes.ShardId, nodes []clustertypes.NodeId, ignoredNodes map[clustertypes.NodeId]struct{}) ShardFetchResult
}
