package allocation

import (
	"fmt"

	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/settings"
)

// ThrottlingAllocationDecider bounds the number of concurrent incoming
// recoveries (INITIALIZING copies) per node, and outgoing recoveries
// (RELOCATING sources) per node.
type ThrottlingAllocationDecider struct {
	BaseDecider
}

func (d *ThrottlingAllocationDecider) Name() string { return "throttling" }

func (d *ThrottlingAllocationDecider) CanAllocate(ctx *AllocationContext, shard clustertypes.ShardRouting, node clustertypes.NodeId) (Decision, string) {
	limit := ctx.Settings.Int(settings.KeyConcurrentIncoming)
	if limit <= 0 {
		return DecisionYes, ""
	}
	count := ctx.RoutingNodes.RecoveringCount(node, clustertypes.Initializing)
	if count >= limit {
		return DecisionThrottle, fmt.Sprintf("node already has %d incoming recoveries (limit %d)", count, limit)
	}
	return DecisionYes, ""
}

// CanRelocate answers whether source may start one more outgoing
// recovery. It is not part of the Decider interface proper since only the
// balanced-shards allocator initiates relocations; it is consulted
// directly by BalancedShardsAllocator before calling RoutingNodes.Relocate.
func (d *ThrottlingAllocationDecider) CanRelocate(ctx *AllocationContext, source clustertypes.NodeId) (Decision, string) {
	limit := ctx.Settings.Int(settings.KeyConcurrentOutgoing)
	if limit <= 0 {
		return DecisionYes, ""
	}
	count := ctx.RoutingNodes.RecoveringCount(source, clustertypes.Relocating)
	if count >= limit {
		return DecisionThrottle, fmt.Sprintf("node already has %d outgoing recoveries (limit %d)", count, limit)
	}
	return DecisionYes, ""
}
