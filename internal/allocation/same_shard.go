package allocation

import "github.com/clustercoord/core/internal/clustertypes"

// SameShardAllocationDecider enforces that two copies of the same shard
// never share a node.
type SameShardAllocationDecider struct {
	BaseDecider
}

func (d *SameShardAllocationDecider) Name() string { return "same_shard" }

func (d *SameShardAllocationDecider) CanAllocate(ctx *AllocationContext, shard clustertypes.ShardRouting, node clustertypes.NodeId) (Decision, string) {
	for _, existing := range ctx.RoutingNodes.NodeCopies(node) {
		if existing.ShardID == shard.ShardID && existing.AllocationID != shard.AllocationID {
			return DecisionNo, "a copy of this shard is already allocated to this node"
		}
	}
	return DecisionYes, ""
}
