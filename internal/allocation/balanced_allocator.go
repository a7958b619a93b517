package allocation

import (
	"sort"

	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/routing"
)

// BalancedShardsAllocator enforces canRemain (relocating a STARTED copy
// off a node the deciders no longer allow it on) and rebalances started
// shards from the most-loaded data nodes toward the least-loaded ones.
// Generalizes a least-loaded-node placement choice into a continual pass
// over already-placed shards, gated by the same decider stack used for
// fresh allocation.
type BalancedShardsAllocator struct {
	Deciders   *AllocationDeciders
	Throttling *ThrottlingAllocationDecider
}

// NewBalancedShardsAllocator builds an allocator over deciders, using
// throttling to gate how many relocations a node may have outgoing at
// once.
func NewBalancedShardsAllocator(deciders *AllocationDeciders, throttling *ThrottlingAllocationDecider) *BalancedShardsAllocator {
	return &BalancedShardsAllocator{Deciders: deciders, Throttling: throttling}
}

// EnforceCanRemain relocates every STARTED copy the deciders no longer
// allow to remain on its current node onto the least-loaded node that
// will accept it. A copy with nowhere to go is left in place; the next
// reroute pass tries again.
func (a *BalancedShardsAllocator) EnforceCanRemain(ctx *AllocationContext, rn *routing.RoutingNodes) {
	for node, copies := range rn.Nodes {
		for _, c := range copies {
			if c.State != clustertypes.Started {
				continue
			}
			if dec, _ := a.Deciders.CanRemain(ctx, c, node); dec != DecisionNo {
				continue
			}
			target, ok := a.selectRelocationTarget(ctx, rn, c, node)
			if !ok {
				continue
			}
			rn.Relocate(c, target, mintAllocationID())
		}
	}
}

// Rebalance repeatedly relocates one STARTED shard at a time from the
// most-loaded data node to the least-loaded one, stopping once the gap
// is too small to be worth a move or no decider-acceptable move remains.
func (a *BalancedShardsAllocator) Rebalance(ctx *AllocationContext, rn *routing.RoutingNodes) {
	nodes := dataNodeList(ctx)
	if len(nodes) < 2 {
		return
	}
	for a.rebalanceOnce(ctx, rn, nodes) {
	}
}

func (a *BalancedShardsAllocator) rebalanceOnce(ctx *AllocationContext, rn *routing.RoutingNodes, nodes []clustertypes.NodeId) bool {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	var mostLoaded, leastLoaded clustertypes.NodeId
	mostCount, leastCount := -1, -1
	for _, n := range nodes {
		count := startedCount(rn, n)
		if mostCount < 0 || count > mostCount {
			mostLoaded, mostCount = n, count
		}
		if leastCount < 0 || count < leastCount {
			leastLoaded, leastCount = n, count
		}
	}
	if mostLoaded == "" || mostLoaded == leastLoaded || mostCount-leastCount < 2 {
		return false
	}
	if dec, _ := a.Throttling.CanRelocate(ctx, mostLoaded); dec != DecisionYes {
		return false
	}
	for _, c := range rn.Nodes[mostLoaded] {
		if c.State != clustertypes.Started {
			continue
		}
		if dec, _ := a.Deciders.CanAllocate(ctx, c, leastLoaded); dec != DecisionYes {
			continue
		}
		rn.Relocate(c, leastLoaded, mintAllocationID())
		return true
	}
	return false
}

// selectRelocationTarget picks the least-loaded data node other than
// exclude that the deciders will accept shard onto.
func (a *BalancedShardsAllocator) selectRelocationTarget(ctx *AllocationContext, rn *routing.RoutingNodes, shard clustertypes.ShardRouting, exclude clustertypes.NodeId) (clustertypes.NodeId, bool) {
	nodes := dataNodeList(ctx)
	sort.Slice(nodes, func(i, j int) bool { return startedCount(rn, nodes[i]) < startedCount(rn, nodes[j]) })
	for _, n := range nodes {
		if n == exclude {
			continue
		}
		if dec, _ := a.Deciders.CanAllocate(ctx, shard, n); dec == DecisionYes {
			return n, true
		}
	}
	return "", false
}

func startedCount(rn *routing.RoutingNodes, node clustertypes.NodeId) int {
	n := 0
	for _, c := range rn.Nodes[node] {
		if c.State == clustertypes.Started {
			n++
		}
	}
	return n
}
