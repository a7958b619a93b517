package routing

import "github.com/clustercoord/core/internal/clustertypes"

// RoutingNodes is the by-node view of a routing table: every assigned copy
// bucketed under the node it currently occupies, plus the copies that are
// not yet assigned anywhere. The allocation engine operates
// on this view — deciders ask "can this node hold this shard" — and then
// Builder.UpdateNodes folds it back into the per-index routing table.
type RoutingNodes struct {
	Nodes      map[clustertypes.NodeId][]clustertypes.ShardRouting
	Unassigned []clustertypes.ShardRouting
}

// NewRoutingNodes builds the by-node view from a routing table.
func NewRoutingNodes(rt *RoutingTable) *RoutingNodes {
	rn := &RoutingNodes{Nodes: make(map[clustertypes.NodeId][]clustertypes.ShardRouting)}
	for _, idx := range rt.Indices {
		for _, shardTable := range idx.Shards {
			for _, c := range shardTable.Copies {
				if c.State == clustertypes.Unassigned {
					rn.Unassigned = append(rn.Unassigned, c)
					continue
				}
				rn.Nodes[c.CurrentNodeID] = append(rn.Nodes[c.CurrentNodeID], c)
			}
		}
	}
	return rn
}

// NodeCopies returns the copies currently assigned to node.
func (rn *RoutingNodes) NodeCopies(node clustertypes.NodeId) []clustertypes.ShardRouting {
	return rn.Nodes[node]
}

// RecoveringCount returns the number of copies on node in the given state
// (used by ThrottlingAllocationDecider for incoming/outgoing recovery
// counts).
func (rn *RoutingNodes) RecoveringCount(node clustertypes.NodeId, state clustertypes.ShardRoutingState) int {
	n := 0
	for _, c := range rn.Nodes[node] {
		if c.State == state {
			n++
		}
	}
	return n
}

// Initialize moves shard (found in Unassigned) onto node as an INITIALIZING
// copy. It is the allocator's primitive for "assign this unassigned copy
// here".
func (rn *RoutingNodes) Initialize(shard clustertypes.ShardRouting, node clustertypes.NodeId, allocationID clustertypes.AllocationId) {
	rn.removeUnassigned(shard)
	shard.CurrentNodeID = node
	shard.AllocationID = allocationID
	shard.State = clustertypes.Initializing
	shard.UnassignedInfo = nil
	rn.Nodes[node] = append(rn.Nodes[node], shard)
}

func (rn *RoutingNodes) removeUnassigned(shard clustertypes.ShardRouting) {
	for i, u := range rn.Unassigned {
		if u.ShardID == shard.ShardID && u.AllocationID == shard.AllocationID {
			rn.Unassigned = append(rn.Unassigned[:i], rn.Unassigned[i+1:]...)
			return
		}
	}
}

// Relocate moves a started copy from its current node onto target,
// producing the INITIALIZING target-side entry and marking the source
// RELOCATING.
func (rn *RoutingNodes) Relocate(shard clustertypes.ShardRouting, target clustertypes.NodeId, targetAllocationID clustertypes.AllocationId) {
	from := shard.CurrentNodeID
	copies := rn.Nodes[from]
	for i, c := range copies {
		if c.ShardID == shard.ShardID && c.AllocationID == shard.AllocationID {
			copies[i].State = clustertypes.Relocating
			copies[i].RelocatingNodeID = target
			break
		}
	}
	rn.Nodes[from] = copies

	targetCopy := shard
	targetCopy.State = clustertypes.Initializing
	targetCopy.CurrentNodeID = target
	targetCopy.RelocatingNodeID = from
	targetCopy.AllocationID = targetAllocationID
	targetCopy.UnassignedInfo = nil
	rn.Nodes[target] = append(rn.Nodes[target], targetCopy)
}

// StartInitializing transitions the INITIALIZING copy on node to STARTED,
// and if it was a relocation target, removes the now-superseded source
// copy from the origin node.
func (rn *RoutingNodes) StartInitializing(shard clustertypes.ShardRouting) {
	copies := rn.Nodes[shard.CurrentNodeID]
	for i, c := range copies {
		if c.ShardID == shard.ShardID && c.AllocationID == shard.AllocationID {
			copies[i].State = clustertypes.Started
			sourceNode := copies[i].RelocatingNodeID
			copies[i].RelocatingNodeID = ""
			if sourceNode != "" {
				rn.removeCopy(sourceNode, shard.ShardID, func(c clustertypes.ShardRouting) bool {
					return c.RelocatingNodeID == shard.CurrentNodeID
				})
			}
			break
		}
	}
	rn.Nodes[shard.CurrentNodeID] = copies
}

func (rn *RoutingNodes) removeCopy(node clustertypes.NodeId, shardID clustertypes.ShardId, match func(clustertypes.ShardRouting) bool) {
	copies := rn.Nodes[node]
	for i, c := range copies {
		if c.ShardID == shardID && match(c) {
			rn.Nodes[node] = append(copies[:i], copies[i+1:]...)
			return
		}
	}
}

// Unassign moves shard off of its current node (or out of Unassigned) back
// to Unassigned with the given reason, e.g. when a node leaves the
// cluster or a copy is found stale.
func (rn *RoutingNodes) Unassign(shard clustertypes.ShardRouting, reason clustertypes.UnassignedReason, message string) {
	if shard.CurrentNodeID != "" {
		rn.removeCopy(shard.CurrentNodeID, shard.ShardID, func(c clustertypes.ShardRouting) bool {
			return c.AllocationID == shard.AllocationID
		})
	} else {
		rn.removeUnassigned(shard)
	}
	shard.CurrentNodeID = ""
	shard.RelocatingNodeID = ""
	shard.AllocationID = ""
	shard.State = clustertypes.Unassigned
	shard.UnassignedInfo = &clustertypes.UnassignedInfo{Reason: reason, Message: message}
	rn.Unassigned = append(rn.Unassigned, shard)
}

// AllCopies returns every copy across nodes and the unassigned bucket.
func (rn *RoutingNodes) AllCopies() []clustertypes.ShardRouting {
	var out []clustertypes.ShardRouting
	for _, copies := range rn.Nodes {
		out = append(out, copies...)
	}
	out = append(out, rn.Unassigned...)
	return out
}
