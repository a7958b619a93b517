package allocation

import (
	"fmt"
	"sort"

	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/routing"
)

// ReplicaAllocationOutcome reports what a ReplicaShardAllocator.Allocate
// call did.
type ReplicaAllocationOutcome int

const (
	ReplicaOutcomeInitialized ReplicaAllocationOutcome = iota
	ReplicaOutcomeFetchingShardData
	ReplicaOutcomeDecidersThrottled
	ReplicaOutcomeNoValidDeciders
)

func (o ReplicaAllocationOutcome) String() string {
	switch o {
	case ReplicaOutcomeInitialized:
		return "INITIALIZED"
	case ReplicaOutcomeFetchingShardData:
		return "FETCHING_SHARD_DATA"
	case ReplicaOutcomeDecidersThrottled:
		return "DECIDERS_THROTTLED"
	case ReplicaOutcomeNoValidDeciders:
		return "NO_VALID_DECIDERS"
	default:
		return "UNKNOWN"
	}
}

// ReplicaShardAllocator assigns UNASSIGNED replica copies. It prefers a
// node that already reports an in-sync allocation id for the shard (a
// copy left over from a previous assignment that just needs to resume);
// absent one, it falls back to fresh peer recovery onto any node the
// deciders accept.
type ReplicaShardAllocator struct {
	Deciders *AllocationDeciders
	Fetcher  ShardFetcher
}

// NewReplicaShardAllocator builds an allocator over deciders, fetching
// shard data through fetcher.
func NewReplicaShardAllocator(deciders *AllocationDeciders, fetcher ShardFetcher) *ReplicaShardAllocator {
	return &ReplicaShardAllocator{Deciders: deciders, Fetcher: fetcher}
}

// Allocate attempts to assign shard, an UNASSIGNED replica copy, to a
// node. On ReplicaOutcomeInitialized rn has already been updated via
// RoutingNodes.Initialize; every other outcome leaves rn untouched.
func (a *ReplicaShardAllocator) Allocate(ctx *AllocationContext, rn *routing.RoutingNodes, shard clustertypes.ShardRouting, meta *clustertypes.IndexMetadata) (ReplicaAllocationOutcome, error) {
	if shard.Primary || !shard.IsUnassigned() {
		return ReplicaOutcomeNoValidDeciders, fmt.Errorf("allocation: shard %s is not an unassigned replica", shard.ShardID)
	}

	occupied := occupiedNodes(rn, shard.ShardID)
	nodes := dataNodeList(ctx)
	result := a.Fetcher.FetchData(shard.ShardID, nodes, occupied)
	if !result.HasData {
		return ReplicaOutcomeFetchingShardData, nil
	}

	if node, allocationID, ok := selectReplicaCandidate(meta, shard, result, occupied); ok {
		switch dec, _ := a.Deciders.CanAllocate(ctx, shard, node); dec {
		case DecisionYes:
			rn.Initialize(shard, node, allocationID)
			return ReplicaOutcomeInitialized, nil
		case DecisionThrottle:
			return ReplicaOutcomeDecidersThrottled, nil
		}
	}

	return a.allocateFreshPeer(ctx, rn, shard, nodes, occupied)
}

// selectReplicaCandidate looks for a non-occupied node whose fetch
// response reports an in-sync allocation id, preferring the highest-
// sorting one if several qualify.
func selectReplicaCandidate(meta *clustertypes.IndexMetadata, shard clustertypes.ShardRouting, result ShardFetchResult, occupied map[clustertypes.NodeId]struct{}) (clustertypes.NodeId, clustertypes.AllocationId, bool) {
	type candidate struct {
		node         clustertypes.NodeId
		allocationID clustertypes.AllocationId
	}
	var candidates []candidate
	for node, resp := range result.DataByNode {
		if _, skip := occupied[node]; skip {
			continue
		}
		if resp.StoreException != "" {
			// Corrupt-class failure disqualifies; a held shard lock
			// (StoreLockHeld) is still a resumable copy.
			continue
		}
		if !meta.InSync(shard.ShardID.Shard, resp.AllocationID) {
			continue
		}
		candidates = append(candidates, candidate{node: node, allocationID: resp.AllocationID})
	}
	if len(candidates) == 0 {
		return "", "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].allocationID < candidates[j].allocationID })
	best := candidates[len(candidates)-1]
	return best.node, best.allocationID, true
}

// allocateFreshPeer starts peer recovery onto the first non-occupied data
// node the deciders accept, minting a new allocation id since no existing
// copy is being resumed.
func (a *ReplicaShardAllocator) allocateFreshPeer(ctx *AllocationContext, rn *routing.RoutingNodes, shard clustertypes.ShardRouting, nodes []clustertypes.NodeId, occupied map[clustertypes.NodeId]struct{}) (ReplicaAllocationOutcome, error) {
	candidates := make([]clustertypes.NodeId, 0, len(nodes))
	for _, n := range nodes {
		if _, skip := occupied[n]; !skip {
			candidates = append(candidates, n)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	sawThrottle := false
	for _, node := range candidates {
		switch dec, _ := a.Deciders.CanAllocate(ctx, shard, node); dec {
		case DecisionYes:
			rn.Initialize(shard, node, mintAllocationID())
			return ReplicaOutcomeInitialized, nil
		case DecisionThrottle:
			sawThrottle = true
		}
	}
	if sawThrottle {
		return ReplicaOutcomeDecidersThrottled, nil
	}
	return ReplicaOutcomeNoValidDeciders, nil
}

// occupiedNodes returns the set of nodes already hosting a copy of
// shardID, so a replica is never fetched-from or placed onto a node that
// can't take it anyway (SameShardAllocationDecider would reject it).
func occupiedNodes(rn *routing.RoutingNodes, shardID clustertypes.ShardId) map[clustertypes.NodeId]struct{} {
	occupied := make(map[clustertypes.NodeId]struct{})
	for node, copies := range rn.Nodes {
		for _, c := range copies {
			if c.ShardID == shardID {
				occupied[node] = struct{}{}
				break
			}
		}
	}
	return occupied
}
