package allocation

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/routing"
)

// PrimaryAllocationOutcome reports what a PrimaryShardAllocator.Allocate
// call did, or why it did nothing.
type PrimaryAllocationOutcome int

const (
	OutcomeInitialized PrimaryAllocationOutcome = iota
	OutcomeFetchingShardData
	OutcomeNoValidShardCopy
	OutcomeDecidersThrottled
	OutcomeForceInitialized
	OutcomeNoValidDeciders
	OutcomeLeaveUnassigned
)

func (o PrimaryAllocationOutcome) String() string {
	switch o {
	case OutcomeInitialized:
		return "INITIALIZED"
	case OutcomeFetchingShardData:
		return "FETCHING_SHARD_DATA"
	case OutcomeNoValidShardCopy:
		return "NO_VALID_SHARD_COPY"
	case OutcomeDecidersThrottled:
		return "DECIDERS_THROTTLED"
	case OutcomeForceInitialized:
		return "FORCE_INITIALIZED"
	case OutcomeNoValidDeciders:
		return "NO_VALID_DECIDERS"
	case OutcomeLeaveUnassigned:
		return "LEAVE_UNASSIGNED"
	default:
		return "UNKNOWN"
	}
}

// PrimaryShardAllocator assigns UNASSIGNED primary copies to nodes,
// consulting an async shard-data fetch before picking a candidate so a
// stale or missing copy is never preferred over one the master can
// confirm holds the most recent data.
type PrimaryShardAllocator struct {
	Deciders *AllocationDeciders
	Fetcher  ShardFetcher
}

// NewPrimaryShardAllocator builds an allocator over deciders, fetching
// shard data through fetcher.
func NewPrimaryShardAllocator(deciders *AllocationDeciders, fetcher ShardFetcher) *PrimaryShardAllocator {
	return &PrimaryShardAllocator{Deciders: deciders, Fetcher: fetcher}
}

// Allocate attempts to assign shard, an UNASSIGNED primary copy, to a node.
// On OutcomeInitialized or OutcomeForceInitialized, rn has already been
// updated via RoutingNodes.Initialize; every other outcome leaves rn
// untouched.
func (a *PrimaryShardAllocator) Allocate(ctx *AllocationContext, rn *routing.RoutingNodes, shard clustertypes.ShardRouting, meta *clustertypes.IndexMetadata) (PrimaryAllocationOutcome, error) {
	if !shard.Primary || !shard.IsUnassigned() {
		return OutcomeNoValidDeciders, fmt.Errorf("allocation: shard %s is not an unassigned primary", shard.ShardID)
	}

	if shard.RecoverySource.Type == clustertypes.RecoverySnapshot {
		return a.allocateFromSnapshot(ctx, rn, shard)
	}

	inSync := meta.InSyncAllocationIds[shard.ShardID.Shard]
	if len(inSync) == 0 && shard.RecoverySource.Type == clustertypes.RecoveryEmptyStore {
		// INDEX_CREATED with nothing in-sync yet: there is no prior copy
		// to recover from, so leave this for a later forced-empty-store
		// decision rather than fetching or force-allocating now.
		return OutcomeLeaveUnassigned, nil
	}

	result := a.Fetcher.FetchData(shard.ShardID, dataNodeList(ctx), nil)
	if !result.HasData {
		return OutcomeFetchingShardData, nil
	}

	node, allocationID, ok := selectPrimaryCandidate(meta, shard, result)
	if !ok {
		return OutcomeNoValidShardCopy, nil
	}

	dec, _ := a.Deciders.CanAllocate(ctx, shard, node)
	switch dec {
	case DecisionYes:
		rn.Initialize(shard, node, allocationID)
		return OutcomeInitialized, nil
	case DecisionThrottle:
		return OutcomeDecidersThrottled, nil
	default:
		forceDec, _ := a.Deciders.CanForceAllocatePrimary(ctx, shard, node)
		if forceDec == DecisionYes {
			rn.Initialize(shard, node, allocationID)
			return OutcomeForceInitialized, nil
		}
		return OutcomeNoValidDeciders, nil
	}
}

// selectPrimaryCandidate picks one node to recover the primary from,
// among the nodes that reported an in-sync allocation id: the previous
// primary's allocation id if it is among them, else the highest-sorting
// allocation id, a deterministic total order every node reaches
// independently absent any better freshness signal.
func selectPrimaryCandidate(meta *clustertypes.IndexMetadata, shard clustertypes.ShardRouting, result ShardFetchResult) (clustertypes.NodeId, clustertypes.AllocationId, bool) {
	type candidate struct {
		node         clustertypes.NodeId
		allocationID clustertypes.AllocationId
	}
	var candidates []candidate
	for node, resp := range result.DataByNode {
		if resp.StoreException != "" {
			// A corrupt-class store failure disqualifies the node outright.
			// A held shard lock (StoreLockHeld) does not: the data is
			// there, just busy, so its allocation id still counts.
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
	if shard.AllocationID != "" {
		for _, c := range candidates {
			if c.allocationID == shard.AllocationID {
				return c.node, c.allocationID, true
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].allocationID < candidates[j].allocationID })
	best := candidates[len(candidates)-1]
	return best.node, best.allocationID, true
}

// allocateFromSnapshot implements the forgiving restore path: any data
// node will do, a fresh allocation id is minted rather than recovered
// from an existing copy, and the force-allocate decision is consulted once
// every normal decider has said no (for a snapshot source the disk
// threshold decider applies the low watermark there). A restore whose snapshot
// size is still unknown is left pending instead.
func (a *PrimaryShardAllocator) allocateFromSnapshot(ctx *AllocationContext, rn *routing.RoutingNodes, shard clustertypes.ShardRouting) (PrimaryAllocationOutcome, error) {
	if shard.RecoverySource.ExpectedSize == 0 && shard.ExpectedShardSize == 0 {
		// Snapshot size not reported yet: the disk threshold decider
		// cannot simulate post-placement usage, so wait for it.
		return OutcomeFetchingShardData, nil
	}
	nodes := dataNodeList(ctx)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	for _, node := range nodes {
		if dec, _ := a.Deciders.CanAllocate(ctx, shard, node); dec == DecisionYes {
			rn.Initialize(shard, node, mintAllocationID())
			return OutcomeInitialized, nil
		}
	}
	for _, node := range nodes {
		if dec, _ := a.Deciders.CanForceAllocatePrimary(ctx, shard, node); dec == DecisionYes {
			rn.Initialize(shard, node, mintAllocationID())
			return OutcomeForceInitialized, nil
		}
	}
	return OutcomeNoValidDeciders, nil
}

func dataNodeList(ctx *AllocationContext) []clustertypes.NodeId {
	return ctx.State.Nodes.DataNodes()
}

func mintAllocationID() clustertypes.AllocationId {
	return clustertypes.AllocationId(uuid.New().String())
}
