// Package replication implements the per-write replication operation:
// primary apply, replica fanout with bounded retry, stale-copy marking,
// and checkpoint bookkeeping. Each operation is an explicit state machine
// rather than a callback chain, the same style the applier/FSM in this
// module uses.
package replication

import (
	"sort"

	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/routing"
)

// ReplicationGroup is the set of shard copies one replication operation
// fans out to, computed fresh from the routing table and index metadata
// for every operation: the primary, every tracked replica
// (STARTED or INITIALIZING, non-primary), and the in-sync allocation ids
// that no tracked copy currently carries — stale ids, candidates for
// markShardCopyAsStaleIfNeeded.
type ReplicationGroup struct {
	ShardID            clustertypes.ShardId
	Primary            clustertypes.ShardRouting
	TrackedReplicas    []clustertypes.ShardRouting
	UnassignedCount    int
	UntrackedCount     int
	StaleAllocationIDs []clustertypes.AllocationId
}

// ComputeReplicationGroup builds a ReplicationGroup for one shard. It
// returns false if the shard has no assigned primary — an operation
// cannot run against a shard with no primary to accept the write.
func ComputeReplicationGroup(shardTable *routing.IndexShardRoutingTable, meta *clustertypes.IndexMetadata) (ReplicationGroup, bool) {
	primary, ok := shardTable.Primary()
	if !ok {
		return ReplicationGroup{}, false
	}

	group := ReplicationGroup{ShardID: shardTable.ShardID, Primary: *primary}
	tracked := make(map[clustertypes.AllocationId]struct{})

	for _, c := range shardTable.Copies {
		if c.Primary {
			continue
		}
		switch c.State {
		case clustertypes.Started, clustertypes.Initializing:
			group.TrackedReplicas = append(group.TrackedReplicas, c)
			tracked[c.AllocationID] = struct{}{}
		case clustertypes.Unassigned:
			group.UnassignedCount++
		case clustertypes.Relocating:
			// The relocation target is already counted as a tracked
			// INITIALIZING copy; the source itself isn't fanned out to
			// again.
			group.UntrackedCount++
		}
	}
	tracked[primary.AllocationID] = struct{}{}

	shardNum := shardTable.ShardID.Shard
	var stale []clustertypes.AllocationId
	for id := range meta.InSyncAllocationIds[shardNum] {
		if _, ok := tracked[id]; !ok {
			stale = append(stale, id)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	group.StaleAllocationIDs = stale

	return group, true
}

// ExpectedTotal returns 1 + expectedReplicas + unassigned + untracked,
// using the count of tracked replicas as "expectedReplicas": the copies
// this operation actually contacts.
func (g ReplicationGroup) ExpectedTotal() int {
	return 1 + len(g.TrackedReplicas) + g.UnassignedCount + g.UntrackedCount
}
