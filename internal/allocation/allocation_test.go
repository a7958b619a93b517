package allocation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clustercoord/core/internal/clusterstate"
	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/routing"
	"github.com/clustercoord/core/internal/settings"
	"github.com/clustercoord/core/internal/transport"
)

type fakeFetcher struct {
	result ShardFetchResult
}

func (f *fakeFetcher) FetchData(clustertypes.ShardId, []clustertypes.NodeId, map[clustertypes.NodeId]struct{}) ShardFetchResult {
	return f.result
}

func newTestMeta(uuid clustertypes.IndexUUID, shards, replicas int) *clustertypes.IndexMetadata {
	return &clustertypes.IndexMetadata{
		IndexUUID:           uuid,
		IndexName:           string(uuid),
		NumberOfShards:      shards,
		NumberOfReplicas:    replicas,
		State:               clustertypes.IndexOpen,
		PrimaryTerm:         map[clustertypes.ShardNumber]clustertypes.Term{},
		InSyncAllocationIds: map[clustertypes.ShardNumber]map[clustertypes.AllocationId]struct{}{},
	}
}

func newTestState(meta *clustertypes.IndexMetadata, rt *routing.RoutingTable, nodes ...clustertypes.NodeId) *clusterstate.ClusterState {
	cs := clusterstate.New()
	cs.Metadata.Indices[meta.IndexUUID] = meta
	cs.RoutingTable = rt
	for _, n := range nodes {
		cs.Nodes.Nodes[n] = &clustertypes.Node{ID: n, DataRole: true}
	}
	return cs
}

// TestAllocationDecidersAggregateNoWinsOverThrottle proves the fold rule
// outside debug mode: a NO from any decider wins
// outright, even when another decider would have said THROTTLE.
func TestAllocationDecidersAggregateNoWinsOverThrottle(t *testing.T) {
	deciders := NewAllocationDeciders(&stubDecider{name: "a", allocate: DecisionThrottle}, &stubDecider{name: "b", allocate: DecisionNo})
	ctx := &AllocationContext{Settings: settings.New()}
	dec, explanations := deciders.CanAllocate(ctx, clustertypes.ShardRouting{}, "n1")
	require.Equal(t, DecisionNo, dec)
	require.Empty(t, explanations, "explanations are only collected in debug mode")
}

// TestAllocationDecidersDebugModeKeepsRunningAfterNo proves that in debug
// mode every decider still runs and contributes an Explanation, without
// changing the aggregate outcome.
func TestAllocationDecidersDebugModeKeepsRunningAfterNo(t *testing.T) {
	deciders := NewAllocationDeciders(&stubDecider{name: "a", allocate: DecisionNo}, &stubDecider{name: "b", allocate: DecisionThrottle})
	ctx := &AllocationContext{Settings: settings.New(), Debug: true}
	dec, explanations := deciders.CanAllocate(ctx, clustertypes.ShardRouting{}, "n1")
	require.Equal(t, DecisionNo, dec)
	require.Len(t, explanations, 2)
}

type stubDecider struct {
	BaseDecider
	name     string
	allocate Decision
}

func (s *stubDecider) Name() string { return s.name }
func (s *stubDecider) CanAllocate(*AllocationContext, clustertypes.ShardRouting, clustertypes.NodeId) (Decision, string) {
	return s.allocate, "stub"
}

// TestDiskThresholdDeciderBlocksThenAllowsOnLessLoadedNode: node1 sits
// above the low watermark and must be rejected, node2 is well under it
// and must be allowed, and a third node added afterward at 40% used is
// allowed too.
func TestDiskThresholdDeciderBlocksThenAllowsOnLessLoadedNode(t *testing.T) {
	st := settings.New()
	decider := &DiskThresholdDecider{Settings: st}
	shard := clustertypes.ShardRouting{ShardID: clustertypes.ShardId{Index: "idx1", Shard: 0}}

	ctx := &AllocationContext{
		Settings: st,
		DiskUsage: map[clustertypes.NodeId]DiskUsage{
			"node1": {TotalBytes: 100, UsedBytes: 90},
			"node2": {TotalBytes: 100, UsedBytes: 50},
			"node3": {TotalBytes: 100, UsedBytes: 40},
		},
	}

	dec, _ := decider.CanAllocate(ctx, shard, "node1")
	require.Equal(t, DecisionNo, dec)

	dec, _ = decider.CanAllocate(ctx, shard, "node2")
	require.Equal(t, DecisionYes, dec)

	dec, _ = decider.CanAllocate(ctx, shard, "node3")
	require.Equal(t, DecisionYes, dec)
}

// TestDiskThresholdDeciderCanRemainUsesHighWatermark proves canRemain is
// gated by the (looser) high watermark rather than the low one: a node at
// 88% used may still hold a shard it already has, even though it could not
// accept a new one.
func TestDiskThresholdDeciderCanRemainUsesHighWatermark(t *testing.T) {
	st := settings.New()
	decider := &DiskThresholdDecider{Settings: st}
	shard := clustertypes.ShardRouting{ShardID: clustertypes.ShardId{Index: "idx1", Shard: 0}, CurrentNodeID: "node1", State: clustertypes.Started}

	ctx := &AllocationContext{
		Settings:     st,
		RoutingNodes: &routing.RoutingNodes{Nodes: map[clustertypes.NodeId][]clustertypes.ShardRouting{"node1": {shard}}},
		DiskUsage: map[clustertypes.NodeId]DiskUsage{
			"node1": {TotalBytes: 100, UsedBytes: 88},
		},
	}

	allocateDec, _ := decider.CanAllocate(ctx, shard, "node1")
	require.Equal(t, DecisionNo, allocateDec, "88%% exceeds the 85%% low watermark")

	remainDec, _ := decider.CanRemain(ctx, shard, "node1")
	require.Equal(t, DecisionYes, remainDec, "88%% is still under the 90%% high watermark")
}

func TestPrimaryShardAllocatorLeavesUnassignedWhenNoInSyncIds(t *testing.T) {
	meta := newTestMeta("idx1", 1, 0)
	b := routing.NewBuilder(nil)
	require.NoError(t, b.AddAsNew(meta))
	rt, err := b.Build()
	require.NoError(t, err)

	state := newTestState(meta, rt, "node1")
	rn := routing.NewRoutingNodes(rt)
	shard := rn.Unassigned[0]

	allocator := NewPrimaryShardAllocator(NewAllocationDeciders(), &fakeFetcher{})
	ctx := &AllocationContext{State: state, RoutingNodes: rn, Settings: settings.New()}
	outcome, err := allocator.Allocate(ctx, rn, shard, meta)
	require.NoError(t, err)
	require.Equal(t, OutcomeLeaveUnassigned, outcome)
}

func TestPrimaryShardAllocatorInitializesFromInSyncCandidate(t *testing.T) {
	meta := newTestMeta("idx1", 1, 0)
	meta.InSyncAllocationIds[0] = map[clustertypes.AllocationId]struct{}{"alloc-a": {}}

	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	shard := clustertypes.ShardRouting{
		ShardID: shardID, Primary: true, State: clustertypes.Unassigned,
		RecoverySource: clustertypes.RecoverySource{Type: clustertypes.RecoveryExistingStore},
		UnassignedInfo: &clustertypes.UnassignedInfo{Reason: clustertypes.ReasonClusterRecovered},
	}
	rt := routing.New()
	idx := routing.NewIndexRoutingTable("idx1")
	idx.Shards[0] = &routing.IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{shard}}
	rt.Indices["idx1"] = idx

	state := newTestState(meta, rt, "node1", "node2")
	rn := routing.NewRoutingNodes(rt)

	fetcher := &fakeFetcher{result: ShardFetchResult{
		HasData: true,
		DataByNode: map[clustertypes.NodeId]transport.ShardStateResponse{
			"node1": {NodeID: "node1", AllocationID: "alloc-a", Primary: true},
			"node2": {NodeID: "node2", AllocationID: "alloc-stale", Primary: false},
		},
	}}

	allocator := NewPrimaryShardAllocator(NewAllocationDeciders(&SameShardAllocationDecider{}), fetcher)
	ctx := &AllocationContext{State: state, RoutingNodes: rn, Settings: settings.New()}
	outcome, err := allocator.Allocate(ctx, rn, rn.Unassigned[0], meta)
	require.NoError(t, err)
	require.Equal(t, OutcomeInitialized, outcome)
	require.Len(t, rn.Nodes["node1"], 1)
	require.Equal(t, clustertypes.AllocationId("alloc-a"), rn.Nodes["node1"][0].AllocationID)
}

// TestPrimaryShardAllocatorConsidersLockHeldCopy: a node that could not
// obtain the shard directory lock still holds the data, so its in-sync
// allocation id must stay eligible for primary promotion — unlike a
// corrupt-class store failure, which disqualifies the node.
func TestPrimaryShardAllocatorConsidersLockHeldCopy(t *testing.T) {
	meta := newTestMeta("idx1", 1, 0)
	meta.InSyncAllocationIds[0] = map[clustertypes.AllocationId]struct{}{"alloc-a": {}}

	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	shard := clustertypes.ShardRouting{
		ShardID: shardID, Primary: true, State: clustertypes.Unassigned,
		RecoverySource: clustertypes.RecoverySource{Type: clustertypes.RecoveryExistingStore},
		UnassignedInfo: &clustertypes.UnassignedInfo{Reason: clustertypes.ReasonClusterRecovered},
	}
	rt := routing.New()
	idx := routing.NewIndexRoutingTable("idx1")
	idx.Shards[0] = &routing.IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{shard}}
	rt.Indices["idx1"] = idx

	state := newTestState(meta, rt, "node1")
	rn := routing.NewRoutingNodes(rt)

	fetcher := &fakeFetcher{result: ShardFetchResult{
		HasData: true,
		DataByNode: map[clustertypes.NodeId]transport.ShardStateResponse{
			"node1": {NodeID: "node1", AllocationID: "alloc-a", Primary: true, StoreLockHeld: true},
		},
	}}

	allocator := NewPrimaryShardAllocator(NewAllocationDeciders(&SameShardAllocationDecider{}), fetcher)
	ctx := &AllocationContext{State: state, RoutingNodes: rn, Settings: settings.New()}
	outcome, err := allocator.Allocate(ctx, rn, rn.Unassigned[0], meta)
	require.NoError(t, err)
	require.Equal(t, OutcomeInitialized, outcome)
	require.Equal(t, clustertypes.AllocationId("alloc-a"), rn.Nodes["node1"][0].AllocationID)
}

func TestPrimaryShardAllocatorDisqualifiesCorruptStore(t *testing.T) {
	meta := newTestMeta("idx1", 1, 0)
	meta.InSyncAllocationIds[0] = map[clustertypes.AllocationId]struct{}{"alloc-a": {}}

	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	shard := clustertypes.ShardRouting{
		ShardID: shardID, Primary: true, State: clustertypes.Unassigned,
		RecoverySource: clustertypes.RecoverySource{Type: clustertypes.RecoveryExistingStore},
		UnassignedInfo: &clustertypes.UnassignedInfo{Reason: clustertypes.ReasonClusterRecovered},
	}
	rt := routing.New()
	idx := routing.NewIndexRoutingTable("idx1")
	idx.Shards[0] = &routing.IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{shard}}
	rt.Indices["idx1"] = idx

	state := newTestState(meta, rt, "node1")
	rn := routing.NewRoutingNodes(rt)

	fetcher := &fakeFetcher{result: ShardFetchResult{
		HasData: true,
		DataByNode: map[clustertypes.NodeId]transport.ShardStateResponse{
			"node1": {NodeID: "node1", AllocationID: "alloc-a", Primary: true, StoreException: "corrupt index"},
		},
	}}

	allocator := NewPrimaryShardAllocator(NewAllocationDeciders(&SameShardAllocationDecider{}), fetcher)
	ctx := &AllocationContext{State: state, RoutingNodes: rn, Settings: settings.New()}
	outcome, err := allocator.Allocate(ctx, rn, rn.Unassigned[0], meta)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoValidShardCopy, outcome)
	require.Len(t, rn.Unassigned, 1)
}

// TestPrimaryShardAllocatorRestoresFromSnapshotAcrossAnyDataNode proves the
// forgiving restore path: a SNAPSHOT-sourced primary needs no fetched data
// and no in-sync allocation id, only a data node the deciders accept, and
// gets a freshly minted allocation id rather than one recovered from a
// fetch response.
func TestPrimaryShardAllocatorRestoresFromSnapshotAcrossAnyDataNode(t *testing.T) {
	meta := newTestMeta("idx1", 1, 0)
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	shard := clustertypes.ShardRouting{
		ShardID: shardID, Primary: true, State: clustertypes.Unassigned,
		RecoverySource: clustertypes.RecoverySource{Type: clustertypes.RecoverySnapshot, SnapshotID: "snap1", ExpectedSize: 10},
		UnassignedInfo: &clustertypes.UnassignedInfo{Reason: clustertypes.ReasonIndexCreated},
	}
	rt := routing.New()
	idx := routing.NewIndexRoutingTable("idx1")
	idx.Shards[0] = &routing.IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{shard}}
	rt.Indices["idx1"] = idx

	st := settings.New()
	state := newTestState(meta, rt, "node1")
	rn := routing.NewRoutingNodes(rt)

	disk := map[clustertypes.NodeId]DiskUsage{"node1": {TotalBytes: 100, UsedBytes: 60}}
	ctx := &AllocationContext{State: state, RoutingNodes: rn, Settings: st, DiskUsage: disk}

	allocator := NewPrimaryShardAllocator(NewAllocationDeciders(&DiskThresholdDecider{Settings: st}), &fakeFetcher{})
	outcome, err := allocator.Allocate(ctx, rn, rn.Unassigned[0], meta)
	require.NoError(t, err)
	require.Equal(t, OutcomeInitialized, outcome)
	require.Len(t, rn.Nodes["node1"], 1)
	require.NotEmpty(t, rn.Nodes["node1"][0].AllocationID)
}

// TestPrimaryShardAllocatorRestoreWaitsForSnapshotSize: a SNAPSHOT-sourced
// primary whose size is not yet known is left pending rather than placed
// blind, since the disk threshold decider cannot simulate its usage.
func TestPrimaryShardAllocatorRestoreWaitsForSnapshotSize(t *testing.T) {
	meta := newTestMeta("idx1", 1, 0)
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	shard := clustertypes.ShardRouting{
		ShardID: shardID, Primary: true, State: clustertypes.Unassigned,
		RecoverySource: clustertypes.RecoverySource{Type: clustertypes.RecoverySnapshot, SnapshotID: "snap1"},
		UnassignedInfo: &clustertypes.UnassignedInfo{Reason: clustertypes.ReasonIndexCreated},
	}
	rt := routing.New()
	idx := routing.NewIndexRoutingTable("idx1")
	idx.Shards[0] = &routing.IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{shard}}
	rt.Indices["idx1"] = idx

	state := newTestState(meta, rt, "node1")
	rn := routing.NewRoutingNodes(rt)
	ctx := &AllocationContext{State: state, RoutingNodes: rn, Settings: settings.New()}

	allocator := NewPrimaryShardAllocator(NewAllocationDeciders(), &fakeFetcher{})
	outcome, err := allocator.Allocate(ctx, rn, rn.Unassigned[0], meta)
	require.NoError(t, err)
	require.Equal(t, OutcomeFetchingShardData, outcome)
	require.Len(t, rn.Unassigned, 1)
}

// TestPrimaryShardAllocatorForceAllocatesEmptyStoreAtHighWatermark proves
// the other half of the force-allocate rule: an EMPTY_STORE primary (the
// only kind the high, rather than low, watermark applies to) is forced
// onto a node every normal decider rejected, as long as it clears the
// looser high watermark.
func TestPrimaryShardAllocatorForceAllocatesEmptyStoreAtHighWatermark(t *testing.T) {
	meta := newTestMeta("idx1", 1, 0)
	meta.InSyncAllocationIds[0] = map[clustertypes.AllocationId]struct{}{"alloc-a": {}}
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	shard := clustertypes.ShardRouting{
		ShardID: shardID, Primary: true, State: clustertypes.Unassigned,
		RecoverySource: clustertypes.RecoverySource{Type: clustertypes.RecoveryEmptyStore},
		UnassignedInfo: &clustertypes.UnassignedInfo{Reason: clustertypes.ReasonForcedEmptyStore},
	}
	rt := routing.New()
	idx := routing.NewIndexRoutingTable("idx1")
	idx.Shards[0] = &routing.IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{shard}}
	rt.Indices["idx1"] = idx

	st := settings.New()
	state := newTestState(meta, rt, "node1")
	rn := routing.NewRoutingNodes(rt)

	fetcher := &fakeFetcher{result: ShardFetchResult{
		HasData: true,
		DataByNode: map[clustertypes.NodeId]transport.ShardStateResponse{
			"node1": {NodeID: "node1", AllocationID: "alloc-a", Primary: true},
		},
	}}
	disk := map[clustertypes.NodeId]DiskUsage{"node1": {TotalBytes: 100, UsedBytes: 88}}
	ctx := &AllocationContext{State: state, RoutingNodes: rn, Settings: st, DiskUsage: disk}

	allocator := NewPrimaryShardAllocator(NewAllocationDeciders(&DiskThresholdDecider{Settings: st}), fetcher)
	outcome, err := allocator.Allocate(ctx, rn, rn.Unassigned[0], meta)
	require.NoError(t, err)
	require.Equal(t, OutcomeForceInitialized, outcome, "88%% fails the 85%% low watermark but clears the 90%% high watermark force-allocate uses for EMPTY_STORE")
	require.Len(t, rn.Nodes["node1"], 1)
}

func TestReplicaShardAllocatorPrefersInSyncAllocationID(t *testing.T) {
	meta := newTestMeta("idx1", 1, 1)
	meta.InSyncAllocationIds[0] = map[clustertypes.AllocationId]struct{}{"alloc-primary": {}, "alloc-replica": {}}
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}

	primary := clustertypes.ShardRouting{ShardID: shardID, Primary: true, State: clustertypes.Started, CurrentNodeID: "node1", AllocationID: "alloc-primary"}
	replica := clustertypes.ShardRouting{
		ShardID: shardID, Primary: false, State: clustertypes.Unassigned,
		RecoverySource: clustertypes.RecoverySource{Type: clustertypes.RecoveryPeer},
		UnassignedInfo: &clustertypes.UnassignedInfo{Reason: clustertypes.ReasonReplicaAdded},
	}
	rt := routing.New()
	idx := routing.NewIndexRoutingTable("idx1")
	idx.Shards[0] = &routing.IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{primary, replica}}
	rt.Indices["idx1"] = idx

	state := newTestState(meta, rt, "node1", "node2")
	rn := routing.NewRoutingNodes(rt)

	fetcher := &fakeFetcher{result: ShardFetchResult{
		HasData: true,
		DataByNode: map[clustertypes.NodeId]transport.ShardStateResponse{
			"node2": {NodeID: "node2", AllocationID: "alloc-replica"},
		},
	}}

	allocator := NewReplicaShardAllocator(NewAllocationDeciders(&SameShardAllocationDecider{}), fetcher)
	ctx := &AllocationContext{State: state, RoutingNodes: rn, Settings: settings.New()}
	outcome, err := allocator.Allocate(ctx, rn, replica, meta)
	require.NoError(t, err)
	require.Equal(t, ReplicaOutcomeInitialized, outcome)
	require.Len(t, rn.Nodes["node2"], 1)
	require.Equal(t, clustertypes.AllocationId("alloc-replica"), rn.Nodes["node2"][0].AllocationID)
}

func TestReplicaShardAllocatorFreshPeerRecoveryWhenNoCandidate(t *testing.T) {
	meta := newTestMeta("idx1", 1, 1)
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}

	primary := clustertypes.ShardRouting{ShardID: shardID, Primary: true, State: clustertypes.Started, CurrentNodeID: "node1", AllocationID: "alloc-primary"}
	replica := clustertypes.ShardRouting{
		ShardID: shardID, Primary: false, State: clustertypes.Unassigned,
		RecoverySource: clustertypes.RecoverySource{Type: clustertypes.RecoveryPeer},
		UnassignedInfo: &clustertypes.UnassignedInfo{Reason: clustertypes.ReasonReplicaAdded},
	}
	rt := routing.New()
	idx := routing.NewIndexRoutingTable("idx1")
	idx.Shards[0] = &routing.IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{primary, replica}}
	rt.Indices["idx1"] = idx

	state := newTestState(meta, rt, "node1", "node2")
	rn := routing.NewRoutingNodes(rt)

	fetcher := &fakeFetcher{result: ShardFetchResult{HasData: true, DataByNode: map[clustertypes.NodeId]transport.ShardStateResponse{}}}

	allocator := NewReplicaShardAllocator(NewAllocationDeciders(&SameShardAllocationDecider{}), fetcher)
	ctx := &AllocationContext{State: state, RoutingNodes: rn, Settings: settings.New()}
	outcome, err := allocator.Allocate(ctx, rn, replica, meta)
	require.NoError(t, err)
	require.Equal(t, ReplicaOutcomeInitialized, outcome)
	require.Len(t, rn.Nodes["node2"], 1)
	require.NotEmpty(t, rn.Nodes["node2"][0].AllocationID)
}

// TestBalancedShardsAllocatorRelocatesOffWatermarkBreach: node1 has
// climbed above the high watermark, and the only started copy on it must
// relocate to node2, which is under it.
func TestBalancedShardsAllocatorRelocatesOffWatermarkBreach(t *testing.T) {
	st := settings.New()
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	copy1 := clustertypes.ShardRouting{ShardID: shardID, Primary: true, State: clustertypes.Started, CurrentNodeID: "node1", AllocationID: "alloc-a"}
	rn := &routing.RoutingNodes{Nodes: map[clustertypes.NodeId][]clustertypes.ShardRouting{"node1": {copy1}, "node2": {}}}

	disk := map[clustertypes.NodeId]DiskUsage{
		"node1": {TotalBytes: 100, UsedBytes: 95},
		"node2": {TotalBytes: 100, UsedBytes: 10},
	}
	deciders := NewAllocationDeciders(&SameShardAllocationDecider{}, &DiskThresholdDecider{Settings: st})
	ctx := &AllocationContext{
		State:        newTestState(newTestMeta("idx1", 1, 0), routing.New(), "node1", "node2"),
		RoutingNodes: rn,
		DiskUsage:    disk,
		Settings:     st,
	}

	throttling := &ThrottlingAllocationDecider{}
	balancer := NewBalancedShardsAllocator(deciders, throttling)
	balancer.EnforceCanRemain(ctx, rn)

	require.Len(t, rn.Nodes["node2"], 1)
	require.Equal(t, clustertypes.Initializing, rn.Nodes["node2"][0].State)
	require.Equal(t, clustertypes.Relocating, rn.Nodes["node1"][0].State)
}

func TestEngineRerouteLeavesNewIndexUnassigned(t *testing.T) {
	meta := newTestMeta("idx1", 1, 1)
	meta.InSyncAllocationIds[0] = map[clustertypes.AllocationId]struct{}{}
	b := routing.NewBuilder(nil)
	require.NoError(t, b.AddAsNew(meta))
	rt, err := b.Build()
	require.NoError(t, err)

	state := newTestState(meta, rt, "node1", "node2")
	st := settings.New()
	engine := NewEngine(st, &fakeFetcher{})

	next, err := engine.Reroute(state, nil, "index-created", false)
	require.NoError(t, err)
	require.Equal(t, state.RoutingTable.Version+1, next.RoutingTable.Version)

	shard0, ok := next.RoutingTable.Shard("idx1", 0)
	require.True(t, ok)
	// INDEX_CREATED with no in-sync ids: the primary copy is left
	// unassigned rather than recovered or force-allocated.
	_, hasPrimary := shard0.Primary()
	require.False(t, hasPrimary)
	require.True(t, shard0.AllUnassigned())
}

// TestEngineRerouteHonorsAllocationEnableNone: with
// cluster.routing.allocation.enable=none, a reroute pass must leave every
// unassigned copy untouched no matter what the fetcher reports.
func TestEngineRerouteHonorsAllocationEnableNone(t *testing.T) {
	meta := newTestMeta("idx1", 1, 0)
	meta.InSyncAllocationIds[0] = map[clustertypes.AllocationId]struct{}{"alloc-a": {}}

	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	shard := clustertypes.ShardRouting{
		ShardID: shardID, Primary: true, State: clustertypes.Unassigned,
		RecoverySource: clustertypes.RecoverySource{Type: clustertypes.RecoveryExistingStore},
		UnassignedInfo: &clustertypes.UnassignedInfo{Reason: clustertypes.ReasonClusterRecovered},
	}
	rt := routing.New()
	idx := routing.NewIndexRoutingTable("idx1")
	idx.Shards[0] = &routing.IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{shard}}
	rt.Indices["idx1"] = idx

	state := newTestState(meta, rt, "node1")
	st := settings.New()
	st.Set(settings.KeyAllocationEnable, "none")

	fetcher := &fakeFetcher{result: ShardFetchResult{
		HasData: true,
		DataByNode: map[clustertypes.NodeId]transport.ShardStateResponse{
			"node1": {NodeID: "node1", AllocationID: "alloc-a", Primary: true},
		},
	}}
	engine := NewEngine(st, fetcher)

	next, err := engine.Reroute(state, nil, "enable-none", false)
	require.NoError(t, err)
	shard0, ok := next.RoutingTable.Shard("idx1", 0)
	require.True(t, ok)
	require.True(t, shard0.AllUnassigned())
}
