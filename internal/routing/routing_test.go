package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clustercoord/core/internal/clustertypes"
)

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

func TestAddAsNewProducesUnassignedCopies(t *testing.T) {
	b := NewBuilder(nil)
	meta := newTestMeta("idx1", 2, 1)
	require.NoError(t, b.AddAsNew(meta))

	rt, err := b.Build()
	require.NoError(t, err)
	require.Len(t, rt.Indices, 1)

	shard0, ok := rt.Shard("idx1", 0)
	require.True(t, ok)
	require.Len(t, shard0.Copies, 2) // 1 primary + 1 replica
	require.True(t, shard0.AllUnassigned())
}

func TestBuilderSingleUse(t *testing.T) {
	b := NewBuilder(nil)
	meta := newTestMeta("idx1", 1, 0)
	require.NoError(t, b.AddAsNew(meta))
	_, err := b.Build()
	require.NoError(t, err)

	err = b.AddAsNew(meta)
	require.Error(t, err)
}

func TestUpdateNumberOfReplicasAddsAndRemoves(t *testing.T) {
	b := NewBuilder(nil)
	meta := newTestMeta("idx1", 1, 1)
	require.NoError(t, b.AddAsNew(meta))
	rt, err := b.Build()
	require.NoError(t, err)

	b2 := NewBuilder(rt)
	require.NoError(t, b2.UpdateNumberOfReplicas(3, []clustertypes.IndexUUID{"idx1"}))
	rt2, err := b2.Build()
	require.NoError(t, err)
	shard0, _ := rt2.Shard("idx1", 0)
	require.Len(t, shard0.Copies, 4) // 1 primary + 3 replicas

	b3 := NewBuilder(rt2)
	require.NoError(t, b3.UpdateNumberOfReplicas(1, []clustertypes.IndexUUID{"idx1"}))
	rt3, err := b3.Build()
	require.NoError(t, err)
	shard0b, _ := rt3.Shard("idx1", 0)
	require.Len(t, shard0b.Copies, 2)
}

func TestUpdateNumberOfReplicasNoopWhenUnchanged(t *testing.T) {
	b := NewBuilder(nil)
	meta := newTestMeta("idx1", 1, 2)
	require.NoError(t, b.AddAsNew(meta))
	rt, err := b.Build()
	require.NoError(t, err)

	b2 := NewBuilder(rt)
	require.NoError(t, b2.UpdateNumberOfReplicas(2, nil))
	rt2, err := b2.Build()
	require.NoError(t, err)

	shardBefore, _ := rt.Shard("idx1", 0)
	shardAfter, _ := rt2.Shard("idx1", 0)
	require.Equal(t, len(shardBefore.Copies), len(shardAfter.Copies))
}

func TestAllShardsIncludesRelocationTarget(t *testing.T) {
	rt := New()
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	source := clustertypes.ShardRouting{
		ShardID: shardID, Primary: true, State: clustertypes.Relocating,
		CurrentNodeID: "nodeA", RelocatingNodeID: "nodeB", AllocationID: "a1",
	}
	target := clustertypes.ShardRouting{
		ShardID: shardID, Primary: true, State: clustertypes.Initializing,
		CurrentNodeID: "nodeB", RelocatingNodeID: "nodeA", AllocationID: "a2",
	}
	idx := NewIndexRoutingTable("idx1")
	idx.Shards[0] = &IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{source, target}}
	rt.Indices["idx1"] = idx

	all := rt.AllShards(nil, PredicateActive, true)
	require.Len(t, all, 2)
}

func TestIndexShardRoutingTableRejectsTwoPrimaries(t *testing.T) {
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	table := &IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{
		{ShardID: shardID, Primary: true, State: clustertypes.Started, CurrentNodeID: "n1", AllocationID: "a1"},
		{ShardID: shardID, Primary: true, State: clustertypes.Started, CurrentNodeID: "n2", AllocationID: "a2"},
	}}
	require.Error(t, table.Validate())
}
