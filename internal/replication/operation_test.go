package replication

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/coreerrors"
	"github.com/clustercoord/core/internal/routing"
	"github.com/clustercoord/core/internal/transport"
)

type fakePrimary struct {
	allocationID clustertypes.AllocationId
	localCP      int64
	globalCP     int64
	failed       atomic.Bool
	failReason   string
}

func (p *fakePrimary) AllocationID() clustertypes.AllocationId { return p.allocationID }
func (p *fakePrimary) Apply(context.Context, []byte) ([]byte, int64, int64, error) {
	return []byte("replica-payload"), p.localCP, p.globalCP, nil
}
func (p *fakePrimary) MaxSeqNoOfUpdates() int64 { return 0 }
func (p *fakePrimary) FailShard(reason string, cause error) {
	p.failed.Store(true)
	p.failReason = reason
}

type replicaScript func(attempt int) (transport.ReplicaResponse, error)

type scriptedTransport struct {
	scripts map[clustertypes.NodeId]replicaScript
	attempt map[clustertypes.NodeId]*int
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{scripts: make(map[clustertypes.NodeId]replicaScript), attempt: make(map[clustertypes.NodeId]*int)}
}

func (s *scriptedTransport) on(node clustertypes.NodeId, script replicaScript) {
	s.scripts[node] = script
	n := 0
	s.attempt[node] = &n
}

func (s *scriptedTransport) FetchShardState(context.Context, clustertypes.NodeId, transport.ShardStateRequest) (transport.ShardStateResponse, error) {
	return transport.ShardStateResponse{}, nil
}

func (s *scriptedTransport) PerformOnReplica(_ context.Context, node clustertypes.NodeId, _ transport.ReplicaRequest) (transport.ReplicaResponse, error) {
	script, ok := s.scripts[node]
	if !ok {
		return transport.ReplicaResponse{}, nil
	}
	counter := s.attempt[node]
	*counter++
	return script(*counter)
}

var _ transport.NodeTransport = (*scriptedTransport)(nil)

type fakeMaster struct {
	staleMarked []clustertypes.AllocationId
	failed      []clustertypes.AllocationId
}

func (m *fakeMaster) MarkShardCopyAsStale(_ context.Context, _ clustertypes.ShardId, allocationID clustertypes.AllocationId, _ clustertypes.Term) error {
	m.staleMarked = append(m.staleMarked, allocationID)
	return nil
}

func (m *fakeMaster) FailShardIfNeeded(_ context.Context, _ clustertypes.ShardId, allocationID clustertypes.AllocationId, _ clustertypes.Term, _ string, _ error) error {
	m.failed = append(m.failed, allocationID)
	return nil
}

func twoReplicaGroup(shardID clustertypes.ShardId) ReplicationGroup {
	primary := clustertypes.ShardRouting{ShardID: shardID, Primary: true, State: clustertypes.Started, CurrentNodeID: "node0", AllocationID: "primary-a"}
	r1 := clustertypes.ShardRouting{ShardID: shardID, State: clustertypes.Started, CurrentNodeID: "node1", AllocationID: "replica-1"}
	r2 := clustertypes.ShardRouting{ShardID: shardID, State: clustertypes.Started, CurrentNodeID: "node2", AllocationID: "replica-2"}
	table := &routing.IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{primary, r1, r2}}
	meta := &clustertypes.IndexMetadata{
		IndexUUID:           shardID.Index,
		InSyncAllocationIds: map[clustertypes.ShardNumber]map[clustertypes.AllocationId]struct{}{shardID.Shard: {"primary-a": {}, "replica-1": {}, "replica-2": {}}},
	}
	group, ok := ComputeReplicationGroup(table, meta)
	if !ok {
		panic("test fixture: no primary")
	}
	return group
}

// TestReplicationSuccessPath: a primary with two tracked replicas, both
// answering ok.
func TestReplicationSuccessPath(t *testing.T) {
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	group := twoReplicaGroup(shardID)

	nt := newScriptedTransport()
	nt.on("node1", func(int) (transport.ReplicaResponse, error) {
		return transport.ReplicaResponse{LocalCheckpoint: 10, GlobalCheckpoint: 10}, nil
	})
	nt.on("node2", func(int) (transport.ReplicaResponse, error) {
		return transport.ReplicaResponse{LocalCheckpoint: 10, GlobalCheckpoint: 10}, nil
	})

	primary := &fakePrimary{allocationID: "primary-a", localCP: 10, globalCP: 10}
	master := &fakeMaster{}
	op := NewOperation(shardID, 1, primary, nt, master, time.Second)

	postCalls := 0
	info, err := op.Run(context.Background(), group, WaitForActiveShardsAll, 3, []byte("write"), func() { postCalls++ })
	require.NoError(t, err)
	require.Equal(t, ShardInfo{Total: 3, Successful: 3, Failed: 0}, info)
	require.Equal(t, 1, postCalls)
	require.Equal(t, StateDone, op.State())

	local, global := op.KnownCheckpoints()
	require.Equal(t, int64(10), local["replica-1"])
	require.Equal(t, int64(10), global["replica-2"])
}

// TestReplicationTransientRetrySucceeds: one replica replies with a
// transient error once, then succeeds.
func TestReplicationTransientRetrySucceeds(t *testing.T) {
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	group := twoReplicaGroup(shardID)

	nt := newScriptedTransport()
	nt.on("node1", func(attempt int) (transport.ReplicaResponse, error) {
		if attempt == 1 {
			return transport.ReplicaResponse{}, &transport.RemoteError{Kind: transport.RemoteErrorTransient, Msg: "circuit breaking"}
		}
		return transport.ReplicaResponse{LocalCheckpoint: 11, GlobalCheckpoint: 11}, nil
	})
	nt.on("node2", func(int) (transport.ReplicaResponse, error) {
		return transport.ReplicaResponse{LocalCheckpoint: 11, GlobalCheckpoint: 11}, nil
	})

	primary := &fakePrimary{allocationID: "primary-a", localCP: 11, globalCP: 11}
	master := &fakeMaster{}
	op := NewOperation(shardID, 1, primary, nt, master, 5*time.Second)

	postCalls := 0
	info, err := op.Run(context.Background(), group, WaitForActiveShardsAll, 3, []byte("write"), func() { postCalls++ })
	require.NoError(t, err)
	require.Equal(t, 0, info.Failed)
	require.Equal(t, 3, info.Successful)
	require.Equal(t, 1, postCalls, "post-replication must run exactly once even after a retry")
	require.False(t, primary.failed.Load())
}

// TestReplicationUnavailableShardsBlocksPrimary proves the active-shard
// check runs before the primary is ever touched.
func TestReplicationUnavailableShardsBlocksPrimary(t *testing.T) {
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	group := twoReplicaGroup(shardID)

	primary := &fakePrimary{allocationID: "primary-a"}
	op := NewOperation(shardID, 1, primary, newScriptedTransport(), &fakeMaster{}, time.Second)

	_, err := op.Run(context.Background(), group, WaitForActiveShardsAll, 1, []byte("write"), nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnavailableShards)
	require.Equal(t, StatePrimaryPending, op.State())
}

// TestReplicationNoLongerPrimaryFailsPrimaryAndRetries proves a
// NoLongerPrimary response self-fails the primary and fails the whole
// operation with ErrRetryOnPrimary — the demoted primary must not run its
// post-replication hook or report the write as replicated.
func TestReplicationNoLongerPrimaryFailsPrimaryAndRetries(t *testing.T) {
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	group := twoReplicaGroup(shardID)

	nt := newScriptedTransport()
	nt.on("node1", func(int) (transport.ReplicaResponse, error) {
		return transport.ReplicaResponse{}, &transport.RemoteError{Kind: transport.RemoteErrorNoLongerPrimary, Msg: "superseded"}
	})
	nt.on("node2", func(int) (transport.ReplicaResponse, error) { return transport.ReplicaResponse{}, nil })

	primary := &fakePrimary{allocationID: "primary-a"}
	op := NewOperation(shardID, 1, primary, nt, &fakeMaster{}, time.Second)

	postCalls := 0
	_, err := op.Run(context.Background(), group, WaitForActiveShardsAll, 3, []byte("write"), func() { postCalls++ })
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRetryOnPrimary)
	require.True(t, coreerrors.Is(err, coreerrors.KindStaleMaster))
	require.True(t, primary.failed.Load())
	require.Equal(t, 0, postCalls, "a demoted primary must not run post-replication actions")
}

func TestComputeReplicationGroupSeparatesStaleIDs(t *testing.T) {
	shardID := clustertypes.ShardId{Index: "idx1", Shard: 0}
	primary := clustertypes.ShardRouting{ShardID: shardID, Primary: true, State: clustertypes.Started, CurrentNodeID: "node0", AllocationID: "primary-a"}
	replica := clustertypes.ShardRouting{ShardID: shardID, State: clustertypes.Started, CurrentNodeID: "node1", AllocationID: "replica-1"}
	table := &routing.IndexShardRoutingTable{ShardID: shardID, Copies: []clustertypes.ShardRouting{primary, replica}}
	meta := &clustertypes.IndexMetadata{
		IndexUUID: shardID.Index,
		InSyncAllocationIds: map[clustertypes.ShardNumber]map[clustertypes.AllocationId]struct{}{
			shardID.Shard: {"primary-a": {}, "replica-1": {}, "stale-copy": {}},
		},
	}
	group, ok := ComputeReplicationGroup(table, meta)
	require.True(t, ok)
	require.Equal(t, []clustertypes.AllocationId{"stale-copy"}, group.StaleAllocationIDs)
	require.Equal(t, 2, group.ExpectedTotal())
}
