package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clustercoord/core/internal/coreerrors"
	corelog "github.com/clustercoord/core/internal/log"
	"github.com/clustercoord/core/internal/metrics"
	"github.com/clustercoord/core/internal/transport"

	"github.com/clustercoord/core/internal/clustertypes"
)

// State is a replication operation's position in its state machine.
type State int

const (
	StatePrimaryPending State = iota
	StatePrimaryDone
	StateReplicaFanout
	StatePostReplication
	StateDone
)

// WaitForActiveShards is the caller's requirement on how many copies must
// be STARTED or RELOCATING before an operation may touch the primary.
// WaitForActiveShardsAll means every configured copy; any non-negative
// value is a literal count (0 meaning "don't wait").
type WaitForActiveShards int

const WaitForActiveShardsAll WaitForActiveShards = -1

// Satisfied reports whether activeCount copies being STARTED/RELOCATING
// out of totalConfigured meets this requirement.
func (w WaitForActiveShards) Satisfied(activeCount, totalConfigured int) bool {
	if w == WaitForActiveShardsAll {
		return activeCount >= totalConfigured
	}
	if w <= 0 {
		return true
	}
	return activeCount >= int(w)
}

// ErrUnavailableShards is returned, wrapped as coreerrors.Transient, when
// the active-shard check fails.
var ErrUnavailableShards = errors.New("replication: not enough active shard copies")

// ErrRetryOnPrimary is returned from Run when the primary was demoted
// mid-operation (a replica answered NoLongerPrimary). The primary has
// already self-failed; the caller must retry the whole operation against
// whatever primary the routing table names next. The retry loop
// pattern-matches on this variant rather than inspecting failure lists.
var ErrRetryOnPrimary = errors.New("replication: primary demoted, retry on new primary")

// PrimaryShard is the local primary the operation applies a write to.
type PrimaryShard interface {
	AllocationID() clustertypes.AllocationId
	// Apply performs the write locally and returns the request to fan
	// out to replicas along with the primary's own updated checkpoints.
	Apply(ctx context.Context, payload []byte) (replicaPayload []byte, localCheckpoint, globalCheckpoint int64, err error)
	// MaxSeqNoOfUpdates reports the primary's current max-seq-no-of-updates
	// marker, carried on every replica request so the replica keeps its
	// own version map in sync.
	MaxSeqNoOfUpdates() int64
	// FailShard self-fails the primary, e.g. after a StaleMaster
	// response from the master.
	FailShard(reason string, cause error)
}

// MasterClient is the subset of master-node calls the operation needs for
// stale-copy marking and failure reporting, kept separate from
// transport.NodeTransport since these are master RPCs, not replica RPCs.
type MasterClient interface {
	MarkShardCopyAsStale(ctx context.Context, shardID clustertypes.ShardId, allocationID clustertypes.AllocationId, primaryTerm clustertypes.Term) error
	FailShardIfNeeded(ctx context.Context, shardID clustertypes.ShardId, allocationID clustertypes.AllocationId, primaryTerm clustertypes.Term, reason string, cause error) error
}

// ReplicaFailure records one replica's fanout failure for ShardInfo.
type ReplicaFailure struct {
	NodeID       clustertypes.NodeId
	AllocationID clustertypes.AllocationId
	Reason       string
}

// ShardInfo is the result of one replication operation: how many tracked
// copies acknowledged the write, and details of any that did not.
type ShardInfo struct {
	Total      int
	Successful int
	Failed     int
	Failures   []ReplicaFailure
}

// Operation coordinates one write across a primary and its tracked
// replicas. A new Operation is constructed per write; it is not reused
// across retries at the caller level (the retry loop lives inside Run).
type Operation struct {
	ShardID     clustertypes.ShardId
	PrimaryTerm clustertypes.Term
	Primary     PrimaryShard
	Transport   transport.NodeTransport
	Master      MasterClient

	// RetryTimeout bounds the wall time spent retrying a transient
	// replica failure (settings key indices.replication.retry_timeout).
	RetryTimeout time.Duration

	Logger zerolog.Logger

	mu                     sync.Mutex
	state                  State
	knownLocalCheckpoints  map[clustertypes.AllocationId]int64
	knownGlobalCheckpoints map[clustertypes.AllocationId]int64
	postReplicationOnce    sync.Once
}

// NewOperation builds an Operation ready to Run.
func NewOperation(shardID clustertypes.ShardId, primaryTerm clustertypes.Term, primary PrimaryShard, nt transport.NodeTransport, master MasterClient, retryTimeout time.Duration) *Operation {
	return &Operation{
		ShardID:                shardID,
		PrimaryTerm:            primaryTerm,
		Primary:                primary,
		Transport:              nt,
		Master:                 master,
		RetryTimeout:           retryTimeout,
		Logger:                 corelog.WithComponent("replication"),
		knownLocalCheckpoints:  make(map[clustertypes.AllocationId]int64),
		knownGlobalCheckpoints: make(map[clustertypes.AllocationId]int64),
	}
}

// State returns the operation's current position in the state machine.
func (op *Operation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

func (op *Operation) setState(s State) {
	op.mu.Lock()
	op.state = s
	op.mu.Unlock()
}

// KnownCheckpoints returns a snapshot of the primary's per-replica
// bookkeeping maps: each allocation id's last known local and global
// checkpoint.
func (op *Operation) KnownCheckpoints() (local, global map[clustertypes.AllocationId]int64) {
	op.mu.Lock()
	defer op.mu.Unlock()
	local = make(map[clustertypes.AllocationId]int64, len(op.knownLocalCheckpoints))
	global = make(map[clustertypes.AllocationId]int64, len(op.knownGlobalCheckpoints))
	for k, v := range op.knownLocalCheckpoints {
		local[k] = v
	}
	for k, v := range op.knownGlobalCheckpoints {
		global[k] = v
	}
	return local, global
}

func (op *Operation) updateCheckpoints(allocationID clustertypes.AllocationId, local, global int64) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.knownLocalCheckpoints[allocationID] = local
	op.knownGlobalCheckpoints[allocationID] = global
}

// Run executes the full state machine: active-shard check, primary
// apply, replica fanout with retry, stale-copy marking, and the
// post-replication hook — guaranteed to run exactly once, even across
// retries, only after every replica response is resolved. If a replica
// answers NoLongerPrimary the operation fails with ErrRetryOnPrimary once
// the fanout barrier has drained: the demoted primary must not mark
// copies stale or run its post-replication hook under a superseded term.
func (op *Operation) Run(ctx context.Context, group ReplicationGroup, waitForActiveShards WaitForActiveShards, activeCount int, payload []byte, postReplication func()) (ShardInfo, error) {
	op.setState(StatePrimaryPending)

	totalConfigured := group.ExpectedTotal()
	if !waitForActiveShards.Satisfied(activeCount, totalConfigured) {
		return ShardInfo{}, coreerrors.Transient("unavailable shards", ErrUnavailableShards)
	}

	replicaPayload, localCP, globalCP, err := op.Primary.Apply(ctx, payload)
	if err != nil {
		return ShardInfo{}, err
	}
	op.updateCheckpoints(op.Primary.AllocationID(), localCP, globalCP)
	op.setState(StatePrimaryDone)

	op.setState(StateReplicaFanout)
	timer := metrics.NewTimer()
	failures, staleErr := op.fanOut(ctx, group, replicaPayload, globalCP)
	timer.ObserveDuration(metrics.ReplicationFanoutDuration)
	if staleErr != nil {
		metrics.ReplicationOperationsTotal.WithLabelValues("retry_on_primary").Inc()
		return ShardInfo{}, fmt.Errorf("%w: %w", ErrRetryOnPrimary, staleErr)
	}

	for _, staleID := range group.StaleAllocationIDs {
		if err := op.Master.MarkShardCopyAsStale(ctx, group.ShardID, staleID, op.PrimaryTerm); err != nil {
			op.Logger.Warn().Str("allocation_id", string(staleID)).Err(err).Msg("mark shard copy as stale failed")
			continue
		}
		metrics.StaleCopiesMarkedTotal.Inc()
	}

	op.setState(StatePostReplication)
	op.postReplicationOnce.Do(func() {
		if postReplication != nil {
			postReplication()
		}
	})
	op.setState(StateDone)

	info := ShardInfo{
		Total:      totalConfigured,
		Failed:     len(failures),
		Successful: 1 + (len(group.TrackedReplicas) - len(failures)),
		Failures:   failures,
	}
	outcome := "success"
	if info.Failed > 0 {
		outcome = "partial_failure"
	}
	metrics.ReplicationOperationsTotal.WithLabelValues(outcome).Inc()
	return info, nil
}
