package replication

import (
	"context"
	"errors"
	"time"

	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/coreerrors"
	"github.com/clustercoord/core/internal/metrics"
	"github.com/clustercoord/core/internal/transport"
)

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

type replicaResult struct {
	replica clustertypes.ShardRouting
	err     error
}

// fanOut calls performOn for every tracked replica concurrently (each is
// an independent network round trip), retrying transient failures with
// bounded backoff up to op.RetryTimeout and classifying the rest by their
// RemoteErrorKind. It returns once every replica has succeeded, exhausted
// its retry budget, or failed non-transiently — the barrier Run needs
// before it may run the post-replication hook. A StaleMaster failure
// (the primary was demoted mid-fanout) is returned separately so Run can
// fail the whole operation instead of treating it as one more replica
// failure; the barrier is still drained first.
func (op *Operation) fanOut(ctx context.Context, group ReplicationGroup, replicaPayload []byte, globalCheckpoint int64) ([]ReplicaFailure, error) {
	results := make(chan replicaResult, len(group.TrackedReplicas))
	for _, replica := range group.TrackedReplicas {
		replica := replica
		go func() {
			results <- replicaResult{replica: replica, err: op.performOnReplicaWithRetry(ctx, group.ShardID, replica, replicaPayload, globalCheckpoint)}
		}()
	}

	var failures []ReplicaFailure
	var staleErr error
	for range group.TrackedReplicas {
		r := <-results
		if r.err == nil {
			continue
		}
		if staleErr == nil && coreerrors.Is(r.err, coreerrors.KindStaleMaster) {
			staleErr = r.err
		}
		failures = append(failures, ReplicaFailure{
			NodeID:       r.replica.CurrentNodeID,
			AllocationID: r.replica.AllocationID,
			Reason:       r.err.Error(),
		})
	}
	return failures, staleErr
}

// performOnReplicaWithRetry calls the replica once, classifies any
// failure, and either retries (transient), self-fails the primary
// (stale master), reports through the master (critical), or returns the
// failure as-is (non-demoting).
func (op *Operation) performOnReplicaWithRetry(ctx context.Context, shardID clustertypes.ShardId, replica clustertypes.ShardRouting, payload []byte, globalCheckpoint int64) error {
	req := transport.ReplicaRequest{
		ShardID:            shardID,
		PrimaryTerm:        op.PrimaryTerm,
		GlobalCheckpoint:   globalCheckpoint,
		MaxSeqNoOfUpdates:  op.Primary.MaxSeqNoOfUpdates(),
		Payload:            payload,
		SourceAllocationID: op.Primary.AllocationID(),
		TargetAllocationID: replica.AllocationID,
	}

	deadline := time.Now().Add(op.RetryTimeout)
	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		resp, err := op.Transport.PerformOnReplica(ctx, replica.CurrentNodeID, req)
		if err == nil {
			op.updateCheckpoints(replica.AllocationID, resp.LocalCheckpoint, resp.GlobalCheckpoint)
			return nil
		}

		var remote *transport.RemoteError
		if !errors.As(err, &remote) {
			return err
		}

		switch remote.Kind {
		case transport.RemoteErrorTransient:
			if op.RetryTimeout <= 0 || time.Now().Add(backoff).After(deadline) {
				return coreerrors.Transient("replica retry budget exhausted", remote)
			}
			metrics.ReplicationRetriesTotal.Inc()
			op.Logger.Warn().Str("node", string(replica.CurrentNodeID)).Int("attempt", attempt).Err(remote).Msg("transient replica failure, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue

		case transport.RemoteErrorNoLongerPrimary:
			op.Primary.FailShard("no longer primary", remote)
			return coreerrors.StaleMaster("primary superseded", remote)

		case transport.RemoteErrorCritical:
			if failErr := op.Master.FailShardIfNeeded(ctx, shardID, replica.AllocationID, op.PrimaryTerm, "critical replica failure", remote); failErr != nil {
				op.Logger.Error().Str("node", string(replica.CurrentNodeID)).Err(failErr).Msg("failShardIfNeeded failed")
			}
			return remote

		default:
			// RemoteErrorNonDemoting and anything unrecognized: the op
			// failed but the primary is not demoted.
			return remote
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	next := d * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
