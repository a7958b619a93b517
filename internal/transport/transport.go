// Package transport defines the typed request/response channel the core
// consumes for shard-state fetch and replication, without owning how bytes
// actually move between nodes. internal/shardfetch and internal/replication
// depend only on the NodeTransport interface here; InMemoryTransport is a
// test double standing in for the real wire implementation.
//
// One method per RPC, a context carrying the deadline, a typed request and
// a typed response — a plain interface rather than a generated gRPC stub,
// so this module never needs a .proto toolchain to compile.
package transport

import (
	"context"

	"github.com/clustercoord/core/internal/clustertypes"
)

// ShardStateRequest asks a node for its local view of one shard.
type ShardStateRequest struct {
	ShardID       clustertypes.ShardId
	FetchingRound uint64
}

// ShardStateResponse is a node's local shard-state record.
type ShardStateResponse struct {
	NodeID        clustertypes.NodeId
	FetchingRound uint64
	AllocationID  clustertypes.AllocationId
	Primary       bool

	// StoreException is a fatal store-level failure (corrupt-class): the
	// node's copy must never be considered for allocation.
	StoreException string

	// StoreLockHeld reports that the shard data is present but the node
	// could not obtain the shard directory lock (busy, not broken). The
	// allocation id is still a valid candidate for promotion.
	StoreLockHeld bool

	LocalCheckpoint int64
}

// ReplicaRequest is what the primary sends a tracked replica during
// fanout.
type ReplicaRequest struct {
	ShardID            clustertypes.ShardId
	PrimaryTerm        clustertypes.Term
	GlobalCheckpoint   int64
	MaxSeqNoOfUpdates  int64
	Payload            []byte
	SourceAllocationID clustertypes.AllocationId
	TargetAllocationID clustertypes.AllocationId
}

// ReplicaResponse carries the replica's updated checkpoints back to the
// primary.
type ReplicaResponse struct {
	LocalCheckpoint  int64
	GlobalCheckpoint int64
}

// RemoteErrorKind classifies a transport failure the way the replication
// retry loop needs to distinguish them: transient vs. critical vs.
// master-demoting.
type RemoteErrorKind int

const (
	RemoteErrorUnknown RemoteErrorKind = iota
	// RemoteErrorTransient covers CircuitBreaking / RemoteTransport wrapping
	// a rejected-execution / ConnectTransport — retry with backoff.
	RemoteErrorTransient
	// RemoteErrorCritical covers e.g. CorruptIndex — fail the replica shard.
	RemoteErrorCritical
	// RemoteErrorNoLongerPrimary is the master telling the primary it has
	// been superseded — the primary must self-fail.
	RemoteErrorNoLongerPrimary
	// RemoteErrorNonDemoting covers NodeClosed / SendRequestTransport — the
	// op failed but the primary is not demoted.
	RemoteErrorNonDemoting
)

// RemoteError wraps a transport-layer failure with its classification.
type RemoteError struct {
	Kind RemoteErrorKind
	Msg  string
}

func (e *RemoteError) Error() string { return e.Msg }

// NodeTransport is the typed request/response channel the core consumes.
// A real implementation would carry these over gRPC/HTTP with mTLS; this
// module only ever programs against the interface.
type NodeTransport interface {
	FetchShardState(ctx context.Context, node clustertypes.NodeId, req ShardStateRequest) (ShardStateResponse, error)
	PerformOnReplica(ctx context.Context, node clustertypes.NodeId, req ReplicaRequest) (ReplicaResponse, error)
}
