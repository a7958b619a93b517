package allocation

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/clustercoord/core/internal/clusterstate"
	"github.com/clustercoord/core/internal/clustertypes"
	corelog "github.com/clustercoord/core/internal/log"
	"github.com/clustercoord/core/internal/metrics"
	"github.com/clustercoord/core/internal/routing"
	"github.com/clustercoord/core/internal/settings"
)

// Engine runs a full reroute pass: primary allocation, then replica
// allocation, then canRemain enforcement, then rebalancing, in that
// order — a replica is never assigned ahead of its shard's primary
// becoming active, and balancing only ever moves already STARTED copies.
type Engine struct {
	Settings *settings.Settings
	Deciders *AllocationDeciders
	Primary  *PrimaryShardAllocator
	Replica  *ReplicaShardAllocator
	Balanced *BalancedShardsAllocator

	logger zerolog.Logger
}

// NewEngine wires the default decider stack
// (same-shard, throttling, disk-threshold) and the three allocators,
// behind whatever fetcher the caller supplies for async shard-data
// fetch.
func NewEngine(st *settings.Settings, fetcher ShardFetcher) *Engine {
	throttling := &ThrottlingAllocationDecider{}
	deciders := NewAllocationDeciders(
		&SameShardAllocationDecider{},
		throttling,
		&DiskThresholdDecider{Settings: st},
	)
	return &Engine{
		Settings: st,
		Deciders: deciders,
		Primary:  NewPrimaryShardAllocator(deciders, fetcher),
		Replica:  NewReplicaShardAllocator(deciders, fetcher),
		Balanced: NewBalancedShardsAllocator(deciders, throttling),
		logger:   corelog.WithComponent("allocator"),
	}
}

// Reroute runs one full allocation pass over state and returns the
// resulting cluster state, with RoutingTable.Version bumped. reason
// exists only so the caller can log/attribute the pass; it does not
// affect the outcome.
func (e *Engine) Reroute(state *clusterstate.ClusterState, diskUsage map[clustertypes.NodeId]DiskUsage, reason string, debug bool) (*clusterstate.ClusterState, error) {
	timer := metrics.NewTimer()
	metrics.RerouteTotal.Inc()

	rn := routing.NewRoutingNodes(state.RoutingTable)
	ctx := &AllocationContext{
		State:        state,
		RoutingNodes: rn,
		DiskUsage:    diskUsage,
		Settings:     e.Settings,
		Debug:        debug,
	}

	pending := append([]clustertypes.ShardRouting(nil), rn.Unassigned...)
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Primary != pending[j].Primary {
			return pending[i].Primary
		}
		return pending[i].ShardID.String() < pending[j].ShardID.String()
	})

	enable := e.Settings.AllocationEnable()
	for _, shard := range pending {
		meta, ok := state.Metadata.Index(shard.ShardID.Index)
		if !ok {
			continue
		}
		if shard.Primary {
			if enable == settings.AllocationEnableNone || enable == settings.AllocationEnableReplicas {
				continue
			}
			if _, err := e.Primary.Allocate(ctx, rn, shard, meta); err != nil {
				return nil, err
			}
			continue
		}
		if enable == settings.AllocationEnableNone || enable == settings.AllocationEnablePrimaries {
			continue
		}
		if !hasActivePrimary(rn, shard.ShardID) {
			continue
		}
		if _, err := e.Replica.Allocate(ctx, rn, shard, meta); err != nil {
			return nil, err
		}
	}

	e.Balanced.EnforceCanRemain(ctx, rn)
	e.Balanced.Rebalance(ctx, rn)

	unassignedPrimaries, unassignedReplicas := 0, 0
	for _, u := range rn.Unassigned {
		if u.Primary {
			unassignedPrimaries++
		} else {
			unassignedReplicas++
		}
	}
	metrics.UnassignedShardsTotal.WithLabelValues("primary").Set(float64(unassignedPrimaries))
	metrics.UnassignedShardsTotal.WithLabelValues("replica").Set(float64(unassignedReplicas))

	builder := routing.NewBuilder(nil)
	if err := builder.UpdateNodes(state.RoutingTable.Version+1, rn); err != nil {
		return nil, err
	}
	newTable, err := builder.Build()
	if err != nil {
		return nil, err
	}

	next := state.Clone()
	next.RoutingTable = newTable

	e.logger.Debug().
		Str("reason", reason).
		Uint64("routing_version", newTable.Version).
		Int("unassigned_primaries", unassignedPrimaries).
		Int("unassigned_replicas", unassignedReplicas).
		Dur("took", timer.ObserveDuration(metrics.RerouteDuration)).
		Msg("reroute pass complete")
	return next, nil
}

func hasActivePrimary(rn *routing.RoutingNodes, shardID clustertypes.ShardId) bool {
	for _, copies := range rn.Nodes {
		for _, c := range copies {
			if c.ShardID == shardID && c.Primary && c.Active() {
				return true
			}
		}
	}
	return false
}
