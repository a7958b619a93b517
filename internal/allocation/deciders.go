// Package allocation implements the routing/allocation engine: a stack of
// pluggable allocation deciders plus the primary/replica/balanced
// allocators that use them to rebuild the routing table on every reroute
// pass.
//
// Follows a periodically-re-evaluate-placement-against-the-live-node-set
// shape, generalized into a decider-gated allocator pipeline rather than a
// single least-loaded node picker.
package allocation

import (
	"github.com/clustercoord/core/internal/clusterstate"
	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/metrics"
	"github.com/clustercoord/core/internal/routing"
	"github.com/clustercoord/core/internal/settings"
)

// Decision is a decider's YES/NO/THROTTLE answer.
type Decision int

const (
	DecisionYes Decision = iota
	DecisionThrottle
	DecisionNo
)

func (d Decision) String() string {
	switch d {
	case DecisionYes:
		return "YES"
	case DecisionThrottle:
		return "THROTTLE"
	case DecisionNo:
		return "NO"
	default:
		return "UNKNOWN"
	}
}

// Explanation is one decider's contribution to an aggregate decision,
// retained only when AllocationContext.Debug is set.
type Explanation struct {
	Decider  string
	Decision Decision
	Reason   string
}

// AllocationContext carries everything a decider needs to answer a
// question about one shard/node pair.
type AllocationContext struct {
	State        *clusterstate.ClusterState
	RoutingNodes *routing.RoutingNodes
	DiskUsage    map[clustertypes.NodeId]DiskUsage
	Settings     *settings.Settings
	Debug        bool
}

// DiskUsage is a node's reported disk usage, consumed by
// DiskThresholdDecider.
type DiskUsage struct {
	TotalBytes uint64
	UsedBytes  uint64
}

// Decider answers the three allocation questions: canAllocate, canRemain,
// and canForceAllocatePrimary. Most deciders only care about one or two;
// embed BaseDecider to default the others to an unconditional YES.
type Decider interface {
	Name() string
	CanAllocate(ctx *AllocationContext, shard clustertypes.ShardRouting, node clustertypes.NodeId) (Decision, string)
	CanRemain(ctx *AllocationContext, shard clustertypes.ShardRouting, node clustertypes.NodeId) (Decision, string)
	CanForceAllocatePrimary(ctx *AllocationContext, shard clustertypes.ShardRouting, node clustertypes.NodeId) (Decision, string)
}

// BaseDecider supplies permissive defaults; embed it in a decider that only
// overrides a subset of the three questions.
type BaseDecider struct{}

func (BaseDecider) CanAllocate(*AllocationContext, clustertypes.ShardRouting, clustertypes.NodeId) (Decision, string) {
	return DecisionYes, ""
}

func (BaseDecider) CanRemain(*AllocationContext, clustertypes.ShardRouting, clustertypes.NodeId) (Decision, string) {
	return DecisionYes, ""
}

func (BaseDecider) CanForceAllocatePrimary(*AllocationContext, clustertypes.ShardRouting, clustertypes.NodeId) (Decision, string) {
	return DecisionYes, ""
}

// AllocationDeciders aggregates a stack of deciders with a left-fold rule:
// any NO (outside debug mode) wins outright; otherwise any THROTTLE wins;
// otherwise YES. In debug mode every decider still runs and contributes an
// Explanation, but the aggregate decision is unchanged.
type AllocationDeciders struct {
	deciders []Decider
}

// NewAllocationDeciders builds an aggregate from the given deciders, in
// the order they should be consulted.
func NewAllocationDeciders(deciders ...Decider) *AllocationDeciders {
	return &AllocationDeciders{deciders: deciders}
}

func (a *AllocationDeciders) aggregate(ctx *AllocationContext, ask func(Decider) (Decision, string)) (Decision, []Explanation) {
	overall := DecisionYes
	var explanations []Explanation
	for _, d := range a.deciders {
		dec, reason := ask(d)
		metrics.DeciderDecisionsTotal.WithLabelValues(d.Name(), dec.String()).Inc()
		if ctx.Debug {
			explanations = append(explanations, Explanation{Decider: d.Name(), Decision: dec, Reason: reason})
		}
		switch dec {
		case DecisionNo:
			if !ctx.Debug {
				return DecisionNo, nil
			}
			overall = DecisionNo
		case DecisionThrottle:
			if overall == DecisionYes {
				overall = DecisionThrottle
			}
		}
	}
	return overall, explanations
}

// CanAllocate is the aggregate "can shard be placed on node" decision.
func (a *AllocationDeciders) CanAllocate(ctx *AllocationContext, shard clustertypes.ShardRouting, node clustertypes.NodeId) (Decision, []Explanation) {
	return a.aggregate(ctx, func(d Decider) (Decision, string) { return d.CanAllocate(ctx, shard, node) })
}

// CanRemain is the aggregate "can shard stay on node" decision.
func (a *AllocationDeciders) CanRemain(ctx *AllocationContext, shard clustertypes.ShardRouting, node clustertypes.NodeId) (Decision, []Explanation) {
	return a.aggregate(ctx, func(d Decider) (Decision, string) { return d.CanRemain(ctx, shard, node) })
}

// CanForceAllocatePrimary is the aggregate force-allocate decision, only
// consulted for unassigned primaries that every normal decider has
// rejected.
func (a *AllocationDeciders) CanForceAllocatePrimary(ctx *AllocationContext, shard clustertypes.ShardRouting, node clustertypes.NodeId) (Decision, []Explanation) {
	return a.aggregate(ctx, func(d Decider) (Decision, string) { return d.CanForceAllocatePrimary(ctx, shard, node) })
}
