// Package metrics exposes the Prometheus collectors for the cluster
// coordination core: allocation decisions, replication fanout, shard-fetch
// rounds and on-disk state I/O.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Reroute / allocation

	RerouteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clustercoord_reroute_duration_seconds",
			Help:    "Duration of a single allocation engine reroute pass.",
			Buckets: prometheus.DefBuckets,
		},
	)

	RerouteTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clustercoord_reroute_total",
			Help: "Total number of reroute passes performed.",
		},
	)

	DeciderDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clustercoord_decider_decisions_total",
			Help: "Decisions returned by allocation deciders, by decider and decision.",
		},
		[]string{"decider", "decision"},
	)

	UnassignedShardsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clustercoord_unassigned_shards_total",
			Help: "Unassigned shard copies after the most recent reroute, by primary/replica.",
		},
		[]string{"kind"},
	)

	// Replication

	ReplicationFanoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clustercoord_replication_fanout_duration_seconds",
			Help:    "Duration of the replica fanout phase of a replication operation.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplicationOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clustercoord_replication_operations_total",
			Help: "Completed replication operations, by outcome.",
		},
		[]string{"outcome"},
	)

	ReplicationRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clustercoord_replication_retries_total",
			Help: "Total number of transient-error replica retries.",
		},
	)

	StaleCopiesMarkedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clustercoord_stale_copies_marked_total",
			Help: "Total number of shard copies marked stale.",
		},
	)

	// Shard fetch

	ShardFetchRoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clustercoord_shard_fetch_rounds_total",
			Help: "Total number of shard-fetch rounds issued.",
		},
	)

	ShardFetchStaleResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clustercoord_shard_fetch_stale_responses_total",
			Help: "Responses dropped because they belonged to a stale fetch round.",
		},
	)

	// State format

	StateWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clustercoord_state_write_duration_seconds",
			Help:    "Duration of a full write(state, dirs) call.",
			Buckets: prometheus.DefBuckets,
		},
	)

	StateLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clustercoord_state_load_duration_seconds",
			Help:    "Duration of a loadLatest(dirs) call.",
			Buckets: prometheus.DefBuckets,
		},
	)

	StateDirtyWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clustercoord_state_dirty_writes_total",
			Help: "Writes that left an on-disk dirty (partially renamed) state.",
		},
	)

	// Raft-backed cluster-state applier

	ApplierIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clustercoord_applier_is_leader",
			Help: "Whether this process is the current cluster-state applier (1=leader).",
		},
	)

	ApplierAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clustercoord_applier_applied_index",
			Help: "Last raft log index applied by the cluster-state FSM.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RerouteDuration,
		RerouteTotal,
		DeciderDecisionsTotal,
		UnassignedShardsTotal,
		ReplicationFanoutDuration,
		ReplicationOperationsTotal,
		ReplicationRetriesTotal,
		StaleCopiesMarkedTotal,
		ShardFetchRoundsTotal,
		ShardFetchStaleResponsesTotal,
		StateWriteDuration,
		StateLoadDuration,
		StateDirtyWritesTotal,
		ApplierIsLeader,
		ApplierAppliedIndex,
	)
}

// Timer measures an elapsed duration and reports it to a histogram via
// NewTimer()/ObserveDuration.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration reports the elapsed time since NewTimer to h.
func (t *Timer) ObserveDuration(h prometheus.Histogram) time.Duration {
	d := time.Since(t.start)
	h.Observe(d.Seconds())
	return d
}
