package routing

import (
	"github.com/clustercoord/core/internal/clustertypes"
)

// RoutingTable is the full cluster routing table: a monotonic version plus
// a mapping IndexUUID -> IndexRoutingTable. It is conceptually
// immutable; mutation happens only through Builder.
type RoutingTable struct {
	Version uint64
	Indices map[clustertypes.IndexUUID]*IndexRoutingTable
}

// New returns an empty routing table at version 0.
func New() *RoutingTable {
	return &RoutingTable{Indices: make(map[clustertypes.IndexUUID]*IndexRoutingTable)}
}

// Index looks up an index's routing table in O(1) expected time.
func (rt *RoutingTable) Index(uuid clustertypes.IndexUUID) (*IndexRoutingTable, bool) {
	idx, ok := rt.Indices[uuid]
	return idx, ok
}

// Shard looks up one shard's routing table in O(1) expected time.
func (rt *RoutingTable) Shard(uuid clustertypes.IndexUUID, n clustertypes.ShardNumber) (*IndexShardRoutingTable, bool) {
	idx, ok := rt.Indices[uuid]
	if !ok {
		return nil, false
	}
	return idx.Shard(n)
}

// Clone deep-copies the routing table, carrying the version forward; a
// Builder bumps Version explicitly when it produces a new table.
func (rt *RoutingTable) Clone() *RoutingTable {
	c := New()
	c.Version = rt.Version
	for uuid, idx := range rt.Indices {
		c.Indices[uuid] = idx.Clone()
	}
	return c
}

// Validate checks every index's invariants.
func (rt *RoutingTable) Validate() error {
	for _, idx := range rt.Indices {
		if err := idx.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Predicate filters ShardRouting copies during flat iteration.
type Predicate func(clustertypes.ShardRouting) bool

// PredicateAll matches every copy.
func PredicateAll(clustertypes.ShardRouting) bool { return true }

// PredicateActive matches STARTED or RELOCATING copies.
func PredicateActive(s clustertypes.ShardRouting) bool { return s.Active() }

// PredicateAssigned matches copies with a current node.
func PredicateAssigned(s clustertypes.ShardRouting) bool { return s.Assigned() }

// PredicatePrimary matches primary copies only.
func PredicatePrimary(s clustertypes.ShardRouting) bool { return s.Primary }

// indicesOrAll returns indices if non-empty, else every index uuid in rt
// (in unspecified map order — callers that need determinism sort the
// result).
func (rt *RoutingTable) indicesOrAll(indices []clustertypes.IndexUUID) []clustertypes.IndexUUID {
	if len(indices) > 0 {
		return indices
	}
	out := make([]clustertypes.IndexUUID, 0, len(rt.Indices))
	for uuid := range rt.Indices {
		out = append(out, uuid)
	}
	return out
}

// AllShards flatly enumerates shard copies across indices matching
// predicate. When includeRelocationTargets is true, a RELOCATING copy
// contributes both itself (the source) and its relocation-target
// INITIALIZING copy.
func (rt *RoutingTable) AllShards(indices []clustertypes.IndexUUID, predicate Predicate, includeRelocationTargets bool) []clustertypes.ShardRouting {
	if predicate == nil {
		predicate = PredicateAll
	}
	var out []clustertypes.ShardRouting
	for _, uuid := range rt.indicesOrAll(indices) {
		idx, ok := rt.Indices[uuid]
		if !ok {
			continue
		}
		for _, shardTable := range idx.Shards {
			for _, sc := range shardTable.Copies {
				if !predicate(sc) {
					continue
				}
				out = append(out, sc)
				if includeRelocationTargets && sc.State == clustertypes.Relocating {
					if target, ok := findRelocationTarget(shardTable, sc); ok {
						out = append(out, target)
					}
				}
			}
		}
	}
	return out
}

func findRelocationTarget(shardTable *IndexShardRoutingTable, source clustertypes.ShardRouting) (clustertypes.ShardRouting, bool) {
	for _, c := range shardTable.Copies {
		if c.IsRelocationTarget() && c.RelocatingNodeID == source.CurrentNodeID && c.Primary == source.Primary {
			return c, true
		}
	}
	return clustertypes.ShardRouting{}, false
}

// ShardGroup is one replication group's representative copies: exactly the
// active copies of a single shard, used by clients that want one entry per
// replication group rather than a flat per-copy list.
type ShardGroup struct {
	ShardID clustertypes.ShardId
	Active  []clustertypes.ShardRouting
}

// AllActiveShardsGrouped returns, per shard, its active copies grouped
// together. If includeEmpty is true, shards with no active
// copies still contribute an empty ShardGroup; otherwise they are skipped.
func (rt *RoutingTable) AllActiveShardsGrouped(indices []clustertypes.IndexUUID, includeEmpty bool) []ShardGroup {
	var out []ShardGroup
	for _, uuid := range rt.indicesOrAll(indices) {
		idx, ok := rt.Indices[uuid]
		if !ok {
			continue
		}
		for _, shardTable := range idx.Shards {
			var active []clustertypes.ShardRouting
			for _, c := range shardTable.Copies {
				if c.Active() {
					active = append(active, c)
				}
			}
			if len(active) == 0 && !includeEmpty {
				continue
			}
			out = append(out, ShardGroup{ShardID: shardTable.ShardID, Active: active})
		}
	}
	return out
}
