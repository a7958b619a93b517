// Package routing implements the immutable, diffable routing table:
// per-index, per-shard assignment of copies to nodes, with O(1) expected
// lookups, predicate-based flat iteration, group iteration, and a
// single-use builder for copy-on-write mutation.
package routing

import (
	"fmt"

	"github.com/clustercoord/core/internal/clustertypes"
)

// IndexShardRoutingTable holds every copy of one shard.
// Invariants enforced by Validate: at most one copy is primary among
// {INITIALIZING, STARTED, RELOCATING}; no two copies share an allocation id.
type IndexShardRoutingTable struct {
	ShardID clustertypes.ShardId
	Copies  []clustertypes.ShardRouting
}

// Primary returns the single primary copy in a non-unassigned state, if
// any.
func (t *IndexShardRoutingTable) Primary() (*clustertypes.ShardRouting, bool) {
	for i := range t.Copies {
		c := &t.Copies[i]
		if c.Primary && c.State != clustertypes.Unassigned {
			return c, true
		}
	}
	return nil, false
}

// Replicas returns every non-primary copy.
func (t *IndexShardRoutingTable) Replicas() []clustertypes.ShardRouting {
	var out []clustertypes.ShardRouting
	for _, c := range t.Copies {
		if !c.Primary {
			out = append(out, c)
		}
	}
	return out
}

// ActiveCount returns the number of STARTED + RELOCATING copies, the
// count a replication operation's active-shard check compares against
// waitForActiveShards.
func (t *IndexShardRoutingTable) ActiveCount() int {
	n := 0
	for _, c := range t.Copies {
		if c.Active() {
			n++
		}
	}
	return n
}

// AllUnassigned reports whether every copy is UNASSIGNED.
func (t *IndexShardRoutingTable) AllUnassigned() bool {
	for _, c := range t.Copies {
		if c.State != clustertypes.Unassigned {
			return false
		}
	}
	return true
}

// Clone deep-copies the shard table for copy-on-write mutation.
func (t *IndexShardRoutingTable) Clone() *IndexShardRoutingTable {
	cp := &IndexShardRoutingTable{ShardID: t.ShardID, Copies: make([]clustertypes.ShardRouting, len(t.Copies))}
	copy(cp.Copies, t.Copies)
	for i, c := range t.Copies {
		if c.UnassignedInfo != nil {
			info := *c.UnassignedInfo
			cp.Copies[i].UnassignedInfo = &info
		}
	}
	return cp
}

// Validate checks the per-shard invariants.
func (t *IndexShardRoutingTable) Validate() error {
	primaries := 0
	seenAllocIDs := make(map[clustertypes.AllocationId]struct{}, len(t.Copies))
	for _, c := range t.Copies {
		if err := c.Validate(); err != nil {
			return err
		}
		if c.Primary && c.State != clustertypes.Unassigned {
			primaries++
		}
		if c.AllocationID != "" {
			if _, dup := seenAllocIDs[c.AllocationID]; dup {
				return fmt.Errorf("shard %s: duplicate allocation id %s", t.ShardID, c.AllocationID)
			}
			seenAllocIDs[c.AllocationID] = struct{}{}
		}
	}
	if primaries > 1 {
		return fmt.Errorf("shard %s: %d assigned primaries, want at most 1", t.ShardID, primaries)
	}
	return nil
}
