package routing

import (
	"fmt"

	"github.com/clustercoord/core/internal/clustertypes"
)

// IndexRoutingTable is the ordered mapping ShardNumber -> shard table for
// one index. Invariant: every shard number in
// [0, numberOfShards) is present.
type IndexRoutingTable struct {
	IndexUUID clustertypes.IndexUUID
	Shards    map[clustertypes.ShardNumber]*IndexShardRoutingTable
}

// NewIndexRoutingTable returns an empty table for uuid.
func NewIndexRoutingTable(uuid clustertypes.IndexUUID) *IndexRoutingTable {
	return &IndexRoutingTable{IndexUUID: uuid, Shards: make(map[clustertypes.ShardNumber]*IndexShardRoutingTable)}
}

// Shard looks up one shard's table.
func (t *IndexRoutingTable) Shard(n clustertypes.ShardNumber) (*IndexShardRoutingTable, bool) {
	s, ok := t.Shards[n]
	return s, ok
}

// NumberOfShards returns how many shard numbers this table holds.
func (t *IndexRoutingTable) NumberOfShards() int { return len(t.Shards) }

// Clone deep-copies the table.
func (t *IndexRoutingTable) Clone() *IndexRoutingTable {
	c := NewIndexRoutingTable(t.IndexUUID)
	for n, s := range t.Shards {
		c.Shards[n] = s.Clone()
	}
	return c
}

// Validate checks every shard's invariants and that the shard numbers form
// a contiguous [0, n) range with a consistent index uuid.
func (t *IndexRoutingTable) Validate() error {
	for n := clustertypes.ShardNumber(0); n < clustertypes.ShardNumber(len(t.Shards)); n++ {
		s, ok := t.Shards[n]
		if !ok {
			return fmt.Errorf("index %s: missing shard number %d", t.IndexUUID, n)
		}
		if s.ShardID.Index != t.IndexUUID {
			return fmt.Errorf("index %s: shard %d has mismatched index uuid %s", t.IndexUUID, n, s.ShardID.Index)
		}
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
