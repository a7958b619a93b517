// Package clustertypes defines the identifiers and per-shard-copy data
// model: NodeId, IndexUUID, ShardId, AllocationId, Term, and
// ShardRouting together with its invariants. Types here are plain,
// comparable values so they can be used as map keys throughout routing,
// allocation and replication — indexed collections keyed by id rather
// than pointer-heavy graphs.
package clustertypes

import "fmt"

// NodeId is an opaque string, unique for the lifetime of a node process.
type NodeId string

// IndexUUID is an opaque string that is immutable across renames of an
// index (unlike the index name).
type IndexUUID string

// ShardNumber identifies a shard within an index, in [0, numberOfShards).
type ShardNumber int

// AllocationId is an opaque string minted when a shard copy is first
// initialized. A relocation target gets a distinct AllocationId from its
// source.
type AllocationId string

// Term is a per-shard monotonically increasing integer, bumped whenever a
// new primary is elected for that shard.
type Term uint64

// ShardId identifies one shard of one index.
type ShardId struct {
	Index IndexUUID
	Shard ShardNumber
}

func (s ShardId) String() string {
	return fmt.Sprintf("%s[%d]", s.Index, s.Shard)
}
