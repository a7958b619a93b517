package routing

import (
	"fmt"

	"github.com/clustercoord/core/internal/clustertypes"
)

// Builder mutates a routing table under construction. It is single-use:
// the builder owns a mutable table, Build consumes it and yields a shared
// immutable snapshot, and any further mutation fails with an error.
type Builder struct {
	table *RoutingTable
	built bool
}

// NewBuilder starts a builder from base (cloned so base is left untouched).
// A nil base starts from an empty table.
func NewBuilder(base *RoutingTable) *Builder {
	var t *RoutingTable
	if base == nil {
		t = New()
	} else {
		t = base.Clone()
	}
	return &Builder{table: t}
}

func (b *Builder) checkMutable() error {
	if b.built {
		return fmt.Errorf("routing: builder already built, cannot mutate further")
	}
	return nil
}

func newShardTable(meta *clustertypes.IndexMetadata, n clustertypes.ShardNumber, source clustertypes.RecoverySource, reason clustertypes.UnassignedReason) *IndexShardRoutingTable {
	shardID := clustertypes.ShardId{Index: meta.IndexUUID, Shard: n}
	copies := make([]clustertypes.ShardRouting, 0, 1+meta.NumberOfReplicas)
	copies = append(copies, clustertypes.ShardRouting{
		ShardID:        shardID,
		Primary:        true,
		State:          clustertypes.Unassigned,
		RecoverySource: source,
		UnassignedInfo: &clustertypes.UnassignedInfo{Reason: reason},
	})
	replicaSource := clustertypes.RecoverySource{Type: clustertypes.RecoveryPeer}
	for i := 0; i < meta.NumberOfReplicas; i++ {
		copies = append(copies, clustertypes.ShardRouting{
			ShardID:        shardID,
			Primary:        false,
			State:          clustertypes.Unassigned,
			RecoverySource: replicaSource,
			UnassignedInfo: &clustertypes.UnassignedInfo{Reason: reason},
		})
	}
	return &IndexShardRoutingTable{ShardID: shardID, Copies: copies}
}

func (b *Builder) addIndex(meta *clustertypes.IndexMetadata, source clustertypes.RecoverySource, reason clustertypes.UnassignedReason) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	idxTable := NewIndexRoutingTable(meta.IndexUUID)
	for n := clustertypes.ShardNumber(0); n < clustertypes.ShardNumber(meta.NumberOfShards); n++ {
		idxTable.Shards[n] = newShardTable(meta, n, source, reason)
	}
	b.table.Indices[meta.IndexUUID] = idxTable
	return nil
}

// AddAsNew adds the routing table rows for a newly created OPEN index: every
// shard starts fully unassigned with reason INDEX_CREATED.
func (b *Builder) AddAsNew(meta *clustertypes.IndexMetadata) error {
	return b.addIndex(meta, clustertypes.RecoverySource{Type: clustertypes.RecoveryEmptyStore}, clustertypes.ReasonIndexCreated)
}

// AddAsRecovery adds the routing table rows for an index recovered from an
// existing on-disk store after a full cluster restart.
func (b *Builder) AddAsRecovery(meta *clustertypes.IndexMetadata) error {
	return b.addIndex(meta, clustertypes.RecoverySource{Type: clustertypes.RecoveryExistingStore}, clustertypes.ReasonClusterRecovered)
}

// AddAsFromCloseToOpen reopens a previously closed index, recovering
// primaries from their existing local store.
func (b *Builder) AddAsFromCloseToOpen(meta *clustertypes.IndexMetadata) error {
	return b.addIndex(meta, clustertypes.RecoverySource{Type: clustertypes.RecoveryExistingStore}, clustertypes.ReasonClusterRecovered)
}

// AddAsFromOpenToClose removes an index's shard copies from active routing
// when it transitions to CLOSE. The index must be verified-before-closed
// (all copies flushed and confirmed), so a caller must have set
// IndexMetadata.VerifiedBeforeClose first.
func (b *Builder) AddAsFromOpenToClose(meta *clustertypes.IndexMetadata) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	if !meta.VerifiedBeforeClose {
		return fmt.Errorf("routing: index %s must be verified-before-closed", meta.IndexUUID)
	}
	delete(b.table.Indices, meta.IndexUUID)
	return nil
}

// AddAsRestore adds the routing table rows for an index being restored
// from a snapshot; every primary's recovery source is snapshotRecovery.
func (b *Builder) AddAsRestore(meta *clustertypes.IndexMetadata, snapshotRecovery clustertypes.RecoverySource) error {
	if snapshotRecovery.Type != clustertypes.RecoverySnapshot {
		return fmt.Errorf("routing: AddAsRestore requires a SNAPSHOT recovery source")
	}
	return b.addIndex(meta, snapshotRecovery, clustertypes.ReasonIndexCreated)
}

// UpdateNumberOfReplicas adds or removes replica rows so each named index
// (or every index if indices is empty) has n replicas per shard. Ties
// among removal candidates prefer UNASSIGNED copies before INITIALIZING
// ones. Only UNASSIGNED and INITIALIZING replicas are removed; STARTED and
// RELOCATING replicas are kept, so such a shard can be left with more
// than n replicas.
func (b *Builder) UpdateNumberOfReplicas(n int, indices []clustertypes.IndexUUID) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("routing: negative replica count %d", n)
	}
	targets := indices
	if len(targets) == 0 {
		for uuid := range b.table.Indices {
			targets = append(targets, uuid)
		}
	}
	for _, uuid := range targets {
		idx, ok := b.table.Indices[uuid]
		if !ok {
			return fmt.Errorf("routing: unknown index %s", uuid)
		}
		for shardNum, shardTable := range idx.Shards {
			current := len(shardTable.Copies) - 1
			switch {
			case n > current:
				toAdd := n - current
				replicaSource := clustertypes.RecoverySource{Type: clustertypes.RecoveryPeer}
				shardID := clustertypes.ShardId{Index: uuid, Shard: shardNum}
				for i := 0; i < toAdd; i++ {
					shardTable.Copies = append(shardTable.Copies, clustertypes.ShardRouting{
						ShardID:        shardID,
						Primary:        false,
						State:          clustertypes.Unassigned,
						RecoverySource: replicaSource,
						UnassignedInfo: &clustertypes.UnassignedInfo{Reason: clustertypes.ReasonReplicaAdded},
					})
				}
			case n < current:
				toRemove := current - n
				shardTable.Copies = removeReplicas(shardTable.Copies, toRemove)
			}
		}
	}
	return nil
}

// removeReplicas removes up to toRemove non-primary copies, preferring
// UNASSIGNED copies over INITIALIZING ones.
func removeReplicas(copies []clustertypes.ShardRouting, toRemove int) []clustertypes.ShardRouting {
	for pass := 0; pass < 2 && toRemove > 0; pass++ {
		wantState := clustertypes.Unassigned
		if pass == 1 {
			wantState = clustertypes.Initializing
		}
		for i := len(copies) - 1; i >= 0 && toRemove > 0; i-- {
			c := copies[i]
			if c.Primary {
				continue
			}
			if c.State != wantState {
				continue
			}
			copies = append(copies[:i], copies[i+1:]...)
			toRemove--
		}
	}
	return copies
}

// UpdateNodes rebuilds the routing table from the by-node allocation view
// produced by a reroute pass, bumping the table to version. This is the
// single place the allocation engine turns its in-memory
// RoutingNodes back into the table clients observe.
func (b *Builder) UpdateNodes(version uint64, rn *RoutingNodes) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	next := New()
	next.Version = version
	add := func(c clustertypes.ShardRouting) {
		idx, ok := next.Indices[c.ShardID.Index]
		if !ok {
			idx = NewIndexRoutingTable(c.ShardID.Index)
			next.Indices[c.ShardID.Index] = idx
		}
		shardTable, ok := idx.Shards[c.ShardID.Shard]
		if !ok {
			shardTable = &IndexShardRoutingTable{ShardID: c.ShardID}
			idx.Shards[c.ShardID.Shard] = shardTable
		}
		shardTable.Copies = append(shardTable.Copies, c)
	}
	for _, copies := range rn.Nodes {
		for _, c := range copies {
			add(c)
		}
	}
	for _, c := range rn.Unassigned {
		add(c)
	}
	b.table = next
	return nil
}

// Build consumes the builder and returns the finished, immutable table. Any
// further call to a mutating method on this Builder returns an error.
func (b *Builder) Build() (*RoutingTable, error) {
	if b.built {
		return nil, fmt.Errorf("routing: builder already built")
	}
	if err := b.table.Validate(); err != nil {
		return nil, fmt.Errorf("routing: invalid table: %w", err)
	}
	b.built = true
	return b.table, nil
}
