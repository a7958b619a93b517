package clustertypes

// IndexState is whether an index accepts writes.
type IndexState string

const (
	IndexOpen  IndexState = "OPEN"
	IndexClose IndexState = "CLOSE"
)

// IndexMetadata is the per-index settings the allocation engine and
// replication operation consult.
type IndexMetadata struct {
	IndexUUID        IndexUUID
	IndexName        string
	NumberOfShards   int
	NumberOfReplicas int
	State            IndexState

	// PrimaryTerm is bumped whenever a new primary is elected for a shard.
	PrimaryTerm map[ShardNumber]Term

	// InSyncAllocationIds is the set of allocation ids the master
	// considers current (promotable) for each shard.
	InSyncAllocationIds map[ShardNumber]map[AllocationId]struct{}

	// CreationVersion records which cluster-coordination protocol
	// version created this index, for forward-compatible reads of old
	// snapshots.
	CreationVersion int

	// VerifiedBeforeClose is set once a close transition has confirmed
	// all shard copies flushed; required by addAsFromOpenToClose.
	VerifiedBeforeClose bool
}

// Clone returns a deep copy suitable for copy-on-write mutation by a
// builder.
func (m *IndexMetadata) Clone() *IndexMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.PrimaryTerm = make(map[ShardNumber]Term, len(m.PrimaryTerm))
	for k, v := range m.PrimaryTerm {
		c.PrimaryTerm[k] = v
	}
	c.InSyncAllocationIds = make(map[ShardNumber]map[AllocationId]struct{}, len(m.InSyncAllocationIds))
	for shard, ids := range m.InSyncAllocationIds {
		cp := make(map[AllocationId]struct{}, len(ids))
		for id := range ids {
			cp[id] = struct{}{}
		}
		c.InSyncAllocationIds[shard] = cp
	}
	return &c
}

// InSync reports whether allocationID is in the in-sync set for shard n.
func (m *IndexMetadata) InSync(n ShardNumber, allocationID AllocationId) bool {
	ids, ok := m.InSyncAllocationIds[n]
	if !ok {
		return false
	}
	_, ok = ids[allocationID]
	return ok
}

// Metadata is the cluster-wide map of index metadata, keyed by IndexUUID so
// renames don't disturb identity.
type Metadata struct {
	Indices map[IndexUUID]*IndexMetadata
}

// NewMetadata returns an empty Metadata.
func NewMetadata() *Metadata {
	return &Metadata{Indices: make(map[IndexUUID]*IndexMetadata)}
}

// Clone deep-copies the metadata map and every IndexMetadata it contains.
func (m *Metadata) Clone() *Metadata {
	c := NewMetadata()
	for uuid, idx := range m.Indices {
		c.Indices[uuid] = idx.Clone()
	}
	return c
}

// Index looks up an index's metadata by uuid.
func (m *Metadata) Index(uuid IndexUUID) (*IndexMetadata, bool) {
	idx, ok := m.Indices[uuid]
	return idx, ok
}
