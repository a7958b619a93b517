package clusterstate

import (
	"fmt"

	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/routing"
)

// Builder mutates a ClusterState under construction. Like routing.Builder
// it is single-use: Build consumes it.
type Builder struct {
	version      uint64
	masterTerm   uint64
	nodes        *clustertypes.DiscoveryNodes
	metadata     *clustertypes.Metadata
	routingBuild *routing.Builder
	blocks       *Blocks
	built        bool
}

// NewBuilder starts a builder from base (cloned), bumping the version by
// one. A nil base starts an empty cluster state at version 1.
func NewBuilder(base *ClusterState) *Builder {
	if base == nil {
		return &Builder{
			version:      1,
			nodes:        clustertypes.NewDiscoveryNodes(),
			metadata:     clustertypes.NewMetadata(),
			routingBuild: routing.NewBuilder(nil),
			blocks:       NewBlocks(),
		}
	}
	return &Builder{
		version:      base.Version + 1,
		masterTerm:   base.MasterTerm,
		nodes:        base.Nodes.Clone(),
		metadata:     base.Metadata.Clone(),
		routingBuild: routing.NewBuilder(base.RoutingTable),
		blocks:       base.Blocks.Clone(),
	}
}

func (b *Builder) checkMutable() error {
	if b.built {
		return fmt.Errorf("clusterstate: builder already built")
	}
	return nil
}

// SetMasterTerm bumps the coordination term, e.g. on observing a new
// master election. Master election itself is an external collaborator;
// this only records the term change once observed.
func (b *Builder) SetMasterTerm(term uint64) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	if term < b.masterTerm {
		return fmt.Errorf("clusterstate: master term must be monotonic, got %d after %d", term, b.masterTerm)
	}
	b.masterTerm = term
	return nil
}

// PutNode upserts a node into the node set.
func (b *Builder) PutNode(n *clustertypes.Node) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	b.nodes.Nodes[n.ID] = n
	return nil
}

// RemoveNode removes a node from the node set (its shard copies must be
// reconciled separately by the allocation engine).
func (b *Builder) RemoveNode(id clustertypes.NodeId) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	delete(b.nodes.Nodes, id)
	return nil
}

// SetMaster records the current elected master.
func (b *Builder) SetMaster(id clustertypes.NodeId) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	b.nodes.MasterID = id
	return nil
}

// PutIndexMetadata upserts an index's metadata.
func (b *Builder) PutIndexMetadata(m *clustertypes.IndexMetadata) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	b.metadata.Indices[m.IndexUUID] = m
	return nil
}

// RemoveIndexMetadata removes an index's metadata.
func (b *Builder) RemoveIndexMetadata(uuid clustertypes.IndexUUID) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	delete(b.metadata.Indices, uuid)
	return nil
}

// SetGlobalBlock sets or clears a global block, e.g. BlockDiskFloodStage.
func (b *Builder) SetGlobalBlock(id string, set bool) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	if set {
		b.blocks.Global[id] = struct{}{}
	} else {
		delete(b.blocks.Global, id)
	}
	return nil
}

// Routing exposes the underlying routing.Builder for direct routing table
// mutations (AddAsNew, UpdateNumberOfReplicas, UpdateNodes, ...).
func (b *Builder) Routing() *routing.Builder {
	return b.routingBuild
}

// Build consumes the builder, validates the resulting routing table, and
// returns the finished ClusterState.
func (b *Builder) Build() (*ClusterState, error) {
	if err := b.checkMutable(); err != nil {
		return nil, err
	}
	rt, err := b.routingBuild.Build()
	if err != nil {
		return nil, fmt.Errorf("clusterstate: %w", err)
	}
	if rt.Version == 0 {
		rt.Version = b.version
	}
	b.built = true
	return &ClusterState{
		Version:      b.version,
		MasterTerm:   b.masterTerm,
		Nodes:        b.nodes,
		Metadata:     b.metadata,
		RoutingTable: rt,
		Blocks:       b.blocks,
	}, nil
}
