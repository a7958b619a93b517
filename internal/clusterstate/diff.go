package clusterstate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/routing"
)

// Diff is the wire/disk representation of the delta between two cluster
// states: for every ordered-by-key map it carries the
// deleted keys, the upserted values, and (here, since our map values are
// not independently diffable) the new value wholesale rather than a
// sub-diff. apply(diff(before, after), before) == after for every field
// the diff carries. Per-index blocks (Blocks.Index) are not carried:
// Apply keeps before's per-index blocks unchanged.
type Diff struct {
	FromVersion uint64
	ToVersion   uint64
	MasterTerm  uint64

	// RoutingVersion carries the routing table's own version, which is
	// bumped per reroute pass and need not equal ToVersion; applying a
	// diff must reproduce it exactly for the round-trip to hold.
	RoutingVersion uint64

	DeletedNodes  []clustertypes.NodeId
	UpsertedNodes map[clustertypes.NodeId]*clustertypes.Node
	MasterID      clustertypes.NodeId

	DeletedIndices  []clustertypes.IndexUUID
	UpsertedIndices map[clustertypes.IndexUUID]*clustertypes.IndexMetadata

	DeletedRoutingIndices  []clustertypes.IndexUUID
	UpsertedRoutingIndices map[clustertypes.IndexUUID]*routing.IndexRoutingTable

	GlobalBlocks map[string]bool // true = set, false = cleared
}

// equalJSON compares two values by their JSON encoding; used instead of
// reflect.DeepEqual so nil-vs-empty map differences in values built via
// different code paths don't spuriously register as changes. The
// JSON-marshaled form is the value's canonical identity on the wire and
// on disk anyway.
func equalJSON(a, b interface{}) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// ComputeDiff computes the delta such that Apply(ComputeDiff(before, after),
// before) reproduces after byte-for-byte after re-serialization, provided
// before and after have the same per-index blocks, which the diff does not
// carry.
func ComputeDiff(before, after *ClusterState) *Diff {
	d := &Diff{
		FromVersion:            before.Version,
		ToVersion:              after.Version,
		MasterTerm:             after.MasterTerm,
		RoutingVersion:         after.RoutingTable.Version,
		UpsertedNodes:          make(map[clustertypes.NodeId]*clustertypes.Node),
		UpsertedIndices:        make(map[clustertypes.IndexUUID]*clustertypes.IndexMetadata),
		UpsertedRoutingIndices: make(map[clustertypes.IndexUUID]*routing.IndexRoutingTable),
		GlobalBlocks:           make(map[string]bool),
		MasterID:               after.Nodes.MasterID,
	}

	for id := range before.Nodes.Nodes {
		if _, ok := after.Nodes.Nodes[id]; !ok {
			d.DeletedNodes = append(d.DeletedNodes, id)
		}
	}
	for id, n := range after.Nodes.Nodes {
		old, ok := before.Nodes.Nodes[id]
		if !ok || !equalJSON(old, n) {
			d.UpsertedNodes[id] = n
		}
	}

	for uuid := range before.Metadata.Indices {
		if _, ok := after.Metadata.Indices[uuid]; !ok {
			d.DeletedIndices = append(d.DeletedIndices, uuid)
		}
	}
	for uuid, m := range after.Metadata.Indices {
		old, ok := before.Metadata.Indices[uuid]
		if !ok || !equalJSON(old, m) {
			d.UpsertedIndices[uuid] = m
		}
	}

	for uuid := range before.RoutingTable.Indices {
		if _, ok := after.RoutingTable.Indices[uuid]; !ok {
			d.DeletedRoutingIndices = append(d.DeletedRoutingIndices, uuid)
		}
	}
	for uuid, t := range after.RoutingTable.Indices {
		old, ok := before.RoutingTable.Indices[uuid]
		if !ok || !equalJSON(old, t) {
			d.UpsertedRoutingIndices[uuid] = t
		}
	}

	for id := range before.Blocks.Global {
		if _, ok := after.Blocks.Global[id]; !ok {
			d.GlobalBlocks[id] = false
		}
	}
	for id := range after.Blocks.Global {
		if _, ok := before.Blocks.Global[id]; !ok {
			d.GlobalBlocks[id] = true
		}
	}

	return d
}

// Apply reproduces the after state from before and d.
func Apply(d *Diff, before *ClusterState) (*ClusterState, error) {
	if d.FromVersion != before.Version {
		return nil, fmt.Errorf("clusterstate: diff baseline version %d does not match state version %d", d.FromVersion, before.Version)
	}
	next := before.Clone()
	next.Version = d.ToVersion
	next.MasterTerm = d.MasterTerm
	next.Nodes.MasterID = d.MasterID

	for _, id := range d.DeletedNodes {
		delete(next.Nodes.Nodes, id)
	}
	for id, n := range d.UpsertedNodes {
		next.Nodes.Nodes[id] = n
	}

	for _, uuid := range d.DeletedIndices {
		delete(next.Metadata.Indices, uuid)
	}
	for uuid, m := range d.UpsertedIndices {
		next.Metadata.Indices[uuid] = m
	}

	for _, uuid := range d.DeletedRoutingIndices {
		delete(next.RoutingTable.Indices, uuid)
	}
	for uuid, t := range d.UpsertedRoutingIndices {
		next.RoutingTable.Indices[uuid] = t
	}
	next.RoutingTable.Version = d.RoutingVersion

	for id, set := range d.GlobalBlocks {
		if set {
			next.Blocks.Global[id] = struct{}{}
		} else {
			delete(next.Blocks.Global, id)
		}
	}

	return next, nil
}

// MarshalDiff/UnmarshalDiff put the diff on the wire in the same envelope
// shape the full state uses.
func MarshalDiff(d *Diff) ([]byte, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("clusterstate: marshal diff: %w", err)
	}
	return json.Marshal(wireEnvelope{ProtocolVersion: CurrentProtocolVersion, State: body})
}

func UnmarshalDiff(data []byte) (*Diff, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("clusterstate: unmarshal diff envelope: %w", err)
	}
	if env.ProtocolVersion > CurrentProtocolVersion {
		return nil, fmt.Errorf("clusterstate: unsupported protocol version %d (max %d)", env.ProtocolVersion, CurrentProtocolVersion)
	}
	var d Diff
	if err := json.Unmarshal(env.State, &d); err != nil {
		return nil, fmt.Errorf("clusterstate: unmarshal diff: %w", err)
	}
	return &d, nil
}
