package clusterstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clustercoord/core/internal/clustertypes"
)

func TestDiffRoundTrip(t *testing.T) {
	before := New()
	before.Version = 1
	before.Nodes.Nodes["n1"] = &clustertypes.Node{ID: "n1", DataRole: true}

	after := before.Clone()
	after.Version = 2
	after.Nodes.Nodes["n2"] = &clustertypes.Node{ID: "n2", DataRole: true}
	delete(after.Nodes.Nodes, "n1")
	after.MasterTerm = 3
	// The routing table versions per reroute pass, not per cluster-state
	// transition, so the two counters can legitimately diverge.
	after.RoutingTable.Version = 7

	d := ComputeDiff(before, after)
	got, err := Apply(d, before)
	require.NoError(t, err)

	wantBytes, err := Marshal(after)
	require.NoError(t, err)
	gotBytes, err := Marshal(got)
	require.NoError(t, err)
	require.JSONEq(t, string(wantBytes), string(gotBytes))
}

func TestDiffWireRoundTrip(t *testing.T) {
	before := New()
	before.Version = 5
	after := before.Clone()
	after.Version = 6
	after.Nodes.Nodes["n1"] = &clustertypes.Node{ID: "n1"}

	d := ComputeDiff(before, after)
	data, err := MarshalDiff(d)
	require.NoError(t, err)

	d2, err := UnmarshalDiff(data)
	require.NoError(t, err)
	require.Equal(t, d.ToVersion, d2.ToVersion)

	got, err := Apply(d2, before)
	require.NoError(t, err)
	require.Equal(t, uint64(6), got.Version)
}

func TestDiffRejectsWrongBaseline(t *testing.T) {
	before := New()
	before.Version = 1
	after := before.Clone()
	after.Version = 2

	d := ComputeDiff(before, after)
	wrongBase := New()
	wrongBase.Version = 99

	_, err := Apply(d, wrongBase)
	require.Error(t, err)
}
