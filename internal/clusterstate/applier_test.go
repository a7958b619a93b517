package clusterstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clustercoord/core/internal/clustertypes"
)

// TestApplierBootstrapAndPublish exercises a single-voter applier group
// end to end: bootstrap, publish a diff, and observe it applied to the
// local FSM, mirroring how a freshly elected master would publish its
// first routing table.
func TestApplierBootstrapAndPublish(t *testing.T) {
	applier, err := NewApplier("node-1", "127.0.0.1:21170", t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, applier.Bootstrap())
	defer applier.Shutdown()

	require.Eventually(t, applier.IsLeader, 5*time.Second, 20*time.Millisecond)

	before := applier.Current()
	after := before.Clone()
	after.Version++
	after.Nodes.Nodes["node-1"] = &clustertypes.Node{ID: "node-1", DataRole: true}

	diff := ComputeDiff(before, after)
	require.NoError(t, applier.Publish(diff))

	current := applier.Current()
	require.Equal(t, after.Version, current.Version)
	require.Contains(t, current.Nodes.Nodes, clustertypes.NodeId("node-1"))
}
