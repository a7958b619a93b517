package clusterstate

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	corelog "github.com/clustercoord/core/internal/log"
	"github.com/clustercoord/core/internal/metrics"
)

// FSM is the hashicorp/raft finite state machine that backs the
// cluster-state applier thread that publishes cluster state updates. Every
// accepted diff is applied in raft log order; ClusterState.version and
// MasterTerm are taken from the diff (the raft log index only feeds the
// applied-index metric), and Apply rejects any diff whose (term, version)
// does not advance past the current state's.
//
// Generalized from a fixed command-switch to applying an arbitrary
// clusterstate.Diff.
type FSM struct {
	mu      sync.RWMutex
	current *ClusterState
}

// NewFSM seeds the FSM with an initial state (typically loaded from disk
// via internal/stateformat before Bootstrap/Join).
func NewFSM(initial *ClusterState) *FSM {
	if initial == nil {
		initial = New()
	}
	return &FSM{current: initial}
}

// Apply applies one committed raft log entry — a marshaled Diff — to the
// current cluster state.
func (f *FSM) Apply(log *raft.Log) interface{} {
	d, err := UnmarshalDiff(log.Data)
	if err != nil {
		return fmt.Errorf("clusterstate fsm: unmarshal diff: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if d.MasterTerm < f.current.MasterTerm || (d.MasterTerm == f.current.MasterTerm && d.ToVersion <= f.current.Version) {
		return fmt.Errorf("clusterstate fsm: diff to (term %d, version %d) does not advance (term %d, version %d)",
			d.MasterTerm, d.ToVersion, f.current.MasterTerm, f.current.Version)
	}

	next, err := Apply(d, f.current)
	if err != nil {
		return fmt.Errorf("clusterstate fsm: apply diff: %w", err)
	}
	f.current = next
	metrics.ApplierAppliedIndex.Set(float64(log.Index))
	return nil
}

// Current returns a deep copy of the FSM's current cluster state.
func (f *FSM) Current() *ClusterState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current.Clone()
}

// Snapshot implements raft.FSM: a point-in-time copy of the whole cluster
// state, used by raft to compact its log.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, err := Marshal(f.current)
	if err != nil {
		return nil, fmt.Errorf("clusterstate fsm: snapshot: %w", err)
	}
	return &fsmSnapshot{data: data}, nil
}

// Restore implements raft.FSM: replace the current state wholesale from a
// previously-taken snapshot, e.g. when a node joins or catches up.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("clusterstate fsm: read snapshot: %w", err)
	}
	cs, err := Unmarshal(data)
	if err != nil {
		return fmt.Errorf("clusterstate fsm: decode snapshot: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = cs
	return nil
}

type fsmSnapshot struct {
	data []byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if _, err := sink.Write(s.data); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}

// Applier publishes cluster-state diffs across the cluster via raft: the
// single place a new master-elected node proposes a routing table update
// computed by the allocation engine.
//
// The Bootstrap/Join/Publish trio follows a conservative-for-WAN-but-tuned-
// for-LAN raft timeout profile.
type Applier struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raftNode *raft.Raft
	fsm      *FSM
	logger   zerolog.Logger
}

// NewApplier constructs an Applier; call Bootstrap (first node) or Join
// (subsequent nodes) before Publish.
func NewApplier(nodeID, bindAddr, dataDir string, initial *ClusterState) (*Applier, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("clusterstate: create data dir: %w", err)
	}
	return &Applier{
		nodeID:   nodeID,
		bindAddr: bindAddr,
		dataDir:  dataDir,
		fsm:      NewFSM(initial),
		logger:   corelog.WithComponent("clusterstate-applier"),
	}, nil
}

func (a *Applier) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(a.nodeID)
	// Tuned for LAN-latency edge deployments rather than raft's WAN-safe
	// defaults.
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	return cfg
}

func (a *Applier) newRaft() (*raft.Raft, error) {
	addr, err := net.ResolveTCPAddr("tcp", a.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("clusterstate: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(a.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("clusterstate: create transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(a.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("clusterstate: create snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(a.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("clusterstate: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(a.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("clusterstate: create stable store: %w", err)
	}
	r, err := raft.NewRaft(a.raftConfig(), a.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("clusterstate: create raft: %w", err)
	}
	return r, nil
}

// Bootstrap initializes a new single-voter cluster-state applier group.
func (a *Applier) Bootstrap() error {
	r, err := a.newRaft()
	if err != nil {
		return err
	}
	a.raftNode = r

	cfg := raft.Configuration{Servers: []raft.Server{{ID: raft.ServerID(a.nodeID), Address: raft.ServerAddress(a.bindAddr)}}}
	if err := a.raftNode.BootstrapCluster(cfg).Error(); err != nil {
		return fmt.Errorf("clusterstate: bootstrap: %w", err)
	}
	a.logger.Info().Str("node_id", a.nodeID).Msg("cluster-state applier bootstrapped")
	return nil
}

// Join starts this applier's raft participation; the caller is responsible
// for having already been added as a voter on the leader (the discovery
// layer, out of scope).
func (a *Applier) Join() error {
	r, err := a.newRaft()
	if err != nil {
		return err
	}
	a.raftNode = r
	return nil
}

// AddVoter adds nodeID/address as a new voter; only valid on the leader.
func (a *Applier) AddVoter(nodeID, address string) error {
	if a.raftNode == nil {
		return fmt.Errorf("clusterstate: raft not initialized")
	}
	if !a.IsLeader() {
		return fmt.Errorf("clusterstate: not the leader")
	}
	return a.raftNode.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error()
}

// IsLeader reports whether this node is the current applier leader.
func (a *Applier) IsLeader() bool {
	leader := a.raftNode.State() == raft.Leader
	if leader {
		metrics.ApplierIsLeader.Set(1)
	} else {
		metrics.ApplierIsLeader.Set(0)
	}
	return leader
}

// Publish proposes diff through raft; it returns once the diff is
// committed and applied to the FSM on this node.
func (a *Applier) Publish(diff *Diff) error {
	if a.raftNode == nil {
		return fmt.Errorf("clusterstate: raft not initialized")
	}
	data, err := MarshalDiff(diff)
	if err != nil {
		return err
	}
	future := a.raftNode.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("clusterstate: publish: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// Current returns the applier's current, locally-applied cluster state.
func (a *Applier) Current() *ClusterState {
	return a.fsm.Current()
}

// Shutdown stops raft participation.
func (a *Applier) Shutdown() error {
	if a.raftNode == nil {
		return nil
	}
	return a.raftNode.Shutdown().Error()
}
