// Package shardfetch implements the asynchronous shard-state fetch
// protocol: gather per-node shard-state records with
// at-most-one-in-flight-per-node semantics and round-based staleness
// detection, so a concurrent master switch can't have a stale response
// silently accepted into the allocator's view of the world.
//
// Grounded on golang.org/x/sync/singleflight for the in-flight dedup (the
// library is built exactly for "collapse concurrent identical calls into
// one"), with round bookkeeping layered on top since singleflight alone
// does not know what a "round" is.
package shardfetch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/clustercoord/core/internal/clustertypes"
	corelog "github.com/clustercoord/core/internal/log"
	"github.com/clustercoord/core/internal/metrics"
	"github.com/clustercoord/core/internal/transport"
)

type nodeState int

const (
	stateNone nodeState = iota
	stateFetching
	stateData
	stateFailed
)

type nodeEntry struct {
	state nodeState
	round uint64
	data  transport.ShardStateResponse
	err   error
}

// FetchResult is the return value of FetchData.
type FetchResult struct {
	HasData    bool
	DataByNode map[clustertypes.NodeId]transport.ShardStateResponse
}

// RerouteFunc is invoked when a response (successful or not) should cause
// the allocator to reconsider placement — including stale, silently
// dropped responses, which must still trigger a pass.
type RerouteFunc func(reason string)

// Fetcher tracks the per-(node) state machine for one shard's async fetch
// lifecycle: NONE → FETCHING → (DATA|FAILED) → NONE (on clear) |
// FETCHING (on re-fetch).
type Fetcher struct {
	shardID   clustertypes.ShardId
	transport transport.NodeTransport
	onReroute RerouteFunc

	mu      sync.Mutex
	sf      singleflight.Group
	round   uint64
	entries map[clustertypes.NodeId]*nodeEntry
	closed  bool
}

// NewFetcher constructs a Fetcher for shardID.
func NewFetcher(shardID clustertypes.ShardId, nt transport.NodeTransport, onReroute RerouteFunc) *Fetcher {
	return &Fetcher{
		shardID:   shardID,
		transport: nt,
		onReroute: onReroute,
		entries:   make(map[clustertypes.NodeId]*nodeEntry),
	}
}

// FetchData gathers shard-state for nodes, skipping any in ignoredNodes.
// It returns HasData=false while any of the requested nodes still has a
// request in flight; once every requested node has a terminal state
// (DATA or FAILED), it returns HasData=true with only the successful
// entries — failed nodes are elided, since their failure has already
// triggered a reroute via onReroute. A failure is reported this way once;
// the next FetchData call re-issues the request to that node.
func (f *Fetcher) FetchData(ctx context.Context, nodes []clustertypes.NodeId, ignoredNodes map[clustertypes.NodeId]struct{}) (FetchResult, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return FetchResult{}, fmt.Errorf("shardfetch: fetcher for %s is closed", f.shardID)
	}

	f.round++
	round := f.round
	metrics.ShardFetchRoundsTotal.Inc()

	var toLaunch []clustertypes.NodeId
	for _, node := range nodes {
		if _, ignored := ignoredNodes[node]; ignored {
			continue
		}
		e, ok := f.entries[node]
		if !ok {
			e = &nodeEntry{state: stateNone}
			f.entries[node] = e
		}
		if e.state == stateNone {
			e.state = stateFetching
			e.round = round
			toLaunch = append(toLaunch, node)
		}
	}
	f.mu.Unlock()

	for _, node := range toLaunch {
		go f.launch(ctx, node, round)
	}

	return f.snapshot(nodes, ignoredNodes), nil
}

func (f *Fetcher) launch(ctx context.Context, node clustertypes.NodeId, round uint64) {
	v, err, _ := f.sf.Do(string(node), func() (interface{}, error) {
		return f.transport.FetchShardState(ctx, node, transport.ShardStateRequest{
			ShardID:       f.shardID,
			FetchingRound: round,
		})
	})

	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[node]
	if !ok || e.round != round {
		// Superseded by a clear or a later re-fetch: drop silently, but a
		// new pass must still be scheduled.
		metrics.ShardFetchStaleResponsesTotal.Inc()
		f.reroute("stale shard-fetch response")
		return
	}

	if err != nil {
		e.state = stateFailed
		e.err = err
		logger := corelog.WithShard(string(f.shardID.Index), int(f.shardID.Shard))
		logger.Error().
			Str("node", string(node)).
			Err(err).Msg("shard-state fetch failed")
		f.reroute("shard-state fetch failure")
		return
	}

	e.state = stateData
	e.data = v.(transport.ShardStateResponse)
	e.err = nil
	f.reroute("shard-state fetch completed")
}

func (f *Fetcher) reroute(reason string) {
	if f.onReroute != nil {
		f.onReroute(reason)
	}
}

func (f *Fetcher) snapshot(nodes []clustertypes.NodeId, ignoredNodes map[clustertypes.NodeId]struct{}) FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := FetchResult{DataByNode: make(map[clustertypes.NodeId]transport.ShardStateResponse)}
	hasData := true
	var failed []*nodeEntry
	for _, node := range nodes {
		if _, ignored := ignoredNodes[node]; ignored {
			continue
		}
		e := f.entries[node]
		if e == nil {
			hasData = false
			continue
		}
		switch e.state {
		case stateFetching, stateNone:
			hasData = false
		case stateData:
			result.DataByNode[node] = e.data
		case stateFailed:
			// elided from the result; the failure already triggered a reroute.
			failed = append(failed, e)
		}
	}
	result.HasData = hasData
	if hasData {
		// The failures have now been reported; the next FetchData call
		// re-issues to those nodes.
		for _, e := range failed {
			e.state = stateNone
		}
	}
	return result
}

// ClearCacheForNode invalidates any cached data or failure for node; the
// next FetchData call re-requests it, even if a response is already
// cached. In-flight requests are not cancelled, only superseded: their
// eventual response is dropped as stale.
func (f *Fetcher) ClearCacheForNode(node clustertypes.NodeId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, node)
}

// Close makes every subsequent FetchData call fail.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}
