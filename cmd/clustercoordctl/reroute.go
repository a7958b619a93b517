package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clustercoord/core/internal/allocation"
	"github.com/clustercoord/core/internal/clusterstate"
	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/settings"
	"github.com/clustercoord/core/internal/stateformat"
)

// offlineFetcher stands in for a live shardfetch.Fetcher when rerouting
// against a state dump with no cluster to actually contact: every fetch
// comes back without data, so primaries and replicas that need a fetch
// stay unassigned (FETCHING_SHARD_DATA) and only copies that need no
// fetch, such as snapshot restores, can be placed; nothing claims to have
// contacted a node it can't reach.
type offlineFetcher struct{}

func (offlineFetcher) FetchData(clustertypes.ShardId, []clustertypes.NodeId, map[clustertypes.NodeId]struct{}) allocation.ShardFetchResult {
	return allocation.ShardFetchResult{HasData: false}
}

var rerouteCmd = &cobra.Command{
	Use:   "reroute",
	Short: "Run one allocation pass over a dumped cluster state and print what would change",
	Long: `reroute loads the latest cluster state from the given directories, runs a
single allocation pass against it (no live shard-data fetch — unassigned
copies that need a fetch stay unassigned and are not printed), and prints the
resulting routing table version and any newly assigned or relocated
copies. With --write, the result is persisted as a new generation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, _ := cmd.Flags().GetStringSlice("dir")
		prefix, _ := cmd.Flags().GetString("prefix")
		debug, _ := cmd.Flags().GetBool("debug")
		write, _ := cmd.Flags().GetBool("write")

		payload, _, err := stateformat.LoadLatest(prefix, dirs)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		before, err := clusterstate.Unmarshal(payload)
		if err != nil {
			return fmt.Errorf("decode state: %w", err)
		}

		st := settings.New()
		engine := allocation.NewEngine(st, offlineFetcher{})

		after, err := engine.Reroute(before, nil, "clustercoordctl reroute", debug)
		if err != nil {
			return fmt.Errorf("reroute: %w", err)
		}

		fmt.Printf("routing table version: %d -> %d\n", before.RoutingTable.Version, after.RoutingTable.Version)
		printDiff(before, after)

		if write {
			newPayload, err := clusterstate.Marshal(after)
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			gen, err := stateformat.WriteAndCleanup(newPayload, prefix, dirs)
			if err != nil {
				return fmt.Errorf("write state: %w", err)
			}
			fmt.Printf("wrote generation %d\n", gen)
		}
		return nil
	},
}

func printDiff(before, after *clusterstate.ClusterState) {
	beforeCopies := map[string]clustertypes.ShardRouting{}
	for uuid, idx := range before.RoutingTable.Indices {
		for n, shardTable := range idx.Shards {
			for _, c := range shardTable.Copies {
				beforeCopies[copyKey(uuid, n, c)] = c
			}
		}
	}
	for uuid, idx := range after.RoutingTable.Indices {
		for n, shardTable := range idx.Shards {
			for _, c := range shardTable.Copies {
				key := copyKey(uuid, n, c)
				old, existed := beforeCopies[key]
				if !existed || old.State != c.State || old.CurrentNodeID != c.CurrentNodeID {
					role := "replica"
					if c.Primary {
						role = "primary"
					}
					fmt.Printf("  %s[%d] %s: %s -> node=%s state=%s\n", uuid, n, role, c.AllocationID, c.CurrentNodeID, c.State)
				}
			}
		}
	}
}

func copyKey(uuid clustertypes.IndexUUID, n clustertypes.ShardNumber, c clustertypes.ShardRouting) string {
	return fmt.Sprintf("%s/%d/%v/%s", uuid, n, c.Primary, c.AllocationID)
}

func init() {
	rerouteCmd.Flags().StringSlice("dir", nil, "State directory (repeatable)")
	rerouteCmd.Flags().String("prefix", stateformat.DefaultPrefix, "State file name prefix")
	rerouteCmd.Flags().Bool("debug", false, "Run every decider in debug mode (explanations do not change the outcome here)")
	rerouteCmd.Flags().Bool("write", false, "Persist the rerouted state as a new generation")
	_ = rerouteCmd.MarkFlagRequired("dir")
}
