package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clustercoord/core/internal/allocation"
	"github.com/clustercoord/core/internal/clusterstate"
	"github.com/clustercoord/core/internal/clustertypes"
	"github.com/clustercoord/core/internal/routing"
	"github.com/clustercoord/core/internal/settings"
	"github.com/clustercoord/core/internal/stateformat"
)

var deciderCmd = &cobra.Command{
	Use:   "decider",
	Short: "Query the allocation deciders directly",
}

var deciderExplainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain every decider's verdict for one shard copy / candidate node pair",
	Long: `explain loads the latest cluster state, finds the named shard copy, and
runs the full decider stack in debug mode against a candidate node —
useful for answering "why won't this shard move to node X" without
reading logs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, _ := cmd.Flags().GetStringSlice("dir")
		prefix, _ := cmd.Flags().GetString("prefix")
		indexUUID, _ := cmd.Flags().GetString("index")
		shardNum, _ := cmd.Flags().GetInt("shard")
		primary, _ := cmd.Flags().GetBool("primary")
		node, _ := cmd.Flags().GetString("node")
		question, _ := cmd.Flags().GetString("question")

		payload, _, err := stateformat.LoadLatest(prefix, dirs)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		state, err := clusterstate.Unmarshal(payload)
		if err != nil {
			return fmt.Errorf("decode state: %w", err)
		}

		shardTable, ok := state.RoutingTable.Shard(clustertypes.IndexUUID(indexUUID), clustertypes.ShardNumber(shardNum))
		if !ok {
			return fmt.Errorf("no such shard %s[%d]", indexUUID, shardNum)
		}
		shard, ok := findCopy(shardTable, primary)
		if !ok {
			return fmt.Errorf("shard %s[%d] has no %s copy", indexUUID, shardNum, roleName(primary))
		}

		st := settings.New()
		throttling := &allocation.ThrottlingAllocationDecider{}
		deciders := allocation.NewAllocationDeciders(
			&allocation.SameShardAllocationDecider{},
			throttling,
			&allocation.DiskThresholdDecider{Settings: st},
		)
		ctx := &allocation.AllocationContext{
			State:        state,
			RoutingNodes: routing.NewRoutingNodes(state.RoutingTable),
			Settings:     st,
			Debug:        true,
		}

		var decision allocation.Decision
		var explanations []allocation.Explanation
		switch question {
		case "can-allocate", "":
			decision, explanations = deciders.CanAllocate(ctx, shard, clustertypes.NodeId(node))
		case "can-remain":
			decision, explanations = deciders.CanRemain(ctx, shard, clustertypes.NodeId(node))
		case "can-force-allocate-primary":
			decision, explanations = deciders.CanForceAllocatePrimary(ctx, shard, clustertypes.NodeId(node))
		default:
			return fmt.Errorf("unknown --question %q (want can-allocate, can-remain, or can-force-allocate-primary)", question)
		}

		fmt.Printf("%s: %s\n", question, decision)
		for _, e := range explanations {
			fmt.Printf("  %-28s %-9s %s\n", e.Decider, e.Decision, e.Reason)
		}
		return nil
	},
}

func findCopy(shardTable *routing.IndexShardRoutingTable, wantPrimary bool) (clustertypes.ShardRouting, bool) {
	for _, c := range shardTable.Copies {
		if c.Primary == wantPrimary {
			return c, true
		}
	}
	return clustertypes.ShardRouting{}, false
}

func roleName(primary bool) string {
	if primary {
		return "primary"
	}
	return "replica"
}

func init() {
	deciderExplainCmd.Flags().StringSlice("dir", nil, "State directory (repeatable)")
	deciderExplainCmd.Flags().String("prefix", stateformat.DefaultPrefix, "State file name prefix")
	deciderExplainCmd.Flags().String("index", "", "Index UUID")
	deciderExplainCmd.Flags().Int("shard", 0, "Shard number")
	deciderExplainCmd.Flags().Bool("primary", false, "Explain the primary copy instead of a replica")
	deciderExplainCmd.Flags().String("node", "", "Candidate node id")
	deciderExplainCmd.Flags().String("question", "can-allocate", "can-allocate, can-remain, or can-force-allocate-primary")
	_ = deciderExplainCmd.MarkFlagRequired("dir")
	_ = deciderExplainCmd.MarkFlagRequired("index")
	_ = deciderExplainCmd.MarkFlagRequired("node")

	deciderCmd.AddCommand(deciderExplainCmd)
}
