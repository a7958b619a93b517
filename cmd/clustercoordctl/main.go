// Command clustercoordctl is an offline operator tool for the cluster
// coordination core: it inspects and mutates the on-disk cluster-state
// files directly, without talking to a running process, the way a
// database's own recovery CLI works against its data directory.
//
// A single cobra root command with persistent --log-level/--log-json
// flags initialized via cobra.OnInitialize, and one subcommand tree per
// concern.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	corelog "github.com/clustercoord/core/internal/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clustercoordctl",
	Short: "Operate on a cluster-coordination core's on-disk state",
	Long: `clustercoordctl inspects and replays the routing/allocation state of a
cluster-coordination core directly against its on-disk state directories,
independent of any running process.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(rerouteCmd)
	rootCmd.AddCommand(deciderCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	asJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	corelog.Init(corelog.Config{Level: corelog.Level(level), JSONOutput: asJSON})
}
