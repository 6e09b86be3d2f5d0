package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OllieMilton/pulsefeed/internal/platform/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulsefeed",
		Short: "Event broadcast feed",
		Long:  "Pulsefeed streams time and server-status snapshots to subscribers over SSE and WebSocket.",
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWatchCmd())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			fmt.Printf("pulsefeed %s (%s, built %s, %s)\n", info.Version, info.Commit, info.BuildTime, info.GoVersion)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
