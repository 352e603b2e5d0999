package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/warder/internal/ipc"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Request a graceful shutdown of a running warder daemon",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return pokeAndPrint(ipc.Request{Shutdown: &struct{}{}})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a full snapshot of rooms, workers, tasks, and conflicts",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return pokeAndPrint(ipc.Request{GetStatus: &struct{}{}})
	},
}

func init() {
	rootCmd.AddCommand(shutdownCmd, statusCmd)
}
