package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/warder/internal/ipc"
)

var conflictCmd = &cobra.Command{
	Use:   "conflict",
	Short: "Manage file-sync conflicts",
}

var conflictResolveContent string

var conflictResolveCmd = &cobra.Command{
	Use:   "resolve <id> <choose-worker>",
	Short: "Resolve a conflict by choosing a worker's version or supplying merged content",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(_ *cobra.Command, args []string) error {
		chooseWorker := ""
		if len(args) == 2 {
			chooseWorker = args[1]
		}
		return pokeAndPrint(ipc.Request{ConflictResolve: &ipc.ConflictResolveRequest{
			ID:              args[0],
			ChooseWorker:    chooseWorker,
			ProvidedContent: conflictResolveContent,
		}})
	},
}

func init() {
	rootCmd.AddCommand(conflictCmd)
	conflictCmd.AddCommand(conflictResolveCmd)

	conflictResolveCmd.Flags().StringVar(&conflictResolveContent, "content", "", "merged content to apply instead of choosing a worker's version")
}
