package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/warder/internal/ipc"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Manage worker processes",
}

var (
	processSpawnRoom string
	processSpawnEnv  []string
)

var processSpawnCmd = &cobra.Command{
	Use:   "spawn <id> <command> [args...]",
	Short: "Spawn a worker process",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		env := make(map[string]string, len(processSpawnEnv))
		for _, kv := range processSpawnEnv {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					env[kv[:i]] = kv[i+1:]
					break
				}
			}
		}
		return pokeAndPrint(ipc.Request{ProcessSpawn: &ipc.ProcessSpawnRequest{
			ID:      args[0],
			Command: args[1],
			Args:    args[2:],
			Room:    processSpawnRoom,
			Env:     env,
		}})
	},
}

var processKillCmd = &cobra.Command{
	Use:   "kill <id>",
	Short: "Kill a worker process",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return pokeAndPrint(ipc.Request{ProcessKill: &ipc.ProcessKillRequest{ID: args[0]}})
	},
}

var processRestartCmd = &cobra.Command{
	Use:   "restart <id>",
	Short: "Restart a worker process",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return pokeAndPrint(ipc.Request{ProcessRestart: &ipc.ProcessRestartRequest{ID: args[0]}})
	},
}

var processListCmd = &cobra.Command{
	Use:   "list",
	Short: "List worker processes",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return pokeAndPrint(ipc.Request{ProcessList: &struct{}{}})
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.AddCommand(processSpawnCmd, processKillCmd, processRestartCmd, processListCmd)

	processSpawnCmd.Flags().StringVar(&processSpawnRoom, "room", "default", "room to attach the worker to")
	processSpawnCmd.Flags().StringArrayVar(&processSpawnEnv, "env", nil, "environment variable KEY=VALUE (repeatable)")
}
