package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/warder/internal/ipc"
	"github.com/zjrosen/warder/internal/message"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var (
	taskEnqueueTitle    string
	taskEnqueuePriority string
	taskEnqueueDeps     []string
	taskEnqueueWrites   []string
	taskEnqueueRoom     string
	taskEnqueueID       string
)

var taskEnqueueCmd = &cobra.Command{
	Use:   "enqueue <command>",
	Short: "Enqueue a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		priority := message.Priority(taskEnqueuePriority)
		if !priority.Valid() {
			return fmt.Errorf("invalid priority %q", taskEnqueuePriority)
		}
		return pokeAndPrint(ipc.Request{TaskEnqueue: &ipc.TaskEnqueueRequest{
			ID:       taskEnqueueID,
			Title:    taskEnqueueTitle,
			Command:  args[0],
			Priority: priority,
			Deps:     taskEnqueueDeps,
			Writes:   taskEnqueueWrites,
			Room:     taskEnqueueRoom,
		}})
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return pokeAndPrint(ipc.Request{TaskCancel: &ipc.TaskCancelRequest{ID: args[0]}})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return pokeAndPrint(ipc.Request{TaskList: &struct{}{}})
	},
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskEnqueueCmd, taskCancelCmd, taskListCmd)

	taskEnqueueCmd.Flags().StringVar(&taskEnqueueID, "id", "", "task ID (generated if omitted)")
	taskEnqueueCmd.Flags().StringVar(&taskEnqueueTitle, "title", "", "task title")
	taskEnqueueCmd.Flags().StringVar(&taskEnqueuePriority, "priority", string(message.PriorityMedium), "Low, Medium, High, Urgent, or Critical")
	taskEnqueueCmd.Flags().StringArrayVar(&taskEnqueueDeps, "dep", nil, "task ID this task depends on (repeatable)")
	taskEnqueueCmd.Flags().StringArrayVar(&taskEnqueueWrites, "write", nil, "absolute path this task writes (repeatable)")
	taskEnqueueCmd.Flags().StringVar(&taskEnqueueRoom, "room", "", "room to enqueue into (defaults to the default room)")
}
