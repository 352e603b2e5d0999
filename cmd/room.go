package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/warder/internal/ipc"
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage rooms",
}

var roomCreateTemplate string

var roomCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return pokeAndPrint(ipc.Request{RoomCreate: &ipc.RoomCreateRequest{Name: args[0], Template: roomCreateTemplate}})
	},
}

var roomSwitchCmd = &cobra.Command{
	Use:   "switch <name>",
	Short: "Switch the foreground room",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return pokeAndPrint(ipc.Request{RoomSwitch: &ipc.RoomSwitchRequest{Name: args[0]}})
	},
}

var roomDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return pokeAndPrint(ipc.Request{RoomDelete: &ipc.RoomDeleteRequest{Name: args[0]}})
	},
}

var roomListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rooms",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return pokeAndPrint(ipc.Request{RoomList: &struct{}{}})
	},
}

func init() {
	rootCmd.AddCommand(roomCmd)
	roomCmd.AddCommand(roomCreateCmd, roomSwitchCmd, roomDeleteCmd, roomListCmd)

	roomCreateCmd.Flags().StringVar(&roomCreateTemplate, "template", "", "template name (defaults to the configured default template)")
}

// pokeAndPrint sends one request over the control socket and prints the
// response as formatted JSON, the way every one-shot poke command does.
func pokeAndPrint(req ipc.Request) error {
	socketPath, err := controlSocketPath()
	if err != nil {
		return fmt.Errorf("resolving control socket path: %w", err)
	}
	client := ipc.NewClient(socketPath)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s request: %w", req.Kind(), err)
	}
	if resp.Err != nil {
		return fmt.Errorf("%s failed: %s (code %d)", req.Kind(), resp.Err.Message, resp.Err.Code)
	}
	out, err := json.MarshalIndent(resp.Ok, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting response: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
