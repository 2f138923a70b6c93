package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peerdrop/internal/node"
)

var (
	devicesRoom    string
	devicesNetwork string
	devicesNoRoom  bool
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "lists devices known to the relay",
	Long:  `lists devices in a room, on a network, or (by default) every online device`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		apiClient, err := newAPIClient(cfg.Client.RelayURL)
		if err != nil {
			return err
		}

		var q node.DeviceQuery
		switch {
		case devicesNoRoom:
			empty := ""
			q.RoomID = &empty
		case devicesRoom != "":
			q.RoomID = &devicesRoom
		default:
			q.Network = devicesNetwork
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		devices, err := apiClient.ListDevices(ctx, q)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tROOM\tONLINE\tLAST SEEN")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", d.ID, d.Name, d.Type, d.RoomID, d.IsOnline, d.LastSeen.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	devicesCmd.Flags().StringVar(&devicesRoom, "room", "", "list devices in this room")
	devicesCmd.Flags().BoolVar(&devicesNoRoom, "no-room", false, "list devices that are in no room")
	devicesCmd.Flags().StringVar(&devicesNetwork, "network", "", "list devices on this network, e.g. 192.168.1.0/24")
}
