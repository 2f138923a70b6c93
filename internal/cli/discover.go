package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peerdrop/internal/discovery"
)

var scanTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "finds relays on the local network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		relays, err := discovery.Browse(context.Background(), discovery.Config{
			Service:     cfg.Discovery.Service,
			Domain:      cfg.Discovery.Domain,
			ScanTimeout: scanTimeout,
		})
		if err != nil {
			return err
		}
		if len(relays) == 0 {
			fmt.Println("no relays found")
			return nil
		}
		for _, r := range relays {
			fmt.Printf("%s\t%s\n", r.Instance, r.URL())
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "how long to browse")
}
