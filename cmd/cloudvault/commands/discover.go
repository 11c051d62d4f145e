package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudvault/cloudvault/internal/discovery"
)

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find CloudVault servers on the local network",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := discovery.Browse(cmd.Context(), discoverTimeout)
		if err != nil {
			return err
		}
		if len(services) == 0 {
			fmt.Println("no servers found")
			return nil
		}
		for _, svc := range services {
			fmt.Printf("%s\t%s\tversion=%s\n", svc.Name, svc.Addr(), svc.Version)
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 3*time.Second, "how long to wait for mDNS responses")
}
