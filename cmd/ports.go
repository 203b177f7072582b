package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/discovery/portscan"
)

const maxListedPorts = 100

var portsCmd = &cobra.Command{
	Use:   "ports <spec>",
	Short: "Validate a port spec and print the ports it expands to",
	Example: `  surface ports 22,80,443
  surface ports 8000-8010,8443`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := portscan.ParsePortSpec(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d ports: %s\n", len(ports), portscan.FormatPortSpec(ports))
		if len(ports) > maxListedPorts {
			return nil
		}
		for _, p := range ports {
			fmt.Fprintf(out, "  %5d  %s\n", p, portscan.ServiceName(p))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
