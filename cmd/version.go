package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MathewTomberlin/SwarmTunnel/internal/core"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("swarmtunnel %s\n", core.Version)
		},
	}
}
