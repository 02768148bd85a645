package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MathewTomberlin/SwarmTunnel/internal/core"
	"github.com/MathewTomberlin/SwarmTunnel/internal/install"
)

func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the managed SwarmUI and cloudflared installs",
		Long: `Remove everything this tool installed: the managed SwarmUI checkout,
the managed cloudflared directory, and the tunnel config artifact. External
installations found elsewhere are never touched.`,
		Aliases: []string{"remove"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := core.LoadSettings(cmd)
			if err != nil {
				return err
			}
			if err := install.Uninstall(settings); err != nil {
				printRemedy(err)
				return err
			}
			slog.Info("Uninstall complete")
			return nil
		},
	}
}
