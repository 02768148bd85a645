package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MathewTomberlin/SwarmTunnel/internal/core"
	"github.com/MathewTomberlin/SwarmTunnel/internal/install"
	"github.com/MathewTomberlin/SwarmTunnel/internal/orchestrator"
)

func NewStartCommand() *cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Install (if needed), start SwarmUI, and open a tunnel",
		Long: `Start the full session: resolve or install SwarmUI and cloudflared,
launch SwarmUI, wait until it answers locally, then open a Cloudflare quick
tunnel and print its public URL. Runs until interrupted; Ctrl+C tears down
everything this command started.`,
		Aliases: []string{"run", "up"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := core.LoadSettings(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = orchestrator.New(settings).Run(ctx)
			if errors.Is(err, context.Canceled) {
				// Interrupt during startup or install; cleanup already ran.
				return nil
			}
			if err != nil {
				printRemedy(err)
			}
			return err
		},
	}

	startCmd.Flags().Bool("skip-webapp-check", false, "skip SwarmUI detection and install into the managed directory")
	startCmd.Flags().Bool("force-tunnel-install", false, "reinstall cloudflared even when one is found")
	startCmd.Flags().Bool("force-local-webapp", false, "only use the managed SwarmUI directory, never external installs")
	startCmd.Flags().Bool("force-local-tunnel", false, "only use the managed cloudflared directory, never PATH")
	startCmd.Flags().Bool("enable-lan", true, "bind SwarmUI to all interfaces instead of localhost only")

	return startCmd
}

// printRemedy surfaces actionable fix instructions carried by typed errors.
func printRemedy(err error) {
	var depErr *install.DependencyMissingError
	if errors.As(err, &depErr) && depErr.Remedy != "" {
		os.Stderr.WriteString(depErr.Remedy + "\n")
		return
	}
	var permErr *install.PermissionError
	if errors.As(err, &permErr) && len(permErr.Remedy) > 0 {
		os.Stderr.WriteString(permErr.RemedyText() + "\n")
	}
}
