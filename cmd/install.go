package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MathewTomberlin/SwarmTunnel/internal/core"
	"github.com/MathewTomberlin/SwarmTunnel/internal/install"
	"github.com/MathewTomberlin/SwarmTunnel/internal/locate"
	"github.com/MathewTomberlin/SwarmTunnel/internal/platform"
)

func NewInstallCommand() *cobra.Command {
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install SwarmUI and cloudflared without starting them",
		Long: `Install both components into their managed directories and exit.
Components already present are left alone unless reinstall is forced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := core.LoadSettings(cmd)
			if err != nil {
				return err
			}
			if _, err := settings.EnsureLogDir(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			if target := locate.SwarmUI(settings); target.Found() && !settings.SkipSwarmUICheck {
				slog.Info("SwarmUI already installed", "path", target.Path)
			} else {
				if _, err := install.WebApp(ctx, settings); err != nil {
					printRemedy(err)
					return err
				}
			}

			desc, err := platform.Describe(runtime.GOOS, runtime.GOARCH)
			if err != nil {
				return err
			}
			if target := locate.Cloudflared(settings, desc); target.Found() && !settings.ForceCloudflaredInstall {
				slog.Info("cloudflared already installed", "path", target.Path)
			} else {
				if _, err := install.Cloudflared(ctx, settings, desc); err != nil {
					printRemedy(err)
					return err
				}
			}

			slog.Info("Install complete")
			return nil
		},
	}

	installCmd.Flags().Bool("skip-webapp-check", false, "skip SwarmUI detection and install into the managed directory")
	installCmd.Flags().Bool("force-tunnel-install", false, "reinstall cloudflared even when one is found")
	installCmd.Flags().Bool("force-local-webapp", false, "only use the managed SwarmUI directory, never external installs")
	installCmd.Flags().Bool("force-local-tunnel", false, "only use the managed cloudflared directory, never PATH")
	installCmd.Flags().Bool("enable-lan", true, "bind SwarmUI to all interfaces instead of localhost only")

	return installCmd
}
