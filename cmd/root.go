package cmd

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/MathewTomberlin/SwarmTunnel/internal/core"
	"github.com/MathewTomberlin/SwarmTunnel/internal/install"
	"github.com/MathewTomberlin/SwarmTunnel/internal/orchestrator"
)

// Exit codes reported to the shell.
const (
	ExitOK           = 0
	ExitGeneric      = 1
	ExitMissingDep   = 2
	ExitInstallError = 3
	ExitNotReady     = 4
)

func NewRootCommand() *cobra.Command {
	var verbose int

	rootCmd := &cobra.Command{
		Use:   "swarmtunnel",
		Short: "SwarmTunnel - run SwarmUI behind a Cloudflare quick tunnel",
		Long: `SwarmTunnel installs SwarmUI and cloudflared when missing, starts both,
and prints the public trycloudflare.com URL once the tunnel is up.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose)
		},
	}

	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")
	rootCmd.PersistentFlags().String("webapp-dir", core.DefaultSwarmUIDir, "SwarmUI install directory")
	rootCmd.PersistentFlags().String("tunnel-dir", core.DefaultCloudflaredDir, "cloudflared install directory")
	rootCmd.PersistentFlags().String("log-dir", core.DefaultLogDir, "log and artifact directory")
	rootCmd.PersistentFlags().Int("port", core.DefaultPort, "local SwarmUI port")

	rootCmd.AddCommand(
		NewStartCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}

// setupLogging installs the tint handler on stderr. Verbosity is cumulative:
// -v enables debug, -vv adds source locations.
func setupLogging(verbose int) {
	opts := &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.DateTime,
	}
	if verbose >= 1 {
		opts.Level = slog.LevelDebug
	}
	if verbose >= 2 {
		opts.AddSource = true
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, opts)))
}

// ExitCode maps an error from command execution to a shell exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if install.IsFatalDependency(err) {
		return ExitMissingDep
	}
	var (
		netErr     *install.NetworkError
		diskErr    *install.DiskSpaceError
		permErr    *install.PermissionError
		corruptErr *install.CorruptArchiveError
	)
	if errors.As(err, &netErr) || errors.As(err, &diskErr) ||
		errors.As(err, &permErr) || errors.As(err, &corruptErr) {
		return ExitInstallError
	}
	if orchestrator.IsTimeout(err) {
		return ExitNotReady
	}
	return ExitGeneric
}
