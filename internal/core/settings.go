package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultPort is the local port SwarmUI listens on.
	DefaultPort = 7801

	DefaultSwarmUIDir     = "SwarmUI"
	DefaultCloudflaredDir = "cloudflared"
	DefaultLogDir         = "logs"
)

// Settings is the resolved configuration for a single session. It is built
// once at CLI entry and threaded through every component; nothing below the
// cmd layer reads flags or environment variables directly.
type Settings struct {
	SwarmUIDir     string
	CloudflaredDir string
	LogDir         string
	Port           int

	SkipSwarmUICheck        bool
	ForceCloudflaredInstall bool
	ForceLocalSwarmUI       bool
	ForceLocalCloudflared   bool
	EnableLAN               bool

	Verbose int
}

// LocalURL returns the local SwarmUI endpoint used for readiness probes.
func (s Settings) LocalURL() string {
	return fmt.Sprintf("http://localhost:%d", s.Port)
}

var flagsToConfigKey = map[string]string{
	"webapp-dir":           "swarmui_dir",
	"tunnel-dir":           "cloudflared_dir",
	"log-dir":              "log_dir",
	"port":                 "port",
	"skip-webapp-check":    "skip_swarmui_check",
	"force-tunnel-install": "force_cloudflared_install",
	"force-local-webapp":   "force_local_swarmui",
	"force-local-tunnel":   "force_local_cloudflared",
	"enable-lan":           "enable_lan",
	"verbose":              "verbose",
}

// LoadSettings builds the session Settings from the command's flags, the
// SWARMTUNNEL_* environment, and an optional TOML config file in the working
// directory. Precedence: flags > environment > config file > defaults.
func LoadSettings(cmd *cobra.Command) (Settings, error) {
	v := viper.New()

	v.SetDefault("swarmui_dir", DefaultSwarmUIDir)
	v.SetDefault("cloudflared_dir", DefaultCloudflaredDir)
	v.SetDefault("log_dir", DefaultLogDir)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("skip_swarmui_check", false)
	v.SetDefault("force_cloudflared_install", false)
	v.SetDefault("force_local_swarmui", false)
	v.SetDefault("force_local_cloudflared", false)
	v.SetDefault("enable_lan", true)
	v.SetDefault("verbose", 0)

	v.SetEnvPrefix("swarmtunnel")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Optional config file in the working directory.
	v.SetConfigName("swarmtunnel")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Settings{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Flags win over everything when explicitly set.
	visit := func(f *pflag.Flag) {
		key, ok := flagsToConfigKey[f.Name]
		if !ok {
			return
		}
		if f.Changed {
			v.Set(key, f.Value.String())
		}
	}
	cmd.Flags().VisitAll(visit)
	if cmd.Root() != cmd {
		cmd.Root().PersistentFlags().VisitAll(visit)
	}

	s := Settings{
		SwarmUIDir:              strings.TrimSpace(v.GetString("swarmui_dir")),
		CloudflaredDir:          strings.TrimSpace(v.GetString("cloudflared_dir")),
		LogDir:                  strings.TrimSpace(v.GetString("log_dir")),
		Port:                    v.GetInt("port"),
		SkipSwarmUICheck:        v.GetBool("skip_swarmui_check"),
		ForceCloudflaredInstall: v.GetBool("force_cloudflared_install"),
		ForceLocalSwarmUI:       v.GetBool("force_local_swarmui"),
		ForceLocalCloudflared:   v.GetBool("force_local_cloudflared"),
		EnableLAN:               v.GetBool("enable_lan"),
		Verbose:                 v.GetInt("verbose"),
	}

	// Absolute paths so child working directories can't skew detection or
	// cleanup later in the session.
	for _, dir := range []*string{&s.SwarmUIDir, &s.CloudflaredDir, &s.LogDir} {
		if *dir == "" {
			continue
		}
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return Settings{}, fmt.Errorf("resolving %q: %w", *dir, err)
		}
		*dir = abs
	}

	if s.Port <= 0 || s.Port > 65535 {
		return Settings{}, fmt.Errorf("invalid port %d", s.Port)
	}

	return s, nil
}

// EnsureLogDir creates the log directory if needed and returns it.
func (s Settings) EnsureLogDir() (string, error) {
	if err := os.MkdirAll(s.LogDir, 0o755); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}
	return s.LogDir, nil
}
