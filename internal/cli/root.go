package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoPolymarket/trading-gateway/internal/config"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type rootOptions struct {
	configPath string
	profile    string
}

// NewRootCmd builds the gateway command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Tiered signal routing and command safety gateway",
		Long: `gateway routes trading signals to responders by urgency tier and runs
every proposed command through blocklist, rate limit, risk, conflict,
market and confirmation checks before it may execute.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&opts.profile, "profile", "", "safety profile: permissive|strict|lockdown")

	root.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newTopologyCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// load reads the config file, then env overrides, then the profile.
// A missing file at the default path falls back to defaults.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			return cfg, fmt.Errorf("config %s: %w", o.configPath, err)
		}
		slog.Warn("config file not found, using defaults", "path", o.configPath)
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	profile := cfg.Profile
	if o.profile != "" {
		profile = o.profile
	}
	if err := config.ApplyProfile(&cfg, profile); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gateway version %s\n", Version)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
			fmt.Fprintf(out, "  Build date: %s\n", BuildDate)
		},
	}
}
