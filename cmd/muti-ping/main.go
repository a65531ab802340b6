// Package main provides the CLI entry point for muti-ping.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/postalsys/muti-ping/internal/config"
	"github.com/postalsys/muti-ping/internal/console"
	"github.com/postalsys/muti-ping/internal/logging"
	"github.com/postalsys/muti-ping/internal/sysinfo"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "muti-ping [host]",
		Short: "muti-ping - ICMP echo client",
		Long: `muti-ping sends ICMP echo requests to a single IPv4 host and prints
one line per matching reply with its round-trip time.

When no host is given on the command line it is read from standard input.
Raw sockets need root or CAP_NET_RAW; use --socket dgram to run
unprivileged where the kernel allows it.`,
		Version:       sysinfo.Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var host string
			if len(args) > 0 {
				host = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r := newRunner(cfg,
				logging.NewLogger(cfg.Log.Level, cfg.Log.Format),
				console.New(console.Options{
					In:    cmd.InOrStdin(),
					Out:   cmd.OutOrStdout(),
					Err:   cmd.ErrOrStderr(),
					Color: cfg.Output.Color,
				}))
			r.run(ctx, host)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "Path to YAML config file")
	flags.IntP("count", "n", 0, "Highest sequence number to send (0 sends nothing)")
	flags.DurationP("interval", "i", 0, "Delay before each echo request")
	flags.String("socket", "", "Socket type: raw or dgram")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: text or json")
	flags.String("health-address", "", "Serve health, metrics and live results on this address")

	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "muti-ping %s (%s)\n", sysinfo.Version, sysinfo.Platform())
		},
	}
}

// loadConfig reads the config file, if any, and applies flags that were
// explicitly set on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if flags.Changed("count") {
		cfg.Ping.Count, _ = flags.GetInt("count")
	}
	if flags.Changed("interval") {
		cfg.Ping.Interval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("socket") {
		cfg.Ping.Socket, _ = flags.GetString("socket")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("health-address") {
		cfg.Health.Enabled = true
		cfg.Health.Address, _ = flags.GetString("health-address")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
