//go:build linux

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/hostdeets/internal/config"
)

func main() {
	cfg := config.Default()

	root := &cobra.Command{
		Use:   "hostdeets",
		Short: "Live host telemetry from /proc and /sys",
		Long: `hostdeets samples CPU, memory, processes, network, filesystems,
batteries and thermal zones by re-reading kernel pseudo-files through
handles it keeps open between frames.

Every flag can also be set through a HOSTDEETS_ environment variable,
e.g. HOSTDEETS_INTERVAL=500ms. The environment wins over flags.

Examples:
  hostdeets                          # interactive view
  hostdeets --json                   # one snapshot as JSON
  hostdeets --json-stream --top=false
  hostdeets --deet uptime,load,fs:/,net:eth0
  hostdeets --metrics-addr :9101 --json-stream > /dev/null`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.LoadEnv(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cfg.BindFlags(root.Flags())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
