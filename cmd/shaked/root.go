package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chinaperrin/shaked/internal/adminrpc"
	"github.com/chinaperrin/shaked/internal/config"
)

var (
	cfgPath   string
	adminSock string

	// jsonOutput switches the operator-facing subcommands between formatted
	// and machine-readable output.
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "shaked",
	Short: "Seismic trigger-dispatch daemon and operator CLI",
	Long: `shaked resolves incoming seismic network triggers into shake-executable
dispatches, repeats, and cancellations, and exposes a local admin channel for
status, replay, and live monitoring.

Run "shaked run" to start the daemon. The remaining subcommands are a thin
client over the admin socket and expect a daemon already running.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "/etc/shaked/shaked.yaml", "path to the daemon config file")
	rootCmd.PersistentFlags().StringVar(&adminSock, "admin-socket", "", "admin socket path (overrides the value read from --config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON instead of formatted text")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// connectAdmin dials the admin socket for the operator subcommands. The
// socket path comes from --admin-socket if set, otherwise from the daemon
// config file named by --config, matching how the daemon itself resolves it.
func connectAdmin() (*adminrpc.Client, error) {
	path := adminSock
	if path == "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("resolve admin socket from %s: %w", cfgPath, err)
		}
		path = cfg.AdminSocket
	}

	c := adminrpc.NewClient(path)
	if err := c.Ping(); err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s: %w", path, err)
	}
	return c, nil
}
