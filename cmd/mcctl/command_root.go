package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	host    string
	timeout time.Duration
}

func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "mcctl",
		Short:         "Query and control a Minecraft-compatible game server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	host := os.Getenv("MC_HOST")
	if host == "" {
		host = "localhost"
	}
	root.PersistentFlags().StringVar(&opts.host, "host", host, "game server host (env MC_HOST)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "network timeout")

	root.AddCommand(newPingCmd(opts))
	root.AddCommand(newRconCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}

func defaultPort(envName string, fallback int) int {
	if value := os.Getenv(envName); value != "" {
		if port, err := parsePort(value); err == nil {
			return port
		}
	}
	return fallback
}
