package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jannetahkola/mc-server-manager/internal/gameclient"
)

func newRconCmd(opts *globalOptions) *cobra.Command {
	var port int
	var password string

	cmd := &cobra.Command{
		Use:   "rcon <command...>",
		Short: "Run a command through the remote console",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("RCON_PASSWORD")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			client := gameclient.NewConsoleClient(gameclient.ConsoleConfig{
				Host:     opts.host,
				Port:     port,
				Password: password,
				Timeout:  opts.timeout,
			})
			responses, err := client.Execute(ctx, strings.Join(args, " "))
			if err != nil {
				var authErr *gameclient.ConsoleAuthError
				if errors.As(err, &authErr) {
					_, _ = fmt.Fprintln(os.Stderr, "Login rejected. Check the remote console password.")
				}
				return err
			}
			for _, response := range responses {
				if response != "" {
					fmt.Fprintln(cmd.OutOrStdout(), response)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", defaultPort("RCON_PORT", gameclient.DefaultConsolePort), "remote console port (env RCON_PORT)")
	cmd.Flags().StringVar(&password, "password", "", "remote console password (env RCON_PASSWORD)")
	return cmd
}
