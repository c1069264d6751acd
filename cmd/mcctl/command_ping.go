package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jannetahkola/mc-server-manager/internal/gameclient"
)

func newPingCmd(opts *globalOptions) *cobra.Command {
	var port int
	var protocolVersion int32

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Query the server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			client := gameclient.NewStatusClient(gameclient.StatusConfig{
				Host:            opts.host,
				Port:            port,
				ProtocolVersion: protocolVersion,
				Timeout:         opts.timeout,
			})
			status := client.Query(ctx)
			printStatusTable(cmd.OutOrStdout(), status)
			if !status.Online {
				return fmt.Errorf("server %s:%d is offline", opts.host, port)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", defaultPort("MC_PORT", gameclient.DefaultStatusPort), "status port (env MC_PORT)")
	cmd.Flags().Int32Var(&protocolVersion, "protocol", gameclient.DefaultProtocolVersion, "protocol version sent in the handshake")
	return cmd
}
