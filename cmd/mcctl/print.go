package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/jannetahkola/mc-server-manager/internal/gameclient"
)

func parsePort(value string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", value)
	}
	return port, nil
}

func printStatusTable(out io.Writer, status *gameclient.GameStatusResponse) {
	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Address", "Status", "Version", "Players", "Latency", "MOTD"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	address := fmt.Sprintf("%s:%d", status.Host, status.Port)
	if !status.Online {
		tw.Append([]string{address, "OFFLINE", "-", "-", "-", "-"})
		tw.Render()
		return
	}

	version := status.Version
	if status.ProtocolVersion != 0 {
		version = fmt.Sprintf("%s (%d)", version, status.ProtocolVersion)
	}
	tw.Append([]string{
		address,
		"ONLINE",
		version,
		fmt.Sprintf("%d/%d", status.Players.Online, status.Players.Max),
		fmt.Sprintf("%dms", status.LatencyMillis),
		strings.TrimSpace(status.MOTD),
	})
	tw.Render()

	if len(status.Players.Sample) > 0 {
		players := tablewriter.NewWriter(out)
		players.SetHeader([]string{"Player", "UUID"})
		for _, player := range status.Players.Sample {
			players.Append([]string{player.Name, player.ID})
		}
		players.Render()
	}
}
