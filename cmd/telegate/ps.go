package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "Show how to list active Agent processes",
		Long:  "telegate has no out-of-process control socket: process state lives inside the running serve daemon. Send \"!ps\" in any configured channel to list active and queued turns.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "telegate ps has no standalone daemon to query. While `telegate serve` is running, send \"!ps\" in a configured channel instead.")
		},
	}
}
