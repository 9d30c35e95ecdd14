package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill",
		Short: "Show how to kill or nudge an active Agent process",
		Long:  "telegate has no out-of-process control socket: process state lives inside the running serve daemon. Send \"!kill [#channel]\", \"!killall\", or \"!nudge [#channel]\" in chat instead.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "telegate kill has no standalone daemon to control. While `telegate serve` is running, send \"!kill\", \"!killall\", or \"!nudge\" in a configured channel instead.")
		},
	}
}
