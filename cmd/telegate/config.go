package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telegate-bridge/telegate/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the channel configuration",
	}
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load config.yaml/config.json and report any errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(dir)
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "OK: %d channel(s) configured (loaded from %s)\n", len(cfg.Channels), cfg.Path())
			for id, ch := range cfg.Channels {
				fmt.Fprintf(out, "  %s -> %s\n", id, ch.Folder)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "directory containing config.yaml or config.json")
	return cmd
}
