package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lockbox/internal/api"
	"lockbox/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check gocryptfs, fusermount, ffmpeg and FUSE on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := deps.CheckBinaries(deps.Requirements(cfg))
			statuses = append(statuses, deps.CheckFUSE())

			out := cmd.OutOrStdout()
			writeSection(out, "Dependencies", dependencyLines(api.FromDependencies(statuses), shouldColorize(out)), shouldColorize(out))
			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required dependencies missing", len(missing))
			}
			return nil
		},
	}
}
