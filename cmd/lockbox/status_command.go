package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"lockbox/internal/api"
	"lockbox/internal/deps"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health, dependencies and mounted volumes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, addr, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			out := cmd.OutOrStdout()
			if err != nil {
				if !daemonUnreachable(err) || asJSON {
					return wrapDialError(err, addr)
				}
				cfg, cfgErr := ctx.ensureConfig()
				if cfgErr != nil {
					return cfgErr
				}
				local := deps.CheckBinaries(deps.Requirements(cfg))
				local = append(local, deps.CheckFUSE())
				renderOffline(out, addr, api.FromDependencies(local), shouldColorize(out))
				return nil
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			renderStatus(out, addr, status, shouldColorize(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status document")
	return cmd
}

func renderStatus(out io.Writer, addr string, status *api.DaemonStatus, colorize bool) {
	daemonKind, daemonMsg := statusOK, fmt.Sprintf("Running (pid %d, %s)", status.PID, addr)
	if !status.Running {
		daemonKind, daemonMsg = statusError, "Not running"
	}
	reaper := "disabled"
	if status.ReaperEnabled {
		reaper = "enabled"
	}
	writeSection(out, "System Status", []string{
		renderStatusLine("Daemon", daemonKind, daemonMsg, colorize),
		renderStatusLine("Database", statusInfo, status.DatabasePath, colorize),
		renderStatusLine("Cipher root", statusInfo, status.CipherRoot, colorize),
		renderStatusLine("Mount root", statusInfo, status.MountRoot, colorize),
		renderStatusLine("Transcode queue", statusInfo, fmt.Sprintf("%d pending", status.QueueDepth), colorize),
		renderStatusLine("Upload reaper", statusInfo, reaper, colorize),
		renderStatusLine("FUSE mounts", statusInfo, fmt.Sprintf("%d", status.FUSEMounts), colorize),
	}, colorize)
	fmt.Fprintln(out)

	writeSection(out, "Dependencies", dependencyLines(status.Dependencies, colorize), colorize)
	fmt.Fprintln(out)

	writeSection(out, "Volumes", nil, colorize)
	if len(status.Mounts) == 0 {
		fmt.Fprintln(out, "No volumes mounted")
		return
	}
	fmt.Fprintln(out, renderTable(mountHeaders, mountRows(status.Mounts), mountAligns()))
}

func renderOffline(out io.Writer, addr string, local []api.DependencyStatus, colorize bool) {
	writeSection(out, "System Status", []string{
		renderStatusLine("Daemon", statusError, fmt.Sprintf("Not running (%s)", addr), colorize),
	}, colorize)
	fmt.Fprintln(out)
	writeSection(out, "Dependencies", dependencyLines(local, colorize), colorize)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
