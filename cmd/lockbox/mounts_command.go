package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMountsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "mounts",
		Short: "List the daemon's volume mount table",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, addr, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return wrapDialError(err, addr)
			}
			if asJSON {
				return writeJSON(cmd, status.Mounts)
			}
			out := cmd.OutOrStdout()
			if len(status.Mounts) == 0 {
				fmt.Fprintln(out, "No volumes mounted")
				return nil
			}
			fmt.Fprintln(out, renderTable(mountHeaders, mountRows(status.Mounts), mountAligns()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the mount table as JSON")
	cmd.AddCommand(newMountsDetachCommand(ctx))
	return cmd
}

func newMountsDetachCommand(ctx *commandContext) *cobra.Command {
	var purpose string
	cmd := &cobra.Command{
		Use:   "detach <user-id>",
		Short: "Force a user's volumes closed",
		Long: "Detach unmounts a user's volumes regardless of open sessions, uploads " +
			"or viewers. Without --purpose every purpose is detached.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, addr, err := ctx.apiClient()
			if err != nil {
				return err
			}
			resp, err := client.Detach(cmd.Context(), args[0], purpose)
			if err != nil {
				return wrapDialError(err, addr)
			}
			out := cmd.OutOrStdout()
			scope := "all volumes"
			if purpose != "" {
				scope = purpose + " volume"
			}
			fmt.Fprintf(out, "Detached %s for %s\n", scope, args[0])
			if len(resp.Mounts) > 0 {
				fmt.Fprintln(out, renderTable(mountHeaders, mountRows(resp.Mounts), mountAligns()))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&purpose, "purpose", "", "Detach only this purpose (login, upload or share)")
	return cmd
}
