package resource

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPermissionsCmd returns the "permissions" command group.
func NewPermissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "permissions",
		Aliases: []string{"permission", "perms"},
		Short:   "Grant or revoke actor permissions on an instance",
	}
	cmd.AddCommand(newPermissionsGrantCmd())
	cmd.AddCommand(newPermissionsRevokeCmd())
	return cmd
}

func newPermissionsGrantCmd() *cobra.Command {
	var canRead, canWrite, canSystem bool
	cmd := &cobra.Command{
		Use:   "grant <instance-id> <actor-id>",
		Short: "Grant an actor permission bits on an instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			if err := client.GrantPermission(cmd.Context(), args[0], args[1], canRead, canWrite, canSystem); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s on %s\n", args[1], args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&canRead, "read", true, "Grant read capability")
	cmd.Flags().BoolVar(&canWrite, "write", false, "Grant write capability")
	cmd.Flags().BoolVar(&canSystem, "system", false, "Grant system-prompt capability")
	return cmd
}

func newPermissionsRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <instance-id> <actor-id>",
		Short: "Revoke an actor's permission grant on an instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			if err := client.RevokePermission(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s on %s\n", args[1], args[0])
			return nil
		},
	}
	return cmd
}
