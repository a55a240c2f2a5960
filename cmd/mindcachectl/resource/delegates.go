package resource

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/dh7/mindcache/internal/cliconfig"
)

// NewDelegatesCmd returns the "delegates" command group.
func NewDelegatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delegates",
		Aliases: []string{"delegate"},
		Short:   "Manage scoped delegate credentials on an instance",
	}
	cmd.AddCommand(newDelegatesCreateCmd())
	cmd.AddCommand(newDelegatesListCmd())
	cmd.AddCommand(newDelegatesDeleteCmd())
	return cmd
}

func newDelegatesCreateCmd() *cobra.Command {
	var id string
	var canRead, canWrite, canSystem bool
	var ttl time.Duration
	var secretFile string

	cmd := &cobra.Command{
		Use:   "create <instance-id>",
		Short: "Create a delegate credential scoped to an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			d, err := client.CreateDelegate(cmd.Context(), args[0], id, canRead, canWrite, canSystem, ttl)
			if err != nil {
				return err
			}

			if secretFile != "" {
				if err := cliconfig.SaveDelegateSecret(afero.NewOsFs(), secretFile, d.ID, d.Secret); err != nil {
					return fmt.Errorf("writing secret file: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "delegate %s created, secret written to %s\n", d.ID, secretFile)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "delegate %s created\nsecret (shown once): %s\n", d.ID, d.Secret)
			_ = cfg
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Delegate ID (generated if omitted)")
	cmd.Flags().BoolVar(&canRead, "read", true, "Grant read capability")
	cmd.Flags().BoolVar(&canWrite, "write", false, "Grant write capability")
	cmd.Flags().BoolVar(&canSystem, "system", false, "Grant system-prompt capability")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Credential lifetime (0 = no expiry)")
	cmd.Flags().StringVar(&secretFile, "secret-file", "", "Write the one-time secret to this file instead of stdout")
	return cmd
}

func newDelegatesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <instance-id>",
		Short: "List delegates issued against an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			list, err := client.ListDelegates(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rows := make([][]string, len(list))
			for i, d := range list {
				rows[i] = []string{d.ID, capsString(d.CanRead, d.CanWrite, d.CanSystem)}
			}
			return PrintOutput(cmd.OutOrStdout(), cfg.OutputFormat, list, []string{"ID", "CAPABILITIES"}, rows)
		},
	}
	return cmd
}

func newDelegatesDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <instance-id> <delegate-id>",
		Short: "Revoke a delegate credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			if err := client.DeleteDelegate(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked delegate %s\n", args[1])
			return nil
		},
	}
	return cmd
}

func capsString(read, write, system bool) string {
	s := ""
	if read {
		s += "r"
	}
	if write {
		s += "w"
	}
	if system {
		s += "s"
	}
	if s == "" {
		return "-"
	}
	return s
}
