package resource

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dh7/mindcache/internal/cliconfig"
	"github.com/dh7/mindcache/internal/mcclient"
)

func newClient() (*mcclient.Client, *cliconfig.Config, error) {
	cfg, err := cliconfig.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving config: %w", err)
	}
	return mcclient.New(cfg.APIURL, cfg.UserID, cfg.Timeout), cfg, nil
}

// NewInstancesCmd returns the "instances" command group.
func NewInstancesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instances",
		Aliases: []string{"instance"},
		Short:   "Manage mindcache instances",
	}
	cmd.AddCommand(newInstancesCreateCmd())
	cmd.AddCommand(newInstancesListCmd())
	cmd.AddCommand(newInstancesGetCmd())
	cmd.AddCommand(newInstancesDeleteCmd())
	cmd.AddCommand(newInstancesCloneCmd())
	return cmd
}

func newInstancesCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			inst, err := client.CreateInstance(cmd.Context(), id, name)
			if err != nil {
				return err
			}
			return PrintOutput(cmd.OutOrStdout(), cfg.OutputFormat, inst,
				[]string{"ID", "NAME", "OWNER"},
				[][]string{{inst.ID, inst.Name, inst.OwnerID}})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Instance ID (generated if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Instance name")
	return cmd
}

func newInstancesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances visible to the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			list, err := client.ListInstances(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, len(list))
			for i, inst := range list {
				rows[i] = []string{inst.ID, inst.Name, inst.OwnerID, fmt.Sprintf("%d", inst.Revision)}
			}
			return PrintOutput(cmd.OutOrStdout(), cfg.OutputFormat, list,
				[]string{"ID", "NAME", "OWNER", "REVISION"}, rows)
		},
	}
	return cmd
}

func newInstancesGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <instance-id>",
		Short: "Get one instance by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			inst, err := client.GetInstance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return PrintOutput(cmd.OutOrStdout(), cfg.OutputFormat, inst,
				[]string{"ID", "NAME", "OWNER", "REVISION"},
				[][]string{{inst.ID, inst.Name, inst.OwnerID, fmt.Sprintf("%d", inst.Revision)}})
		},
	}
	return cmd
}

func newInstancesDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <instance-id>",
		Short: "Delete an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			if err := client.DeleteInstance(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted instance %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func newInstancesCloneCmd() *cobra.Command {
	var newID, name string
	cmd := &cobra.Command{
		Use:   "clone <source-instance-id>",
		Short: "Clone an instance's current snapshot into a new instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			inst, err := client.CloneInstance(cmd.Context(), args[0], newID, name)
			if err != nil {
				return err
			}
			return PrintOutput(cmd.OutOrStdout(), cfg.OutputFormat, inst,
				[]string{"ID", "NAME", "OWNER"},
				[][]string{{inst.ID, inst.Name, inst.OwnerID}})
		},
	}
	cmd.Flags().StringVar(&newID, "id", "", "New instance ID (generated if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "New instance name")
	return cmd
}
