package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var grepFlag string

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Check the vSphere connection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s\n", a.About())
		return nil
	},
}

var vmsCmd = &cobra.Command{
	Use:   "vms",
	Short: "List every VM in the inventory",
	Long: `List every virtual machine visible to the session.

Use --grep to keep only VMs whose name contains a substring.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		vms, err := a.Inventory(ctx, grepFlag)
		if err != nil {
			return fmt.Errorf("failed to list VMs: %w", err)
		}
		return render(cmd, func() (string, error) {
			f, err := newFormatter()
			if err != nil {
				return "", err
			}
			return f.FormatInventory(vms)
		})
	},
}

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Show and edit group membership",
}

var groupShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the members of the group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		g, err := a.Group()
		if err != nil {
			return err
		}
		return render(cmd, func() (string, error) {
			f, err := newFormatter()
			if err != nil {
				return "", err
			}
			return f.FormatMembers(g.Names())
		})
	},
}

var groupAddCmd = &cobra.Command{
	Use:   "add <vm-name>",
	Short: "Add a VM to the group",
	Long: `Add a VM to the group. When the group came from a file or a stored
group, the change is written back to it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		added, err := a.AddMember(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to add VM: %w", err)
		}
		if !added {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is already part of the group\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", args[0])
		return nil
	},
}

var groupRemoveCmd = &cobra.Command{
	Use:   "remove <vm-name>",
	Short: "Remove a VM from the group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		removed, err := a.RemoveMember(args[0])
		if err != nil {
			return fmt.Errorf("failed to remove VM: %w", err)
		}
		if !removed {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is not part of the group\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

var groupSaveCmd = &cobra.Command{
	Use:   "save <file>",
	Short: "Write the group to a file, one VM per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		return a.SaveGroup(args[0])
	},
}

var groupStoreCmd = &cobra.Command{
	Use:   "store <name>",
	Short: "Store the group under a name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		record, err := a.StoreGroup(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored group %s (%s) with %d VMs\n", record.Name, record.ID, len(record.Members))
		return nil
	},
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored groups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openOffline()
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		groups, err := a.ListStoredGroups()
		if err != nil {
			return err
		}
		return render(cmd, func() (string, error) {
			f, err := newFormatter()
			if err != nil {
				return "", err
			}
			return f.FormatGroups(groups)
		})
	},
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openOffline()
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a)

		return a.DeleteStoredGroup(args[0])
	},
}

func init() {
	vmsCmd.Flags().StringVar(&grepFlag, "grep", "", "only list VMs whose name contains this substring")

	groupCmd.AddCommand(groupShowCmd)
	groupCmd.AddCommand(groupAddCmd)
	groupCmd.AddCommand(groupRemoveCmd)
	groupCmd.AddCommand(groupSaveCmd)
	groupCmd.AddCommand(groupStoreCmd)
	groupCmd.AddCommand(groupListCmd)
	groupCmd.AddCommand(groupDeleteCmd)
}

func render(cmd *cobra.Command, format func() (string, error)) error {
	result, err := format()
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), result)
	return nil
}

func reportMissing(cmd *cobra.Command, snapshot string, missing []string) {
	if len(missing) == 0 {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Snapshot %s not found in: %s\n", snapshot, strings.Join(missing, ", "))
}
