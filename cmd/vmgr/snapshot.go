package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	restartFlag      bool
	withChildrenFlag bool
	waitFlag         bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the power state of every member",
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
		states, err := g.State(ctx)
		if err != nil {
			return err
		}
		return render(cmd, func() (string, error) {
			f, err := newFormatter()
			if err != nil {
				return "", err
			}
			return f.FormatState(states)
		})
	},
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Print the snapshot tree of every member",
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
		trees, err := g.Snapshots(ctx)
		if err != nil {
			return err
		}
		return render(cmd, func() (string, error) {
			f, err := newFormatter()
			if err != nil {
				return "", err
			}
			return f.FormatSnapshots(trees)
		})
	},
}

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the current snapshot of every member",
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
		current, err := g.CurrentSnapshots(ctx)
		if err != nil {
			return err
		}
		return render(cmd, func() (string, error) {
			f, err := newFormatter()
			if err != nil {
				return "", err
			}
			return f.FormatCurrent(current)
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take, revert and remove group snapshots",
}

var snapshotTakeCmd = &cobra.Command{
	Use:   "take <name> [description...]",
	Short: "Shut the group down and snapshot every member",
	Long: `Shut every member down, wait until the whole group is powered off and
then snapshot each VM with the same name and description.

The description defaults to the configured one; a timestamp is always
appended. If the group does not power off within the configured timeout
no snapshot is taken.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		description := strings.Join(args[1:], " ")
		if err := a.TakeSnapshot(ctx, args[0], description); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s taken\n", args[0])
		return nil
	},
}

var snapshotRevertCurrentCmd = &cobra.Command{
	Use:   "revert-current",
	Short: "Revert every member to its current snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		return a.RevertCurrent(ctx, restartFlag)
	},
}

var snapshotGotoCmd = &cobra.Command{
	Use:   "goto <name>",
	Short: "Revert every member to a named snapshot",
	Long: `Revert every member to the first snapshot with the given name.

Members without such a snapshot are reported. Unless disabled with
[snapshot] shutdown_on_missing = false, they are also shut down.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		missing, err := a.GoToSnapshot(ctx, args[0], restartFlag)
		reportMissing(cmd, args[0], missing)
		return err
	},
}

var snapshotRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a named snapshot from every member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		missing, err := a.RemoveSnapshot(ctx, args[0], withChildrenFlag)
		reportMissing(cmd, args[0], missing)
		return err
	},
}

var powerOnCmd = &cobra.Command{
	Use:   "poweron",
	Short: "Power on every member that is down",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		return a.PowerOn(ctx)
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Request a guest shutdown of every member",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer closeApp(ctx, a)

		return a.Shutdown(ctx, waitFlag)
	},
}

func init() {
	snapshotRevertCurrentCmd.Flags().BoolVar(&restartFlag, "restart", false, "power the group on afterwards")
	snapshotGotoCmd.Flags().BoolVar(&restartFlag, "restart", false, "power the group on afterwards")
	snapshotRemoveCmd.Flags().BoolVar(&withChildrenFlag, "with-children", false, "also remove every child snapshot")
	shutdownCmd.Flags().BoolVar(&waitFlag, "wait", false, "wait until the whole group is powered off")

	snapshotCmd.AddCommand(snapshotTakeCmd)
	snapshotCmd.AddCommand(snapshotRevertCurrentCmd)
	snapshotCmd.AddCommand(snapshotGotoCmd)
	snapshotCmd.AddCommand(snapshotRemoveCmd)
}
