package app

import (
	"context"
	"fmt"

	"github.com/EpicMandM/vsphere-group-manager/internal/logger"
	"github.com/EpicMandM/vsphere-group-manager/internal/orchestrator"
)

// TakeSnapshot shuts the group down, waits for it to power off within the
// configured timeout and snapshots every member. An empty description falls
// back to the configured default.
func (a *App) TakeSnapshot(ctx context.Context, name, description string) error {
	g, err := a.Group()
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("snapshot name is required")
	}
	if description == "" {
		description = a.features.Snapshot.DefaultDescription
	}
	return g.TakeCleanSnapshot(ctx, name, description, a.features.ShutdownTimeout())
}

// RevertCurrent reverts every member to its current snapshot and optionally
// powers the group back on.
func (a *App) RevertCurrent(ctx context.Context, restart bool) error {
	g, err := a.Group()
	if err != nil {
		return err
	}
	if err := g.RevertAllToCurrent(ctx); err != nil {
		return err
	}
	if restart {
		return g.PowerOnAll(ctx)
	}
	return nil
}

// GoToSnapshot reverts every member to the named snapshot, optionally powers
// the group back on, and returns the members that lack the snapshot.
func (a *App) GoToSnapshot(ctx context.Context, name string, restart bool) ([]string, error) {
	g, err := a.Group()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("snapshot name is required")
	}
	missing, err := g.GoToSnapshotAll(ctx, name)
	if err != nil {
		return missing, err
	}
	if restart {
		if err := g.PowerOnAll(ctx); err != nil {
			return missing, err
		}
	}
	return missing, nil
}

// RemoveSnapshot deletes the named snapshot, with its subtree when
// withChildren is set, and returns the members that lack it.
func (a *App) RemoveSnapshot(ctx context.Context, name string, withChildren bool) ([]string, error) {
	g, err := a.Group()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("snapshot name is required")
	}
	return g.RemoveSnapshotAll(ctx, name, withChildren)
}

// Shutdown requests a guest shutdown of the group. With wait it blocks until
// every member is off or the configured timeout passes.
func (a *App) Shutdown(ctx context.Context, wait bool) error {
	g, err := a.Group()
	if err != nil {
		return err
	}
	if err := g.ShutdownAll(ctx); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	down, err := g.IsGroupDown(ctx, a.features.ShutdownTimeout())
	if err != nil {
		return err
	}
	if !down {
		return orchestrator.ErrGroupNotDown
	}
	return nil
}

// PowerOn requests power on for every member that is down.
func (a *App) PowerOn(ctx context.Context) error {
	g, err := a.Group()
	if err != nil {
		return err
	}
	return g.PowerOnAll(ctx)
}

// AddMember adds a VM to the group and writes the change back.
func (a *App) AddMember(ctx context.Context, name string) (bool, error) {
	g, err := a.Group()
	if err != nil {
		return false, err
	}
	added, err := g.AddMachine(ctx, name)
	if err != nil || !added {
		return added, err
	}
	return true, a.Persist()
}

// RemoveMember drops a VM from the group and writes the change back.
func (a *App) RemoveMember(name string) (bool, error) {
	g, err := a.Group()
	if err != nil {
		return false, err
	}
	if !g.RemoveMachine(name) {
		return false, nil
	}
	a.logger.Debug("Membership changed", logger.Action("group_remove"), logger.VM(name))
	return true, a.Persist()
}
