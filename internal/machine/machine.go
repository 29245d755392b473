// Package machine wraps a single remote VM: state queries, power requests and
// snapshot operations. Nothing is cached; every query goes back to the
// platform so changes made outside this tool are always visible.
package machine

import (
	"context"
	"fmt"

	"github.com/vmware/govmomi/vim25/types"

	"github.com/EpicMandM/vsphere-group-manager/internal/logger"
	"github.com/EpicMandM/vsphere-group-manager/internal/models"
	"github.com/EpicMandM/vsphere-group-manager/internal/snapshot"
)

// Options tune machine behaviour.
type Options struct {
	// ShutdownOnMissingSnapshot makes GoToSnapshot request a guest shutdown
	// when the requested snapshot does not exist and the VM is running.
	ShutdownOnMissingSnapshot bool
}

// DefaultOptions keeps the historical GoToSnapshot behaviour.
func DefaultOptions() Options {
	return Options{ShutdownOnMissingSnapshot: true}
}

// Machine is a handle on one remote VM.
type Machine struct {
	name     string
	ref      types.ManagedObjectReference
	platform Platform
	logger   *logger.Logger
	opts     Options
}

// New wraps an already resolved VM reference.
func New(name string, ref types.ManagedObjectReference, p Platform, log *logger.Logger, opts Options) *Machine {
	if log == nil {
		log = logger.Discard()
	}
	return &Machine{
		name:     name,
		ref:      ref,
		platform: p,
		logger:   log,
		opts:     opts,
	}
}

// Resolve scans the inventory for an exact name match and wraps the first hit.
func Resolve(name string, inventory []models.VMDescriptor, p Platform, log *logger.Logger, opts Options) (*Machine, error) {
	for _, vm := range inventory {
		if vm.Name == name {
			return New(vm.Name, vm.Ref, p, log, opts), nil
		}
	}
	return nil, fmt.Errorf("virtual machine %q: %w", name, ErrNotFound)
}

// Name returns the VM name.
func (m *Machine) Name() string {
	return m.name
}

// Ref returns the managed object reference of the VM.
func (m *Machine) Ref() types.ManagedObjectReference {
	return m.ref
}

func (m *Machine) String() string {
	return "VM Name: " + m.name
}

// Describe fetches a fresh descriptor.
func (m *Machine) Describe(ctx context.Context) (models.VMDescriptor, error) {
	d, err := m.platform.Describe(ctx, m.ref)
	if err != nil {
		return models.VMDescriptor{}, fmt.Errorf("failed to describe %s: %w", m.name, err)
	}
	return d, nil
}

// PowerState queries the current power state.
func (m *Machine) PowerState(ctx context.Context) (models.PowerState, error) {
	d, err := m.Describe(ctx)
	if err != nil {
		return "", err
	}
	return d.PowerState, nil
}

// IsDown reports whether the platform says the VM is poweredOff.
func (m *Machine) IsDown(ctx context.Context) (bool, error) {
	state, err := m.PowerState(ctx)
	if err != nil {
		return false, err
	}
	return state.IsDown(), nil
}

// Host returns the name of the host currently running the VM.
func (m *Machine) Host(ctx context.Context) (string, error) {
	d, err := m.Describe(ctx)
	if err != nil {
		return "", err
	}
	return d.Host, nil
}

// Snapshots rebuilds the snapshot tree from live platform state.
func (m *Machine) Snapshots(ctx context.Context) (*snapshot.Tree, error) {
	d, err := m.Describe(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.BuildFromInfo(d.Snapshot), nil
}

// CurrentSnapshot returns the node the platform marks as current.
func (m *Machine) CurrentSnapshot(ctx context.Context) (snapshot.Node, bool, error) {
	tree, err := m.Snapshots(ctx)
	if err != nil {
		return snapshot.Node{}, false, err
	}
	n, ok := tree.Current()
	return n, ok, nil
}

// ShutdownGuest requests a guest OS shutdown unless the VM is already down.
// It never forces power off and does not wait.
func (m *Machine) ShutdownGuest(ctx context.Context) error {
	state, err := m.PowerState(ctx)
	if err != nil {
		return err
	}
	if state.IsDown() {
		m.logger.Info("VM already powered off", logger.Action("shutdown"), logger.Status("skipped"), logger.VM(m.name), logger.Reason("powered_off"))
		return nil
	}
	if err := m.platform.ShutdownGuest(ctx, m.ref); err != nil {
		return fmt.Errorf("failed to shut down guest on %s: %w", m.name, err)
	}
	m.logger.Info("Guest shutdown requested", logger.Action("shutdown"), logger.VM(m.name), logger.PowerState(string(state)))
	return nil
}

// PowerOn submits a power-on request without waiting for it.
func (m *Machine) PowerOn(ctx context.Context) error {
	task, err := m.platform.PowerOn(ctx, m.ref)
	if err != nil {
		return fmt.Errorf("failed to power on %s: %w", m.name, err)
	}
	m.logger.Info("Power on requested", logger.Action("power_on"), logger.VM(m.name), logger.F("TASK", task.Value))
	return nil
}

// TakeSnapshot creates a snapshot without memory dump or quiescing and waits
// for it. The description always gets " on <timestamp>" appended.
func (m *Machine) TakeSnapshot(ctx context.Context, name, description, timestamp string) error {
	description += " on " + timestamp
	m.logger.Info("Taking snapshot", logger.Action("snapshot_create"), logger.VM(m.name), logger.Snapshot(name))

	task, err := m.platform.CreateSnapshot(ctx, m.ref, name, description, false, false)
	if err != nil {
		return fmt.Errorf("failed to create snapshot %q on %s: %w", name, m.name, err)
	}
	if err := m.platform.AwaitTask(ctx, task); err != nil {
		return fmt.Errorf("%w: create snapshot %q on %s: %w", ErrTaskFailed, name, m.name, err)
	}
	return nil
}

// RevertToCurrentSnapshot reverts to whatever the platform considers current
// and waits for it.
func (m *Machine) RevertToCurrentSnapshot(ctx context.Context) error {
	m.logger.Info("Reverting to current snapshot", logger.Action("snapshot_revert"), logger.VM(m.name))

	task, err := m.platform.RevertToCurrentSnapshot(ctx, m.ref)
	if err != nil {
		return fmt.Errorf("failed to revert %s to current snapshot: %w", m.name, err)
	}
	if err := m.platform.AwaitTask(ctx, task); err != nil {
		return fmt.Errorf("%w: revert %s to current snapshot: %w", ErrTaskFailed, m.name, err)
	}
	return nil
}

// GoToSnapshot reverts to the first snapshot in pre-order with the given
// name and reports whether it was found. On a miss nothing is reverted; if
// ShutdownOnMissingSnapshot is set and the VM is running, a guest shutdown
// is requested instead.
func (m *Machine) GoToSnapshot(ctx context.Context, name string) (bool, error) {
	tree, err := m.Snapshots(ctx)
	if err != nil {
		return false, err
	}

	node, ok := tree.Lookup(name)
	if !ok {
		m.logger.Warn("Snapshot not found", logger.Action("snapshot_revert"), logger.Status("not_found"), logger.VM(m.name), logger.Snapshot(name))
		if m.opts.ShutdownOnMissingSnapshot {
			if err := m.ShutdownGuest(ctx); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	m.logger.Info("Reverting to snapshot", logger.Action("snapshot_revert"), logger.VM(m.name), logger.SnapshotID(node.ID), logger.Snapshot(name))
	task, err := m.platform.RevertSnapshot(ctx, node.Ref)
	if err != nil {
		return true, fmt.Errorf("failed to revert %s to snapshot %q: %w", m.name, name, err)
	}
	if err := m.platform.AwaitTask(ctx, task); err != nil {
		return true, fmt.Errorf("%w: revert %s to snapshot %q: %w", ErrTaskFailed, m.name, name, err)
	}
	return true, nil
}

// RemoveSnapshot deletes the first snapshot in pre-order with the given name
// and reports whether it was found. A miss is only logged.
func (m *Machine) RemoveSnapshot(ctx context.Context, name string, includeChildren bool) (bool, error) {
	tree, err := m.Snapshots(ctx)
	if err != nil {
		return false, err
	}

	node, ok := tree.Lookup(name)
	if !ok {
		m.logger.Info("Snapshot not present, nothing to remove", logger.Action("snapshot_remove"), logger.Status("skipped"), logger.VM(m.name), logger.Snapshot(name))
		return false, nil
	}

	m.logger.Info("Deleting snapshot",
		logger.Action("snapshot_remove"),
		logger.VM(m.name),
		logger.SnapshotID(node.ID),
		logger.Snapshot(name),
		logger.F("WITH_CHILDREN", includeChildren))
	task, err := m.platform.RemoveSnapshot(ctx, node.Ref, includeChildren)
	if err != nil {
		return true, fmt.Errorf("failed to remove snapshot %q from %s: %w", name, m.name, err)
	}
	if err := m.platform.AwaitTask(ctx, task); err != nil {
		return true, fmt.Errorf("%w: remove snapshot %q from %s: %w", ErrTaskFailed, name, m.name, err)
	}
	return true, nil
}
