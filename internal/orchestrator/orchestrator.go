package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EpicMandM/vsphere-group-manager/internal/logger"
	"github.com/EpicMandM/vsphere-group-manager/internal/machine"
	"github.com/EpicMandM/vsphere-group-manager/internal/models"
	"github.com/EpicMandM/vsphere-group-manager/internal/snapshot"
)

const (
	// DefaultPollInterval is the cadence of the convergence wait.
	DefaultPollInterval = 20 * time.Second
	// DefaultShutdownTimeout bounds the convergence wait of TakeCleanSnapshot.
	DefaultShutdownTimeout = 180 * time.Second
	// TimestampLayout formats the suffix appended to snapshot descriptions.
	TimestampLayout = "2006-01-02 15:04:05"
)

// ErrGroupNotDown is returned when members are still up after the
// convergence wait.
var ErrGroupNotDown = errors.New("group did not power down")

// Options configure a Group.
type Options struct {
	PollInterval time.Duration
	Machine      machine.Options

	// Now and Sleep default to the wall clock. Tests replace them.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Group is an ordered, name-unique set of machines driven together. Bulk
// operations run one member at a time in insertion order and stop at the
// first failure. A Group is not safe for concurrent use.
type Group struct {
	Logger   *logger.Logger
	platform machine.Platform
	opts     Options
	machines []*machine.Machine
}

// New creates an empty group bound to a platform session.
func New(p machine.Platform, log *logger.Logger, opts Options) *Group {
	if log == nil {
		log = logger.Discard()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Group{
		Logger:   log,
		platform: p,
		opts:     opts,
	}
}

// PollInterval returns the convergence wait cadence.
func (g *Group) PollInterval() time.Duration {
	return g.opts.PollInterval
}

// Load adds every name in order. It stops at the first name that cannot be
// resolved; names added before it stay in the group.
func (g *Group) Load(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := g.AddMachine(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// AddMachine appends the named VM. It returns false without touching the
// group if a member with that name already exists.
func (g *Group) AddMachine(ctx context.Context, name string) (bool, error) {
	if g.find(name) >= 0 {
		g.Logger.Info("VM is already part of the group", logger.Action("group_add"), logger.Status("already_present"), logger.VM(name))
		return false, nil
	}

	inventory, err := g.platform.Inventory(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list virtual machines: %w", err)
	}
	m, err := machine.Resolve(name, inventory, g.platform, g.Logger, g.opts.Machine)
	if err != nil {
		return false, err
	}

	g.machines = append(g.machines, m)
	g.Logger.Info("Adding VM", logger.Action("group_add"), logger.Status("added"), logger.VM(name))
	return true, nil
}

// RemoveMachine drops the named member. The remote VM is not affected.
func (g *Group) RemoveMachine(name string) bool {
	i := g.find(name)
	if i < 0 {
		g.Logger.Info("VM is not part of the group", logger.Action("group_remove"), logger.Status("not_present"), logger.VM(name))
		return false
	}
	g.machines = append(g.machines[:i], g.machines[i+1:]...)
	g.Logger.Info("Removing VM", logger.Action("group_remove"), logger.Status("removed"), logger.VM(name))
	return true
}

// Contains reports whether a member has this name.
func (g *Group) Contains(name string) bool {
	return g.find(name) >= 0
}

// Len returns the number of members.
func (g *Group) Len() int {
	return len(g.machines)
}

// Names returns the member names in insertion order.
func (g *Group) Names() []string {
	names := make([]string, 0, len(g.machines))
	for _, m := range g.machines {
		names = append(names, m.Name())
	}
	return names
}

// Machines returns the members in insertion order.
func (g *Group) Machines() []*machine.Machine {
	out := make([]*machine.Machine, len(g.machines))
	copy(out, g.machines)
	return out
}

func (g *Group) find(name string) int {
	for i, m := range g.machines {
		if m.Name() == name {
			return i
		}
	}
	return -1
}

// MachineState is a point-in-time view of one member.
type MachineState struct {
	Name       string            `json:"name" yaml:"name"`
	PowerState models.PowerState `json:"power_state" yaml:"power_state"`
	Host       string            `json:"host" yaml:"host"`
	Down       bool              `json:"down" yaml:"down"`
}

// State queries every member afresh.
func (g *Group) State(ctx context.Context) ([]MachineState, error) {
	states := make([]MachineState, 0, len(g.machines))
	for _, m := range g.machines {
		d, err := m.Describe(ctx)
		if err != nil {
			return nil, err
		}
		g.Logger.Debug("VM state", logger.Action("state"), logger.VM(m.Name()), logger.PowerState(string(d.PowerState)), logger.Host(d.Host))
		states = append(states, MachineState{
			Name:       m.Name(),
			PowerState: d.PowerState,
			Host:       d.Host,
			Down:       d.PowerState.IsDown(),
		})
	}
	return states, nil
}

// ShutdownAll requests a guest shutdown on every member that is not down.
// It does not wait; see IsGroupDown.
func (g *Group) ShutdownAll(ctx context.Context) error {
	for _, m := range g.machines {
		if err := m.ShutdownGuest(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PowerOnAll requests power on for every member that is down. It does not
// wait.
func (g *Group) PowerOnAll(ctx context.Context) error {
	for _, m := range g.machines {
		down, err := m.IsDown(ctx)
		if err != nil {
			return err
		}
		if !down {
			g.Logger.Info("VM is already up", logger.Action("power_on"), logger.Status("skipped"), logger.VM(m.Name()))
			continue
		}
		g.Logger.Info("Powering up VM", logger.Action("power_on"), logger.VM(m.Name()))
		if err := m.PowerOn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// TakeSnapshotAll snapshots every member with the same name and timestamp.
func (g *Group) TakeSnapshotAll(ctx context.Context, name, description string) error {
	timestamp := g.opts.Now().Format(TimestampLayout)
	for _, m := range g.machines {
		if err := m.TakeSnapshot(ctx, name, description, timestamp); err != nil {
			return err
		}
	}
	return nil
}

// TakeCleanSnapshot shuts the group down, waits for every member to power
// off and only then snapshots all of them.
func (g *Group) TakeCleanSnapshot(ctx context.Context, name, description string, timeout time.Duration) error {
	if err := g.ShutdownAll(ctx); err != nil {
		return err
	}
	down, err := g.IsGroupDown(ctx, timeout)
	if err != nil {
		return err
	}
	if !down {
		g.Logger.Error("Could not power down group, snapshot not taken", logger.Action("snapshot_create"), logger.Status("aborted"), logger.Snapshot(name))
		return fmt.Errorf("snapshot %q not taken: %w", name, ErrGroupNotDown)
	}
	return g.TakeSnapshotAll(ctx, name, description)
}

// RevertAllToCurrent reverts every member to its current snapshot.
func (g *Group) RevertAllToCurrent(ctx context.Context) error {
	for _, m := range g.machines {
		if err := m.RevertToCurrentSnapshot(ctx); err != nil {
			return err
		}
	}
	return nil
}

// GoToSnapshotAll reverts every member to the named snapshot and returns the
// members where it was not found.
func (g *Group) GoToSnapshotAll(ctx context.Context, name string) ([]string, error) {
	var missing []string
	for _, m := range g.machines {
		found, err := m.GoToSnapshot(ctx, name)
		if err != nil {
			return missing, err
		}
		if !found {
			missing = append(missing, m.Name())
		}
	}
	return missing, nil
}

// RemoveSnapshotAll removes the named snapshot from every member and returns
// the members where it was not found.
func (g *Group) RemoveSnapshotAll(ctx context.Context, name string, includeChildren bool) ([]string, error) {
	var missing []string
	for _, m := range g.machines {
		found, err := m.RemoveSnapshot(ctx, name, includeChildren)
		if err != nil {
			return missing, err
		}
		if !found {
			missing = append(missing, m.Name())
		}
	}
	return missing, nil
}

// MachineSnapshots pairs a member with its freshly built snapshot tree.
type MachineSnapshots struct {
	Name string
	Tree *snapshot.Tree
}

// Snapshots rebuilds the snapshot tree of every member.
func (g *Group) Snapshots(ctx context.Context) ([]MachineSnapshots, error) {
	out := make([]MachineSnapshots, 0, len(g.machines))
	for _, m := range g.machines {
		tree, err := m.Snapshots(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, MachineSnapshots{Name: m.Name(), Tree: tree})
	}
	return out, nil
}

// CurrentSnapshot names the snapshot a member currently sits on. Snapshot is
// empty when the member has none.
type CurrentSnapshot struct {
	Name     string `json:"name" yaml:"name"`
	Snapshot string `json:"snapshot" yaml:"snapshot"`
	ID       int32  `json:"id" yaml:"id"`
}

// CurrentSnapshots reports the current snapshot of every member.
func (g *Group) CurrentSnapshots(ctx context.Context) ([]CurrentSnapshot, error) {
	out := make([]CurrentSnapshot, 0, len(g.machines))
	for _, m := range g.machines {
		node, ok, err := m.CurrentSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		cs := CurrentSnapshot{Name: m.Name(), ID: snapshot.NoParent}
		if ok {
			cs.Snapshot = node.Name
			cs.ID = node.ID
		}
		out = append(out, cs)
	}
	return out, nil
}
