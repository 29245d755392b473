package models

import (
	"fmt"
	"time"

	"github.com/vmware/govmomi/vim25/types"
)

// PowerState mirrors the vSphere VirtualMachinePowerState values.
type PowerState string

const (
	PoweredOn  PowerState = "poweredOn"
	PoweredOff PowerState = "poweredOff"
	Suspended  PowerState = "suspended"
)

// IsDown reports whether the state counts as down. Only poweredOff does;
// a suspended machine is still considered up.
func (p PowerState) IsDown() bool {
	return p == PoweredOff
}

// VMDescriptor is one entry of the platform inventory.
type VMDescriptor struct {
	Ref        types.ManagedObjectReference `json:"-" yaml:"-"`
	Name       string                       `json:"name" yaml:"name"`
	PowerState PowerState                   `json:"power_state" yaml:"power_state"`
	Host       string                       `json:"host" yaml:"host"`
	Snapshot   *SnapshotInfo                `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
}

// SnapshotInfo is the snapshot state of a single VM: the root descriptors and
// the platform's pointer to the current snapshot. Current is nil when the VM
// has no snapshots.
type SnapshotInfo struct {
	Current *types.ManagedObjectReference `json:"-" yaml:"-"`
	Roots   []SnapshotDescriptor          `json:"roots" yaml:"roots"`
}

// SnapshotDescriptor represents a snapshot of a virtual machine and its
// children as reported by the platform.
type SnapshotDescriptor struct {
	Ref         types.ManagedObjectReference `json:"-" yaml:"-"`
	ID          int32                        `json:"id" yaml:"id"`
	Name        string                       `json:"name" yaml:"name"`
	Description string                       `json:"description" yaml:"description"`
	Created     time.Time                    `json:"created" yaml:"created"`
	State       PowerState                   `json:"state" yaml:"state"`
	Quiesced    bool                         `json:"quiesced" yaml:"quiesced"`
	Children    []SnapshotDescriptor         `json:"children,omitempty" yaml:"children,omitempty"`
}

// Validate checks the descriptor before it is handed to the tree builder.
func (d *VMDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("vm %s has no name", d.Ref.Value)
	}
	if d.Ref.Value == "" {
		return fmt.Errorf("vm %q has no managed object reference", d.Name)
	}
	if d.Snapshot != nil {
		if err := d.Snapshot.Validate(); err != nil {
			return fmt.Errorf("vm %q: %w", d.Name, err)
		}
	}
	return nil
}

// Validate enforces unique snapshot ids and references across the whole tree,
// and that Current, when set, points into it.
func (s *SnapshotInfo) Validate() error {
	ids := make(map[int32]bool)
	refs := make(map[string]bool)
	if err := validateSnapshots(s.Roots, ids, refs); err != nil {
		return err
	}
	if s.Current != nil && !refs[s.Current.Value] {
		return fmt.Errorf("current snapshot %s is not part of the snapshot tree", s.Current.Value)
	}
	return nil
}

func validateSnapshots(list []SnapshotDescriptor, ids map[int32]bool, refs map[string]bool) error {
	for i := range list {
		d := &list[i]
		if d.Ref.Value == "" {
			return fmt.Errorf("snapshot %q has no managed object reference", d.Name)
		}
		if ids[d.ID] {
			return fmt.Errorf("duplicate snapshot id %d", d.ID)
		}
		if refs[d.Ref.Value] {
			return fmt.Errorf("duplicate snapshot reference %s", d.Ref.Value)
		}
		ids[d.ID] = true
		refs[d.Ref.Value] = true
		if err := validateSnapshots(d.Children, ids, refs); err != nil {
			return err
		}
	}
	return nil
}
