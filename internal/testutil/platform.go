// Package testutil provides a recording in-memory platform for machine and
// group tests.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/vmware/govmomi/vim25/types"

	"github.com/EpicMandM/vsphere-group-manager/internal/models"
)

// Call records one mutating platform request.
type Call struct {
	Method         string
	VM             string
	Snapshot       string
	Task           string
	Name           string
	Description    string
	Memory         bool
	Quiesce        bool
	RemoveChildren bool
}

// FakePlatform implements machine.Platform over a fixed inventory.
type FakePlatform struct {
	mu sync.Mutex

	vms []models.VMDescriptor

	// Optional overrides.
	InventoryFunc func(ctx context.Context) ([]models.VMDescriptor, error)
	DescribeFunc  func(ctx context.Context, vm types.ManagedObjectReference) (models.VMDescriptor, error)
	AwaitFunc     func(ctx context.Context, task types.ManagedObjectReference) error

	// ShutdownPowersOff flips a VM to poweredOff as soon as a guest
	// shutdown is requested.
	ShutdownPowersOff bool

	Calls          []Call
	InventoryCalls int
	DescribeCalls  int

	taskSeq int
}

// NewFakePlatform returns a platform whose inventory is vms, in order.
func NewFakePlatform(vms ...models.VMDescriptor) *FakePlatform {
	return &FakePlatform{vms: vms}
}

// VM builds a descriptor with a reference derived from the name.
func VM(name string, state models.PowerState) models.VMDescriptor {
	return models.VMDescriptor{
		Ref:        VMRef(name),
		Name:       name,
		PowerState: state,
		Host:       "esx-01.lab",
	}
}

// VMRef returns the reference VM(name) uses.
func VMRef(name string) types.ManagedObjectReference {
	return types.ManagedObjectReference{Type: "VirtualMachine", Value: "vm-" + name}
}

// SnapshotRef returns a snapshot reference for tests.
func SnapshotRef(value string) types.ManagedObjectReference {
	return types.ManagedObjectReference{Type: "VirtualMachineSnapshot", Value: value}
}

// WithSnapshots attaches snapshot info to a descriptor.
func WithSnapshots(vm models.VMDescriptor, current *types.ManagedObjectReference, roots ...models.SnapshotDescriptor) models.VMDescriptor {
	vm.Snapshot = &models.SnapshotInfo{Current: current, Roots: roots}
	return vm
}

// SetPowerState changes the state of the named VM.
func (f *FakePlatform) SetPowerState(name string, state models.PowerState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.vms {
		if f.vms[i].Name == name {
			f.vms[i].PowerState = state
		}
	}
}

// CallsFor returns the recorded calls of one method.
func (f *FakePlatform) CallsFor(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakePlatform) Inventory(ctx context.Context) ([]models.VMDescriptor, error) {
	f.mu.Lock()
	f.InventoryCalls++
	fn := f.InventoryFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.VMDescriptor, len(f.vms))
	copy(out, f.vms)
	return out, nil
}

func (f *FakePlatform) Describe(ctx context.Context, vm types.ManagedObjectReference) (models.VMDescriptor, error) {
	f.mu.Lock()
	f.DescribeCalls++
	fn := f.DescribeFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, vm)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.find(vm)
	if err != nil {
		return models.VMDescriptor{}, err
	}
	return f.vms[i], nil
}

func (f *FakePlatform) ShutdownGuest(_ context.Context, vm types.ManagedObjectReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.find(vm)
	if err != nil {
		return err
	}
	f.Calls = append(f.Calls, Call{Method: "ShutdownGuest", VM: f.vms[i].Name})
	if f.ShutdownPowersOff {
		f.vms[i].PowerState = models.PoweredOff
	}
	return nil
}

func (f *FakePlatform) PowerOn(_ context.Context, vm types.ManagedObjectReference) (types.ManagedObjectReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.find(vm)
	if err != nil {
		return types.ManagedObjectReference{}, err
	}
	task := f.nextTask()
	f.Calls = append(f.Calls, Call{Method: "PowerOn", VM: f.vms[i].Name, Task: task.Value})
	return task, nil
}

func (f *FakePlatform) CreateSnapshot(_ context.Context, vm types.ManagedObjectReference, name, description string, memory, quiesce bool) (types.ManagedObjectReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.find(vm)
	if err != nil {
		return types.ManagedObjectReference{}, err
	}
	task := f.nextTask()
	f.Calls = append(f.Calls, Call{
		Method:      "CreateSnapshot",
		VM:          f.vms[i].Name,
		Task:        task.Value,
		Name:        name,
		Description: description,
		Memory:      memory,
		Quiesce:     quiesce,
	})
	return task, nil
}

func (f *FakePlatform) RevertToCurrentSnapshot(_ context.Context, vm types.ManagedObjectReference) (types.ManagedObjectReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.find(vm)
	if err != nil {
		return types.ManagedObjectReference{}, err
	}
	task := f.nextTask()
	f.Calls = append(f.Calls, Call{Method: "RevertToCurrentSnapshot", VM: f.vms[i].Name, Task: task.Value})
	return task, nil
}

func (f *FakePlatform) RevertSnapshot(_ context.Context, snapshot types.ManagedObjectReference) (types.ManagedObjectReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := f.nextTask()
	f.Calls = append(f.Calls, Call{Method: "RevertSnapshot", VM: f.ownerOf(snapshot), Snapshot: snapshot.Value, Task: task.Value})
	return task, nil
}

func (f *FakePlatform) RemoveSnapshot(_ context.Context, snapshot types.ManagedObjectReference, removeChildren bool) (types.ManagedObjectReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := f.nextTask()
	f.Calls = append(f.Calls, Call{
		Method:         "RemoveSnapshot",
		VM:             f.ownerOf(snapshot),
		Snapshot:       snapshot.Value,
		Task:           task.Value,
		RemoveChildren: removeChildren,
	})
	return task, nil
}

func (f *FakePlatform) AwaitTask(ctx context.Context, task types.ManagedObjectReference) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Method: "AwaitTask", Task: task.Value})
	fn := f.AwaitFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, task)
	}
	return nil
}

func (f *FakePlatform) find(vm types.ManagedObjectReference) (int, error) {
	for i := range f.vms {
		if f.vms[i].Ref.Value == vm.Value {
			return i, nil
		}
	}
	return -1, fmt.Errorf("managed object %s not found", vm.Value)
}

func (f *FakePlatform) nextTask() types.ManagedObjectReference {
	f.taskSeq++
	return types.ManagedObjectReference{Type: "Task", Value: fmt.Sprintf("task-%d", f.taskSeq)}
}

func (f *FakePlatform) ownerOf(snapshot types.ManagedObjectReference) string {
	for _, vm := range f.vms {
		if vm.Snapshot != nil && containsSnapshot(vm.Snapshot.Roots, snapshot.Value) {
			return vm.Name
		}
	}
	return ""
}

func containsSnapshot(list []models.SnapshotDescriptor, value string) bool {
	for _, d := range list {
		if d.Ref.Value == value || containsSnapshot(d.Children, value) {
			return true
		}
	}
	return false
}
