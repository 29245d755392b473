package machine

import (
	"context"
	"errors"

	"github.com/vmware/govmomi/vim25/types"

	"github.com/EpicMandM/vsphere-group-manager/internal/models"
)

var (
	// ErrNotFound is returned when a VM name is absent from the inventory.
	ErrNotFound = errors.New("not found")
	// ErrTaskFailed wraps the failure of an awaited platform task.
	ErrTaskFailed = errors.New("task failed")
)

// Platform abstracts the virtualization platform session so machines and
// groups can be driven by a fake in tests. Methods returning a task
// reference only submit the operation; AwaitTask blocks until it finishes.
//
// In production this is satisfied by *service.VMwareService.
type Platform interface {
	// Inventory lists every VM visible to the session.
	Inventory(ctx context.Context) ([]models.VMDescriptor, error)

	// Describe fetches the current state of a single VM.
	Describe(ctx context.Context, vm types.ManagedObjectReference) (models.VMDescriptor, error)

	// ShutdownGuest asks the guest OS to shut down. It does not wait.
	ShutdownGuest(ctx context.Context, vm types.ManagedObjectReference) error

	// PowerOn submits a power-on request.
	PowerOn(ctx context.Context, vm types.ManagedObjectReference) (types.ManagedObjectReference, error)

	// CreateSnapshot submits a snapshot creation.
	CreateSnapshot(ctx context.Context, vm types.ManagedObjectReference, name, description string, memory, quiesce bool) (types.ManagedObjectReference, error)

	// RevertToCurrentSnapshot reverts using the platform's own current pointer.
	RevertToCurrentSnapshot(ctx context.Context, vm types.ManagedObjectReference) (types.ManagedObjectReference, error)

	// RevertSnapshot reverts the owning VM to the given snapshot.
	RevertSnapshot(ctx context.Context, snapshot types.ManagedObjectReference) (types.ManagedObjectReference, error)

	// RemoveSnapshot deletes a snapshot, and its whole subtree when
	// removeChildren is set.
	RemoveSnapshot(ctx context.Context, snapshot types.ManagedObjectReference, removeChildren bool) (types.ManagedObjectReference, error)

	// AwaitTask blocks until the task completes and returns its failure, if any.
	AwaitTask(ctx context.Context, task types.ManagedObjectReference) error
}
