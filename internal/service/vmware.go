package service

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/methods"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/EpicMandM/vsphere-group-manager/internal/config"
	"github.com/EpicMandM/vsphere-group-manager/internal/logger"
	"github.com/EpicMandM/vsphere-group-manager/internal/machine"
	"github.com/EpicMandM/vsphere-group-manager/internal/models"
)

var vmProperties = []string{"name", "runtime.powerState", "runtime.host", "snapshot"}

// VMwareService is the vSphere session every machine of a group shares.
type VMwareService struct {
	client *govmomi.Client
	vim    *vim25.Client
	logger *logger.Logger
}

var _ machine.Platform = (*VMwareService)(nil)

// NewVMwareService logs in to the configured endpoint.
func NewVMwareService(ctx context.Context, cfg *config.Config, log *logger.Logger) (*VMwareService, error) {
	if log == nil {
		log = logger.NewWithWriter(io.Discard)
	}
	u, err := cfg.URL()
	if err != nil {
		return nil, err
	}

	client, err := govmomi.NewClient(ctx, u, cfg.VSphereInsecure)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	log.Info("Connected to vSphere",
		logger.Action("connect"),
		logger.Status("success"),
		logger.Host(u.Host),
		logger.F("ABOUT", client.ServiceContent.About.FullName))

	return &VMwareService{
		client: client,
		vim:    client.Client,
		logger: log,
	}, nil
}

// NewVMwareServiceFromClient wraps an already authenticated SOAP client.
// Close does not log it out.
func NewVMwareServiceFromClient(c *vim25.Client, log *logger.Logger) *VMwareService {
	if log == nil {
		log = logger.NewWithWriter(io.Discard)
	}
	return &VMwareService{vim: c, logger: log}
}

// About returns the product name of the connected endpoint.
func (s *VMwareService) About() string {
	return s.vim.ServiceContent.About.FullName
}

// Close ends the session.
func (s *VMwareService) Close(ctx context.Context) error {
	if s.client != nil {
		return s.client.Logout(ctx)
	}
	return nil
}

// Inventory lists every virtual machine visible from the root folder.
func (s *VMwareService) Inventory(ctx context.Context) ([]models.VMDescriptor, error) {
	if s == nil {
		return nil, fmt.Errorf("service not initialized")
	}

	m := view.NewManager(s.vim)
	v, err := m.CreateContainerView(ctx, s.vim.ServiceContent.RootFolder, []string{"VirtualMachine"}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create container view: %w", err)
	}
	defer func() {
		_ = v.Destroy(ctx)
	}()

	var vms []mo.VirtualMachine
	if err := v.Retrieve(ctx, []string{"VirtualMachine"}, vmProperties, &vms); err != nil {
		return nil, fmt.Errorf("failed to list virtual machines: %w", err)
	}

	hosts, err := s.hostNames(ctx, vms)
	if err != nil {
		return nil, err
	}

	inventory := make([]models.VMDescriptor, 0, len(vms))
	for _, mvm := range vms {
		if d, ok := s.inventoryEntry(mvm, hosts); ok {
			inventory = append(inventory, d)
		}
	}
	sort.SliceStable(inventory, func(i, j int) bool {
		return inventory[i].Name < inventory[j].Name
	})
	return inventory, nil
}

// Describe fetches name, power state, host and snapshot tree of one VM.
func (s *VMwareService) Describe(ctx context.Context, ref types.ManagedObjectReference) (models.VMDescriptor, error) {
	var mvm mo.VirtualMachine
	pc := property.DefaultCollector(s.vim)
	if err := pc.RetrieveOne(ctx, ref, vmProperties, &mvm); err != nil {
		if isNotFound(err) {
			return models.VMDescriptor{}, fmt.Errorf("virtual machine %s: %w", ref.Value, machine.ErrNotFound)
		}
		return models.VMDescriptor{}, fmt.Errorf("failed to retrieve properties of %s: %w", ref.Value, err)
	}
	if mvm.Self.Value == "" {
		return models.VMDescriptor{}, fmt.Errorf("virtual machine %s: %w", ref.Value, machine.ErrNotFound)
	}

	hosts, err := s.hostNames(ctx, []mo.VirtualMachine{mvm})
	if err != nil {
		return models.VMDescriptor{}, err
	}
	return toDescriptor(mvm, hosts)
}

// hostNames resolves the runtime host of every VM to its display name.
func (s *VMwareService) hostNames(ctx context.Context, vms []mo.VirtualMachine) (map[string]string, error) {
	seen := make(map[string]bool)
	var refs []types.ManagedObjectReference
	for _, vm := range vms {
		if vm.Runtime.Host == nil || seen[vm.Runtime.Host.Value] {
			continue
		}
		seen[vm.Runtime.Host.Value] = true
		refs = append(refs, *vm.Runtime.Host)
	}
	names := make(map[string]string, len(refs))
	if len(refs) == 0 {
		return names, nil
	}

	var hosts []mo.HostSystem
	pc := property.DefaultCollector(s.vim)
	if err := pc.Retrieve(ctx, refs, []string{"name"}, &hosts); err != nil {
		return nil, fmt.Errorf("failed to resolve host names: %w", err)
	}
	for _, h := range hosts {
		names[h.Self.Value] = h.Name
	}
	return names, nil
}

func (s *VMwareService) ShutdownGuest(ctx context.Context, vm types.ManagedObjectReference) error {
	return object.NewVirtualMachine(s.vim, vm).ShutdownGuest(ctx)
}

func (s *VMwareService) PowerOn(ctx context.Context, vm types.ManagedObjectReference) (types.ManagedObjectReference, error) {
	task, err := object.NewVirtualMachine(s.vim, vm).PowerOn(ctx)
	if err != nil {
		return types.ManagedObjectReference{}, err
	}
	return task.Reference(), nil
}

func (s *VMwareService) CreateSnapshot(ctx context.Context, vm types.ManagedObjectReference, name, description string, memory, quiesce bool) (types.ManagedObjectReference, error) {
	task, err := object.NewVirtualMachine(s.vim, vm).CreateSnapshot(ctx, name, description, memory, quiesce)
	if err != nil {
		return types.ManagedObjectReference{}, err
	}
	return task.Reference(), nil
}

func (s *VMwareService) RevertToCurrentSnapshot(ctx context.Context, vm types.ManagedObjectReference) (types.ManagedObjectReference, error) {
	task, err := object.NewVirtualMachine(s.vim, vm).RevertToCurrentSnapshot(ctx, false)
	if err != nil {
		return types.ManagedObjectReference{}, err
	}
	return task.Reference(), nil
}

// RevertSnapshot reverts the owning VM to the given snapshot.
func (s *VMwareService) RevertSnapshot(ctx context.Context, snapshot types.ManagedObjectReference) (types.ManagedObjectReference, error) {
	req := types.RevertToSnapshot_Task{
		This: snapshot,
	}
	res, err := methods.RevertToSnapshot_Task(ctx, s.vim, &req)
	if err != nil {
		return types.ManagedObjectReference{}, err
	}
	return res.Returnval, nil
}

// RemoveSnapshot deletes the given snapshot, and its whole subtree when
// removeChildren is set.
func (s *VMwareService) RemoveSnapshot(ctx context.Context, snapshot types.ManagedObjectReference, removeChildren bool) (types.ManagedObjectReference, error) {
	req := types.RemoveSnapshot_Task{
		This:           snapshot,
		RemoveChildren: removeChildren,
	}
	res, err := methods.RemoveSnapshot_Task(ctx, s.vim, &req)
	if err != nil {
		return types.ManagedObjectReference{}, err
	}
	return res.Returnval, nil
}

// AwaitTask blocks until the task finishes and returns its fault, if any.
func (s *VMwareService) AwaitTask(ctx context.Context, task types.ManagedObjectReference) error {
	return object.NewTask(s.vim, task).Wait(ctx)
}

func isNotFound(err error) bool {
	if !soap.IsSoapFault(err) {
		return false
	}
	_, ok := soap.ToSoapFault(err).VimFault().(types.ManagedObjectNotFound)
	return ok
}

// inventoryEntry keeps a VM whose snapshot tree is invalid so it can still be
// resolved by name; the tree error resurfaces from Describe when a snapshot
// operation needs it. Only VMs without a name or reference are dropped.
func (s *VMwareService) inventoryEntry(mvm mo.VirtualMachine, hosts map[string]string) (models.VMDescriptor, bool) {
	d, err := toDescriptor(mvm, hosts)
	if err == nil {
		return d, true
	}
	base := baseDescriptor(mvm, hosts)
	if verr := base.Validate(); verr != nil {
		s.logger.Warn("Skipping VM with invalid properties", logger.VM(mvm.Name), logger.Error(verr))
		return models.VMDescriptor{}, false
	}
	s.logger.Warn("Listing VM without its snapshot tree", logger.VM(mvm.Name), logger.Status("invalid_snapshots"), logger.Error(err))
	return base, true
}

func baseDescriptor(mvm mo.VirtualMachine, hosts map[string]string) models.VMDescriptor {
	d := models.VMDescriptor{
		Ref:        mvm.Self,
		Name:       mvm.Name,
		PowerState: models.PowerState(mvm.Runtime.PowerState),
	}
	if mvm.Runtime.Host != nil {
		d.Host = hosts[mvm.Runtime.Host.Value]
	}
	return d
}

// toDescriptor converts retrieved properties into a validated descriptor.
func toDescriptor(mvm mo.VirtualMachine, hosts map[string]string) (models.VMDescriptor, error) {
	d := baseDescriptor(mvm, hosts)
	if mvm.Snapshot != nil {
		d.Snapshot = &models.SnapshotInfo{
			Current: mvm.Snapshot.CurrentSnapshot,
			Roots:   extractSnapshots(mvm.Snapshot.RootSnapshotList),
		}
	}
	if err := d.Validate(); err != nil {
		return models.VMDescriptor{}, fmt.Errorf("invalid descriptor: %w", err)
	}
	return d, nil
}

func extractSnapshots(snapshots []types.VirtualMachineSnapshotTree) []models.SnapshotDescriptor {
	if len(snapshots) == 0 {
		return nil
	}
	result := make([]models.SnapshotDescriptor, 0, len(snapshots))
	for _, snapshot := range snapshots {
		result = append(result, models.SnapshotDescriptor{
			Ref:         snapshot.Snapshot,
			ID:          snapshot.Id,
			Name:        snapshot.Name,
			Description: snapshot.Description,
			Created:     snapshot.CreateTime,
			State:       models.PowerState(snapshot.State),
			Quiesced:    snapshot.Quiesced,
			Children:    extractSnapshots(snapshot.ChildSnapshotList),
		})
	}
	return result
}
