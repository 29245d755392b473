package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmware/govmomi/simulator"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/EpicMandM/vsphere-group-manager/internal/config"
	"github.com/EpicMandM/vsphere-group-manager/internal/logger"
	"github.com/EpicMandM/vsphere-group-manager/internal/models"
	"github.com/EpicMandM/vsphere-group-manager/internal/snapshot"
)

func snapRef(value string) types.ManagedObjectReference {
	return types.ManagedObjectReference{Type: "VirtualMachineSnapshot", Value: value}
}

// --- extractSnapshots tests ---

func TestExtractSnapshots_Empty(t *testing.T) {
	assert.Nil(t, extractSnapshots(nil))
}

func TestExtractSnapshots_KeepsShape(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tree := []types.VirtualMachineSnapshotTree{
		{
			Snapshot:    snapRef("snap-a"),
			Id:          1,
			Name:        "A",
			Description: "base on 2025-01-01 00:00:00",
			CreateTime:  created,
			State:       types.VirtualMachinePowerStatePoweredOff,
			ChildSnapshotList: []types.VirtualMachineSnapshotTree{
				{Snapshot: snapRef("snap-b"), Id: 2, Name: "B"},
				{
					Snapshot: snapRef("snap-c"),
					Id:       3,
					Name:     "C",
					Quiesced: true,
					ChildSnapshotList: []types.VirtualMachineSnapshotTree{
						{Snapshot: snapRef("snap-d"), Id: 4, Name: "D"},
					},
				},
			},
		},
	}

	got := extractSnapshots(tree)
	require.Len(t, got, 1)
	root := got[0]
	assert.Equal(t, "snap-a", root.Ref.Value)
	assert.Equal(t, int32(1), root.ID)
	assert.Equal(t, created, root.Created)
	assert.Equal(t, models.PoweredOff, root.State)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "B", root.Children[0].Name)
	assert.True(t, root.Children[1].Quiesced)
	require.Len(t, root.Children[1].Children, 1)
	assert.Equal(t, "D", root.Children[1].Children[0].Name)

	// the converted tree flattens to A, B, C, D in pre-order
	var names []string
	for _, n := range snapshot.Build(got, nil).Nodes() {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, names)
}

// --- toDescriptor tests ---

func TestToDescriptor(t *testing.T) {
	host := types.ManagedObjectReference{Type: "HostSystem", Value: "host-1"}
	current := snapRef("snap-b")

	mvm := mo.VirtualMachine{}
	mvm.Self = types.ManagedObjectReference{Type: "VirtualMachine", Value: "vm-42"}
	mvm.Name = "web01"
	mvm.Runtime.PowerState = types.VirtualMachinePowerStateSuspended
	mvm.Runtime.Host = &host
	mvm.Snapshot = &types.VirtualMachineSnapshotInfo{
		CurrentSnapshot: &current,
		RootSnapshotList: []types.VirtualMachineSnapshotTree{
			{Snapshot: snapRef("snap-a"), Id: 1, Name: "A", ChildSnapshotList: []types.VirtualMachineSnapshotTree{
				{Snapshot: snapRef("snap-b"), Id: 2, Name: "B"},
			}},
		},
	}

	d, err := toDescriptor(mvm, map[string]string{"host-1": "esx-01.lab"})
	require.NoError(t, err)
	assert.Equal(t, "web01", d.Name)
	assert.Equal(t, "vm-42", d.Ref.Value)
	assert.Equal(t, models.Suspended, d.PowerState)
	assert.False(t, d.PowerState.IsDown())
	assert.Equal(t, "esx-01.lab", d.Host)
	require.NotNil(t, d.Snapshot)
	assert.Equal(t, "snap-b", d.Snapshot.Current.Value)
}

func TestToDescriptor_NoSnapshotsNoHost(t *testing.T) {
	mvm := mo.VirtualMachine{}
	mvm.Self = types.ManagedObjectReference{Type: "VirtualMachine", Value: "vm-1"}
	mvm.Name = "db01"
	mvm.Runtime.PowerState = types.VirtualMachinePowerStatePoweredOff

	d, err := toDescriptor(mvm, nil)
	require.NoError(t, err)
	assert.Nil(t, d.Snapshot)
	assert.Empty(t, d.Host)
	assert.Equal(t, 0, snapshot.BuildFromInfo(d.Snapshot).Len())
}

func TestToDescriptor_RejectsInvalidTree(t *testing.T) {
	tests := []struct {
		name    string
		info    *types.VirtualMachineSnapshotInfo
		wantErr string
	}{
		{
			name: "duplicate ids",
			info: &types.VirtualMachineSnapshotInfo{RootSnapshotList: []types.VirtualMachineSnapshotTree{
				{Snapshot: snapRef("snap-a"), Id: 1, Name: "A"},
				{Snapshot: snapRef("snap-b"), Id: 1, Name: "B"},
			}},
			wantErr: "duplicate snapshot id 1",
		},
		{
			name: "current outside tree",
			info: &types.VirtualMachineSnapshotInfo{
				CurrentSnapshot:  func() *types.ManagedObjectReference { r := snapRef("snap-x"); return &r }(),
				RootSnapshotList: []types.VirtualMachineSnapshotTree{{Snapshot: snapRef("snap-a"), Id: 1, Name: "A"}},
			},
			wantErr: "not part of the snapshot tree",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mvm := mo.VirtualMachine{}
			mvm.Self = types.ManagedObjectReference{Type: "VirtualMachine", Value: "vm-1"}
			mvm.Name = "broken"
			mvm.Snapshot = tt.info

			_, err := toDescriptor(mvm, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInventoryEntry(t *testing.T) {
	broken := mo.VirtualMachine{}
	broken.Self = types.ManagedObjectReference{Type: "VirtualMachine", Value: "vm-7"}
	broken.Name = "broken"
	broken.Runtime.PowerState = types.VirtualMachinePowerStatePoweredOn
	broken.Snapshot = &types.VirtualMachineSnapshotInfo{RootSnapshotList: []types.VirtualMachineSnapshotTree{
		{Snapshot: snapRef("snap-a"), Id: 1, Name: "A"},
		{Snapshot: snapRef("snap-b"), Id: 1, Name: "B"},
	}}

	t.Run("invalid snapshot tree keeps the vm resolvable", func(t *testing.T) {
		var buf bytes.Buffer
		s := &VMwareService{logger: logger.NewWithWriter(&buf)}

		d, ok := s.inventoryEntry(broken, nil)
		require.True(t, ok)
		assert.Equal(t, "broken", d.Name)
		assert.Equal(t, "vm-7", d.Ref.Value)
		assert.Equal(t, models.PoweredOn, d.PowerState)
		assert.Nil(t, d.Snapshot)
		assert.Contains(t, buf.String(), "VM=broken STATUS=invalid_snapshots")
		assert.Contains(t, buf.String(), "duplicate snapshot id 1")

		_, err := toDescriptor(broken, nil)
		assert.Error(t, err)
	})

	t.Run("vm without a name is dropped", func(t *testing.T) {
		var buf bytes.Buffer
		s := &VMwareService{logger: logger.NewWithWriter(&buf)}

		nameless := broken
		nameless.Name = ""
		_, ok := s.inventoryEntry(nameless, nil)
		assert.False(t, ok)
		assert.Contains(t, buf.String(), "MESSAGE=Skipping VM with invalid properties")
	})
}

// --- simulator tests ---

func findVM(t *testing.T, inventory []models.VMDescriptor, name string) models.VMDescriptor {
	t.Helper()
	for _, d := range inventory {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("vm %q not in inventory", name)
	return models.VMDescriptor{}
}

func TestVMwareService_Inventory(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		s := NewVMwareServiceFromClient(c, nil)

		inventory, err := s.Inventory(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, inventory)

		for i := 1; i < len(inventory); i++ {
			assert.LessOrEqual(t, inventory[i-1].Name, inventory[i].Name)
		}

		vm := findVM(t, inventory, "DC0_H0_VM0")
		assert.Equal(t, "VirtualMachine", vm.Ref.Type)
		assert.Equal(t, models.PoweredOn, vm.PowerState)
		assert.NotEmpty(t, vm.Host)

		d, err := s.Describe(ctx, vm.Ref)
		require.NoError(t, err)
		assert.Equal(t, vm.Name, d.Name)
		assert.Equal(t, vm.Host, d.Host)
	})
}

func TestVMwareService_SnapshotLifecycle(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		s := NewVMwareServiceFromClient(c, nil)
		inventory, err := s.Inventory(ctx)
		require.NoError(t, err)
		vm := findVM(t, inventory, "DC0_H0_VM0")

		task, err := s.CreateSnapshot(ctx, vm.Ref, "base", "clean on 2025-01-01 00:00:00", false, false)
		require.NoError(t, err)
		require.NoError(t, s.AwaitTask(ctx, task))

		d, err := s.Describe(ctx, vm.Ref)
		require.NoError(t, err)
		tree := snapshot.BuildFromInfo(d.Snapshot)
		node, ok := tree.Lookup("base")
		require.True(t, ok)
		assert.Equal(t, "clean on 2025-01-01 00:00:00", node.Description)
		cur, ok := tree.Current()
		require.True(t, ok)
		assert.Equal(t, node.Ref, cur.Ref)

		task, err = s.RevertSnapshot(ctx, node.Ref)
		require.NoError(t, err)
		require.NoError(t, s.AwaitTask(ctx, task))

		task, err = s.RevertToCurrentSnapshot(ctx, vm.Ref)
		require.NoError(t, err)
		require.NoError(t, s.AwaitTask(ctx, task))

		task, err = s.RemoveSnapshot(ctx, node.Ref, true)
		require.NoError(t, err)
		require.NoError(t, s.AwaitTask(ctx, task))

		d, err = s.Describe(ctx, vm.Ref)
		require.NoError(t, err)
		_, ok = snapshot.BuildFromInfo(d.Snapshot).Lookup("base")
		assert.False(t, ok)
	})
}

func TestVMwareService_Power(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		s := NewVMwareServiceFromClient(c, nil)
		inventory, err := s.Inventory(ctx)
		require.NoError(t, err)
		vm := findVM(t, inventory, "DC0_H0_VM1")

		require.NoError(t, s.ShutdownGuest(ctx, vm.Ref))
		require.Eventually(t, func() bool {
			d, err := s.Describe(ctx, vm.Ref)
			return err == nil && d.PowerState.IsDown()
		}, 5*time.Second, 50*time.Millisecond)

		task, err := s.PowerOn(ctx, vm.Ref)
		require.NoError(t, err)
		require.NoError(t, s.AwaitTask(ctx, task))

		d, err := s.Describe(ctx, vm.Ref)
		require.NoError(t, err)
		assert.Equal(t, models.PoweredOn, d.PowerState)
	})
}

func TestVMwareService_AwaitTaskReportsFault(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		s := NewVMwareServiceFromClient(c, nil)
		inventory, err := s.Inventory(ctx)
		require.NoError(t, err)
		vm := findVM(t, inventory, "DC0_H0_VM0")

		// already powered on
		task, err := s.PowerOn(ctx, vm.Ref)
		require.NoError(t, err)
		assert.Error(t, s.AwaitTask(ctx, task))
	})
}

func TestNewVMwareService_Simulator(t *testing.T) {
	simulator.Test(func(ctx context.Context, c *vim25.Client) {
		u := c.URL()
		cfg := &config.Config{
			VSphereURL:      u.Scheme + "://" + u.Host + u.Path,
			VSphereUsername: simulator.DefaultLogin.Username(),
			VSphereInsecure: true,
		}
		cfg.VSpherePassword, _ = simulator.DefaultLogin.Password()

		s, err := NewVMwareService(ctx, cfg, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, s.About())
		assert.NoError(t, s.Close(ctx))
	})
}

func TestClose_WithoutSession(t *testing.T) {
	s := &VMwareService{}
	assert.NoError(t, s.Close(context.Background()))
}
