package machine

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/EpicMandM/vsphere-group-manager/internal/logger"
	"github.com/EpicMandM/vsphere-group-manager/internal/models"
	"github.com/EpicMandM/vsphere-group-manager/internal/testutil"
)

// --- helpers ---

func snap(id int32, name string, children ...models.SnapshotDescriptor) models.SnapshotDescriptor {
	return models.SnapshotDescriptor{
		Ref:      testutil.SnapshotRef("snapshot-" + name),
		ID:       id,
		Name:     name,
		Children: children,
	}
}

func newTestMachine(t *testing.T, vm models.VMDescriptor, opts Options) (*Machine, *testutil.FakePlatform, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	p := testutil.NewFakePlatform(vm)
	m, err := Resolve(vm.Name, []models.VMDescriptor{vm}, p, logger.NewWithWriter(&buf), opts)
	require.NoError(t, err)
	return m, p, &buf
}

// --- Resolve tests ---

func TestResolve(t *testing.T) {
	inventory := []models.VMDescriptor{
		testutil.VM("web01", models.PoweredOn),
		testutil.VM("db01", models.PoweredOff),
	}

	t.Run("exact match", func(t *testing.T) {
		m, err := Resolve("db01", inventory, testutil.NewFakePlatform(inventory...), nil, DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, "db01", m.Name())
		assert.Equal(t, "vm-db01", m.Ref().Value)
		assert.Equal(t, "VM Name: db01", m.String())
	})

	t.Run("first hit wins", func(t *testing.T) {
		dup := inventory[0]
		dup.Ref = types.ManagedObjectReference{Type: "VirtualMachine", Value: "vm-other"}
		inv := append([]models.VMDescriptor{inventory[0]}, dup)
		m, err := Resolve("web01", inv, testutil.NewFakePlatform(inv...), nil, DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, "vm-web01", m.Ref().Value)
	})

	t.Run("no partial match", func(t *testing.T) {
		_, err := Resolve("web", inventory, testutil.NewFakePlatform(inventory...), nil, DefaultOptions())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), `"web"`)
	})
}

// --- state tests ---

func TestIsDown(t *testing.T) {
	tests := []struct {
		state models.PowerState
		want  bool
	}{
		{models.PoweredOff, true},
		{models.PoweredOn, false},
		{models.Suspended, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			m, _, _ := newTestMachine(t, testutil.VM("web01", tt.state), DefaultOptions())
			down, err := m.IsDown(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, down)
		})
	}
}

func TestIsDown_QueriesEveryTime(t *testing.T) {
	m, p, _ := newTestMachine(t, testutil.VM("web01", models.PoweredOn), DefaultOptions())
	ctx := context.Background()

	down, err := m.IsDown(ctx)
	require.NoError(t, err)
	assert.False(t, down)

	p.SetPowerState("web01", models.PoweredOff)
	down, err = m.IsDown(ctx)
	require.NoError(t, err)
	assert.True(t, down)
	assert.Equal(t, 2, p.DescribeCalls)
}

func TestIsDown_DescribeError(t *testing.T) {
	m, p, _ := newTestMachine(t, testutil.VM("web01", models.PoweredOn), DefaultOptions())
	p.DescribeFunc = func(ctx context.Context, vm types.ManagedObjectReference) (models.VMDescriptor, error) {
		return models.VMDescriptor{}, errors.New("session expired")
	}
	_, err := m.IsDown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session expired")
}

func TestHost(t *testing.T) {
	m, _, _ := newTestMachine(t, testutil.VM("web01", models.PoweredOn), DefaultOptions())
	host, err := m.Host(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "esx-01.lab", host)
}

// --- power tests ---

func TestShutdownGuest(t *testing.T) {
	t.Run("running vm gets a shutdown request", func(t *testing.T) {
		m, p, buf := newTestMachine(t, testutil.VM("web01", models.PoweredOn), DefaultOptions())
		require.NoError(t, m.ShutdownGuest(context.Background()))
		assert.Len(t, p.CallsFor("ShutdownGuest"), 1)
		assert.Equal(t, 1, p.DescribeCalls)
		assert.Contains(t, buf.String(), "VM=web01 POWER_STATE=poweredOn")
	})

	t.Run("powered off vm is skipped", func(t *testing.T) {
		m, p, buf := newTestMachine(t, testutil.VM("web01", models.PoweredOff), DefaultOptions())
		require.NoError(t, m.ShutdownGuest(context.Background()))
		assert.Empty(t, p.CallsFor("ShutdownGuest"))
		assert.Contains(t, buf.String(), "STATUS=skipped VM=web01 REASON=powered_off")
	})
}

func TestPowerOn_DoesNotAwait(t *testing.T) {
	m, p, _ := newTestMachine(t, testutil.VM("web01", models.PoweredOff), DefaultOptions())
	require.NoError(t, m.PowerOn(context.Background()))
	assert.Len(t, p.CallsFor("PowerOn"), 1)
	assert.Empty(t, p.CallsFor("AwaitTask"))
}

// --- snapshot tests ---

func TestTakeSnapshot(t *testing.T) {
	t.Run("empty description becomes the timestamp suffix", func(t *testing.T) {
		m, p, _ := newTestMachine(t, testutil.VM("web01", models.PoweredOff), DefaultOptions())
		require.NoError(t, m.TakeSnapshot(context.Background(), "base", "", "2025-06-01 10:00:00"))

		calls := p.CallsFor("CreateSnapshot")
		require.Len(t, calls, 1)
		assert.Equal(t, " on 2025-06-01 10:00:00", calls[0].Description)
		assert.Equal(t, "base", calls[0].Name)
		assert.False(t, calls[0].Memory)
		assert.False(t, calls[0].Quiesce)
	})

	t.Run("description is kept and suffixed", func(t *testing.T) {
		m, p, _ := newTestMachine(t, testutil.VM("web01", models.PoweredOff), DefaultOptions())
		require.NoError(t, m.TakeSnapshot(context.Background(), "base", "Taken by vmgr", "2025-06-01 10:00:00"))
		assert.Equal(t, "Taken by vmgr on 2025-06-01 10:00:00", p.CallsFor("CreateSnapshot")[0].Description)
	})

	t.Run("waits for the task", func(t *testing.T) {
		m, p, _ := newTestMachine(t, testutil.VM("web01", models.PoweredOff), DefaultOptions())
		require.NoError(t, m.TakeSnapshot(context.Background(), "base", "", "ts"))
		awaits := p.CallsFor("AwaitTask")
		require.Len(t, awaits, 1)
		assert.Equal(t, p.CallsFor("CreateSnapshot")[0].Task, awaits[0].Task)
	})

	t.Run("task failure is surfaced", func(t *testing.T) {
		m, p, _ := newTestMachine(t, testutil.VM("web01", models.PoweredOff), DefaultOptions())
		p.AwaitFunc = func(ctx context.Context, task types.ManagedObjectReference) error {
			return errors.New("insufficient disk space")
		}
		err := m.TakeSnapshot(context.Background(), "base", "", "ts")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTaskFailed)
		assert.Contains(t, err.Error(), "insufficient disk space")
	})
}

func TestRevertToCurrentSnapshot(t *testing.T) {
	current := testutil.SnapshotRef("snapshot-A")
	vm := testutil.WithSnapshots(testutil.VM("web01", models.PoweredOn), &current, snap(1, "A"))

	t.Run("reverts and waits without reading the tree", func(t *testing.T) {
		m, p, _ := newTestMachine(t, vm, DefaultOptions())
		require.NoError(t, m.RevertToCurrentSnapshot(context.Background()))
		assert.Len(t, p.CallsFor("RevertToCurrentSnapshot"), 1)
		assert.Len(t, p.CallsFor("AwaitTask"), 1)
		assert.Equal(t, 0, p.DescribeCalls)
	})

	t.Run("task failure", func(t *testing.T) {
		m, p, _ := newTestMachine(t, vm, DefaultOptions())
		p.AwaitFunc = func(ctx context.Context, task types.ManagedObjectReference) error {
			return errors.New("boom")
		}
		err := m.RevertToCurrentSnapshot(context.Background())
		assert.ErrorIs(t, err, ErrTaskFailed)
	})
}

func TestSnapshots_RebuiltOnEveryQuery(t *testing.T) {
	m, p, _ := newTestMachine(t, testutil.VM("web01", models.PoweredOn), DefaultOptions())
	ctx := context.Background()

	tree, err := m.Snapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Len())

	current := testutil.SnapshotRef("snapshot-B")
	p.DescribeFunc = func(ctx context.Context, vm types.ManagedObjectReference) (models.VMDescriptor, error) {
		return testutil.WithSnapshots(testutil.VM("web01", models.PoweredOn), &current, snap(1, "A", snap(2, "B"))), nil
	}

	tree, err = m.Snapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, tree.Len())

	node, ok, err := m.CurrentSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", node.Name)
}

func TestGoToSnapshot(t *testing.T) {
	current := testutil.SnapshotRef("snapshot-A")
	withTree := func(state models.PowerState) models.VMDescriptor {
		return testutil.WithSnapshots(testutil.VM("web01", state), &current, snap(1, "A", snap(2, "B")))
	}

	t.Run("found reverts to the snapshot and waits", func(t *testing.T) {
		m, p, _ := newTestMachine(t, withTree(models.PoweredOn), DefaultOptions())
		found, err := m.GoToSnapshot(context.Background(), "B")
		require.NoError(t, err)
		assert.True(t, found)

		reverts := p.CallsFor("RevertSnapshot")
		require.Len(t, reverts, 1)
		assert.Equal(t, "snapshot-B", reverts[0].Snapshot)
		assert.Len(t, p.CallsFor("AwaitTask"), 1)
		assert.Empty(t, p.CallsFor("ShutdownGuest"))
	})

	t.Run("miss on a running vm requests a guest shutdown instead of a revert", func(t *testing.T) {
		m, p, buf := newTestMachine(t, withTree(models.PoweredOn), DefaultOptions())
		found, err := m.GoToSnapshot(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, found)

		assert.Len(t, p.CallsFor("ShutdownGuest"), 1)
		assert.Empty(t, p.CallsFor("RevertSnapshot"))
		assert.Empty(t, p.CallsFor("AwaitTask"))
		assert.Contains(t, buf.String(), "STATUS=not_found")
	})

	t.Run("miss on a powered off vm does nothing", func(t *testing.T) {
		m, p, _ := newTestMachine(t, withTree(models.PoweredOff), DefaultOptions())
		found, err := m.GoToSnapshot(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, p.CallsFor("ShutdownGuest"))
		assert.Empty(t, p.CallsFor("RevertSnapshot"))
	})

	t.Run("miss without shutdown option leaves the vm alone", func(t *testing.T) {
		m, p, _ := newTestMachine(t, withTree(models.PoweredOn), Options{ShutdownOnMissingSnapshot: false})
		found, err := m.GoToSnapshot(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, p.CallsFor("ShutdownGuest"))
		assert.Empty(t, p.CallsFor("RevertSnapshot"))
	})

	t.Run("revert task failure", func(t *testing.T) {
		m, p, _ := newTestMachine(t, withTree(models.PoweredOn), DefaultOptions())
		p.AwaitFunc = func(ctx context.Context, task types.ManagedObjectReference) error {
			return errors.New("vm is locked")
		}
		found, err := m.GoToSnapshot(context.Background(), "A")
		assert.True(t, found)
		assert.ErrorIs(t, err, ErrTaskFailed)
	})

	t.Run("duplicate names resolve to the first in pre-order", func(t *testing.T) {
		vm := testutil.WithSnapshots(testutil.VM("web01", models.PoweredOff), nil,
			models.SnapshotDescriptor{Ref: testutil.SnapshotRef("s1"), ID: 1, Name: "root", Children: []models.SnapshotDescriptor{
				{Ref: testutil.SnapshotRef("s2"), ID: 2, Name: "dup"},
			}},
			models.SnapshotDescriptor{Ref: testutil.SnapshotRef("s3"), ID: 3, Name: "dup"},
		)
		m, p, _ := newTestMachine(t, vm, DefaultOptions())
		_, err := m.GoToSnapshot(context.Background(), "dup")
		require.NoError(t, err)
		assert.Equal(t, "s2", p.CallsFor("RevertSnapshot")[0].Snapshot)
	})
}

func TestRemoveSnapshot(t *testing.T) {
	vm := testutil.WithSnapshots(testutil.VM("web01", models.PoweredOff), nil, snap(1, "A", snap(2, "B")))

	for _, includeChildren := range []bool{true, false} {
		includeChildren := includeChildren
		t.Run("flag is passed through", func(t *testing.T) {
			m, p, _ := newTestMachine(t, vm, DefaultOptions())
			found, err := m.RemoveSnapshot(context.Background(), "A", includeChildren)
			require.NoError(t, err)
			assert.True(t, found)

			calls := p.CallsFor("RemoveSnapshot")
			require.Len(t, calls, 1)
			assert.Equal(t, includeChildren, calls[0].RemoveChildren)
			assert.Equal(t, "snapshot-A", calls[0].Snapshot)
			assert.Len(t, p.CallsFor("AwaitTask"), 1)
		})
	}

	t.Run("miss is skipped silently", func(t *testing.T) {
		m, p, buf := newTestMachine(t, vm, DefaultOptions())
		found, err := m.RemoveSnapshot(context.Background(), "missing", true)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, p.CallsFor("RemoveSnapshot"))
		assert.Empty(t, p.CallsFor("ShutdownGuest"))
		assert.Contains(t, buf.String(), "STATUS=skipped")
	})

	t.Run("task failure", func(t *testing.T) {
		m, p, _ := newTestMachine(t, vm, DefaultOptions())
		p.AwaitFunc = func(ctx context.Context, task types.ManagedObjectReference) error {
			return errors.New("locked")
		}
		_, err := m.RemoveSnapshot(context.Background(), "B", false)
		assert.ErrorIs(t, err, ErrTaskFailed)
	})
}
